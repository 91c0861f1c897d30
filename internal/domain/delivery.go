package domain

import (
	"fmt"
	"time"
)

// DeliveryRecord is the ledger row for one occurrence of one reminder.
// (JobID, DeliveryKey) is unique; a successful row is never overwritten by a failed one.
type DeliveryRecord struct {
	JobID       string
	DeliveryKey string
	TickID      string
	OK          bool
	Error       *string
	SentAt      time.Time
}

// DeliveryKey identifies a single occurrence of a reminder.
func DeliveryKey(occurrence time.Time) string {
	return fmt.Sprintf("occ:%d", occurrence.Unix())
}

// RateLimitError is returned by a channel that refuses sends for a while.
// The orchestrator stops the whole batch when it sees one.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %v", e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// RetryHintError is an ordinary delivery failure that carries its own retry delay.
type RetryHintError struct {
	After time.Duration
	Err   error
}

func (e *RetryHintError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Err, e.After)
}

func (e *RetryHintError) Unwrap() error { return e.Err }
