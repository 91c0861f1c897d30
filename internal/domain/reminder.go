package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrReminderNotFound      = errors.New("reminder not found")
	ErrReminderAlreadyPaused = errors.New("reminder is already paused")
	ErrReminderNotPaused     = errors.New("reminder is not paused")
	ErrReminderCompleted     = errors.New("reminder has already been delivered and completed")
	ErrReminderNotFailed     = errors.New("reminder is not in failed state")
	ErrRetryNotDue           = errors.New("reminder backoff has not elapsed yet")
	ErrInvalidCursor         = errors.New("invalid cursor")
	ErrInvalidReminder       = errors.New("invalid reminder")

	// ErrClaimLost is returned when a per-reminder write finds the row no longer
	// claimed by the writing tick (released by the reaper or claimed again).
	ErrClaimLost = errors.New("reminder claim lost")
)

type LifecycleState string

const (
	StateActive     LifecycleState = "active"
	StateProcessing LifecycleState = "processing"
	StateTerminal   LifecycleState = "terminal"
	StateFailed     LifecycleState = "failed"
)

func (s LifecycleState) Valid() bool {
	switch s {
	case StateActive, StateProcessing, StateTerminal, StateFailed:
		return true
	default:
		return false
	}
}

// Reminder is a scheduled job owned by a user.
type Reminder struct {
	ID          string
	UserID      string
	Title       string
	Description *string
	Schedule    Schedule

	// Attachments are archived messages replayed after the text, in Position order.
	// Only populated on create and by explicit lookups; claims do not load them.
	Attachments []Attachment

	NextOccurrenceAt *time.Time // nil only once a one-shot reminder completed
	LastDeliveredAt  *time.Time
	State            LifecycleState
	AttemptCount     int
	LastError        *string
	RetryNotBefore   *time.Time

	ClaimedAt      *time.Time
	ClaimedBy      *string // worker ID
	ClaimingTickID *string

	Enabled   bool
	DeletedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Text is the message body sent to the recipient.
func (r *Reminder) Text() string {
	if r.Description == nil || strings.TrimSpace(*r.Description) == "" {
		return r.Title
	}
	return r.Title + "\n\n" + *r.Description
}

// IsOneShot reports whether the reminder completes after its first delivery.
func (r *Reminder) IsOneShot() bool {
	_, ok := r.Schedule.(Once)
	return ok
}

// Attachment points at a message archived in a chat; delivery copies it to the recipient.
type Attachment struct {
	Position        int
	SourceChatID    int64
	SourceMessageID int
}
