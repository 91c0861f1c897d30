package scheduler

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
)

type FailureKind string

const (
	FailureRateLimit FailureKind = "rate_limit"
	FailureTerminal  FailureKind = "terminal"
)

const (
	backoffBase = 30 * time.Second
	backoffMax  = time.Hour

	maxErrorLen = 500
)

// Failure is a classified delivery error.
type Failure struct {
	Kind       FailureKind
	RetryAfter time.Duration // zero when the error carried no hint
	Message    string
}

// Classify sorts a delivery error into rate-limit or terminal. Terminal failures
// keep any retry hint the channel attached.
func Classify(err error) Failure {
	f := Failure{Kind: FailureTerminal, Message: truncate(err.Error(), maxErrorLen)}

	var rl *domain.RateLimitError
	if errors.As(err, &rl) {
		f.Kind = FailureRateLimit
		f.RetryAfter = rl.RetryAfter
		return f
	}
	var hint *domain.RetryHintError
	if errors.As(err, &hint) {
		f.RetryAfter = hint.After
	}
	return f
}

// RetryNotBefore is the earliest time a failed reminder should be retried.
// attemptCount is the count before this failure is recorded.
func RetryNotBefore(f Failure, attemptCount int, now time.Time) time.Time {
	if f.RetryAfter > 0 {
		return now.Add(f.RetryAfter)
	}
	return now.Add(retryDelay(attemptCount))
}

// retryDelay is 30s doubled per previous attempt, capped at one hour, without jitter.
func retryDelay(attemptCount int) time.Duration {
	if attemptCount < 0 {
		attemptCount = 0
	}
	// 30s * 2^7 is past the cap.
	if attemptCount >= 7 {
		return backoffMax
	}
	delay := time.Duration(float64(backoffBase) * math.Pow(2, float64(attemptCount)))
	return min(delay, backoffMax)
}

// truncate also makes s storable in a Postgres TEXT column: valid UTF-8 without NUL bytes.
func truncate(s string, n int) string {
	s = strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "")
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
