package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
)

type ListRemindersInput struct {
	UserID     string
	CursorTime *time.Time // cursor on (created_at DESC, id DESC); nil = first page
	CursorID   string
	Limit      int
}

type ClaimInput struct {
	TickID   string
	WorkerID string
	Limit    int
	Now      time.Time
}

type AdvanceInput struct {
	ID          string
	TickID      string
	Next        time.Time
	DeliveredAt *time.Time // nil keeps last_delivered_at, used when the ledger already had the occurrence
}

type FailInput struct {
	ID             string
	TickID         string
	AttemptCount   int
	LastError      string
	RetryNotBefore time.Time
}

// ReminderRepository is split in two halves: the owner-facing CRUD used by the API,
// and the tick-facing claim/advance/fail/release used by the orchestrator.
// Every tick-facing write is guarded by claiming_tick_id and returns domain.ErrClaimLost
// when the guard no longer matches.
type ReminderRepository interface {
	Create(ctx context.Context, r *domain.Reminder) (*domain.Reminder, error)
	GetByID(ctx context.Context, id, userID string) (*domain.Reminder, error)
	List(ctx context.Context, input ListRemindersInput) ([]*domain.Reminder, error)
	Attachments(ctx context.Context, reminderID string) ([]domain.Attachment, error)
	// SetEnabled pauses or resumes. next, when non-nil, replaces next_occurrence_at.
	SetEnabled(ctx context.Context, id, userID string, enabled bool, next *time.Time) error
	SoftDelete(ctx context.Context, id, userID string) error
	Reactivate(ctx context.Context, id, userID string) error

	// Claim atomically moves up to Limit due reminders to processing and returns
	// their pre-claim snapshot, oldest occurrence first. Rows locked by a concurrent
	// claimer are skipped, never waited on.
	Claim(ctx context.Context, input ClaimInput) ([]*domain.Reminder, error)
	Advance(ctx context.Context, input AdvanceInput) error
	Complete(ctx context.Context, id, tickID string, deliveredAt *time.Time) error
	Fail(ctx context.Context, input FailInput) error
	Release(ctx context.Context, tickID string, ids []string) (int, error)

	// ReleaseStale hands back processing claims older than cutoff, left behind by a tick
	// that died before finishing.
	ReleaseStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}
