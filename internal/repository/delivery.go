package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
)

// DeliveryRepository is the idempotency ledger.
type DeliveryRepository interface {
	// SucceededAt returns when (jobID, deliveryKey) was delivered, or nil if it has no
	// successful record.
	SucceededAt(ctx context.Context, jobID, deliveryKey string) (*time.Time, error)

	// Record upserts the outcome for (JobID, DeliveryKey). A later failure never
	// overwrites an earlier success; a later success does overwrite a failure.
	Record(ctx context.Context, rec *domain.DeliveryRecord) error

	// ListByJobID returns the most recent records first.
	// Ownership is assumed to have been verified by the caller.
	ListByJobID(ctx context.Context, jobID string, limit int) ([]*domain.DeliveryRecord, error)
}
