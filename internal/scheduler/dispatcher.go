package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
	"github.com/ErlanBelekov/reminder-dispatch/internal/metrics"
	"github.com/ErlanBelekov/reminder-dispatch/internal/repository"
)

// Dispatcher claims the batch of due reminders for one tick.
type Dispatcher struct {
	repo      repository.ReminderRepository
	workerID  string
	batchSize int
	logger    *slog.Logger
}

func NewDispatcher(repo repository.ReminderRepository, workerID string, batchSize int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:      repo,
		workerID:  workerID,
		batchSize: batchSize,
		logger:    logger.With("component", "dispatcher"),
	}
}

// Claim moves up to batchSize due reminders to processing under tickID. The claim is a
// single statement: on error nothing is claimed.
func (d *Dispatcher) Claim(ctx context.Context, tickID string, now time.Time) ([]*domain.Reminder, error) {
	jobs, err := d.repo.Claim(ctx, repository.ClaimInput{
		TickID:   tickID,
		WorkerID: d.workerID,
		Limit:    d.batchSize,
		Now:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}

	for _, j := range jobs {
		if j.NextOccurrenceAt != nil {
			metrics.DeliveryLag.Observe(now.Sub(*j.NextOccurrenceAt).Seconds())
		}
	}
	if len(jobs) > 0 {
		d.logger.InfoContext(ctx, "claimed reminders", "count", len(jobs), "batch_size", d.batchSize)
	}
	return jobs, nil
}
