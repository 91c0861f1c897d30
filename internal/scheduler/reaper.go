package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/metrics"
	"github.com/ErlanBelekov/reminder-dispatch/internal/repository"
)

const reapLimit = 100

// Reaper hands back claims left in processing by a tick that died mid-batch.
// staleAfter must exceed the tick budget, or it would release claims of a live tick.
type Reaper struct {
	repo       repository.ReminderRepository
	staleAfter time.Duration
	logger     *slog.Logger
}

func NewReaper(repo repository.ReminderRepository, staleAfter time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		repo:       repo,
		staleAfter: staleAfter,
		logger:     logger.With("component", "reaper"),
	}
}

// Reap releases claims older than now - staleAfter and returns how many it released.
func (r *Reaper) Reap(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()
	defer func() { metrics.ReaperCycleDuration.Observe(time.Since(start).Seconds()) }()

	released, err := r.repo.ReleaseStale(ctx, now.Add(-r.staleAfter), reapLimit)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	if released > 0 {
		metrics.ReaperReleasedTotal.Add(float64(released))
		r.logger.WarnContext(ctx, "released stale claims", "count", released, "stale_after", r.staleAfter)
	}
	return released, nil
}
