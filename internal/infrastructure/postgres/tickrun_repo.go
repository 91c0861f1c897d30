package postgres

import (
	"context"
	"fmt"

	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TickRunRepository struct {
	pool *pgxpool.Pool
}

func NewTickRunRepository(pool *pgxpool.Pool) *TickRunRepository {
	return &TickRunRepository{pool: pool}
}

func (r *TickRunRepository) Start(ctx context.Context, run *domain.TickRun) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tick_runs (tick_id, worker_id, started_at)
		VALUES ($1, $2, $3)`,
		run.TickID, run.WorkerID, run.StartedAt)
	if err != nil {
		return fmt.Errorf("start tick run: %w", err)
	}
	return nil
}

func (r *TickRunRepository) Finish(ctx context.Context, run *domain.TickRun) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tick_runs
		SET    finished_at = $2,
		       ok          = $3,
		       claimed     = $4,
		       sent        = $5,
		       failed      = $6,
		       skipped     = $7,
		       released    = $8,
		       notes       = $9
		WHERE tick_id = $1`,
		run.TickID, run.FinishedAt, run.OK,
		run.Claimed, run.Sent, run.Failed, run.Skipped, run.Released, run.Notes)
	if err != nil {
		return fmt.Errorf("finish tick run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish tick run %s: no such run", run.TickID)
	}
	return nil
}

// Health reads everything in one round trip. The most recent error is whichever is newer:
// a failed delivery or a tick that finished with ok = false.
func (r *TickRunRepository) Health(ctx context.Context) (*domain.TickHealth, error) {
	var h domain.TickHealth
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT finished_at FROM tick_runs WHERE ok ORDER BY finished_at DESC LIMIT 1),
			(SELECT tick_id FROM tick_runs ORDER BY started_at DESC LIMIT 1),
			(SELECT MAX(sent_at) FROM deliveries WHERE ok),
			e.message,
			e.at
		FROM (SELECT 1) AS one
		LEFT JOIN LATERAL (
			SELECT message, at FROM (
				(SELECT error_message AS message, sent_at AS at
				 FROM deliveries
				 WHERE NOT ok AND error_message IS NOT NULL
				 ORDER BY sent_at DESC LIMIT 1)
				UNION ALL
				(SELECT notes, finished_at
				 FROM tick_runs
				 WHERE NOT ok AND notes IS NOT NULL AND finished_at IS NOT NULL
				 ORDER BY finished_at DESC LIMIT 1)
			) errs
			ORDER BY at DESC
			LIMIT 1
		) e ON TRUE`,
	).Scan(&h.LastSuccessTickTime, &h.LastTickID, &h.LastSentAt, &h.LastError, &h.LastErrorAt)
	if err != nil {
		return nil, fmt.Errorf("tick health: %w", err)
	}
	return &h, nil
}
