package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DeliveryRepository struct {
	pool *pgxpool.Pool
}

func NewDeliveryRepository(pool *pgxpool.Pool) *DeliveryRepository {
	return &DeliveryRepository{pool: pool}
}

func (r *DeliveryRepository) SucceededAt(ctx context.Context, jobID, deliveryKey string) (*time.Time, error) {
	var sentAt time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT sent_at FROM deliveries
		WHERE job_id = $1 AND delivery_key = $2 AND ok`, jobID, deliveryKey,
	).Scan(&sentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check delivery: %w", err)
	}
	sentAt = sentAt.UTC()
	return &sentAt, nil
}

// Record upserts the outcome. The WHERE on the conflict branch keeps a successful row
// from being overwritten by a later failure.
func (r *DeliveryRepository) Record(ctx context.Context, rec *domain.DeliveryRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO deliveries (job_id, delivery_key, tick_id, ok, error_message, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id, delivery_key) DO UPDATE
		SET    tick_id       = EXCLUDED.tick_id,
		       ok            = EXCLUDED.ok,
		       error_message = EXCLUDED.error_message,
		       sent_at       = EXCLUDED.sent_at
		WHERE NOT deliveries.ok`,
		rec.JobID, rec.DeliveryKey, rec.TickID, rec.OK, rec.Error, rec.SentAt,
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

func (r *DeliveryRepository) ListByJobID(ctx context.Context, jobID string, limit int) ([]*domain.DeliveryRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT job_id, delivery_key, tick_id, ok, error_message, sent_at
		FROM deliveries
		WHERE job_id = $1
		ORDER BY sent_at DESC
		LIMIT $2`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", mapReadError(err))
	}
	defer rows.Close()

	var out []*domain.DeliveryRecord
	for rows.Next() {
		var d domain.DeliveryRecord
		if err := rows.Scan(&d.JobID, &d.DeliveryKey, &d.TickID, &d.OK, &d.Error, &d.SentAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return out, nil
}
