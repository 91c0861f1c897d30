package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
	"github.com/ErlanBelekov/reminder-dispatch/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var reminderColumns = []string{
	"id", "user_id", "title", "description", "schedule",
	"next_occurrence_at", "last_delivered_at", "lifecycle_state", "attempt_count",
	"last_error", "retry_not_before", "claimed_at", "claimed_by", "claiming_tick_id",
	"enabled", "deleted_at", "created_at", "updated_at",
}

// columns renders reminderColumns, optionally qualified with a table alias.
func columns(alias string) string {
	if alias == "" {
		return strings.Join(reminderColumns, ", ")
	}
	qualified := make([]string, len(reminderColumns))
	for i, c := range reminderColumns {
		qualified[i] = alias + "." + c
	}
	return strings.Join(qualified, ", ")
}

// clearClaim resets the claim stamp; shared by every statement that leaves processing.
const clearClaim = `claimed_at = NULL, claimed_by = NULL, claiming_tick_id = NULL`

type ReminderRepository struct {
	pool *pgxpool.Pool
}

func NewReminderRepository(pool *pgxpool.Pool) *ReminderRepository {
	return &ReminderRepository{pool: pool}
}

func (r *ReminderRepository) Create(ctx context.Context, rem *domain.Reminder) (*domain.Reminder, error) {
	schedule, err := domain.MarshalSchedule(rem.Schedule)
	if err != nil {
		return nil, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := fmt.Sprintf(`
		INSERT INTO reminders (user_id, title, description, schedule, next_occurrence_at, enabled)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING %s`, columns(""))

	created, err := scanReminder(tx.QueryRow(ctx, query,
		rem.UserID, rem.Title, rem.Description, schedule, rem.NextOccurrenceAt,
	))
	if err != nil {
		return nil, mapWriteError(err)
	}

	if len(rem.Attachments) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"reminder_attachments"},
			[]string{"reminder_id", "position", "source_chat_id", "source_message_id"},
			pgx.CopyFromSlice(len(rem.Attachments), func(i int) ([]any, error) {
				a := rem.Attachments[i]
				return []any{created.ID, a.Position, a.SourceChatID, int64(a.SourceMessageID)}, nil
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("copy attachments: %w", mapWriteError(err))
		}
		created.Attachments = append([]domain.Attachment(nil), rem.Attachments...)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return created, nil
}

func (r *ReminderRepository) GetByID(ctx context.Context, id, userID string) (*domain.Reminder, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM reminders
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, columns(""))

	rem, err := scanReminder(r.pool.QueryRow(ctx, query, id, userID))
	if err != nil {
		return nil, mapReadError(err)
	}
	return rem, nil
}

func (r *ReminderRepository) List(ctx context.Context, input repository.ListRemindersInput) ([]*domain.Reminder, error) {
	args := []any{input.UserID}
	where := []string{"user_id = $1", "deleted_at IS NULL"}

	if input.CursorTime != nil {
		args = append(args, *input.CursorTime, input.CursorID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d::uuid)", len(args)-1, len(args)))
	}
	args = append(args, input.Limit)

	query := fmt.Sprintf(`
		SELECT %s FROM reminders
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`,
		columns(""), strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", mapReadError(err))
	}
	return collectReminders(rows)
}

func (r *ReminderRepository) Attachments(ctx context.Context, reminderID string) ([]domain.Attachment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT position, source_chat_id, source_message_id
		FROM reminder_attachments
		WHERE reminder_id = $1
		ORDER BY position ASC`, reminderID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", mapReadError(err))
	}
	defer rows.Close()

	var out []domain.Attachment
	for rows.Next() {
		var (
			a         domain.Attachment
			messageID int64
		)
		if err := rows.Scan(&a.Position, &a.SourceChatID, &messageID); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		a.SourceMessageID = int(messageID)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return out, nil
}

func (r *ReminderRepository) SetEnabled(ctx context.Context, id, userID string, enabled bool, next *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reminders
		SET    enabled            = $3,
		       next_occurrence_at = COALESCE($4, next_occurrence_at),
		       updated_at         = NOW()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		id, userID, enabled, next)
	if err != nil {
		return fmt.Errorf("set enabled: %w", mapReadError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReminderNotFound
	}
	return nil
}

func (r *ReminderRepository) SoftDelete(ctx context.Context, id, userID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reminders
		SET    deleted_at = NOW(), enabled = FALSE, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		id, userID)
	if err != nil {
		return fmt.Errorf("delete reminder: %w", mapReadError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReminderNotFound
	}
	return nil
}

// Reactivate moves a failed reminder back to active. next_occurrence_at is left alone so
// the occurrence that failed is the one retried; attempt_count is kept so the backoff
// keeps growing if it fails again.
func (r *ReminderRepository) Reactivate(ctx context.Context, id, userID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reminders
		SET    lifecycle_state  = 'active',
		       retry_not_before = NULL,
		       updated_at       = NOW()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL AND lifecycle_state = 'failed'`,
		id, userID)
	if err != nil {
		return fmt.Errorf("reactivate reminder: %w", mapReadError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReminderNotFailed
	}
	return nil
}

func (r *ReminderRepository) Claim(ctx context.Context, input repository.ClaimInput) ([]*domain.Reminder, error) {
	// The CTE locks the due rows (skipping rows another tick holds) and keeps their
	// pre-update values, which RETURNING hands back.
	query := fmt.Sprintf(`
		WITH due AS (
			SELECT %s FROM reminders
			WHERE  lifecycle_state    = 'active'
			  AND  enabled
			  AND  deleted_at         IS NULL
			  AND  next_occurrence_at <= $4
			ORDER BY next_occurrence_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE reminders r
		SET    lifecycle_state  = 'processing',
		       claimed_at       = $4,
		       claimed_by       = $2,
		       claiming_tick_id = $1,
		       updated_at       = NOW()
		FROM due
		WHERE r.id = due.id
		RETURNING %s`, columns(""), columns("due"))

	rows, err := r.pool.Query(ctx, query, input.TickID, input.WorkerID, input.Limit, input.Now)
	if err != nil {
		return nil, fmt.Errorf("claim reminders: %w", err)
	}
	claimed, err := collectReminders(rows)
	if err != nil {
		return nil, fmt.Errorf("claim reminders: %w", err)
	}

	// UPDATE ... RETURNING does not preserve the CTE order.
	sort.SliceStable(claimed, func(i, j int) bool {
		return claimed[i].NextOccurrenceAt.Before(*claimed[j].NextOccurrenceAt)
	})
	return claimed, nil
}

func (r *ReminderRepository) Advance(ctx context.Context, input repository.AdvanceInput) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reminders
		SET    lifecycle_state    = 'active',
		       next_occurrence_at = $3,
		       last_delivered_at  = COALESCE($4, last_delivered_at),
		       attempt_count      = 0,
		       last_error         = NULL,
		       retry_not_before   = NULL,
		       `+clearClaim+`,
		       updated_at         = NOW()
		WHERE id = $1 AND claiming_tick_id = $2 AND lifecycle_state = 'processing'`,
		input.ID, input.TickID, input.Next, input.DeliveredAt)
	if err != nil {
		return fmt.Errorf("advance reminder: %w", err)
	}
	return expectClaimed(tag)
}

func (r *ReminderRepository) Complete(ctx context.Context, id, tickID string, deliveredAt *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reminders
		SET    lifecycle_state    = 'terminal',
		       enabled            = FALSE,
		       next_occurrence_at = NULL,
		       last_delivered_at  = COALESCE($3, last_delivered_at),
		       attempt_count      = 0,
		       last_error         = NULL,
		       retry_not_before   = NULL,
		       `+clearClaim+`,
		       updated_at         = NOW()
		WHERE id = $1 AND claiming_tick_id = $2 AND lifecycle_state = 'processing'`,
		id, tickID, deliveredAt)
	if err != nil {
		return fmt.Errorf("complete reminder: %w", err)
	}
	return expectClaimed(tag)
}

func (r *ReminderRepository) Fail(ctx context.Context, input repository.FailInput) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reminders
		SET    lifecycle_state  = 'failed',
		       attempt_count    = $3,
		       last_error       = $4,
		       retry_not_before = $5,
		       `+clearClaim+`,
		       updated_at       = NOW()
		WHERE id = $1 AND claiming_tick_id = $2 AND lifecycle_state = 'processing'`,
		input.ID, input.TickID, input.AttemptCount, input.LastError, input.RetryNotBefore)
	if err != nil {
		return fmt.Errorf("fail reminder: %w", err)
	}
	return expectClaimed(tag)
}

// Release hands claimed reminders back untouched. Rows no longer held by tickID are ignored.
func (r *ReminderRepository) Release(ctx context.Context, tickID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE reminders
		SET    lifecycle_state = 'active',
		       `+clearClaim+`,
		       updated_at      = NOW()
		WHERE claiming_tick_id = $1
		  AND lifecycle_state  = 'processing'
		  AND id = ANY(CAST($2::text[] AS uuid[]))`,
		tickID, ids)
	if err != nil {
		return 0, fmt.Errorf("release reminders: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *ReminderRepository) ReleaseStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reminders
		SET    lifecycle_state = 'active',
		       `+clearClaim+`,
		       updated_at      = NOW()
		WHERE id IN (
			SELECT id FROM reminders
			WHERE  lifecycle_state = 'processing'
			  AND  claimed_at      < $1
			ORDER BY claimed_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func expectClaimed(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return domain.ErrClaimLost
	}
	return nil
}

// mapReadError turns a malformed id into not-found rather than a 500.
func mapReadError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
		return domain.ErrReminderNotFound
	}
	return err
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return domain.ErrUserNotFound
		case "23505":
			return fmt.Errorf("%w: duplicate attachment position", domain.ErrInvalidSchedule)
		}
	}
	return err
}

func collectReminders(rows pgx.Rows) ([]*domain.Reminder, error) {
	defer rows.Close()

	var out []*domain.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rem)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// pgx.Row and pgx.Rows both implement this.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*domain.Reminder, error) {
	var (
		rem      domain.Reminder
		schedule []byte
	)
	err := row.Scan(
		&rem.ID, &rem.UserID, &rem.Title, &rem.Description, &schedule,
		&rem.NextOccurrenceAt, &rem.LastDeliveredAt, &rem.State, &rem.AttemptCount,
		&rem.LastError, &rem.RetryNotBefore, &rem.ClaimedAt, &rem.ClaimedBy, &rem.ClaimingTickID,
		&rem.Enabled, &rem.DeletedAt, &rem.CreatedAt, &rem.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReminderNotFound
		}
		return nil, fmt.Errorf("scan reminder: %w", err)
	}
	if !rem.State.Valid() {
		return nil, fmt.Errorf("reminder %s: unknown lifecycle state %q", rem.ID, rem.State)
	}

	rem.Schedule, err = domain.UnmarshalSchedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("reminder %s: %w", rem.ID, err)
	}
	return &rem, nil
}
