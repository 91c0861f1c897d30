package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
	"github.com/ErlanBelekov/reminder-dispatch/internal/recurrence"
	"github.com/ErlanBelekov/reminder-dispatch/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type ReminderUsecase struct {
	repo       repository.ReminderRepository
	deliveries repository.DeliveryRepository
	now        func() time.Time
}

type ReminderOption func(*ReminderUsecase)

// WithNow replaces the wall clock.
func WithNow(now func() time.Time) ReminderOption {
	return func(u *ReminderUsecase) { u.now = now }
}

func NewReminderUsecase(repo repository.ReminderRepository, deliveries repository.DeliveryRepository, opts ...ReminderOption) *ReminderUsecase {
	u := &ReminderUsecase{repo: repo, deliveries: deliveries, now: time.Now}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

type AttachmentInput struct {
	SourceChatID    int64
	SourceMessageID int
}

type CreateReminderInput struct {
	UserID      string
	Title       string
	Description *string
	Schedule    domain.ScheduleSpec
	Attachments []AttachmentInput
}

func (u *ReminderUsecase) CreateReminder(ctx context.Context, input CreateReminderInput) (*domain.Reminder, error) {
	sched, err := input.Schedule.Schedule()
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", domain.ErrInvalidReminder)
	}

	first, err := recurrence.First(sched, u.now())
	if err != nil {
		return nil, err
	}

	attachments := make([]domain.Attachment, len(input.Attachments))
	for i, a := range input.Attachments {
		attachments[i] = domain.Attachment{
			Position:        i,
			SourceChatID:    a.SourceChatID,
			SourceMessageID: a.SourceMessageID,
		}
	}

	r := &domain.Reminder{
		UserID:           input.UserID,
		Title:            title,
		Description:      input.Description,
		Schedule:         sched,
		Attachments:      attachments,
		NextOccurrenceAt: &first,
		State:            domain.StateActive,
		Enabled:          true,
	}

	created, err := u.repo.Create(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}
	return created, nil
}

// GetReminder returns the reminder with its attachments loaded.
func (u *ReminderUsecase) GetReminder(ctx context.Context, id, userID string) (*domain.Reminder, error) {
	r, err := u.repo.GetByID(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("get reminder: %w", err)
	}
	r.Attachments, err = u.repo.Attachments(ctx, r.ID)
	if err != nil {
		return nil, fmt.Errorf("get reminder attachments: %w", err)
	}
	return r, nil
}

type ListRemindersInput struct {
	UserID string
	Cursor string
	Limit  int
}

type ListRemindersResult struct {
	Reminders  []*domain.Reminder
	NextCursor *string
}

type reminderCursor struct {
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
}

func decodeReminderCursor(s string) (*time.Time, string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, "", fmt.Errorf("decode cursor: %w", err)
	}
	var c reminderCursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, "", fmt.Errorf("unmarshal cursor: %w", err)
	}
	if c.ID == "" || c.CreatedAt.IsZero() {
		return nil, "", fmt.Errorf("cursor is incomplete")
	}
	return &c.CreatedAt, c.ID, nil
}

func encodeReminderCursor(createdAt time.Time, id string) string {
	b, _ := json.Marshal(reminderCursor{CreatedAt: createdAt, ID: id})
	return base64.RawURLEncoding.EncodeToString(b)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

func (u *ReminderUsecase) ListReminders(ctx context.Context, input ListRemindersInput) (ListRemindersResult, error) {
	limit := clampLimit(input.Limit)

	repoInput := repository.ListRemindersInput{
		UserID: input.UserID,
		Limit:  limit + 1,
	}

	if input.Cursor != "" {
		cursorTime, cursorID, err := decodeReminderCursor(input.Cursor)
		if err != nil {
			return ListRemindersResult{}, domain.ErrInvalidCursor
		}
		repoInput.CursorTime = cursorTime
		repoInput.CursorID = cursorID
	}

	reminders, err := u.repo.List(ctx, repoInput)
	if err != nil {
		return ListRemindersResult{}, fmt.Errorf("list reminders: %w", err)
	}

	var nextCursor *string
	if len(reminders) == limit+1 {
		last := reminders[limit-1]
		s := encodeReminderCursor(last.CreatedAt, last.ID)
		nextCursor = &s
		reminders = reminders[:limit]
	}

	return ListRemindersResult{Reminders: reminders, NextCursor: nextCursor}, nil
}

func (u *ReminderUsecase) PauseReminder(ctx context.Context, id, userID string) error {
	r, err := u.repo.GetByID(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("pause reminder: %w", err)
	}
	switch {
	case r.State == domain.StateTerminal:
		return domain.ErrReminderCompleted
	case !r.Enabled:
		return domain.ErrReminderAlreadyPaused
	}

	if err := u.repo.SetEnabled(ctx, id, userID, false, nil); err != nil {
		return fmt.Errorf("pause reminder: %w", err)
	}
	return nil
}

// ResumeReminder re-enables a paused reminder. A recurring reminder skips the occurrences
// that fell inside the pause and continues from now; a one-shot reminder keeps its instant
// and fires on the next tick if that instant has passed.
func (u *ReminderUsecase) ResumeReminder(ctx context.Context, id, userID string) error {
	r, err := u.repo.GetByID(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("resume reminder: %w", err)
	}
	switch {
	case r.State == domain.StateTerminal:
		return domain.ErrReminderCompleted
	case r.Enabled:
		return domain.ErrReminderNotPaused
	}

	var next *time.Time
	if !r.IsOneShot() {
		at, _, err := recurrence.Next(r.Schedule, u.now())
		if err != nil {
			return fmt.Errorf("resume reminder: %w", err)
		}
		next = &at
	}

	if err := u.repo.SetEnabled(ctx, id, userID, true, next); err != nil {
		return fmt.Errorf("resume reminder: %w", err)
	}
	return nil
}

// ReactivateReminder moves a failed reminder back to active once its backoff has elapsed.
func (u *ReminderUsecase) ReactivateReminder(ctx context.Context, id, userID string) error {
	r, err := u.repo.GetByID(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("reactivate reminder: %w", err)
	}
	if r.State != domain.StateFailed {
		return domain.ErrReminderNotFailed
	}
	if r.RetryNotBefore != nil && u.now().Before(*r.RetryNotBefore) {
		return domain.ErrRetryNotDue
	}

	if err := u.repo.Reactivate(ctx, id, userID); err != nil {
		return fmt.Errorf("reactivate reminder: %w", err)
	}
	return nil
}

func (u *ReminderUsecase) DeleteReminder(ctx context.Context, id, userID string) error {
	if err := u.repo.SoftDelete(ctx, id, userID); err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	return nil
}

type ListDeliveriesInput struct {
	ReminderID string
	UserID     string
	Limit      int
}

func (u *ReminderUsecase) ListDeliveries(ctx context.Context, input ListDeliveriesInput) ([]*domain.DeliveryRecord, error) {
	// Verify ownership
	if _, err := u.repo.GetByID(ctx, input.ReminderID, input.UserID); err != nil {
		return nil, fmt.Errorf("get reminder: %w", err)
	}

	records, err := u.deliveries.ListByJobID(ctx, input.ReminderID, clampLimit(input.Limit))
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return records, nil
}
