package scheduler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/channel"
	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
	"github.com/ErlanBelekov/reminder-dispatch/internal/metrics"
	"github.com/ErlanBelekov/reminder-dispatch/internal/repository"
)

// StorageError marks a failure reading delivery inputs from the store, as opposed to a
// failure of the channel. The orchestrator releases the reminder instead of failing it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// Executor performs one delivery: the reminder text, then its attachments in order.
type Executor struct {
	users     repository.UserRepository
	reminders repository.ReminderRepository
	sender    channel.Sender
}

func NewExecutor(users repository.UserRepository, reminders repository.ReminderRepository, sender channel.Sender) *Executor {
	return &Executor{users: users, reminders: reminders, sender: sender}
}

func (e *Executor) Deliver(ctx context.Context, rem *domain.Reminder) error {
	user, err := e.users.FindByID(ctx, rem.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return err
		}
		return &StorageError{Op: "load user", Err: err}
	}

	attachments, err := e.reminders.Attachments(ctx, rem.ID)
	if err != nil {
		return &StorageError{Op: "load attachments", Err: err}
	}
	slices.SortStableFunc(attachments, func(a, b domain.Attachment) int {
		return cmp.Compare(a.Position, b.Position)
	})

	start := time.Now()
	err = e.send(ctx, user, rem.Text(), attachments)

	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	metrics.DeliveryDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return err
}

func (e *Executor) send(ctx context.Context, user *domain.User, text string, attachments []domain.Attachment) error {
	if err := e.sender.SendText(ctx, user, text); err != nil {
		return err
	}
	for _, a := range attachments {
		if err := e.sender.Replay(ctx, user, a); err != nil {
			return fmt.Errorf("attachment %d: %w", a.Position, err)
		}
	}
	return nil
}
