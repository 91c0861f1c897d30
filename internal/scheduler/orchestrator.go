package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/channel"
	"github.com/ErlanBelekov/reminder-dispatch/internal/cooldown"
	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
	"github.com/ErlanBelekov/reminder-dispatch/internal/metrics"
	"github.com/ErlanBelekov/reminder-dispatch/internal/recurrence"
	"github.com/ErlanBelekov/reminder-dispatch/internal/repository"
	"github.com/ErlanBelekov/reminder-dispatch/internal/tickid"
)

type Config struct {
	WorkerID   string
	BatchSize  int
	Budget     time.Duration
	StaleAfter time.Duration
}

type Option func(*Orchestrator)

// WithClock replaces time.Now for budget checks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithTickIDs replaces the tick ID generator.
func WithTickIDs(next func() string) Option {
	return func(o *Orchestrator) { o.newTickID = next }
}

// WithCooldown shares the channel cooldown through gate instead of this process's memory.
func WithCooldown(gate cooldown.Gate) Option {
	return func(o *Orchestrator) { o.cooldown = gate }
}

// DefaultWorkerID identifies this process in claims: hostname-pid.
func DefaultWorkerID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

// Orchestrator runs one tick: release stale claims, claim a batch, deliver each
// reminder in order, record the outcome and reschedule. Jobs within a tick run
// sequentially; overlapping ticks are kept apart by the claim alone.
type Orchestrator struct {
	reminders  repository.ReminderRepository
	deliveries repository.DeliveryRepository
	runs       repository.TickRunRepository
	dispatcher *Dispatcher
	executor   *Executor
	reaper     *Reaper
	cooldown   cooldown.Gate
	workerID   string
	budget     time.Duration
	now        func() time.Time
	newTickID  func() string
	logger     *slog.Logger
}

func NewOrchestrator(
	reminders repository.ReminderRepository,
	deliveries repository.DeliveryRepository,
	runs repository.TickRunRepository,
	users repository.UserRepository,
	sender channel.Sender,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	if cfg.WorkerID == "" {
		cfg.WorkerID = DefaultWorkerID()
	}
	logger = logger.With("worker_id", cfg.WorkerID)

	o := &Orchestrator{
		reminders:  reminders,
		deliveries: deliveries,
		runs:       runs,
		dispatcher: NewDispatcher(reminders, cfg.WorkerID, cfg.BatchSize, logger),
		executor:   NewExecutor(users, reminders, sender),
		reaper:     NewReaper(reminders, cfg.StaleAfter, logger),
		cooldown:   cooldown.NewMemory(),
		workerID:   cfg.WorkerID,
		budget:     cfg.Budget,
		now:        time.Now,
		newTickID:  tickid.New,
		logger:     logger.With("component", "orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeRateLimited
)

// tick accumulates the bookkeeping of one Run.
type tick struct {
	run   *domain.TickRun
	notes []string
	fatal error
}

func (t *tick) note(err error) {
	t.notes = append(t.notes, err.Error())
}

func (t *tick) abort(err error) {
	if t.fatal == nil {
		t.fatal = err
	}
	t.note(err)
}

// Run executes one tick. It never returns an error: failures end up in the result
// and in the tick run's notes.
func (o *Orchestrator) Run(ctx context.Context) domain.TickResult {
	metrics.TicksInFlight.Inc()
	defer metrics.TicksInFlight.Dec()

	start := o.now()
	t := &tick{run: &domain.TickRun{
		TickID:    o.newTickID(),
		WorkerID:  o.workerID,
		StartedAt: start,
	}}
	ctx = tickid.WithTickID(ctx, t.run.TickID)

	if err := o.runs.Start(ctx, t.run); err != nil {
		o.logger.ErrorContext(ctx, "start tick run", "error", err)
		t.abort(fmt.Errorf("start run: %w", err))
		return o.result(t, o.now())
	}

	o.execute(ctx, t)
	return o.finish(ctx, t)
}

func (o *Orchestrator) execute(ctx context.Context, t *tick) {
	var pending []*domain.Reminder

	defer func() {
		if p := recover(); p != nil {
			o.logger.ErrorContext(ctx, "tick panicked", "panic", p, "stack", string(debug.Stack()))
			t.abort(fmt.Errorf("panic: %v", p))
			t.run.Skipped += len(pending)
			o.release(ctx, t.run.TickID, pending)
		}
	}()

	released, err := o.reaper.Reap(ctx, t.run.StartedAt)
	if err != nil {
		o.logger.ErrorContext(ctx, "reap stale claims", "error", err)
		t.note(err)
	}
	t.run.Released = released

	if o.coolingDown(ctx, t) {
		return
	}

	jobs, err := o.dispatcher.Claim(ctx, t.run.TickID, t.run.StartedAt)
	if err != nil {
		o.logger.ErrorContext(ctx, "claim failed, nothing claimed", "error", err)
		t.abort(err)
		return
	}
	t.run.Claimed = len(jobs)

	deadline := t.run.StartedAt.Add(o.budget)
	for i, job := range jobs {
		pending = jobs[i:]

		if !o.now().Before(deadline) || ctx.Err() != nil {
			o.logger.WarnContext(ctx, "tick budget exhausted, releasing remainder", "remaining", len(pending))
			t.run.Skipped += len(pending)
			o.release(ctx, t.run.TickID, pending)
			return
		}

		switch o.processSafely(ctx, t, job) {
		case outcomeSent:
			t.run.Sent++
		case outcomeSkipped:
			t.run.Skipped++
		case outcomeFailed:
			t.run.Failed++
		case outcomeRateLimited:
			t.run.Failed++
			rest := jobs[i+1:]
			if len(rest) > 0 {
				o.logger.WarnContext(ctx, "channel rate limited, releasing remainder", "remaining", len(rest))
			}
			t.run.Skipped += len(rest)
			o.release(ctx, t.run.TickID, rest)
			return
		}
	}
	pending = nil
}

// coolingDown reports whether the channel asked to back off past this tick's start.
// An unreadable gate does not stop the tick; the per-reminder retry times still hold.
func (o *Orchestrator) coolingDown(ctx context.Context, t *tick) bool {
	until, err := o.cooldown.Until(ctx)
	if err != nil {
		o.logger.ErrorContext(ctx, "read channel cooldown", "error", err)
		t.note(err)
		return false
	}
	if t.run.StartedAt.Before(until) {
		o.logger.InfoContext(ctx, "channel cooling down, claiming nothing", "until", until)
		return true
	}
	return false
}

// processSafely turns a panic while handling one reminder into a released, failed job.
func (o *Orchestrator) processSafely(ctx context.Context, t *tick, job *domain.Reminder) (out outcome) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.ErrorContext(ctx, "reminder panicked",
				"reminder_id", job.ID, "panic", p, "stack", string(debug.Stack()))
			t.abort(fmt.Errorf("reminder %s: panic: %v", job.ID, p))
			o.release(ctx, t.run.TickID, []*domain.Reminder{job})
			out = outcomeFailed
		}
	}()
	return o.process(ctx, t, job)
}

func (o *Orchestrator) process(ctx context.Context, t *tick, job *domain.Reminder) outcome {
	logger := o.logger.With("reminder_id", job.ID)

	if job.NextOccurrenceAt == nil {
		return o.storageFailure(ctx, t, job, errors.New("claimed reminder has no occurrence"))
	}
	key := domain.DeliveryKey(*job.NextOccurrenceAt)

	deliveredAt, err := o.deliveries.SucceededAt(ctx, job.ID, key)
	if err != nil {
		return o.storageFailure(ctx, t, job, fmt.Errorf("check ledger: %w", err))
	}

	// Computed before sending so a schedule that cannot be evaluated (a zone the host
	// no longer knows) fails without a delivery.
	next, recurring, err := recurrence.Next(job.Schedule, o.now())
	if err != nil {
		return o.fail(ctx, t, job, key, err)
	}

	if deliveredAt != nil {
		logger.InfoContext(ctx, "occurrence already delivered, advancing", "delivery_key", key)
		if err := o.advance(ctx, t.run.TickID, job, next, recurring, deliveredAt); err != nil {
			return o.storageFailure(ctx, t, job, err)
		}
		return outcomeSkipped
	}

	sendErr := o.executor.Deliver(ctx, job)
	var storageErr *StorageError
	if errors.As(sendErr, &storageErr) {
		return o.storageFailure(ctx, t, job, sendErr)
	}
	if sendErr != nil {
		return o.fail(ctx, t, job, key, sendErr)
	}

	sentAt := o.now()
	err = o.deliveries.Record(ctx, &domain.DeliveryRecord{
		JobID:       job.ID,
		DeliveryKey: key,
		TickID:      t.run.TickID,
		OK:          true,
		SentAt:      sentAt,
	})
	if err != nil {
		// The advance below still moves past this occurrence; only a failure of both
		// can lead to a second send.
		logger.ErrorContext(ctx, "record delivery", "delivery_key", key, "error", err)
		t.note(fmt.Errorf("reminder %s: record delivery: %w", job.ID, err))
	}

	if err := o.advance(ctx, t.run.TickID, job, next, recurring, &sentAt); err != nil {
		return o.storageFailure(ctx, t, job, err)
	}
	logger.InfoContext(ctx, "reminder delivered", "delivery_key", key, "recurring", recurring)
	return outcomeSent
}

// advance reschedules a recurring reminder or completes a one-shot one.
func (o *Orchestrator) advance(ctx context.Context, tickID string, job *domain.Reminder, next time.Time, recurring bool, deliveredAt *time.Time) error {
	if !recurring {
		if err := o.reminders.Complete(ctx, job.ID, tickID, deliveredAt); err != nil {
			return fmt.Errorf("complete: %w", err)
		}
		return nil
	}
	err := o.reminders.Advance(ctx, repository.AdvanceInput{
		ID:          job.ID,
		TickID:      tickID,
		Next:        next,
		DeliveredAt: deliveredAt,
	})
	if err != nil {
		return fmt.Errorf("advance: %w", err)
	}
	return nil
}

// fail records a failed delivery and parks the reminder in failed with a retry time.
func (o *Orchestrator) fail(ctx context.Context, t *tick, job *domain.Reminder, key string, cause error) outcome {
	logger := o.logger.With("reminder_id", job.ID)
	f := Classify(cause)
	now := o.now()

	err := o.deliveries.Record(ctx, &domain.DeliveryRecord{
		JobID:       job.ID,
		DeliveryKey: key,
		TickID:      t.run.TickID,
		OK:          false,
		Error:       &f.Message,
		SentAt:      now,
	})
	if err != nil {
		logger.ErrorContext(ctx, "record failed delivery", "error", err)
		t.note(fmt.Errorf("reminder %s: record delivery: %w", job.ID, err))
	}

	retryAt := RetryNotBefore(f, job.AttemptCount, now)
	err = o.reminders.Fail(ctx, repository.FailInput{
		ID:             job.ID,
		TickID:         t.run.TickID,
		AttemptCount:   job.AttemptCount + 1,
		LastError:      f.Message,
		RetryNotBefore: retryAt,
	})
	if err != nil {
		o.storageFailure(ctx, t, job, fmt.Errorf("fail: %w", err))
	}

	if f.Kind == FailureRateLimit {
		metrics.RateLimitHitsTotal.Inc()
		if err := o.cooldown.Extend(ctx, retryAt); err != nil {
			logger.ErrorContext(ctx, "extend channel cooldown", "error", err)
			t.note(err)
		}
		logger.WarnContext(ctx, "delivery rate limited", "retry_not_before", retryAt, "error", f.Message)
		return outcomeRateLimited
	}
	logger.WarnContext(ctx, "delivery failed",
		"attempt", job.AttemptCount+1,
		"retry_not_before", retryAt,
		"error", f.Message,
	)
	return outcomeFailed
}

// storageFailure hands the reminder back for a later tick and counts it failed.
func (o *Orchestrator) storageFailure(ctx context.Context, t *tick, job *domain.Reminder, err error) outcome {
	o.logger.ErrorContext(ctx, "storage error, releasing reminder", "reminder_id", job.ID, "error", err)
	t.note(fmt.Errorf("reminder %s: %w", job.ID, err))
	if !errors.Is(err, domain.ErrClaimLost) {
		o.release(ctx, t.run.TickID, []*domain.Reminder{job})
	}
	return outcomeFailed
}

// release hands claimed reminders back as active. It runs even when ctx is cancelled.
func (o *Orchestrator) release(ctx context.Context, tickID string, jobs []*domain.Reminder) int {
	if len(jobs) == 0 {
		return 0
	}
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	n, err := o.reminders.Release(context.WithoutCancel(ctx), tickID, ids)
	if err != nil {
		// The reaper picks these up once the claim goes stale.
		o.logger.ErrorContext(ctx, "release reminders", "count", len(ids), "error", err)
		return 0
	}
	return n
}

func (o *Orchestrator) finish(ctx context.Context, t *tick) domain.TickResult {
	finished := o.now()
	t.run.FinishedAt = &finished
	t.run.OK = t.fatal == nil
	if len(t.notes) > 0 {
		notes := strings.Join(t.notes, "; ")
		t.run.Notes = &notes
	}

	if err := o.runs.Finish(context.WithoutCancel(ctx), t.run); err != nil {
		o.logger.ErrorContext(ctx, "finish tick run", "error", err)
	}

	metrics.TickJobsTotal.WithLabelValues("sent").Add(float64(t.run.Sent))
	metrics.TickJobsTotal.WithLabelValues("failed").Add(float64(t.run.Failed))
	metrics.TickJobsTotal.WithLabelValues("skipped").Add(float64(t.run.Skipped))

	res := o.result(t, finished)
	o.logger.InfoContext(ctx, "tick finished",
		"ok", res.OK,
		"claimed", res.Claimed,
		"sent", res.Sent,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"released_stale", t.run.Released,
		"duration_ms", res.DurationMS,
	)
	return res
}

func (o *Orchestrator) result(t *tick, finished time.Time) domain.TickResult {
	duration := finished.Sub(t.run.StartedAt)
	res := domain.TickResult{
		OK:         t.fatal == nil,
		TickID:     t.run.TickID,
		Claimed:    t.run.Claimed,
		Sent:       t.run.Sent,
		Failed:     t.run.Failed,
		Skipped:    t.run.Skipped,
		DurationMS: duration.Milliseconds(),
	}
	if t.fatal != nil {
		res.Error = t.fatal.Error()
	}

	label := "ok"
	if !res.OK {
		label = "error"
	}
	metrics.TicksTotal.WithLabelValues(label).Inc()
	metrics.TickDuration.Observe(duration.Seconds())
	return res
}
