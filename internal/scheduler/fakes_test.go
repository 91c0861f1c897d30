package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
	"github.com/ErlanBelekov/reminder-dispatch/internal/repository"
	"github.com/ErlanBelekov/reminder-dispatch/internal/tickid"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeClock only moves when told to.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeReminders is an in-memory ReminderRepository with the same claim and guard rules
// as the Postgres one.
type fakeReminders struct {
	mu          sync.Mutex
	rows        map[string]*domain.Reminder
	attachments map[string][]domain.Attachment

	claimErr       error
	attachmentsErr error
	advanceErrs    int // fail this many Advance calls with a storage error
	releaseCalls   [][]string
}

func newFakeReminders() *fakeReminders {
	return &fakeReminders{
		rows:        map[string]*domain.Reminder{},
		attachments: map[string][]domain.Attachment{},
	}
}

func (f *fakeReminders) add(r *domain.Reminder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.State == "" {
		r.State = domain.StateActive
	}
	r.Enabled = true
	f.rows[r.ID] = r
}

func (f *fakeReminders) get(id string) domain.Reminder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.rows[id]
}

func (f *fakeReminders) Create(_ context.Context, r *domain.Reminder) (*domain.Reminder, error) {
	f.add(r)
	return r, nil
}

func (f *fakeReminders) GetByID(_ context.Context, id, _ string) (*domain.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, domain.ErrReminderNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeReminders) List(context.Context, repository.ListRemindersInput) ([]*domain.Reminder, error) {
	return nil, errors.New("not used")
}

func (f *fakeReminders) Attachments(_ context.Context, id string) ([]domain.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachmentsErr != nil {
		return nil, f.attachmentsErr
	}
	return append([]domain.Attachment(nil), f.attachments[id]...), nil
}

func (f *fakeReminders) SetEnabled(context.Context, string, string, bool, *time.Time) error {
	return errors.New("not used")
}

func (f *fakeReminders) SoftDelete(context.Context, string, string) error {
	return errors.New("not used")
}

func (f *fakeReminders) Reactivate(context.Context, string, string) error {
	return errors.New("not used")
}

func (f *fakeReminders) Claim(_ context.Context, in repository.ClaimInput) ([]*domain.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}

	var due []*domain.Reminder
	for _, r := range f.rows {
		if r.State == domain.StateActive && r.Enabled && r.DeletedAt == nil &&
			r.NextOccurrenceAt != nil && !r.NextOccurrenceAt.After(in.Now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextOccurrenceAt.Before(*due[j].NextOccurrenceAt) })
	if len(due) > in.Limit {
		due = due[:in.Limit]
	}

	out := make([]*domain.Reminder, len(due))
	for i, r := range due {
		snapshot := *r
		out[i] = &snapshot

		claimedAt, by, tick := in.Now, in.WorkerID, in.TickID
		r.State = domain.StateProcessing
		r.ClaimedAt, r.ClaimedBy, r.ClaimingTickID = &claimedAt, &by, &tick
	}
	return out, nil
}

// held returns the row if tickID still holds its claim. Caller holds mu.
func (f *fakeReminders) held(id, tickID string) (*domain.Reminder, error) {
	r, ok := f.rows[id]
	if !ok || r.State != domain.StateProcessing || r.ClaimingTickID == nil || *r.ClaimingTickID != tickID {
		return nil, domain.ErrClaimLost
	}
	return r, nil
}

func clearClaim(r *domain.Reminder) {
	r.ClaimedAt, r.ClaimedBy, r.ClaimingTickID = nil, nil, nil
}

func (f *fakeReminders) Advance(_ context.Context, in repository.AdvanceInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.advanceErrs > 0 {
		f.advanceErrs--
		return errors.New("connection reset by peer")
	}
	r, err := f.held(in.ID, in.TickID)
	if err != nil {
		return err
	}
	next := in.Next
	r.State = domain.StateActive
	r.NextOccurrenceAt = &next
	if in.DeliveredAt != nil {
		at := *in.DeliveredAt
		r.LastDeliveredAt = &at
	}
	r.AttemptCount, r.LastError, r.RetryNotBefore = 0, nil, nil
	clearClaim(r)
	return nil
}

func (f *fakeReminders) Complete(_ context.Context, id, tickID string, deliveredAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.held(id, tickID)
	if err != nil {
		return err
	}
	r.State = domain.StateTerminal
	r.Enabled = false
	r.NextOccurrenceAt = nil
	if deliveredAt != nil {
		at := *deliveredAt
		r.LastDeliveredAt = &at
	}
	r.AttemptCount, r.LastError, r.RetryNotBefore = 0, nil, nil
	clearClaim(r)
	return nil
}

func (f *fakeReminders) Fail(_ context.Context, in repository.FailInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.held(in.ID, in.TickID)
	if err != nil {
		return err
	}
	msg, retry := in.LastError, in.RetryNotBefore
	r.State = domain.StateFailed
	r.AttemptCount = in.AttemptCount
	r.LastError = &msg
	r.RetryNotBefore = &retry
	clearClaim(r)
	return nil
}

func (f *fakeReminders) Release(_ context.Context, tickID string, ids []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseCalls = append(f.releaseCalls, append([]string(nil), ids...))
	n := 0
	for _, id := range ids {
		if r, err := f.held(id, tickID); err == nil {
			r.State = domain.StateActive
			clearClaim(r)
			n++
		}
	}
	return n, nil
}

func (f *fakeReminders) ReleaseStale(_ context.Context, cutoff time.Time, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.rows {
		if n == limit {
			break
		}
		if r.State == domain.StateProcessing && r.ClaimedAt != nil && r.ClaimedAt.Before(cutoff) {
			r.State = domain.StateActive
			clearClaim(r)
			n++
		}
	}
	return n, nil
}

type fakeLedger struct {
	mu       sync.Mutex
	records  map[string]*domain.DeliveryRecord
	reads    int
	readErr  error
	writeErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: map[string]*domain.DeliveryRecord{}}
}

func (l *fakeLedger) SucceededAt(_ context.Context, jobID, key string) (*time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	if l.readErr != nil {
		return nil, l.readErr
	}
	rec, ok := l.records[jobID+"|"+key]
	if !ok || !rec.OK {
		return nil, nil
	}
	at := rec.SentAt
	return &at, nil
}

func (l *fakeLedger) Record(_ context.Context, rec *domain.DeliveryRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	k := rec.JobID + "|" + rec.DeliveryKey
	if existing, ok := l.records[k]; ok && existing.OK {
		return nil
	}
	cp := *rec
	l.records[k] = &cp
	return nil
}

func (l *fakeLedger) ListByJobID(context.Context, string, int) ([]*domain.DeliveryRecord, error) {
	return nil, errors.New("not used")
}

func (l *fakeLedger) record(jobID string, occ time.Time) *domain.DeliveryRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records[jobID+"|"+domain.DeliveryKey(occ)]
}

type fakeRuns struct {
	mu       sync.Mutex
	started  []domain.TickRun
	finished []domain.TickRun
	startErr error
}

func (r *fakeRuns) Start(_ context.Context, run *domain.TickRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.started = append(r.started, *run)
	return nil
}

func (r *fakeRuns) Finish(_ context.Context, run *domain.TickRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, *run)
	return nil
}

func (r *fakeRuns) Health(context.Context) (*domain.TickHealth, error) {
	return &domain.TickHealth{}, nil
}

func (r *fakeRuns) last() domain.TickRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished[len(r.finished)-1]
}

type fakeUsers struct {
	users map[string]*domain.User
	err   error
}

func (u *fakeUsers) FindByID(_ context.Context, id string) (*domain.User, error) {
	if u.err != nil {
		return nil, u.err
	}
	user, ok := u.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}

// fakeSender records every call. onText decides the outcome of each SendText call by
// its 1-based sequence number.
type fakeSender struct {
	mu      sync.Mutex
	calls   []string
	texts   int
	tickIDs []string
	onText  func(n int) error
	onSend  func()
}

func (s *fakeSender) SendText(ctx context.Context, user *domain.User, text string) error {
	s.mu.Lock()
	s.texts++
	n := s.texts
	s.calls = append(s.calls, fmt.Sprintf("text:%s:%s", user.ID, text))
	s.tickIDs = append(s.tickIDs, tickid.FromContext(ctx))
	onText, onSend := s.onText, s.onSend
	s.mu.Unlock()

	if onSend != nil {
		onSend()
	}
	if onText != nil {
		return onText(n)
	}
	return nil
}

func (s *fakeSender) Replay(_ context.Context, user *domain.User, a domain.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("replay:%s:%d", user.ID, a.SourceMessageID))
	return nil
}

func (s *fakeSender) textCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.texts
}
