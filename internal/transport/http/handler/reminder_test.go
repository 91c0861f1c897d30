package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
	"github.com/ErlanBelekov/reminder-dispatch/internal/transport/http/handler"
	"github.com/ErlanBelekov/reminder-dispatch/internal/usecase"
	"github.com/gin-gonic/gin"
)

// fakeReminderUsecase implements the unexported reminderUsecaser interface via method matching.
type fakeReminderUsecase struct {
	create         func(ctx context.Context, input usecase.CreateReminderInput) (*domain.Reminder, error)
	get            func(ctx context.Context, id, userID string) (*domain.Reminder, error)
	list           func(ctx context.Context, input usecase.ListRemindersInput) (usecase.ListRemindersResult, error)
	pause          func(ctx context.Context, id, userID string) error
	resume         func(ctx context.Context, id, userID string) error
	reactivate     func(ctx context.Context, id, userID string) error
	remove         func(ctx context.Context, id, userID string) error
	listDeliveries func(ctx context.Context, input usecase.ListDeliveriesInput) ([]*domain.DeliveryRecord, error)
}

func (f *fakeReminderUsecase) CreateReminder(ctx context.Context, input usecase.CreateReminderInput) (*domain.Reminder, error) {
	return f.create(ctx, input)
}

func (f *fakeReminderUsecase) GetReminder(ctx context.Context, id, userID string) (*domain.Reminder, error) {
	return f.get(ctx, id, userID)
}

func (f *fakeReminderUsecase) ListReminders(ctx context.Context, input usecase.ListRemindersInput) (usecase.ListRemindersResult, error) {
	return f.list(ctx, input)
}

func (f *fakeReminderUsecase) PauseReminder(ctx context.Context, id, userID string) error {
	return f.pause(ctx, id, userID)
}

func (f *fakeReminderUsecase) ResumeReminder(ctx context.Context, id, userID string) error {
	return f.resume(ctx, id, userID)
}

func (f *fakeReminderUsecase) ReactivateReminder(ctx context.Context, id, userID string) error {
	return f.reactivate(ctx, id, userID)
}

func (f *fakeReminderUsecase) DeleteReminder(ctx context.Context, id, userID string) error {
	return f.remove(ctx, id, userID)
}

func (f *fakeReminderUsecase) ListDeliveries(ctx context.Context, input usecase.ListDeliveriesInput) ([]*domain.DeliveryRecord, error) {
	return f.listDeliveries(ctx, input)
}

const testUserID = "user-1"

// newReminderEngine stands in for the auth middleware by setting userID directly.
func newReminderEngine(uc *fakeReminderUsecase) *gin.Engine {
	h := handler.NewReminderHandler(uc, discardLogger)

	r := gin.New()
	g := r.Group("/reminders", func(c *gin.Context) {
		c.Set("userID", testUserID)
		c.Next()
	})
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.GetByID)
	g.POST("/:id/pause", h.Pause)
	g.POST("/:id/resume", h.Resume)
	g.POST("/:id/reactivate", h.Reactivate)
	g.DELETE("/:id", h.Delete)
	g.GET("/:id/deliveries", h.ListDeliveries)
	return r
}

func serve(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

// ---- Create ----

func TestCreate_PassesScheduleAndAttachments(t *testing.T) {
	next := time.Date(2024, 9, 23, 7, 0, 0, 0, time.UTC)
	var got usecase.CreateReminderInput
	uc := &fakeReminderUsecase{
		create: func(_ context.Context, in usecase.CreateReminderInput) (*domain.Reminder, error) {
			got = in
			sched, err := in.Schedule.Schedule()
			if err != nil {
				return nil, err
			}
			return &domain.Reminder{
				ID: "rem-1", Title: in.Title, Schedule: sched, State: domain.StateActive,
				Enabled: true, NextOccurrenceAt: &next,
			}, nil
		},
	}

	body := `{
		"title": "stand-up",
		"schedule": {"kind": "weekly", "tz": "Europe/Berlin", "weekday": 1, "time": "09:00"},
		"attachments": [{"source_chat_id": -100, "source_message_id": 7}]
	}`
	w := serve(newReminderEngine(uc), http.MethodPost, "/reminders", body)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (%s)", w.Code, w.Body.String())
	}
	if got.UserID != testUserID {
		t.Errorf("user = %q, want %q", got.UserID, testUserID)
	}
	if got.Schedule.Kind != domain.KindWeekly || got.Schedule.Weekday == nil || *got.Schedule.Weekday != 1 {
		t.Errorf("schedule = %+v", got.Schedule)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].SourceMessageID != 7 {
		t.Errorf("attachments = %+v", got.Attachments)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["next_occurrence_at"] != "2024-09-23T07:00:00Z" || resp["state"] != "active" {
		t.Errorf("response = %v", resp)
	}
	sched, _ := resp["schedule"].(map[string]any)
	if sched["kind"] != "weekly" || sched["tz"] != "Europe/Berlin" {
		t.Errorf("schedule = %v", sched)
	}
}

func TestCreate_MissingTitle_Returns400(t *testing.T) {
	w := serve(newReminderEngine(&fakeReminderUsecase{}), http.MethodPost, "/reminders",
		`{"schedule": {"kind": "daily", "tz": "UTC", "time": "09:00"}}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreate_DomainErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: interval must be at least one minute", domain.ErrInvalidSchedule), http.StatusBadRequest},
		{fmt.Errorf("%w: %q", domain.ErrInvalidTimezone, "Mars/Olympus"), http.StatusBadRequest},
		{fmt.Errorf("create reminder: %w", domain.ErrUserNotFound), http.StatusNotFound},
		{fmt.Errorf("create reminder: boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		uc := &fakeReminderUsecase{
			create: func(context.Context, usecase.CreateReminderInput) (*domain.Reminder, error) { return nil, tt.err },
		}
		w := serve(newReminderEngine(uc), http.MethodPost, "/reminders",
			`{"title": "x", "schedule": {"kind": "interval", "tz": "UTC", "minutes": 0}}`)
		if w.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, w.Code, tt.want)
		}
	}
}

// ---- List ----

func TestList_InvalidCursor_Returns400(t *testing.T) {
	uc := &fakeReminderUsecase{
		list: func(_ context.Context, in usecase.ListRemindersInput) (usecase.ListRemindersResult, error) {
			if in.Cursor != "garbage" || in.Limit != 5 {
				t.Errorf("input = %+v", in)
			}
			return usecase.ListRemindersResult{}, domain.ErrInvalidCursor
		},
	}
	w := serve(newReminderEngine(uc), http.MethodGet, "/reminders?cursor=garbage&limit=5", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestList_ReturnsPageAndCursor(t *testing.T) {
	cursor := "abc"
	uc := &fakeReminderUsecase{
		list: func(context.Context, usecase.ListRemindersInput) (usecase.ListRemindersResult, error) {
			return usecase.ListRemindersResult{
				Reminders: []*domain.Reminder{
					{ID: "rem-1", Schedule: domain.Interval{TZ: "UTC", Minutes: 5}, State: domain.StateFailed},
				},
				NextCursor: &cursor,
			}, nil
		},
	}
	w := serve(newReminderEngine(uc), http.MethodGet, "/reminders", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Reminders []struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"reminders"`
		NextCursor *string `json:"next_cursor"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Reminders) != 1 || resp.Reminders[0].State != "failed" {
		t.Errorf("reminders = %+v", resp.Reminders)
	}
	if resp.NextCursor == nil || *resp.NextCursor != "abc" {
		t.Errorf("next_cursor = %v", resp.NextCursor)
	}
}

// ---- lifecycle routes ----

func TestLifecycleRoutes_MapErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
		err  error
		want int
	}{
		{"pause ok", "/reminders/rem-1/pause", nil, http.StatusNoContent},
		{"pause twice", "/reminders/rem-1/pause", domain.ErrReminderAlreadyPaused, http.StatusConflict},
		{"pause completed", "/reminders/rem-1/pause", domain.ErrReminderCompleted, http.StatusConflict},
		{"resume not paused", "/reminders/rem-1/resume", domain.ErrReminderNotPaused, http.StatusConflict},
		{"resume missing", "/reminders/rem-1/resume", fmt.Errorf("resume reminder: %w", domain.ErrReminderNotFound), http.StatusNotFound},
		{"reactivate ok", "/reminders/rem-1/reactivate", nil, http.StatusNoContent},
		{"reactivate too early", "/reminders/rem-1/reactivate", domain.ErrRetryNotDue, http.StatusConflict},
		{"reactivate not failed", "/reminders/rem-1/reactivate", domain.ErrReminderNotFailed, http.StatusConflict},
		{"reactivate store down", "/reminders/rem-1/reactivate", fmt.Errorf("reactivate reminder: boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotID, gotUser string
			call := func(_ context.Context, id, userID string) error {
				gotID, gotUser = id, userID
				return tt.err
			}
			uc := &fakeReminderUsecase{pause: call, resume: call, reactivate: call}

			w := serve(newReminderEngine(uc), http.MethodPost, tt.path, "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if gotID != "rem-1" || gotUser != testUserID {
				t.Errorf("called with (%q, %q)", gotID, gotUser)
			}
		})
	}
}

func TestDelete_NotFound_Returns404(t *testing.T) {
	uc := &fakeReminderUsecase{
		remove: func(context.Context, string, string) error {
			return fmt.Errorf("delete reminder: %w", domain.ErrReminderNotFound)
		},
	}
	w := serve(newReminderEngine(uc), http.MethodDelete, "/reminders/rem-1", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetByID_IncludesAttachments(t *testing.T) {
	uc := &fakeReminderUsecase{
		get: func(_ context.Context, id, _ string) (*domain.Reminder, error) {
			return &domain.Reminder{
				ID:          id,
				Schedule:    domain.Daily{TZ: "UTC", At: domain.TimeOfDay{Hour: 9}},
				Attachments: []domain.Attachment{{Position: 0, SourceChatID: -100, SourceMessageID: 3}},
			}, nil
		},
	}
	w := serve(newReminderEngine(uc), http.MethodGet, "/reminders/rem-7", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"source_message_id":3`) || !strings.Contains(w.Body.String(), `"time":"09:00"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

// ---- deliveries ----

func TestListDeliveries_ReturnsLedger(t *testing.T) {
	msg := "chat not found"
	uc := &fakeReminderUsecase{
		listDeliveries: func(_ context.Context, in usecase.ListDeliveriesInput) ([]*domain.DeliveryRecord, error) {
			if in.ReminderID != "rem-1" || in.UserID != testUserID {
				t.Errorf("input = %+v", in)
			}
			return []*domain.DeliveryRecord{
				{JobID: "rem-1", DeliveryKey: "occ:1726491600", TickID: "tick-1", OK: false, Error: &msg},
			}, nil
		},
	}
	w := serve(newReminderEngine(uc), http.MethodGet, "/reminders/rem-1/deliveries", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"delivery_key":"occ:1726491600"`) || !strings.Contains(w.Body.String(), `"error":"chat not found"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestListDeliveries_OtherUsersReminder_Returns404(t *testing.T) {
	uc := &fakeReminderUsecase{
		listDeliveries: func(context.Context, usecase.ListDeliveriesInput) ([]*domain.DeliveryRecord, error) {
			return nil, fmt.Errorf("get reminder: %w", domain.ErrReminderNotFound)
		},
	}
	w := serve(newReminderEngine(uc), http.MethodGet, "/reminders/rem-1/deliveries", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
