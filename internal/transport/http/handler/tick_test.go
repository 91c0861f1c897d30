package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
	"github.com/ErlanBelekov/reminder-dispatch/internal/transport/http/handler"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeRunner struct {
	run func(ctx context.Context) domain.TickResult
}

func (f *fakeRunner) Run(ctx context.Context) domain.TickResult {
	return f.run(ctx)
}

type fakeReporter struct {
	report func(ctx context.Context) (*domain.TickHealth, error)
}

func (f *fakeReporter) Report(ctx context.Context) (*domain.TickHealth, error) {
	return f.report(ctx)
}

func newTickEngine(runner *fakeRunner, reporter *fakeReporter) *gin.Engine {
	h := handler.NewTickHandler(runner, reporter, discardLogger)
	r := gin.New()
	r.POST("/internal/tick", h.Tick)
	r.GET("/internal/health", h.Health)
	return r
}

func TestTick_Success_Returns200WithCounters(t *testing.T) {
	runner := &fakeRunner{run: func(context.Context) domain.TickResult {
		return domain.TickResult{OK: true, TickID: "tick-1", Claimed: 5, Sent: 2, Failed: 1, Skipped: 2, DurationMS: 40}
	}}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/tick", nil)
	newTickEngine(runner, nil).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ok"] != true || body["tick_id"] != "tick-1" {
		t.Errorf("body = %v", body)
	}
	for key, want := range map[string]float64{"claimed": 5, "sent": 2, "failed": 1, "skipped": 2, "duration_ms": 40} {
		if body[key] != want {
			t.Errorf("%s = %v, want %v", key, body[key], want)
		}
	}
	if _, ok := body["error"]; ok {
		t.Error("error key present on success")
	}
}

func TestTick_Failure_Returns500SameShape(t *testing.T) {
	runner := &fakeRunner{run: func(context.Context) domain.TickResult {
		return domain.TickResult{OK: false, TickID: "tick-2", Error: "claim: connection refused"}
	}}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/tick", nil)
	newTickEngine(runner, nil).ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ok"] != false || body["error"] != "claim: connection refused" || body["claimed"] != float64(0) {
		t.Errorf("body = %v", body)
	}
}

func TestTick_RunsDetachedFromRequestCancellation(t *testing.T) {
	var runErr error
	runner := &fakeRunner{run: func(ctx context.Context) domain.TickResult {
		runErr = ctx.Err()
		return domain.TickResult{OK: true}
	}}

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/tick", nil).WithContext(reqCtx)
	newTickEngine(runner, nil).ServeHTTP(w, req)

	if runErr != nil {
		t.Errorf("tick context error = %v, want nil", runErr)
	}
}

func TestHealth_ReturnsReport(t *testing.T) {
	last := time.Date(2024, 9, 16, 13, 5, 0, 0, time.UTC)
	id := "tick-9"
	reporter := &fakeReporter{report: func(context.Context) (*domain.TickHealth, error) {
		return &domain.TickHealth{LastSuccessTickTime: &last, LastTickID: &id}, nil
	}}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/internal/health", nil)
	newTickEngine(nil, reporter).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["last_tick_id"] != "tick-9" || body["last_success_tick_time"] != "2024-09-16T13:05:00Z" {
		t.Errorf("body = %v", body)
	}
	if v, ok := body["last_error"]; !ok || v != nil {
		t.Errorf("last_error = %v (present %v), want explicit null", v, ok)
	}
}

func TestHealth_StoreError_Returns500(t *testing.T) {
	reporter := &fakeReporter{report: func(context.Context) (*domain.TickHealth, error) {
		return nil, errors.New("db down")
	}}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/internal/health", nil)
	newTickEngine(nil, reporter).ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
