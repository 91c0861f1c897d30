package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
	"github.com/gin-gonic/gin"
)

type tickRunner interface {
	Run(ctx context.Context) domain.TickResult
}

type healthReporter interface {
	Report(ctx context.Context) (*domain.TickHealth, error)
}

type TickHandler struct {
	runner   tickRunner
	reporter healthReporter
	logger   *slog.Logger
}

func NewTickHandler(runner tickRunner, reporter healthReporter, logger *slog.Logger) *TickHandler {
	return &TickHandler{runner: runner, reporter: reporter, logger: logger.With("component", "tick_handler")}
}

type tickResponse struct {
	OK         bool   `json:"ok"`
	TickID     string `json:"tick_id"`
	Claimed    int    `json:"claimed"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type healthResponse struct {
	LastSuccessTickTime *time.Time `json:"last_success_tick_time"`
	LastTickID          *string    `json:"last_tick_id"`
	LastSentAt          *time.Time `json:"last_sent_at"`
	LastError           *string    `json:"last_error"`
	LastErrorAt         *time.Time `json:"last_error_at"`
}

// Tick runs one orchestrator pass. The tick is detached from the request so a caller
// hanging up mid-tick does not abandon claimed reminders.
func (h *TickHandler) Tick(ctx *gin.Context) {
	res := h.runner.Run(context.WithoutCancel(ctx.Request.Context()))

	status := http.StatusOK
	if !res.OK {
		status = http.StatusInternalServerError
		h.logger.ErrorContext(ctx.Request.Context(), "tick failed", "tick_id", res.TickID, "error", res.Error)
	}

	ctx.JSON(status, tickResponse{
		OK:         res.OK,
		TickID:     res.TickID,
		Claimed:    res.Claimed,
		Sent:       res.Sent,
		Failed:     res.Failed,
		Skipped:    res.Skipped,
		DurationMS: res.DurationMS,
		Error:      res.Error,
	})
}

func (h *TickHandler) Health(ctx *gin.Context) {
	report, err := h.reporter.Report(ctx.Request.Context())
	if err != nil {
		h.logger.ErrorContext(ctx.Request.Context(), "tick health", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, healthResponse{
		LastSuccessTickTime: report.LastSuccessTickTime,
		LastTickID:          report.LastTickID,
		LastSentAt:          report.LastSentAt,
		LastError:           report.LastError,
		LastErrorAt:         report.LastErrorAt,
	})
}
