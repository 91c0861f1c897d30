package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
	"github.com/ErlanBelekov/reminder-dispatch/internal/usecase"
	"github.com/gin-gonic/gin"
)

type reminderUsecaser interface {
	CreateReminder(ctx context.Context, input usecase.CreateReminderInput) (*domain.Reminder, error)
	GetReminder(ctx context.Context, id, userID string) (*domain.Reminder, error)
	ListReminders(ctx context.Context, input usecase.ListRemindersInput) (usecase.ListRemindersResult, error)
	PauseReminder(ctx context.Context, id, userID string) error
	ResumeReminder(ctx context.Context, id, userID string) error
	ReactivateReminder(ctx context.Context, id, userID string) error
	DeleteReminder(ctx context.Context, id, userID string) error
	ListDeliveries(ctx context.Context, input usecase.ListDeliveriesInput) ([]*domain.DeliveryRecord, error)
}

type ReminderHandler struct {
	uc     reminderUsecaser
	logger *slog.Logger
}

func NewReminderHandler(uc reminderUsecaser, logger *slog.Logger) *ReminderHandler {
	return &ReminderHandler{uc: uc, logger: logger.With("component", "reminder_handler")}
}

type attachmentRequest struct {
	SourceChatID    int64 `json:"source_chat_id"    binding:"required"`
	SourceMessageID int   `json:"source_message_id" binding:"required,min=1"`
}

type createReminderRequest struct {
	Title       string              `json:"title"       binding:"required,max=256"`
	Description *string             `json:"description" binding:"omitempty,max=4096"`
	Schedule    domain.ScheduleSpec `json:"schedule"`
	Attachments []attachmentRequest `json:"attachments" binding:"omitempty,max=10,dive"`
}

type attachmentResponse struct {
	Position        int   `json:"position"`
	SourceChatID    int64 `json:"source_chat_id"`
	SourceMessageID int   `json:"source_message_id"`
}

type reminderResponse struct {
	ID               string               `json:"id"`
	Title            string               `json:"title"`
	Description      *string              `json:"description,omitempty"`
	Schedule         domain.ScheduleSpec  `json:"schedule"`
	Attachments      []attachmentResponse `json:"attachments,omitempty"`
	State            string               `json:"state"`
	Enabled          bool                 `json:"enabled"`
	NextOccurrenceAt *time.Time           `json:"next_occurrence_at"`
	LastDeliveredAt  *time.Time           `json:"last_delivered_at,omitempty"`
	AttemptCount     int                  `json:"attempt_count"`
	LastError        *string              `json:"last_error,omitempty"`
	RetryNotBefore   *time.Time           `json:"retry_not_before,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

func toReminderResponse(r *domain.Reminder) reminderResponse {
	resp := reminderResponse{
		ID:               r.ID,
		Title:            r.Title,
		Description:      r.Description,
		Schedule:         domain.SpecOf(r.Schedule),
		State:            string(r.State),
		Enabled:          r.Enabled,
		NextOccurrenceAt: r.NextOccurrenceAt,
		LastDeliveredAt:  r.LastDeliveredAt,
		AttemptCount:     r.AttemptCount,
		LastError:        r.LastError,
		RetryNotBefore:   r.RetryNotBefore,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	for _, a := range r.Attachments {
		resp.Attachments = append(resp.Attachments, attachmentResponse{
			Position:        a.Position,
			SourceChatID:    a.SourceChatID,
			SourceMessageID: a.SourceMessageID,
		})
	}
	return resp
}

type deliveryResponse struct {
	DeliveryKey string    `json:"delivery_key"`
	TickID      string    `json:"tick_id"`
	OK          bool      `json:"ok"`
	Error       *string   `json:"error,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}

func (h *ReminderHandler) Create(ctx *gin.Context) {
	var req createReminderRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	attachments := make([]usecase.AttachmentInput, len(req.Attachments))
	for i, a := range req.Attachments {
		attachments[i] = usecase.AttachmentInput{SourceChatID: a.SourceChatID, SourceMessageID: a.SourceMessageID}
	}

	r, err := h.uc.CreateReminder(ctx.Request.Context(), usecase.CreateReminderInput{
		UserID:      ctx.GetString("userID"),
		Title:       req.Title,
		Description: req.Description,
		Schedule:    req.Schedule,
		Attachments: attachments,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidTimezone):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidTimezone})
		case errors.Is(err, domain.ErrInvalidSchedule), errors.Is(err, domain.ErrInvalidReminder):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrUserNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": errUnknownUser})
		default:
			h.logger.ErrorContext(ctx.Request.Context(), "create reminder", "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.JSON(http.StatusCreated, toReminderResponse(r))
}

func (h *ReminderHandler) List(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	result, err := h.uc.ListReminders(ctx.Request.Context(), usecase.ListRemindersInput{
		UserID: ctx.GetString("userID"),
		Cursor: ctx.Query("cursor"),
		Limit:  limit,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCursor) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidCursor})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "list reminders", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]reminderResponse, len(result.Reminders))
	for i, r := range result.Reminders {
		items[i] = toReminderResponse(r)
	}
	ctx.JSON(http.StatusOK, gin.H{
		"reminders":   items,
		"next_cursor": result.NextCursor,
	})
}

func (h *ReminderHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	r, err := h.uc.GetReminder(ctx.Request.Context(), id, ctx.GetString("userID"))
	if err != nil {
		h.writeError(ctx, "get reminder", id, err)
		return
	}

	ctx.JSON(http.StatusOK, toReminderResponse(r))
}

func (h *ReminderHandler) Pause(ctx *gin.Context) {
	id := ctx.Param("id")
	if err := h.uc.PauseReminder(ctx.Request.Context(), id, ctx.GetString("userID")); err != nil {
		h.writeError(ctx, "pause reminder", id, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *ReminderHandler) Resume(ctx *gin.Context) {
	id := ctx.Param("id")
	if err := h.uc.ResumeReminder(ctx.Request.Context(), id, ctx.GetString("userID")); err != nil {
		h.writeError(ctx, "resume reminder", id, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *ReminderHandler) Reactivate(ctx *gin.Context) {
	id := ctx.Param("id")
	if err := h.uc.ReactivateReminder(ctx.Request.Context(), id, ctx.GetString("userID")); err != nil {
		h.writeError(ctx, "reactivate reminder", id, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *ReminderHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")
	if err := h.uc.DeleteReminder(ctx.Request.Context(), id, ctx.GetString("userID")); err != nil {
		h.writeError(ctx, "delete reminder", id, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *ReminderHandler) ListDeliveries(ctx *gin.Context) {
	id := ctx.Param("id")
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	records, err := h.uc.ListDeliveries(ctx.Request.Context(), usecase.ListDeliveriesInput{
		ReminderID: id,
		UserID:     ctx.GetString("userID"),
		Limit:      limit,
	})
	if err != nil {
		h.writeError(ctx, "list deliveries", id, err)
		return
	}

	items := make([]deliveryResponse, len(records))
	for i, rec := range records {
		items[i] = deliveryResponse{
			DeliveryKey: rec.DeliveryKey,
			TickID:      rec.TickID,
			OK:          rec.OK,
			Error:       rec.Error,
			SentAt:      rec.SentAt,
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"deliveries": items})
}

// writeError maps the lifecycle sentinels shared by the per-reminder routes.
func (h *ReminderHandler) writeError(ctx *gin.Context, op, id string, err error) {
	switch {
	case errors.Is(err, domain.ErrReminderNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": errReminderNotFound})
	case errors.Is(err, domain.ErrReminderAlreadyPaused):
		ctx.JSON(http.StatusConflict, gin.H{"error": errAlreadyPaused})
	case errors.Is(err, domain.ErrReminderNotPaused):
		ctx.JSON(http.StatusConflict, gin.H{"error": errNotPaused})
	case errors.Is(err, domain.ErrReminderCompleted):
		ctx.JSON(http.StatusConflict, gin.H{"error": errCompleted})
	case errors.Is(err, domain.ErrReminderNotFailed):
		ctx.JSON(http.StatusConflict, gin.H{"error": errNotFailed})
	case errors.Is(err, domain.ErrRetryNotDue):
		ctx.JSON(http.StatusConflict, gin.H{"error": errRetryNotDue})
	default:
		h.logger.ErrorContext(ctx.Request.Context(), op, "reminder_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
	}
}
