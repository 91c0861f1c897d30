package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/reminder-dispatch/internal/repository"
	"github.com/ErlanBelekov/reminder-dispatch/internal/transport/http/handler"
	"github.com/ErlanBelekov/reminder-dispatch/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

type RouterConfig struct {
	JWTSecret  []byte
	TickSecret string
}

func NewRouter(
	logger *slog.Logger,
	cfg RouterConfig,
	tickHandler *handler.TickHandler,
	reminderHandler *handler.ReminderHandler,
	userRepo repository.UserRepository,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	// Trigger routes, called by cmd/trigger or any external scheduler
	internal := r.Group("/internal", middleware.TriggerSecret(cfg.TickSecret))
	internal.POST("/tick", tickHandler.Tick)
	internal.GET("/health", tickHandler.Health)

	// Protected reminder routes
	reminders := r.Group("/reminders", middleware.Auth(cfg.JWTSecret), middleware.RequireUser(userRepo, logger))
	reminders.POST("", reminderHandler.Create)
	reminders.GET("", reminderHandler.List)
	reminders.GET("/:id", reminderHandler.GetByID)
	reminders.POST("/:id/pause", reminderHandler.Pause)
	reminders.POST("/:id/resume", reminderHandler.Resume)
	reminders.POST("/:id/reactivate", reminderHandler.Reactivate)
	reminders.DELETE("/:id", reminderHandler.Delete)
	reminders.GET("/:id/deliveries", reminderHandler.ListDeliveries)

	return r
}
