package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // schedule zones must resolve even on images without a zoneinfo database

	"github.com/ErlanBelekov/reminder-dispatch/config"
	"github.com/ErlanBelekov/reminder-dispatch/internal/channel"
	"github.com/ErlanBelekov/reminder-dispatch/internal/cooldown"
	"github.com/ErlanBelekov/reminder-dispatch/internal/health"
	"github.com/ErlanBelekov/reminder-dispatch/internal/infrastructure/postgres"
	ctxlog "github.com/ErlanBelekov/reminder-dispatch/internal/log"
	"github.com/ErlanBelekov/reminder-dispatch/internal/metrics"
	"github.com/ErlanBelekov/reminder-dispatch/internal/scheduler"
	httptransport "github.com/ErlanBelekov/reminder-dispatch/internal/transport/http"
	"github.com/ErlanBelekov/reminder-dispatch/internal/transport/http/handler"
	"github.com/ErlanBelekov/reminder-dispatch/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.WithStatementTimeout(cfg.TickBudget()))
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	sender, err := channel.New(channel.Options{
		Kind:          cfg.DeliveryChannel,
		TelegramToken: cfg.TelegramBotToken,
		ResendAPIKey:  cfg.ResendAPIKey,
		ResendFrom:    cfg.ResendFrom,
	}, logger)
	if err != nil {
		stop()
		pool.Close()
		log.Fatalf("delivery channel: %v", err)
	}

	userRepo := postgres.NewUserRepository(pool)
	reminderRepo := postgres.NewReminderRepository(pool)
	deliveryRepo := postgres.NewDeliveryRepository(pool)
	tickRunRepo := postgres.NewTickRunRepository(pool)

	deps := []health.Dependency{health.Postgres(pool)}
	var orchestratorOpts []scheduler.Option
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			stop()
			pool.Close()
			log.Fatalf("redis url: %v", err)
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			stop()
			pool.Close()
			log.Fatalf("redis: %v", err)
		}
		orchestratorOpts = append(orchestratorOpts,
			scheduler.WithCooldown(cooldown.NewRedis(rdb, cooldown.Key(cfg.DeliveryChannel))))
		deps = append(deps, health.Dependency{
			Name: "redis",
			Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
		logger.Info("channel cooldown shared through redis")
	}

	metrics.Register()
	checker := health.NewChecker(tickRunRepo, logger, prometheus.DefaultRegisterer, deps...)

	// Ticks
	orchestrator := scheduler.NewOrchestrator(
		reminderRepo,
		deliveryRepo,
		tickRunRepo,
		userRepo,
		sender,
		scheduler.Config{
			WorkerID:   cfg.WorkerID,
			BatchSize:  cfg.TickBatchSize,
			Budget:     cfg.TickBudget(),
			StaleAfter: cfg.StaleClaimAfter(),
		},
		logger,
		orchestratorOpts...,
	)
	tickHandler := handler.NewTickHandler(orchestrator, checker, logger)

	// Reminders
	reminderUsecase := usecase.NewReminderUsecase(reminderRepo, deliveryRepo)
	reminderHandler := handler.NewReminderHandler(reminderUsecase, logger)

	srv := http.Server{
		Addr: ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger,
			httptransport.RouterConfig{JWTSecret: []byte(cfg.JWTSecret), TickSecret: cfg.TickSecret},
			tickHandler,
			reminderHandler,
			userRepo,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port, "channel", cfg.DeliveryChannel)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	// A tick in flight keeps running on a detached context; give it its budget to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.TickBudget()+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
