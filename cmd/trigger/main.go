// trigger fires POST /internal/tick on a cron schedule. Run one per deployment,
// or replace it with any external scheduler that can send the secret header.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/config"
	ctxlog "github.com/ErlanBelekov/reminder-dispatch/internal/log"
	"github.com/ErlanBelekov/reminder-dispatch/internal/trigger"
	"github.com/lmittmann/tint"
)

func main() {
	cfg, err := config.LoadTrigger()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	client := trigger.NewClient(cfg.TriggerURL, cfg.TickSecret, &http.Client{Timeout: timeout}, logger)

	cr, err := client.Schedule(cfg.TriggerSpec, timeout)
	if err != nil {
		log.Fatalf("trigger: %v", err)
	}
	cr.Start()
	logger.Info("trigger started", "url", cfg.TriggerURL, "spec", cfg.TriggerSpec)

	<-ctx.Done()
	logger.Info("shutting down...")

	// Stop returns a context that is done once the running tick call returns.
	<-cr.Stop().Done()
	logger.Info("trigger shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	// Each fire carries a request ID that the server logs too.
	return slog.New(ctxlog.NewContextHandler(inner))
}
