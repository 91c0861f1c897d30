package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Env      string `env:"ENV"       envDefault:"local" validate:"required,oneof=local staging production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"  validate:"oneof=debug info warn error"`
	Port     string `env:"PORT"      envDefault:"8080"  validate:"required"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	JWTSecret  string `env:"JWT_SECRET,required"  validate:"required,min=32"`
	TickSecret string `env:"TICK_SECRET,required" validate:"required,min=16"`

	// Tick tuning. A claim older than STALE_CLAIM_SEC is assumed orphaned, so it must
	// outlast the longest possible tick.
	TickBatchSize int    `env:"TICK_BATCH_SIZE" envDefault:"50" validate:"min=1,max=1000"`
	TickBudgetSec int    `env:"TICK_BUDGET_SEC" envDefault:"25" validate:"min=1,max=600"`
	StaleClaimSec int    `env:"STALE_CLAIM_SEC" envDefault:"300" validate:"gtfield=TickBudgetSec"`
	WorkerID      string `env:"WORKER_ID"`

	// Optional. Servers sharing one Redis also share the channel cooldown after a rate limit.
	RedisURL string `env:"REDIS_URL" validate:"omitempty,url"`

	DeliveryChannel  string `env:"DELIVERY_CHANNEL" envDefault:"log" validate:"oneof=log telegram email"`
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN" validate:"required_if=DeliveryChannel telegram"`
	ResendAPIKey     string `env:"RESEND_API_KEY"     validate:"required_if=DeliveryChannel email"`
	ResendFrom       string `env:"RESEND_FROM"        validate:"required_if=DeliveryChannel email"`
}

func (c *Config) TickBudget() time.Duration { return time.Duration(c.TickBudgetSec) * time.Second }

func (c *Config) StaleClaimAfter() time.Duration { return time.Duration(c.StaleClaimSec) * time.Second }

func (c *Config) SlogLevel() slog.Level { return slogLevel(c.LogLevel) }

// slogLevel maps LOG_LEVEL onto slog; validation has already rejected anything else.
func slogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// TriggerConfig is the configuration of cmd/trigger, which only needs to reach the server.
type TriggerConfig struct {
	Env        string `env:"ENV"          envDefault:"local" validate:"required,oneof=local staging production"`
	LogLevel   string `env:"LOG_LEVEL"    envDefault:"info"  validate:"oneof=debug info warn error"`
	TriggerURL string `env:"TRIGGER_URL"  envDefault:"http://localhost:8080/internal/tick" validate:"required,url"`
	// Standard five-field cron expression or a descriptor such as @every 1m.
	TriggerSpec    string `env:"TRIGGER_SPEC"        envDefault:"* * * * *" validate:"required"`
	TickSecret     string `env:"TICK_SECRET,required" validate:"required,min=16"`
	RequestTimeout int    `env:"TRIGGER_TIMEOUT_SEC" envDefault:"60" validate:"min=1,max=900"`
}

func (c *TriggerConfig) SlogLevel() slog.Level { return slogLevel(c.LogLevel) }

func Load() (*Config, error) {
	cfg := &Config{}
	if err := load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadTrigger() (*TriggerConfig, error) {
	cfg := &TriggerConfig{}
	if err := load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(cfg any) error {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
