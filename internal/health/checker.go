package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TickSource is satisfied by the tick run repository.
type TickSource interface {
	Health(ctx context.Context) (*domain.TickHealth, error)
}

// Dependency is a backing service a tick cannot run without.
type Dependency struct {
	Name string
	Ping func(ctx context.Context) error
}

func Postgres(db Pinger) Dependency {
	return Dependency{Name: "postgres", Ping: db.Ping}
}

type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type HealthResult struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker answers the probes and reports tick health.
type Checker struct {
	deps        []Dependency
	ticks       TickSource
	timeout     time.Duration
	logger      *slog.Logger
	up          *prometheus.GaugeVec
	lastSuccess prometheus.Gauge
}

func NewChecker(ticks TickSource, logger *slog.Logger, reg prometheus.Registerer, deps ...Dependency) *Checker {
	up := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "reminders",
		Name:      "health_check_up",
		Help:      "Whether a dependency is reachable. 1 = up, 0 = down.",
	}, []string{"dependency"})
	lastSuccess := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reminders",
		Name:      "last_success_tick_timestamp_seconds",
		Help:      "Unix time the most recent successful tick finished, as of the last health report.",
	})
	reg.MustRegister(up, lastSuccess)

	return &Checker{
		deps:        deps,
		ticks:       ticks,
		timeout:     2 * time.Second,
		logger:      logger.With("component", "health"),
		up:          up,
		lastSuccess: lastSuccess,
	}
}

func (c *Checker) Liveness(context.Context) HealthResult {
	return HealthResult{Status: "up"}
}

// Readiness is down as soon as one dependency fails its ping.
func (c *Checker) Readiness(ctx context.Context) HealthResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res := HealthResult{Status: "up", Checks: make(map[string]CheckResult, len(c.deps))}
	for _, dep := range c.deps {
		if err := dep.Ping(ctx); err != nil {
			c.logger.WarnContext(ctx, "dependency unreachable", "dependency", dep.Name, "error", err)
			res.Status = "down"
			res.Checks[dep.Name] = CheckResult{Status: "down", Error: err.Error()}
			c.up.WithLabelValues(dep.Name).Set(0)
			continue
		}
		res.Checks[dep.Name] = CheckResult{Status: "up"}
		c.up.WithLabelValues(dep.Name).Set(1)
	}
	return res
}

// Report returns the tick health summary and refreshes the last-success gauge.
func (c *Checker) Report(ctx context.Context) (*domain.TickHealth, error) {
	h, err := c.ticks.Health(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "tick health query failed", "error", err)
		return nil, fmt.Errorf("tick health: %w", err)
	}
	if h.LastSuccessTickTime != nil {
		c.lastSuccess.Set(float64(h.LastSuccessTickTime.Unix()))
	}
	return h, nil
}
