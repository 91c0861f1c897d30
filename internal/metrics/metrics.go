package metrics

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Tick metrics

	TicksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reminders",
		Name:      "ticks_total",
		Help:      "Total ticks run, by result (ok, error).",
	}, []string{"result"})

	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reminders",
		Name:      "tick_duration_seconds",
		Help:      "Wall-clock duration of one tick.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
	})

	TickJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reminders",
		Name:      "tick_jobs_total",
		Help:      "Claimed reminders by outcome (sent, failed, skipped).",
	}, []string{"outcome"})

	TicksInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reminders",
		Name:      "ticks_in_flight",
		Help:      "Number of ticks currently running in this process.",
	})

	// DeliveryLag is how late a reminder was claimed relative to its occurrence.
	DeliveryLag = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reminders",
		Name:      "delivery_lag_seconds",
		Help:      "Time from an occurrence being due to a tick claiming it.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900, 3600},
	})

	// Delivery metrics

	DeliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reminders",
		Name:      "delivery_duration_seconds",
		Help:      "Duration of one delivery (text plus attachments).",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"outcome"})

	RateLimitHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reminders",
		Name:      "rate_limit_hits_total",
		Help:      "Times the delivery channel refused traffic.",
	})

	// Reaper metrics

	ReaperReleasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reminders",
		Name:      "reaper_released_total",
		Help:      "Stale claims handed back by the reaper.",
	})

	ReaperCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reminders",
		Name:      "reaper_cycle_duration_seconds",
		Help:      "Time taken for one reaper pass.",
		Buckets:   prometheus.DefBuckets,
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reminders",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "route", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reminders",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "route", "status"})

	HTTPInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reminders",
		Name:      "http_requests_in_flight",
		Help:      "Requests currently being served, ticks included.",
	})
)

// ObserveHTTP records one finished request.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	HTTPRequestDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
	HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
}

func Register() {
	prometheus.MustRegister(
		TicksTotal,
		TickDuration,
		TickJobsTotal,
		TicksInFlight,
		DeliveryLag,
		DeliveryDuration,
		RateLimitHitsTotal,
		ReaperReleasedTotal,
		ReaperCycleDuration,
		HTTPRequestDuration,
		HTTPRequestsTotal,
		HTTPInFlight,
	)
}

// NewServer serves /metrics and the unauthenticated probes on the metrics port.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz/live", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/healthz/ready", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, res health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	if res.Status != "up" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(res)
}
