package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuemby/genesis-core/pkg/log"
)

var (
	ReconciliationCyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "genesis_reconciliation_cycles_total",
		Help: "Total number of orchestrator reconciliation cycles run.",
	})

	ReconciliationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "genesis_reconciliation_duration_seconds",
		Help: "Duration of a single orchestrator reconciliation cycle.",
	})

	SchedulingLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "genesis_scheduling_latency_seconds",
		Help: "Time from claim to placement decision.",
	})

	TargetsClaimed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "genesis_targets_claimed_total",
		Help: "Targets claimed by orchestrator workers, by kind.",
	}, []string{"kind"})

	TargetsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "genesis_targets_failed_total",
		Help: "Targets that moved to ERROR, by kind.",
	}, []string{"kind"})

	DriverCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "genesis_driver_call_duration_seconds",
		Help: "Capability driver call latency, by kind and operation.",
	}, []string{"kind", "op"})

	DriverRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "genesis_driver_retries_total",
		Help: "Transient driver failures retried, by kind.",
	}, []string{"kind"})

	CircuitBreakerTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "genesis_circuit_breaker_trips_total",
		Help: "Capability driver circuit breaker state transitions to open, by kind.",
	}, []string{"kind"})

	EventsDeadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "genesis_events_dead_lettered_total",
		Help: "Outbox events dead-lettered after exhausting retry attempts, by event kind.",
	}, []string{"event_kind"})

	IAMChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "genesis_iam_checks_total",
		Help: "Authorization checks, by result (granted|denied).",
	}, []string{"result"})

	AgentHeartbeatAge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "genesis_agent_heartbeat_age_seconds",
		Help: "Seconds since the scheduler last heard from an agent.",
	}, []string{"node_id"})
)

func init() {
	prometheus.MustRegister(
		ReconciliationCyclesTotal,
		ReconciliationDuration,
		SchedulingLatency,
		TargetsClaimed,
		TargetsFailed,
		DriverCallDuration,
		DriverRetriesTotal,
		CircuitBreakerTrips,
		EventsDeadLettered,
		IAMChecksTotal,
		AgentHeartbeatAge,
	)
}

// Timer measures an operation's duration against a *prometheus.Histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer { return &Timer{start: time.Now()} }

func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// ServeHandler runs a /metrics endpoint at addr until ctx is canceled,
// the same bolted-on background goroutine shape as the teacher's
// metrics HTTP server in cmd/warren.
func ServeHandler(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Logger.Warn().Err(err).Str("addr", addr).Msg("metrics server exited")
	}
}
