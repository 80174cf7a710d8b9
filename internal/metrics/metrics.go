package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the decision system.
type Metrics struct {
	// Bar pipeline
	CandlesTotal    prometheus.Counter
	CandlesRejected prometheus.Counter
	CandlesStale    prometheus.Counter

	// Decision engine
	TrendVerdicts       *prometheus.CounterVec // labels: verdict
	ProposalsBuilt      prometheus.Counter
	ProposalsSuppressed prometheus.Counter
	ProposalsSubmitted  prometheus.Counter
	ProposalsFailed     prometheus.Counter

	// Order approval engine
	OrdersDetected   prometheus.Counter
	OrdersApproved   prometheus.Counter
	OrdersCancelled  prometheus.Counter
	OrdersExpired    prometheus.Counter
	OrdersHeld       prometheus.Counter
	PendingOrders    prometheus.Gauge
	ActiveOrders     prometheus.Gauge
	DecisionCycleDur prometheus.Histogram
	Classifications  *prometheus.CounterVec // labels: class

	// Collaborator calls
	CollaboratorCallDur *prometheus.HistogramVec // labels: op
	CollaboratorErrors  *prometheus.CounterVec   // labels: op

	// Bridge + journal
	BridgeReconnects  prometheus.Counter
	BridgeRingDropped prometheus.Gauge // ring overflow counter snapshot
	JournalWriteDur   prometheus.Histogram
	RedisBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBreakerTrips prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sds_candles_total",
			Help: "Total bars accepted into history",
		}),
		CandlesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sds_candles_rejected_total",
			Help: "Bars rejected for violating OHLC invariants",
		}),
		CandlesStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sds_candles_stale_total",
			Help: "Bars ignored as duplicate periods (non-advancing timestamp)",
		}),

		TrendVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sds_trend_verdicts_total",
			Help: "Trend confirmations by verdict",
		}, []string{"verdict"}),
		ProposalsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sds_proposals_built_total",
			Help: "Trade proposals passing their invariants",
		}),
		ProposalsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sds_proposals_suppressed_total",
			Help: "Proposals suppressed as duplicates",
		}),
		ProposalsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sds_proposals_submitted_total",
			Help: "Proposals accepted by the gateway",
		}),
		ProposalsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sds_proposals_failed_total",
			Help: "Proposal submissions failed or rejected",
		}),

		OrdersDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sds_user_orders_detected_total",
			Help: "User orders discovered by the scan driver",
		}),
		OrdersApproved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sds_user_orders_approved_total",
			Help: "Pending user orders approved for execution",
		}),
		OrdersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sds_user_orders_cancelled_total",
			Help: "Pending user orders cancelled",
		}),
		OrdersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sds_user_orders_expired_total",
			Help: "Pending user orders removed by the expiry sweep",
		}),
		OrdersHeld: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sds_user_orders_held_total",
			Help: "Pending user orders kept for the next decision cycle",
		}),
		PendingOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sds_pending_orders",
			Help: "User orders currently awaiting a decision",
		}),
		ActiveOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sds_active_orders",
			Help: "Approved orders tracked as active",
		}),
		DecisionCycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sds_decision_cycle_duration_seconds",
			Help:    "Fixed-second decision cycle latency",
			Buckets: prometheus.DefBuckets,
		}),
		Classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sds_trend_classifications_total",
			Help: "Short-horizon trend classifications by class",
		}, []string{"class"}),

		CollaboratorCallDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sds_collaborator_call_duration_seconds",
			Help:    "Gateway call latency by operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		CollaboratorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sds_collaborator_errors_total",
			Help: "Gateway call failures by operation",
		}, []string{"op"}),

		BridgeReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sds_bridge_reconnects_total",
			Help: "MT5 websocket reconnection attempts",
		}),
		BridgeRingDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sds_bridge_dropped_bars",
			Help: "Total bars dropped because the bridge ring buffer was full",
		}),
		JournalWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sds_journal_write_duration_seconds",
			Help:    "Decision journal write latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sds_redis_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sds_redis_breaker_trips_total",
			Help: "Redis circuit breaker open transitions",
		}),
	}

	prometheus.MustRegister(
		m.CandlesTotal,
		m.CandlesRejected,
		m.CandlesStale,
		m.TrendVerdicts,
		m.ProposalsBuilt,
		m.ProposalsSuppressed,
		m.ProposalsSubmitted,
		m.ProposalsFailed,
		m.OrdersDetected,
		m.OrdersApproved,
		m.OrdersCancelled,
		m.OrdersExpired,
		m.OrdersHeld,
		m.PendingOrders,
		m.ActiveOrders,
		m.DecisionCycleDur,
		m.Classifications,
		m.CollaboratorCallDur,
		m.CollaboratorErrors,
		m.BridgeReconnects,
		m.BridgeRingDropped,
		m.JournalWriteDur,
		m.RedisBreakerState,
		m.RedisBreakerTrips,
	)

	return m
}

// HealthStatus represents the daemon health, served alongside /metrics.
type HealthStatus struct {
	mu sync.RWMutex

	BridgeConnected bool      `json:"bridge_connected"`
	LastCandleTime  time.Time `json:"last_candle_time"`
	PendingOrders   int       `json:"pending_orders"`
	ActiveOrders    int       `json:"active_orders"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetBridgeConnected(v bool) {
	h.mu.Lock()
	h.BridgeConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.LastCandleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetOrderCounts(pending, active int) {
	h.mu.Lock()
	h.PendingOrders = pending
	h.ActiveOrders = active
	h.mu.Unlock()
}

// Healthy reports whether the bridge is connected.
func (h *HealthStatus) Healthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.BridgeConnected
}

// JSON returns the serialized status (ignoring errors for handler usage).
func (h *HealthStatus) JSON() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, _ := json.Marshal(struct {
		BridgeConnected bool      `json:"bridge_connected"`
		LastCandleTime  time.Time `json:"last_candle_time"`
		PendingOrders   int       `json:"pending_orders"`
		ActiveOrders    int       `json:"active_orders"`
		StartedAt       time.Time `json:"started_at"`
	}{h.BridgeConnected, h.LastCandleTime, h.PendingOrders, h.ActiveOrders, h.StartedAt})
	return b
}

// Serve starts the metrics/health HTTP listener. Blocks until ctx is
// cancelled.
func Serve(ctx context.Context, addr string, health *HealthStatus) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !health.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = w.Write(health.JSON())
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[metrics] serving on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("[metrics] listener error: %v", err)
	}
}
