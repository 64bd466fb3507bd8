package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/robonav-server/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters/gauges.
var (
	SessionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_accepted_total",
		Help: "Total TCP connections accepted.",
	})
	SessionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_rejected_total",
		Help: "Total connections rejected (rate limit or max-sessions cap).",
	})
	SessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_completed_total",
		Help: "Total sessions that reached LOGOUT successfully.",
	})
	SessionsAborted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessions_aborted_total",
		Help: "Total sessions that ended abnormally, by reason.",
	}, []string{"reason"})
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_failures_total",
		Help: "Total sessions ended by a wire-coded protocol error (authentication or later phases), by wire code.",
	}, []string{"code"})
	CollisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collisions_total",
		Help: "Total obstacle collisions observed across all sessions.",
	})
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_sessions",
		Help: "Current number of in-flight sessions.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Reason label constants for SessionsAborted (stable values to bound
// cardinality).
const (
	ReasonCollisionFatal = "collision_fatal"
	ReasonTransport      = "transport"
	ReasonPanic          = "panic"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters, cheap to snapshot for periodic logging without
// scraping Prometheus in-process.
var (
	localAccepted   uint64
	localRejected   uint64
	localCompleted  uint64
	localAborted    uint64
	localAuthFail   uint64
	localCollisions uint64
	localActive     uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Accepted   uint64
	Rejected   uint64
	Completed  uint64
	Aborted    uint64
	AuthFail   uint64
	Collisions uint64
	Active     uint64
}

func Snap() Snapshot {
	return Snapshot{
		Accepted:   atomic.LoadUint64(&localAccepted),
		Rejected:   atomic.LoadUint64(&localRejected),
		Completed:  atomic.LoadUint64(&localCompleted),
		Aborted:    atomic.LoadUint64(&localAborted),
		AuthFail:   atomic.LoadUint64(&localAuthFail),
		Collisions: atomic.LoadUint64(&localCollisions),
		Active:     atomic.LoadUint64(&localActive),
	}
}

func IncAccepted() {
	SessionsAccepted.Inc()
	atomic.AddUint64(&localAccepted, 1)
}

func IncRejected() {
	SessionsRejected.Inc()
	atomic.AddUint64(&localRejected, 1)
}

func IncCompleted() {
	SessionsCompleted.Inc()
	atomic.AddUint64(&localCompleted, 1)
}

func IncAborted(reason string) {
	SessionsAborted.WithLabelValues(reason).Inc()
	atomic.AddUint64(&localAborted, 1)
}

func IncAuthFailure(code string) {
	AuthFailures.WithLabelValues(code).Inc()
	atomic.AddUint64(&localAuthFail, 1)
}

func AddCollisions(n int) {
	if n <= 0 {
		return
	}
	CollisionsTotal.Add(float64(n))
	atomic.AddUint64(&localCollisions, uint64(n))
}

func SetActiveSessions(n int) {
	ActiveSessions.Set(float64(n))
	atomic.StoreUint64(&localActive, uint64(n))
}

// InitBuildInfo sets the build info gauge and pre-registers the stable
// auth-failure/abort-reason label series so the first real event doesn't
// pay a registration latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, code := range []string{"301 SYNTAX ERROR", "302 LOGIC ERROR", "303 KEY OUT OF RANGE", "300 LOGIN FAILED"} {
		AuthFailures.WithLabelValues(code).Add(0)
	}
	for _, reason := range []string{ReasonCollisionFatal, ReasonTransport, ReasonPanic} {
		SessionsAborted.WithLabelValues(reason).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
