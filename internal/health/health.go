// Package health implements the connection-health monitor of spec §4.8:
// a concurrent counter of successes and classified errors over a rolling
// 5-minute window, exposing a rate-limited "pool is unhealthy" signal.
package health

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Sakurayuki-A/stardriver/internal/errclass"
)

const (
	windowDuration    = 5 * time.Minute
	unhealthyErrCount = 50
	resetCooldown     = 10 * time.Minute
)

type errObservation struct {
	at   time.Time
	kind errclass.Kind
}

// Monitor tracks request outcomes and exposes should-reset-pool guidance
// (spec §4.7, §4.8). Safe for concurrent use by many worker goroutines.
type Monitor struct {
	totalRequests *xsync.Counter
	totalErrors   *xsync.Counter

	mu       sync.Mutex
	window   []errObservation
	lastReset time.Time

	registry   *prometheus.Registry
	successCtr prometheus.Counter
	errorCtr   *prometheus.CounterVec
}

// New creates an empty Monitor with its own Prometheus registry (carried
// as ambient observability infrastructure per SPEC_FULL.md even though no
// HTTP /metrics route is in scope).
func New() *Monitor {
	reg := prometheus.NewRegistry()
	successCtr := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stardriver_requests_succeeded_total",
		Help: "Total successful file fetch attempts.",
	})
	errorCtr := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stardriver_requests_failed_total",
		Help: "Total failed file fetch attempts, by classified error kind.",
	}, []string{"kind"})
	reg.MustRegister(successCtr, errorCtr)

	return &Monitor{
		totalRequests: xsync.NewCounter(),
		totalErrors:   xsync.NewCounter(),
		registry:      reg,
		successCtr:    successCtr,
		errorCtr:      errorCtr,
	}
}

// Registry exposes the Prometheus registry backing this monitor's counters.
func (m *Monitor) Registry() *prometheus.Registry { return m.registry }

// RecordSuccess records a successful attempt.
func (m *Monitor) RecordSuccess() {
	m.totalRequests.Add(1)
	m.successCtr.Inc()
}

// RecordError records a classified failed attempt, enqueuing it into the
// rolling 5-minute window.
func (m *Monitor) RecordError(kind errclass.Kind) {
	m.totalRequests.Add(1)
	m.totalErrors.Add(1)
	m.errorCtr.WithLabelValues(kind.String()).Inc()

	m.mu.Lock()
	m.window = append(m.window, errObservation{at: time.Now(), kind: kind})
	m.mu.Unlock()
}

// expireLocked drops window entries older than windowDuration. Caller must hold m.mu.
func (m *Monitor) expireLocked(now time.Time) {
	cutoff := now.Add(-windowDuration)
	i := 0
	for i < len(m.window) && m.window[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.window = m.window[i:]
	}
}

// LiveErrorCount returns the number of errors observed within the last
// five minutes, lazily expiring stale entries.
func (m *Monitor) LiveErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(time.Now())
	return len(m.window)
}

// TotalRequests returns the lifetime count of recorded attempts.
func (m *Monitor) TotalRequests() int64 { return m.totalRequests.Value() }

// TotalErrors returns the lifetime count of recorded errors.
func (m *Monitor) TotalErrors() int64 { return m.totalErrors.Value() }

// ShouldResetPool reports whether the rolling window has accumulated at
// least unhealthyErrCount live errors, rate-limited to at most once per
// resetCooldown (spec §4.8). Calling it constitutes "observing" it: on a
// true result, the internal cooldown clock restarts immediately.
func (m *Monitor) ShouldResetPool() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.expireLocked(now)

	if len(m.window) < unhealthyErrCount {
		return false
	}
	if !m.lastReset.IsZero() && now.Sub(m.lastReset) < resetCooldown {
		return false
	}
	m.lastReset = now
	return true
}
