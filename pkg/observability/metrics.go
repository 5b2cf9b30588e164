package observability

import (
	"errors"
	"time"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the Lattice collectors.
type Metrics struct {
	SessionsCreated prometheus.Counter
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CachePassivated *prometheus.CounterVec
	CacheResident   prometheus.Gauge
	CommitConflicts prometheus.Counter
	Sweeps          *prometheus.CounterVec
	SweepDuration   prometheus.Histogram
	Scavenged       *prometheus.CounterVec
	StoreOpDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lattice_sessions_created_total",
			Help: "Total number of sessions created on this node",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lattice_cache_hits_total",
			Help: "Acquires served from the in-memory cache",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lattice_cache_misses_total",
			Help: "Acquires that had to load from the store",
		}),
		CachePassivated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lattice_cache_passivated_total",
			Help: "Entries removed from memory while kept in the store",
		}, []string{"reason"}),
		CacheResident: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lattice_cache_resident_sessions",
			Help: "Sessions currently resident in memory",
		}),
		CommitConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lattice_commit_conflicts_total",
			Help: "Commits rejected with a stale version",
		}),
		Sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lattice_scavenger_sweeps_total",
			Help: "Scavenger sweeps by result",
		}, []string{"result"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lattice_scavenger_sweep_duration_seconds",
			Help:    "Duration of scavenger sweeps",
			Buckets: prometheus.DefBuckets,
		}),
		Scavenged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lattice_scavenger_records_total",
			Help: "Records handled by the scavenger by action",
		}, []string{"action"}),
		StoreOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lattice_store_operation_duration_seconds",
			Help:    "Store operation latency by operation and outcome",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SessionsCreated, m.CacheHits, m.CacheMisses, m.CachePassivated,
			m.CacheResident, m.CommitConflicts, m.Sweeps, m.SweepDuration,
			m.Scavenged, m.StoreOpDuration,
		)
	}
	return m
}

// SessionCreated counts a new session.
func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
		return
	}
	m.CacheMisses.Inc()
}

// Passivated counts entries evicted for reason ("capacity", "expired", "explicit").
func (m *Metrics) Passivated(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.CachePassivated.WithLabelValues(reason).Add(float64(n))
}

// Resident reports the current cache size.
func (m *Metrics) Resident(n int) {
	if m == nil {
		return
	}
	m.CacheResident.Set(float64(n))
}

// Conflict counts a stale commit.
func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.CommitConflicts.Inc()
}

// SweepDone records a finished sweep.
func (m *Metrics) SweepDone(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "aborted"
	}
	m.Sweeps.WithLabelValues(result).Inc()
	m.SweepDuration.Observe(d.Seconds())
}

// Scavenge counts records handled during a sweep ("expired", "orphan_deleted",
// "reclaimed", "benign", "in_use").
func (m *Metrics) Scavenge(action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Scavenged.WithLabelValues(action).Add(float64(n))
}

// StoreOp records the latency of a store call.
func (m *Metrics) StoreOp(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.StoreOpDuration.WithLabelValues(op, Outcome(err)).Observe(d.Seconds())
}

// Outcome classifies a store error into a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrStaleVersion):
		return "stale"
	case errors.Is(err, domain.ErrAlreadyExists):
		return "exists"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "unavailable"
	}
	return "error"
}
