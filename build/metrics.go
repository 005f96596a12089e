package build

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects the counters and gauges refreshd exposes on its
// /metrics endpoint (SPEC_FULL.md §11). Metrics wiring itself is out of
// spec.md's scope (§1), so these are counted but never asserted on by any
// operation's semantics.
type Metrics struct {
	JobsProcessed  *prometheus.CounterVec
	WatchersActive prometheus.Gauge
	LockContention prometheus.Counter
	WalletWorkers  prometheus.Gauge
}

// NewMetrics registers a fresh set of collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "refreshd",
			Name:      "jobs_processed_total",
			Help:      "Jobs completed by the job handler, labeled by outcome.",
		}, []string{"outcome"}),
		WatchersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "refreshd",
			Name:      "watchers_active",
			Help:      "Watchers currently in the watching state.",
		}),
		LockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "refreshd",
			Name:      "lock_contention_total",
			Help:      "Wallet-lock acquisitions that failed because the lock was held elsewhere.",
		}),
		WalletWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "refreshd",
			Name:      "wallet_workers",
			Help:      "Wallet workers currently supervised by the orchestrator.",
		}),
	}
	reg.MustRegister(m.JobsProcessed, m.WatchersActive, m.LockContention, m.WalletWorkers)
	return m
}
