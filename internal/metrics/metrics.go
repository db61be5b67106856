// Package metrics exposes the engine's prometheus collectors. Served by the
// HTTP API under /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "summit_progress_cache_hits_total",
		Help: "Progress cache lookups answered from cache.",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "summit_progress_cache_misses_total",
		Help: "Progress cache lookups that required recomputation.",
	})

	Recalculations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "summit_progress_recalculations_total",
		Help: "Hierarchical recalculations by entry level.",
	}, []string{"level"})

	RecalcDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "summit_progress_recalculation_seconds",
		Help:    "Duration of hierarchical recalculations.",
		Buckets: prometheus.DefBuckets,
	})

	HookFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "summit_progress_hook_failures_total",
		Help: "Auto-update hook invocations that failed and were suppressed.",
	})

	RepairsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "summit_integrity_repairs_total",
		Help: "Persisted progress values corrected by integrity repair.",
	})
)
