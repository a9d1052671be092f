package pipeline

import (
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"finrag/internal/index"
)

// Prometheus collectors, registered once on the default registry and
// shared by all pipeline instances.
var (
	promQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finrag_queries_total",
		Help: "Total queries processed, labeled by outcome.",
	}, []string{"outcome"})

	promQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "finrag_query_duration_seconds",
		Help:    "End-to-end query latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"cached"})

	promCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finrag_cache_hits_total",
		Help: "Answer cache hits.",
	})
)

// metrics accumulates the counters exposed by the JSON metrics
// endpoint. The Prometheus collectors are updated alongside.
type metrics struct {
	mu sync.Mutex

	totalQueries         uint64
	cacheHits            uint64
	uncachedQueries      uint64
	totalLatencyE2E      time.Duration
	totalLatencyUncached time.Duration
}

func (m *metrics) record(latency time.Duration, fromCache bool, outcome string) {
	promQueriesTotal.WithLabelValues(outcome).Inc()
	cached := "false"
	if fromCache {
		cached = "true"
		promCacheHits.Inc()
	}
	promQueryDuration.WithLabelValues(cached).Observe(latency.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalQueries++
	m.totalLatencyE2E += latency
	if fromCache {
		m.cacheHits++
	} else {
		m.uncachedQueries++
		m.totalLatencyUncached += latency
	}
}

// Snapshot is the JSON metrics report.
type Snapshot struct {
	TotalQueries         uint64      `json:"total_queries"`
	CacheHits            uint64      `json:"cache_hits"`
	CacheHitRate         float64     `json:"cache_hit_rate"`
	AvgLatencyMS         float64     `json:"avg_latency_ms"`
	AvgLatencyUncachedMS float64     `json:"avg_latency_uncached_ms"`
	CacheSize            int         `json:"cache_size"`
	IndexStats           index.Stats `json:"index_stats"`
}

func (m *metrics) snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		TotalQueries: m.totalQueries,
		CacheHits:    m.cacheHits,
	}
	if m.totalQueries > 0 {
		s.CacheHitRate = round3(float64(m.cacheHits) / float64(m.totalQueries))
		s.AvgLatencyMS = round2(float64(m.totalLatencyE2E.Milliseconds()) / float64(m.totalQueries))
	}
	if m.uncachedQueries > 0 {
		s.AvgLatencyUncachedMS = round2(float64(m.totalLatencyUncached.Milliseconds()) / float64(m.uncachedQueries))
	}
	return s
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
