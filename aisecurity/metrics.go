package aisecurity

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ClientMetrics tracks request counters and latency for one client. All
// methods are safe for concurrent use.
type ClientMetrics struct {
	requestsTotal int64
	errorsTotal   int64
	retriesTotal  int64
	cacheHits     int64
	cacheMisses   int64

	durationTotal int64 // nanoseconds
	requestCount  int64

	latencies *LatencyHistogram
}

// NewClientMetrics creates an empty metrics collector.
func NewClientMetrics() *ClientMetrics {
	return &ClientMetrics{
		latencies: NewLatencyHistogram(),
	}
}

// RecordRequest records one API call and its outcome.
func (m *ClientMetrics) RecordRequest(duration time.Duration, err error) {
	atomic.AddInt64(&m.requestsTotal, 1)
	atomic.AddInt64(&m.durationTotal, int64(duration))
	atomic.AddInt64(&m.requestCount, 1)
	if err != nil {
		atomic.AddInt64(&m.errorsTotal, 1)
	}
	m.latencies.Record(duration)
}

// RecordRetry records one transport-level retry attempt.
func (m *ClientMetrics) RecordRetry() {
	atomic.AddInt64(&m.retriesTotal, 1)
}

// RecordCacheHit records a verdict served from cache.
func (m *ClientMetrics) RecordCacheHit() {
	atomic.AddInt64(&m.cacheHits, 1)
}

// RecordCacheMiss records a verdict that had to go to the service.
func (m *ClientMetrics) RecordCacheMiss() {
	atomic.AddInt64(&m.cacheMisses, 1)
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *ClientMetrics) Snapshot() MetricsSnapshot {
	count := atomic.LoadInt64(&m.requestCount)

	var avgLatency time.Duration
	if count > 0 {
		avgLatency = time.Duration(atomic.LoadInt64(&m.durationTotal) / count)
	}

	return MetricsSnapshot{
		RequestsTotal: atomic.LoadInt64(&m.requestsTotal),
		ErrorsTotal:   atomic.LoadInt64(&m.errorsTotal),
		RetriesTotal:  atomic.LoadInt64(&m.retriesTotal),
		CacheHits:     atomic.LoadInt64(&m.cacheHits),
		CacheMisses:   atomic.LoadInt64(&m.cacheMisses),
		AvgLatency:    avgLatency,
		LatencyP50:    m.latencies.Percentile(0.5),
		LatencyP95:    m.latencies.Percentile(0.95),
		LatencyP99:    m.latencies.Percentile(0.99),
	}
}

// Reset zeroes all counters and samples.
func (m *ClientMetrics) Reset() {
	atomic.StoreInt64(&m.requestsTotal, 0)
	atomic.StoreInt64(&m.errorsTotal, 0)
	atomic.StoreInt64(&m.retriesTotal, 0)
	atomic.StoreInt64(&m.cacheHits, 0)
	atomic.StoreInt64(&m.cacheMisses, 0)
	atomic.StoreInt64(&m.durationTotal, 0)
	atomic.StoreInt64(&m.requestCount, 0)
	m.latencies.Reset()
}

// MetricsSnapshot is a point-in-time view of client activity.
type MetricsSnapshot struct {
	RequestsTotal int64         `json:"requests_total"`
	ErrorsTotal   int64         `json:"errors_total"`
	RetriesTotal  int64         `json:"retries_total"`
	CacheHits     int64         `json:"cache_hits"`
	CacheMisses   int64         `json:"cache_misses"`
	AvgLatency    time.Duration `json:"avg_latency"`
	LatencyP50    time.Duration `json:"latency_p50"`
	LatencyP95    time.Duration `json:"latency_p95"`
	LatencyP99    time.Duration `json:"latency_p99"`
}

// LatencyHistogram provides simple percentile calculations over a bounded
// sample window.
type LatencyHistogram struct {
	samples []time.Duration
	maxSize int
	mu      sync.Mutex
}

// NewLatencyHistogram creates a new latency histogram.
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		samples: make([]time.Duration, 0, 1000),
		maxSize: 10000,
	}
}

// Record adds a latency sample, discarding the oldest half once full.
func (h *LatencyHistogram) Record(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[len(h.samples)/2:]
	}
	h.samples = append(h.samples, d)
}

// Percentile calculates the given percentile, 0 when no samples exist.
func (h *LatencyHistogram) Percentile(p float64) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(h.samples))
	copy(sorted, h.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

// Reset discards all samples.
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = h.samples[:0]
}
