package aisecurity

import (
	"errors"
	"testing"
	"time"
)

func TestClientMetrics(t *testing.T) {
	m := NewClientMetrics()

	m.RecordRequest(100*time.Millisecond, nil)
	m.RecordRequest(300*time.Millisecond, errors.New("boom"))
	m.RecordRetry()
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordCacheMiss()

	s := m.Snapshot()
	if s.RequestsTotal != 2 {
		t.Errorf("Expected 2 requests, got %d", s.RequestsTotal)
	}
	if s.ErrorsTotal != 1 {
		t.Errorf("Expected 1 error, got %d", s.ErrorsTotal)
	}
	if s.RetriesTotal != 1 {
		t.Errorf("Expected 1 retry, got %d", s.RetriesTotal)
	}
	if s.CacheHits != 1 || s.CacheMisses != 2 {
		t.Errorf("Expected 1 hit / 2 misses, got %d/%d", s.CacheHits, s.CacheMisses)
	}
	if s.AvgLatency != 200*time.Millisecond {
		t.Errorf("Expected 200ms average latency, got %v", s.AvgLatency)
	}

	m.Reset()
	s = m.Snapshot()
	if s.RequestsTotal != 0 || s.AvgLatency != 0 || s.LatencyP99 != 0 {
		t.Errorf("Expected zeroed snapshot after reset, got %+v", s)
	}
}

func TestLatencyHistogramPercentile(t *testing.T) {
	h := NewLatencyHistogram()
	if h.Percentile(0.99) != 0 {
		t.Error("Expected 0 percentile with no samples")
	}

	for i := 1; i <= 100; i++ {
		h.Record(time.Duration(i) * time.Millisecond)
	}
	if p50 := h.Percentile(0.5); p50 < 45*time.Millisecond || p50 > 55*time.Millisecond {
		t.Errorf("Expected p50 near 50ms, got %v", p50)
	}
	if p99 := h.Percentile(0.99); p99 < 95*time.Millisecond {
		t.Errorf("Expected p99 near the top, got %v", p99)
	}
	if h.Percentile(1.0) != 100*time.Millisecond {
		t.Errorf("Expected max sample at p100, got %v", h.Percentile(1.0))
	}
}

func TestLatencyHistogramBounded(t *testing.T) {
	h := NewLatencyHistogram()
	h.maxSize = 10

	for i := 0; i < 25; i++ {
		h.Record(time.Duration(i) * time.Millisecond)
	}
	h.mu.Lock()
	n := len(h.samples)
	h.mu.Unlock()
	if n > 10 {
		t.Errorf("Expected sample window bounded at 10, got %d", n)
	}
}
