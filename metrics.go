package goRecover

import (
	"sync/atomic"
	"time"
)

// MetricID names one engine counter or histogram.
type MetricID uint16

const (
	MetricOTPRequest MetricID = iota
	MetricOTPDispatchFailure
	MetricOTPVerifySuccess
	MetricOTPVerifyFailure
	MetricOTPAttemptsExceeded
	MetricPasswordCommitSuccess
	MetricPasswordCommitFailure
	MetricEmailVerificationRequest
	MetricEmailVerificationSuccess
	MetricEmailVerificationFailure
	MetricEmailVerificationAttemptsExceeded
	MetricRateLimitHit
	MetricAuthenticateSuccess
	MetricAuthenticateFailure
	// MetricDispatchLatency is the only histogram: time spent in the notifier.
	MetricDispatchLatency
	metricIDCount
)

const histBucketCount = 8

// slot pads one counter to a full 64-byte cache line.
type slot struct {
	n atomic.Uint64
	_ [56]byte
}

var latencyBounds = [histBucketCount - 1]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

// Metrics is a fixed set of lock-free counters plus the dispatch latency
// histogram. A nil or disabled Metrics records nothing.
type Metrics struct {
	on      bool
	latency bool
	slots   [metricIDCount]slot
	buckets [histBucketCount]slot
}

// MetricsSnapshot is a point-in-time copy of all values.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		on:      cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool        { return m != nil && m.on }
func (m *Metrics) LatencyEnabled() bool { return m != nil && m.latency }

func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= metricIDCount {
		return
	}
	m.slots[id].n.Add(1)
}

// Observe records d against MetricDispatchLatency. Other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricDispatchLatency {
		return
	}
	m.buckets[bucketIndex(d)].n.Add(1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.slots[id].n.Load()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return snap
	}
	for id := range metricIDCount {
		if id != MetricDispatchLatency {
			snap.Counters[id] = m.slots[id].n.Load()
		}
	}
	if m.latency {
		counts := make([]uint64, histBucketCount)
		for i := range counts {
			counts[i] = m.buckets[i].n.Load()
		}
		snap.Histograms[MetricDispatchLatency] = counts
	}
	return snap
}

// HistogramBounds returns the inclusive upper bound of every bucket but the
// last, which is unbounded.
func HistogramBounds() []time.Duration {
	return append([]time.Duration(nil), latencyBounds[:]...)
}

func bucketIndex(d time.Duration) int {
	for i, bound := range latencyBounds {
		if d <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
