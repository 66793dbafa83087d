package cafeauth

import (
	"sync/atomic"
	"time"
)

// MetricID indexes an engine counter or histogram.
type MetricID uint16

const (
	MetricSignupRequested MetricID = iota
	MetricSignupVerified
	MetricSignupConflict
	MetricLoginSuccess
	MetricLoginFailure
	MetricLoginOTPRequired
	MetricLoginTrustedDevice
	MetricOTPVerifyFailure
	MetricOTPAttemptsExceeded
	MetricLockoutTriggered
	MetricLockedRejection
	MetricPasswordResetRequest
	MetricPasswordResetComplete
	MetricDispatchFailure
	MetricAuthenticateSuccess
	MetricAuthenticateFailure
	// MetricAuthenticateLatency is the only histogram.
	MetricAuthenticateLatency
	metricIDCount
)

// LatencyBounds are the inclusive upper bounds of the histogram buckets. A
// final overflow bucket follows them.
var LatencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const latencyBuckets = len(LatencyBounds) + 1

// counter sits alone on a cache line so hot counters do not contend.
type counter struct {
	n atomic.Uint64
	_ [56]byte
}

type latency struct {
	buckets [latencyBuckets]atomic.Uint64
	sumNs   atomic.Int64
}

// Metrics is a fixed set of lock-free counters plus the authentication
// latency histogram. A nil or disabled Metrics ignores every call.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]counter
	auth     latency
}

// MetricsSnapshot is a point-in-time copy of every counter. Histogram
// buckets are non-cumulative and line up with LatencyBounds plus the
// overflow bucket. HistogramSums holds the total observed time.
type MetricsSnapshot struct {
	Counters      map[MetricID]uint64
	Histograms    map[MetricID][]uint64
	HistogramSums map[MetricID]time.Duration
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= MetricAuthenticateLatency {
		return
	}
	m.counters[id].n.Add(1)
}

// Observe records d against id. Only MetricAuthenticateLatency accepts
// observations.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.Enabled() || id != MetricAuthenticateLatency {
		return
	}
	m.auth.buckets[latencyBucket(d)].Add(1)
	m.auth.sumNs.Add(int64(d))
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricAuthenticateLatency {
		return 0
	}
	return m.counters[id].n.Load()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:      map[MetricID]uint64{},
		Histograms:    map[MetricID][]uint64{},
		HistogramSums: map[MetricID]time.Duration{},
	}
	if !m.Enabled() {
		return s
	}

	for id := MetricID(0); id < MetricAuthenticateLatency; id++ {
		s.Counters[id] = m.counters[id].n.Load()
	}
	buckets := make([]uint64, latencyBuckets)
	for i := range buckets {
		buckets[i] = m.auth.buckets[i].Load()
	}
	s.Histograms[MetricAuthenticateLatency] = buckets
	s.HistogramSums[MetricAuthenticateLatency] = time.Duration(m.auth.sumNs.Load())
	return s
}

func latencyBucket(d time.Duration) int {
	for i, bound := range LatencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(LatencyBounds)
}
