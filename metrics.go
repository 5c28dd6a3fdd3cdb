package callcap

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the per-buffer processing latency histogram
// buckets in nanoseconds, covering from 1us to 10s with logarithmic
// spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks per-stage throughput and protocol-health statistics for
// a Session's capture loop.
type Metrics struct {
	// Buffer-level counters.
	BuffersDrained  atomic.Uint64 // full buffers consumed from the ring
	PayloadBytes    atomic.Uint64 // total payload bytes read across all buffers
	EndMarkersSeen  atomic.Uint64 // zero-length buffers observed
	ProtocolErrors  atomic.Uint64 // parser errors (unknown id, misaligned state)

	// Parser-level counters.
	RecordsParsed atomic.Uint64 // argument-capture records completed; trace-calls reports none
	PacketsDumped atomic.Uint64 // packets committed to the dumper

	// Performance tracking, analogous to a per-buffer processing latency.
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Latency histogram buckets (cumulative counts); bucket[i] holds the
	// count of buffers processed in <= LatencyBuckets[i] nanoseconds.
	LatencyHistBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64 // UnixNano
}

// NewMetrics creates a new, running Metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordBuffer records one drained ring buffer: its payload size (0 for
// an end marker) and the time spent processing it.
func (m *Metrics) RecordBuffer(payloadBytes uint64, latencyNs uint64) {
	m.BuffersDrained.Add(1)
	m.PayloadBytes.Add(payloadBytes)
	if payloadBytes == 0 {
		m.EndMarkersSeen.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordProtocolError increments the protocol-error counter.
func (m *Metrics) RecordProtocolError() {
	m.ProtocolErrors.Add(1)
}

// RecordRecord increments the records-parsed counter (one completed
// argument-capture record; the trace-calls stage does not call it).
func (m *Metrics) RecordRecord() {
	m.RecordsParsed.Add(1)
}

// RecordPacketDumped increments the packets-dumped counter.
func (m *Metrics) RecordPacketDumped() {
	m.PacketsDumped.Add(1)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyHistBuckets[i].Add(1)
		}
	}
}

// Stop marks the loop as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of a Metrics instance.
type MetricsSnapshot struct {
	BuffersDrained uint64
	PayloadBytes   uint64
	EndMarkersSeen uint64
	ProtocolErrors uint64
	RecordsParsed  uint64
	PacketsDumped  uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	ThroughputBufPerSec   float64
	ThroughputBytesPerSec float64
}

// Snapshot creates a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		BuffersDrained: m.BuffersDrained.Load(),
		PayloadBytes:   m.PayloadBytes.Load(),
		EndMarkersSeen: m.EndMarkersSeen.Load(),
		ProtocolErrors: m.ProtocolErrors.Load(),
		RecordsParsed:  m.RecordsParsed.Load(),
		PacketsDumped:  m.PacketsDumped.Load(),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.ThroughputBufPerSec = float64(snap.BuffersDrained) / uptimeSeconds
		snap.ThroughputBytesPerSec = float64(snap.PayloadBytes) / uptimeSeconds
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyHistBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyHistBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyHistBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters and restarts the uptime clock.
func (m *Metrics) Reset() {
	m.BuffersDrained.Store(0)
	m.PayloadBytes.Store(0)
	m.EndMarkersSeen.Store(0)
	m.ProtocolErrors.Store(0)
	m.RecordsParsed.Store(0)
	m.PacketsDumped.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyHistBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable collection of capture-loop events.
type Observer interface {
	ObserveBuffer(payloadBytes uint64, latencyNs uint64)
	ObserveProtocolError()
	ObserveRecord()
	ObservePacketDumped()
}

// NoOpObserver discards all events.
type NoOpObserver struct{}

func (NoOpObserver) ObserveBuffer(uint64, uint64) {}
func (NoOpObserver) ObserveProtocolError()        {}
func (NoOpObserver) ObserveRecord()               {}
func (NoOpObserver) ObservePacketDumped()         {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveBuffer(payloadBytes uint64, latencyNs uint64) {
	o.metrics.RecordBuffer(payloadBytes, latencyNs)
}

func (o *MetricsObserver) ObserveProtocolError() { o.metrics.RecordProtocolError() }
func (o *MetricsObserver) ObserveRecord()        { o.metrics.RecordRecord() }
func (o *MetricsObserver) ObservePacketDumped()  { o.metrics.RecordPacketDumped() }

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
