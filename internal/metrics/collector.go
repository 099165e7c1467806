// Package metrics counts everything the engine does: events detected per
// source, errors per source, publish totals and failures. Counters are
// atomics so the hot paths never contend on a lock. The snapshot is served
// as JSON by the TCP endpoint and mirrored into a private Prometheus
// registry for the ops server.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/freightdoom/engine/internal/models"
)

// Snapshot is the JSON document served by the metrics endpoint.
type Snapshot struct {
	TotalEventsDetected     uint64  `json:"total_events_detected"`
	TotalEventsPublished    uint64  `json:"total_events_published"`
	TotalEventsDeduplicated uint64  `json:"total_events_deduplicated"`
	PacerEvents             uint64  `json:"pacer_events"`
	EdgarEvents             uint64  `json:"edgar_events"`
	FmcsaEvents             uint64  `json:"fmcsa_events"`
	CourtListenerEvents     uint64  `json:"court_listener_events"`
	PacerErrors             uint64  `json:"pacer_errors"`
	EdgarErrors             uint64  `json:"edgar_errors"`
	FmcsaErrors             uint64  `json:"fmcsa_errors"`
	CourtListenerErrors     uint64  `json:"court_listener_errors"`
	UptimeSeconds           uint64  `json:"uptime_seconds"`
	EventsPerMinute         float64 `json:"events_per_minute"`
	CircuitBreakerTrips     uint64  `json:"circuit_breaker_trips"`
	BloomFilterRotations    uint64  `json:"bloom_filter_rotations"`
	RedisPublishFailures    uint64  `json:"redis_publish_failures"`
	Status                  string  `json:"status"`
}

// sourceStats is the per-scanner slice of the collector.
type sourceStats struct {
	events   atomic.Uint64
	errors   atomic.Uint64
	running  atomic.Bool
	lastPoll atomic.Int64 // unix seconds, 0 means never polled
}

// Collector aggregates counters from every component. Trip and rotation
// counts live with their owners (breaker manager, dedup engine); the
// collector reads them through injected sources at snapshot time.
type Collector struct {
	startTime time.Time

	totalDetected     atomic.Uint64
	totalPublished    atomic.Uint64
	totalDeduplicated atomic.Uint64
	publishFailures   atomic.Uint64

	pacer         sourceStats
	edgar         sourceStats
	fmcsa         sourceStats
	courtListener sourceStats

	tripSource     func() uint64
	rotationSource func() uint64

	prom *PromMetrics // optional mirror, nil in tests
}

// NewCollector creates a collector. prom may be nil; when set, every
// increment is mirrored into the Prometheus registry.
func NewCollector(prom *PromMetrics) *Collector {
	return &Collector{
		startTime: time.Now(),
		prom:      prom,
	}
}

// SetTripSource wires the live circuit breaker trip total into snapshots.
// Call before the first snapshot is served.
func (c *Collector) SetTripSource(fn func() uint64) {
	c.tripSource = fn
}

// SetRotationSource wires the live bloom rotation count into snapshots.
// Call before the first snapshot is served.
func (c *Collector) SetRotationSource(fn func() uint64) {
	c.rotationSource = fn
}

func (c *Collector) bySource(src models.Source) *sourceStats {
	switch src {
	case models.SourcePacer:
		return &c.pacer
	case models.SourceEdgar:
		return &c.edgar
	case models.SourceFmcsa:
		return &c.fmcsa
	case models.SourceCourtListener:
		return &c.courtListener
	default:
		return nil
	}
}

// IncrementDetected counts an event accepted onto the bus.
func (c *Collector) IncrementDetected(src models.Source, confidence float64) {
	c.totalDetected.Add(1)
	if s := c.bySource(src); s != nil {
		s.events.Add(1)
	}
	if c.prom != nil {
		c.prom.EventsDetected.WithLabelValues(src.MetricsKey()).Inc()
		c.prom.EventConfidence.Observe(confidence)
	}
}

// IncrementPublished counts one event delivered to the broker.
func (c *Collector) IncrementPublished() {
	c.totalPublished.Add(1)
	if c.prom != nil {
		c.prom.EventsPublished.Inc()
	}
}

// IncrementDeduplicated counts a suppressed duplicate.
func (c *Collector) IncrementDeduplicated() {
	c.totalDeduplicated.Add(1)
	if c.prom != nil {
		c.prom.EventsDeduplicated.Inc()
	}
}

// IncrementScannerError counts a breaker-relevant poll failure.
func (c *Collector) IncrementScannerError(src models.Source) {
	if s := c.bySource(src); s != nil {
		s.errors.Add(1)
	}
	if c.prom != nil {
		c.prom.ScannerErrors.WithLabelValues(src.MetricsKey()).Inc()
	}
}

// IncrementRedisFailures counts one event that failed to publish.
func (c *Collector) IncrementRedisFailures() {
	c.publishFailures.Add(1)
	if c.prom != nil {
		c.prom.PublishFailures.Inc()
	}
}

// SetRunning marks a scanner as started or stopped.
func (c *Collector) SetRunning(src models.Source, running bool) {
	if s := c.bySource(src); s != nil {
		s.running.Store(running)
	}
}

// StampPoll records the completion time of a sweep.
func (c *Collector) StampPoll(src models.Source) {
	if s := c.bySource(src); s != nil {
		s.lastPoll.Store(time.Now().Unix())
	}
}

// Health assembles the per-scanner health report. The breaker state is
// owned by the poller's breaker and passed in by the caller.
func (c *Collector) Health(src models.Source, breakerState string) models.ScannerHealth {
	health := models.ScannerHealth{
		Source:              src,
		CircuitBreakerState: breakerState,
	}
	s := c.bySource(src)
	if s == nil {
		return health
	}
	health.IsRunning = s.running.Load()
	health.EventsFound = s.events.Load()
	health.Errors = s.errors.Load()
	if unix := s.lastPoll.Load(); unix > 0 {
		t := time.Unix(unix, 0).UTC()
		health.LastPoll = &t
	}
	return health
}

// Snapshot reads every counter. Lock-free; values from different counters
// may be skewed by in-flight increments, which is fine for monitoring.
func (c *Collector) Snapshot() Snapshot {
	uptime := uint64(time.Since(c.startTime).Seconds())
	detected := c.totalDetected.Load()

	perMinute := 0.0
	if uptime > 0 {
		perMinute = float64(detected) / float64(uptime) * 60.0
	}

	var trips, rotations uint64
	if c.tripSource != nil {
		trips = c.tripSource()
	}
	if c.rotationSource != nil {
		rotations = c.rotationSource()
	}

	return Snapshot{
		TotalEventsDetected:     detected,
		TotalEventsPublished:    c.totalPublished.Load(),
		TotalEventsDeduplicated: c.totalDeduplicated.Load(),
		PacerEvents:             c.pacer.events.Load(),
		EdgarEvents:             c.edgar.events.Load(),
		FmcsaEvents:             c.fmcsa.events.Load(),
		CourtListenerEvents:     c.courtListener.events.Load(),
		PacerErrors:             c.pacer.errors.Load(),
		EdgarErrors:             c.edgar.errors.Load(),
		FmcsaErrors:             c.fmcsa.errors.Load(),
		CourtListenerErrors:     c.courtListener.errors.Load(),
		UptimeSeconds:           uptime,
		EventsPerMinute:         perMinute,
		CircuitBreakerTrips:     trips,
		BloomFilterRotations:    rotations,
		RedisPublishFailures:    c.publishFailures.Load(),
		Status:                  "operational",
	}
}
