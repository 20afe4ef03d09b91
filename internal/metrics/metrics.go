package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is an in-process collector for the hot checkout and fan-out
// paths: counters, gauges, timers and health flags.
type Metrics struct {
	mu       sync.RWMutex
	counters map[string]*int64
	gauges   map[string]*int64
	timers   map[string]*timer
	health   map[string]*int64
	started  time.Time
}

type timer struct {
	count   int64
	totalMs int64
	minMs   int64
	maxMs   int64
}

// TimerSnapshot is the exported view of one timer
type TimerSnapshot struct {
	Count     int64   `json:"count"`
	TotalMs   int64   `json:"total_time_ms"`
	AverageMs float64 `json:"average_time_ms"`
	MinMs     int64   `json:"min_time_ms"`
	MaxMs     int64   `json:"max_time_ms"`
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		counters: make(map[string]*int64),
		gauges:   make(map[string]*int64),
		timers:   make(map[string]*timer),
		health:   make(map[string]*int64),
		started:  time.Now(),
	}
}

// IncrementCounter increments a counter by 1
func (m *Metrics) IncrementCounter(name string) {
	m.IncrementCounterBy(name, 1)
}

// IncrementCounterBy increments a counter by the specified value
func (m *Metrics) IncrementCounterBy(name string, value int64) {
	atomic.AddInt64(m.counter(&m.counters, name), value)
}

// SetGauge sets a gauge to a specific value
func (m *Metrics) SetGauge(name string, value int64) {
	atomic.StoreInt64(m.counter(&m.gauges, name), value)
}

// SetHealth records a component health flag
func (m *Metrics) SetHealth(name string, healthy bool) {
	var v int64
	if healthy {
		v = 1
	}
	atomic.StoreInt64(m.counter(&m.health, name), v)
}

// RecordTimer records a timing measurement
func (m *Metrics) RecordTimer(name string, d time.Duration) {
	ms := d.Milliseconds()

	m.mu.RLock()
	t, exists := m.timers[name]
	m.mu.RUnlock()
	if !exists {
		m.mu.Lock()
		if t, exists = m.timers[name]; !exists {
			t = &timer{minMs: math.MaxInt64}
			m.timers[name] = t
		}
		m.mu.Unlock()
	}

	atomic.AddInt64(&t.count, 1)
	atomic.AddInt64(&t.totalMs, ms)
	for {
		min := atomic.LoadInt64(&t.minMs)
		if ms >= min || atomic.CompareAndSwapInt64(&t.minMs, min, ms) {
			break
		}
	}
	for {
		max := atomic.LoadInt64(&t.maxMs)
		if ms <= max || atomic.CompareAndSwapInt64(&t.maxMs, max, ms) {
			break
		}
	}
}

// counter returns a stable pointer for name, creating it on first use
func (m *Metrics) counter(bucket *map[string]*int64, name string) *int64 {
	m.mu.RLock()
	c, exists := (*bucket)[name]
	m.mu.RUnlock()
	if exists {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, exists = (*bucket)[name]; exists {
		return c
	}
	var v int64
	(*bucket)[name] = &v
	return &v
}

// Snapshot exports every metric for the /metrics endpoint
func (m *Metrics) Snapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, c := range m.counters {
		counters[name] = atomic.LoadInt64(c)
	}
	gauges := make(map[string]int64, len(m.gauges))
	for name, g := range m.gauges {
		gauges[name] = atomic.LoadInt64(g)
	}
	timers := make(map[string]TimerSnapshot, len(m.timers))
	for name, t := range m.timers {
		count := atomic.LoadInt64(&t.count)
		total := atomic.LoadInt64(&t.totalMs)
		snap := TimerSnapshot{
			Count:   count,
			TotalMs: total,
			MinMs:   atomic.LoadInt64(&t.minMs),
			MaxMs:   atomic.LoadInt64(&t.maxMs),
		}
		if count > 0 {
			snap.AverageMs = float64(total) / float64(count)
		}
		timers[name] = snap
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.started).Seconds()),
		"counters":       counters,
		"gauges":         gauges,
		"timers":         timers,
	}
}

// HealthChecks exports the component health flags
func (m *Metrics) HealthChecks() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]bool, len(m.health))
	for name, v := range m.health {
		out[name] = atomic.LoadInt64(v) == 1
	}
	return out
}
