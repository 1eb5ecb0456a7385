package services

import (
	"sync"
	"sync/atomic"
	"time"
)

type Metrics struct {
	totalDispatches  atomic.Int64
	totalCompleted   atomic.Int64
	totalErrors      atomic.Int64
	totalRetries     atomic.Int64
	totalCacheHits   atomic.Int64
	totalStale       atomic.Int64
	totalAlerts      atomic.Int64
	totalLatency     atomic.Int64
	lastCompleteTime atomic.Int64

	wsConnections atomic.Int64
	wsMessages    atomic.Int64
	wsErrors      atomic.Int64
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

func NewMetrics() *Metrics {
	return &Metrics{}
}

func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = NewMetrics()
	})
	return metricsInstance
}

func (m *Metrics) IncrementDispatches() {
	m.totalDispatches.Add(1)
}

func (m *Metrics) IncrementRetries() {
	m.totalRetries.Add(1)
}

func (m *Metrics) IncrementCompleted() {
	m.totalCompleted.Add(1)
	m.lastCompleteTime.Store(time.Now().Unix())
}

func (m *Metrics) IncrementErrors() {
	m.totalErrors.Add(1)
}

func (m *Metrics) IncrementCacheHits() {
	m.totalCacheHits.Add(1)
}

// IncrementStale counts completions dropped because their session was reset.
func (m *Metrics) IncrementStale() {
	m.totalStale.Add(1)
}

func (m *Metrics) IncrementAlerts() {
	m.totalAlerts.Add(1)
}

func (m *Metrics) RecordLatency(duration time.Duration) {
	m.totalLatency.Add(duration.Milliseconds())
}

func (m *Metrics) GetTotalDispatches() int64 {
	return m.totalDispatches.Load()
}

func (m *Metrics) GetTotalCompleted() int64 {
	return m.totalCompleted.Load()
}

func (m *Metrics) GetTotalErrors() int64 {
	return m.totalErrors.Load()
}

func (m *Metrics) GetTotalRetries() int64 {
	return m.totalRetries.Load()
}

func (m *Metrics) GetCacheHits() int64 {
	return m.totalCacheHits.Load()
}

func (m *Metrics) GetStale() int64 {
	return m.totalStale.Load()
}

func (m *Metrics) GetTotalAlerts() int64 {
	return m.totalAlerts.Load()
}

// GetAvgLatency returns the mean request latency in milliseconds over all
// finished requests, successful or not.
func (m *Metrics) GetAvgLatency() float64 {
	finished := m.totalCompleted.Load() + m.totalErrors.Load()
	if finished == 0 {
		return 0
	}
	return float64(m.totalLatency.Load()) / float64(finished)
}

func (m *Metrics) GetLastCompleteTime() int64 {
	return m.lastCompleteTime.Load()
}

func (m *Metrics) IncrementWebSocketConnections() {
	m.wsConnections.Add(1)
}

// DecrementWebSocketConnections decrements WebSocket connection count
func (m *Metrics) DecrementWebSocketConnections() {
	m.wsConnections.Add(-1)
}

// GetWebSocketConnections returns current WebSocket connections
func (m *Metrics) GetWebSocketConnections() int64 {
	return m.wsConnections.Load()
}

// IncrementWebSocketMessages increments WebSocket message count
func (m *Metrics) IncrementWebSocketMessages() {
	m.wsMessages.Add(1)
}

// IncrementWebSocketErrors increments WebSocket error count
func (m *Metrics) IncrementWebSocketErrors() {
	m.wsErrors.Add(1)
}

// Snapshot returns every counter keyed the way /api/metrics reports them.
func (m *Metrics) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"total_dispatches": m.GetTotalDispatches(),
		"total_completed":  m.GetTotalCompleted(),
		"total_errors":     m.GetTotalErrors(),
		"total_retries":    m.GetTotalRetries(),
		"cache_hits":       m.GetCacheHits(),
		"stale_discarded":  m.GetStale(),
		"alerts":           m.GetTotalAlerts(),
		"avg_latency_ms":   m.GetAvgLatency(),
		"last_complete":    m.GetLastCompleteTime(),
		"websocket": map[string]interface{}{
			"connections": m.GetWebSocketConnections(),
			"messages":    m.wsMessages.Load(),
			"errors":      m.wsErrors.Load(),
		},
	}
}
