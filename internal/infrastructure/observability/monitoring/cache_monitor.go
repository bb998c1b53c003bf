// Package monitoring tracks hit ratio, latency and eviction counts for the
// signed URL cache and derives a health status from them.
package monitoring

import (
	"sync"
	"time"
)

// CacheHealthStatus represents the health of the cache
type CacheHealthStatus string

const (
	CacheHealthy   CacheHealthStatus = "healthy"   // Performing optimally
	CacheDegraded  CacheHealthStatus = "degraded"  // Some performance issues
	CacheUnhealthy CacheHealthStatus = "unhealthy" // Significant issues
	CacheUnknown   CacheHealthStatus = "unknown"   // Not enough traffic to judge
)

// Eviction reasons
const (
	EvictionTTL      = "ttl"
	EvictionCapacity = "capacity"
	EvictionManual   = "manual"
)

// CacheMonitorConfig contains the health thresholds
type CacheMonitorConfig struct {
	MinHealthyHitRatio  float64       `json:"minHealthyHitRatio"`  // 0.85
	MinDegradedHitRatio float64       `json:"minDegradedHitRatio"` // 0.50
	MaxHealthyLatency   time.Duration `json:"maxHealthyLatency"`   // 250ms
	MinRequests         int64         `json:"minRequests"`         // below this health is unknown
}

// DefaultCacheMonitorConfig returns sensible defaults
func DefaultCacheMonitorConfig() *CacheMonitorConfig {
	return &CacheMonitorConfig{
		MinHealthyHitRatio:  0.85,
		MinDegradedHitRatio: 0.50,
		MaxHealthyLatency:   250 * time.Millisecond,
		MinRequests:         20,
	}
}

// CacheMetrics is a snapshot of the recorded counters
type CacheMetrics struct {
	TotalRequests  int64         `json:"totalRequests"`
	CacheHits      int64         `json:"cacheHits"`
	CacheMisses    int64         `json:"cacheMisses"`
	HitRatio       float64       `json:"hitRatio"`
	AvgHitLatency  time.Duration `json:"avgHitLatency"`
	AvgMissLatency time.Duration `json:"avgMissLatency"`

	TTLEvictions      int64 `json:"ttlEvictions"`
	CapacityEvictions int64 `json:"capacityEvictions"`
	ManualEvictions   int64 `json:"manualEvictions"`

	Health      CacheHealthStatus `json:"health"`
	Since       time.Time         `json:"since"`
	LastUpdated time.Time         `json:"lastUpdated"`
}

// CacheMonitor accumulates cache operations. It is safe for concurrent use.
type CacheMonitor struct {
	config *CacheMonitorConfig

	mu      sync.Mutex
	metrics CacheMetrics
}

func NewCacheMonitor(config *CacheMonitorConfig) *CacheMonitor {
	if config == nil {
		config = DefaultCacheMonitorConfig()
	}
	return &CacheMonitor{
		config:  config,
		metrics: CacheMetrics{Since: time.Now()},
	}
}

// RecordOperation records one lookup. Latencies are kept as exponential
// moving averages.
func (m *CacheMonitor) RecordOperation(hit bool, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.TotalRequests++
	if hit {
		m.metrics.CacheHits++
		m.metrics.AvgHitLatency = movingAverage(m.metrics.AvgHitLatency, latency)
	} else {
		m.metrics.CacheMisses++
		m.metrics.AvgMissLatency = movingAverage(m.metrics.AvgMissLatency, latency)
	}
	m.metrics.HitRatio = float64(m.metrics.CacheHits) / float64(m.metrics.TotalRequests)
	m.metrics.LastUpdated = time.Now()
}

func movingAverage(avg, sample time.Duration) time.Duration {
	if avg == 0 {
		return sample
	}
	return time.Duration(float64(avg)*0.9 + float64(sample)*0.1)
}

// RecordEviction records n entries removed for reason
func (m *CacheMonitor) RecordEviction(reason string, n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch reason {
	case EvictionTTL:
		m.metrics.TTLEvictions += int64(n)
	case EvictionCapacity:
		m.metrics.CapacityEvictions += int64(n)
	default:
		m.metrics.ManualEvictions += int64(n)
	}
	m.metrics.LastUpdated = time.Now()
}

// Metrics returns a snapshot including the derived health.
func (m *CacheMonitor) Metrics() CacheMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.metrics
	out.Health = m.healthLocked()
	return out
}

// Health derives the status from hit ratio and hit latency
func (m *CacheMonitor) Health() CacheHealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthLocked()
}

func (m *CacheMonitor) healthLocked() CacheHealthStatus {
	if m.metrics.TotalRequests < m.config.MinRequests {
		return CacheUnknown
	}

	switch {
	case m.metrics.HitRatio < m.config.MinDegradedHitRatio:
		return CacheUnhealthy
	case m.metrics.AvgHitLatency > m.config.MaxHealthyLatency*2:
		return CacheUnhealthy
	case m.metrics.HitRatio < m.config.MinHealthyHitRatio:
		return CacheDegraded
	case m.metrics.AvgHitLatency > m.config.MaxHealthyLatency:
		return CacheDegraded
	default:
		return CacheHealthy
	}
}

// Reset clears every counter
func (m *CacheMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = CacheMetrics{Since: time.Now()}
}
