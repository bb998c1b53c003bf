package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheMonitor_HitRatioAndHealth(t *testing.T) {
	m := NewCacheMonitor(&CacheMonitorConfig{
		MinHealthyHitRatio:  0.8,
		MinDegradedHitRatio: 0.5,
		MaxHealthyLatency:   time.Second,
		MinRequests:         4,
	})

	m.RecordOperation(true, time.Millisecond)
	m.RecordOperation(false, 10*time.Millisecond)
	assert.Equal(t, CacheUnknown, m.Health())

	m.RecordOperation(true, time.Millisecond)
	m.RecordOperation(true, time.Millisecond)

	metrics := m.Metrics()
	assert.EqualValues(t, 4, metrics.TotalRequests)
	assert.EqualValues(t, 3, metrics.CacheHits)
	assert.InDelta(t, 0.75, metrics.HitRatio, 1e-9)
	assert.Equal(t, 10*time.Millisecond, metrics.AvgMissLatency)
	assert.Equal(t, CacheDegraded, metrics.Health)

	for range 4 {
		m.RecordOperation(false, time.Millisecond)
	}
	assert.Equal(t, CacheUnhealthy, m.Health())

	m.Reset()
	assert.Zero(t, m.Metrics().TotalRequests)
}

func TestCacheMonitor_EvictionsByReason(t *testing.T) {
	m := NewCacheMonitor(nil)

	m.RecordEviction(EvictionTTL, 3)
	m.RecordEviction(EvictionCapacity, 1)
	m.RecordEviction(EvictionManual, 2)
	m.RecordEviction(EvictionManual, 0)

	metrics := m.Metrics()
	assert.EqualValues(t, 3, metrics.TTLEvictions)
	assert.EqualValues(t, 1, metrics.CapacityEvictions)
	assert.EqualValues(t, 2, metrics.ManualEvictions)
}
