// Package performance provides performance tracking and monitoring capabilities
// for assetsign operations.
package performance

import (
	"sort"
	"sync"
	"time"
)

// Tracker aggregates completed markers per operation
type Tracker struct {
	mu         sync.RWMutex
	operations map[string]*OperationStats
	active     int
	started    time.Time
	config     *TrackerConfig
}

// TrackerConfig contains configuration options for the performance tracker
type TrackerConfig struct {
	SlowThreshold     time.Duration `json:"slowThreshold"`     // Operations slower than this are counted as slow
	DegradedErrorRate float64       `json:"degradedErrorRate"` // Error ratio above which health is degraded
}

// DefaultTrackerConfig returns a sensible default configuration
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		SlowThreshold:     500 * time.Millisecond,
		DegradedErrorRate: 0.25,
	}
}

// OperationStats summarises every completed marker for one operation name
type OperationStats struct {
	Operation     string        `json:"operation"`
	Count         int           `json:"count"`
	Failures      int           `json:"failures"`
	Slow          int           `json:"slow"`
	TotalDuration time.Duration `json:"totalDuration"`
	MaxDuration   time.Duration `json:"maxDuration"`
	LastError     string        `json:"lastError,omitempty"`
	CacheHits     int           `json:"cacheHits"`
	CacheMisses   int           `json:"cacheMisses"`
}

// AverageDuration returns the mean duration of the operation
func (s OperationStats) AverageDuration() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Count)
}

// NewTracker creates a new performance tracker with the given configuration
func NewTracker(config *TrackerConfig) *Tracker {
	if config == nil {
		config = DefaultTrackerConfig()
	}

	return &Tracker{
		operations: make(map[string]*OperationStats),
		started:    time.Now(),
		config:     config,
	}
}

// StartOperation creates a new performance marker for an operation
func (t *Tracker) StartOperation(operation string) *Marker {
	t.mu.Lock()
	t.active++
	t.mu.Unlock()

	return &Marker{
		Operation: operation,
		StartTime: time.Now(),
		Metadata:  make(map[string]any),
		Success:   true, // Assume success until proven otherwise
		tracker:   t,
	}
}

func (t *Tracker) record(m *Marker) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active--

	stats, ok := t.operations[m.Operation]
	if !ok {
		stats = &OperationStats{Operation: m.Operation}
		t.operations[m.Operation] = stats
	}

	stats.Count++
	stats.TotalDuration += m.Duration
	if m.Duration > stats.MaxDuration {
		stats.MaxDuration = m.Duration
	}
	if m.Duration > t.config.SlowThreshold {
		stats.Slow++
	}
	if !m.Success {
		stats.Failures++
		stats.LastError = m.Error
	}
	stats.CacheHits += m.CacheHits
	stats.CacheMisses += m.CacheMisses
}

// Snapshot returns a copy of the per-operation statistics sorted by name
func (t *Tracker) Snapshot() []OperationStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]OperationStats, 0, len(t.operations))
	for _, stats := range t.operations {
		out = append(out, *stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

// Health derives an overall status from the recorded failure ratio
func (t *Tracker) Health() HealthStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var count, failures int
	for _, stats := range t.operations {
		count += stats.Count
		failures += stats.Failures
	}
	if count == 0 {
		return HealthUnknown
	}

	ratio := float64(failures) / float64(count)
	switch {
	case ratio >= 2*t.config.DegradedErrorRate:
		return HealthUnhealthy
	case ratio >= t.config.DegradedErrorRate:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}

// GetOverallStats returns a summary suitable for a JSON status endpoint
func (t *Tracker) GetOverallStats() map[string]any {
	ops := t.Snapshot()

	t.mu.RLock()
	active := t.active
	uptime := time.Since(t.started)
	t.mu.RUnlock()

	return map[string]any{
		"uptime":           uptime.String(),
		"activeOperations": active,
		"health":           t.Health(),
		"operations":       ops,
	}
}
