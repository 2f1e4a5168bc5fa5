package ingestion

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentreplay/agentreplay-go/pkg/logging"
	"github.com/agentreplay/agentreplay-go/pkg/metrics"
)

// BackpressureLevel grades how full the span buffer is.
type BackpressureLevel int

const (
	BackpressureNone BackpressureLevel = iota
	BackpressureWarning
	BackpressureCritical
	// BackpressureOverflow means inserts are about to evict the oldest spans.
	BackpressureOverflow
)

func (l BackpressureLevel) String() string {
	switch l {
	case BackpressureNone:
		return "none"
	case BackpressureWarning:
		return "warning"
	case BackpressureCritical:
		return "critical"
	case BackpressureOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// BackpressureThreshold holds the fill percentages at which each level starts.
type BackpressureThreshold struct {
	WarningPercent  float64
	CriticalPercent float64
	OverflowPercent float64
}

// DefaultBackpressureThreshold returns 50/80/95 percent.
func DefaultBackpressureThreshold() BackpressureThreshold {
	return BackpressureThreshold{
		WarningPercent:  50,
		CriticalPercent: 80,
		OverflowPercent: 95,
	}
}

// QueueState is a point-in-time view of the buffer.
type QueueState struct {
	Size        int
	Capacity    int
	Level       BackpressureLevel
	PercentFull float64
	Timestamp   time.Time
}

// BackpressureCallback is invoked on every level change.
type BackpressureCallback func(state QueueState)

// QueueMonitor tracks buffer occupancy and reports level changes so
// operators see pressure building before spans are evicted.
type QueueMonitor struct {
	threshold BackpressureThreshold
	capacity  int
	logger    logging.StructuredLogger
	metrics   metrics.Metrics

	mu       sync.RWMutex
	callback BackpressureCallback

	// seqMu orders Observe calls; lastSeq is the newest applied.
	seqMu   sync.Mutex
	lastSeq uint64

	level     atomic.Int32
	lastState atomic.Pointer[QueueState]

	warningCount  atomic.Int64
	criticalCount atomic.Int64
	overflowCount atomic.Int64
	stateChanges  atomic.Int64
}

// QueueMonitorConfig configures a QueueMonitor.
type QueueMonitorConfig struct {
	Threshold      BackpressureThreshold
	Capacity       int
	OnBackpressure BackpressureCallback
	Logger         logging.StructuredLogger
	Metrics        metrics.Metrics
}

// NewQueueMonitor creates a monitor. Unset thresholds take their defaults.
func NewQueueMonitor(cfg *QueueMonitorConfig) *QueueMonitor {
	if cfg == nil {
		cfg = &QueueMonitorConfig{}
	}

	def := DefaultBackpressureThreshold()
	threshold := cfg.Threshold
	if threshold.WarningPercent <= 0 {
		threshold.WarningPercent = def.WarningPercent
	}
	if threshold.CriticalPercent <= 0 {
		threshold.CriticalPercent = def.CriticalPercent
	}
	if threshold.OverflowPercent <= 0 {
		threshold.OverflowPercent = def.OverflowPercent
	}

	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 10000
	}

	m := &QueueMonitor{
		threshold: threshold,
		capacity:  capacity,
		callback:  cfg.OnBackpressure,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
	if m.logger == nil {
		m.logger = logging.NopLogger{}
	}
	if m.metrics == nil {
		m.metrics = metrics.Nop{}
	}
	m.lastState.Store(&QueueState{Capacity: capacity, Timestamp: time.Now()})
	return m
}

func (m *QueueMonitor) levelFor(percent float64) BackpressureLevel {
	switch {
	case percent >= m.threshold.OverflowPercent:
		return BackpressureOverflow
	case percent >= m.threshold.CriticalPercent:
		return BackpressureCritical
	case percent >= m.threshold.WarningPercent:
		return BackpressureWarning
	default:
		return BackpressureNone
	}
}

// Update records the current buffer size and returns the resulting level.
func (m *QueueMonitor) Update(size int) BackpressureLevel {
	m.seqMu.Lock()
	prev, level, state := m.apply(size)
	m.seqMu.Unlock()
	m.report(prev, level, state)
	return level
}

// Observe is Update for concurrent callers. seq must grow with every change
// to the buffer; an observation older than one already applied is ignored,
// so a slow caller cannot overwrite a newer level.
func (m *QueueMonitor) Observe(seq uint64, size int) BackpressureLevel {
	m.seqMu.Lock()
	if seq < m.lastSeq {
		m.seqMu.Unlock()
		return m.Level()
	}
	m.lastSeq = seq
	prev, level, state := m.apply(size)
	m.seqMu.Unlock()
	m.report(prev, level, state)
	return level
}

func (m *QueueMonitor) apply(size int) (prev, level BackpressureLevel, state *QueueState) {
	percent := float64(size) / float64(m.capacity) * 100
	level = m.levelFor(percent)
	state = &QueueState{
		Size:        size,
		Capacity:    m.capacity,
		Level:       level,
		PercentFull: percent,
		Timestamp:   time.Now(),
	}
	prev = BackpressureLevel(m.level.Swap(int32(level)))
	m.lastState.Store(state)
	return prev, level, state
}

func (m *QueueMonitor) report(prev, level BackpressureLevel, state *QueueState) {
	switch level {
	case BackpressureWarning:
		m.warningCount.Add(1)
	case BackpressureCritical:
		m.criticalCount.Add(1)
	case BackpressureOverflow:
		m.overflowCount.Add(1)
	}

	m.metrics.SetGauge("agentreplay.queue.size", float64(state.Size))
	m.metrics.SetGauge("agentreplay.queue.percent_full", state.PercentFull)

	if prev != level {
		m.stateChanges.Add(1)
		m.levelChanged(prev, level, *state)
	}
}

func (m *QueueMonitor) levelChanged(from, to BackpressureLevel, state QueueState) {
	if to > BackpressureNone {
		m.logger.Warn("span buffer backpressure",
			"from", from.String(), "to", to.String(),
			"size", state.Size, "capacity", state.Capacity)
	} else {
		m.logger.Info("span buffer backpressure cleared", "size", state.Size, "capacity", state.Capacity)
	}
	m.metrics.IncrementCounter("agentreplay.queue.level_changes", 1)
	m.metrics.SetGauge("agentreplay.queue.level", float64(to))

	m.mu.RLock()
	cb := m.callback
	m.mu.RUnlock()
	if cb != nil {
		cb(state)
	}
}

// Level returns the current level.
func (m *QueueMonitor) Level() BackpressureLevel {
	return BackpressureLevel(m.level.Load())
}

// State returns the most recent snapshot.
func (m *QueueMonitor) State() QueueState {
	return *m.lastState.Load()
}

// SetCallback replaces the level-change callback.
func (m *QueueMonitor) SetCallback(fn BackpressureCallback) {
	m.mu.Lock()
	m.callback = fn
	m.mu.Unlock()
}

func (m *QueueMonitor) IsHealthy() bool  { return m.Level() == BackpressureNone }
func (m *QueueMonitor) IsCritical() bool { return m.Level() >= BackpressureCritical }

// QueueMonitorStats counts updates observed at each level.
type QueueMonitorStats struct {
	CurrentLevel  BackpressureLevel
	WarningCount  int64
	CriticalCount int64
	OverflowCount int64
	StateChanges  int64
	LastState     QueueState
}

func (m *QueueMonitor) Stats() QueueMonitorStats {
	return QueueMonitorStats{
		CurrentLevel:  m.Level(),
		WarningCount:  m.warningCount.Load(),
		CriticalCount: m.criticalCount.Load(),
		OverflowCount: m.overflowCount.Load(),
		StateChanges:  m.stateChanges.Load(),
		LastState:     m.State(),
	}
}
