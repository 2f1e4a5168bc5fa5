package ingestion

import (
	"context"
	"sync"
	"testing"
	"time"
)

type gaugeRecorder struct {
	mu       sync.Mutex
	counters map[string]int64
	gauges   map[string]float64
}

func newGaugeRecorder() *gaugeRecorder {
	return &gaugeRecorder{counters: map[string]int64{}, gauges: map[string]float64{}}
}

func (g *gaugeRecorder) IncrementCounter(name string, value int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counters[name] += value
}

func (g *gaugeRecorder) RecordDuration(string, time.Duration) {}

func (g *gaugeRecorder) SetGauge(name string, value float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gauges[name] = value
}

func (g *gaugeRecorder) gauge(name string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gauges[name]
}

func TestBackpressureLevel_String(t *testing.T) {
	tests := []struct {
		level BackpressureLevel
		want  string
	}{
		{BackpressureNone, "none"},
		{BackpressureWarning, "warning"},
		{BackpressureCritical, "critical"},
		{BackpressureOverflow, "overflow"},
		{BackpressureLevel(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestQueueMonitor_Levels(t *testing.T) {
	m := newGaugeRecorder()
	monitor := NewQueueMonitor(&QueueMonitorConfig{Capacity: 100, Metrics: m})

	if !monitor.IsHealthy() || monitor.IsCritical() {
		t.Fatal("monitor should start healthy")
	}

	steps := []struct {
		size int
		want BackpressureLevel
	}{
		{25, BackpressureNone},
		{50, BackpressureWarning},
		{80, BackpressureCritical},
		{95, BackpressureOverflow},
		{100, BackpressureOverflow},
		{10, BackpressureNone},
	}
	for _, s := range steps {
		if got := monitor.Update(s.size); got != s.want {
			t.Errorf("Update(%d) = %v, want %v", s.size, got, s.want)
		}
		if st := monitor.State(); st.Size != s.size || st.Level != s.want {
			t.Errorf("State() = %+v after Update(%d)", st, s.size)
		}
	}

	if got := m.gauge("agentreplay.queue.size"); got != 10 {
		t.Errorf("queue size gauge = %v, want 10", got)
	}
	stats := monitor.Stats()
	if stats.StateChanges != 4 {
		t.Errorf("StateChanges = %d, want 4", stats.StateChanges)
	}
	if stats.OverflowCount != 2 {
		t.Errorf("OverflowCount = %d, want 2", stats.OverflowCount)
	}
}

func TestQueueMonitor_Callback(t *testing.T) {
	var levels []BackpressureLevel
	monitor := NewQueueMonitor(&QueueMonitorConfig{
		Capacity:       10,
		OnBackpressure: func(s QueueState) { levels = append(levels, s.Level) },
	})

	for _, size := range []int{5, 8, 10, 10, 0} {
		monitor.Update(size)
	}

	want := []BackpressureLevel{BackpressureWarning, BackpressureCritical, BackpressureOverflow, BackpressureNone}
	if len(levels) != len(want) {
		t.Fatalf("callbacks = %v, want %v", levels, want)
	}
	for i := range want {
		if levels[i] != want[i] {
			t.Errorf("callback %d = %v, want %v", i, levels[i], want[i])
		}
	}
}

func TestProcessor_ReportsBackpressure(t *testing.T) {
	var mu sync.Mutex
	var seen []BackpressureLevel
	p := newTestProcessor(t, Config{
		Exporter:     &recordingExporter{},
		MaxQueueSize: 10,
		BatchSize:    100,
		OnBackpressure: func(s QueueState) {
			mu.Lock()
			seen = append(seen, s.Level)
			mu.Unlock()
		},
	})

	for i := range 10 {
		p.Insert(record(string(rune('a' + i))))
	}

	if got := p.Stats().BackpressureLevel; got != BackpressureOverflow {
		t.Errorf("BackpressureLevel = %v, want overflow", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Errorf("level changes = %v, want warning, critical, overflow", seen)
	}
}

func TestQueueMonitor_ObserveIgnoresStale(t *testing.T) {
	monitor := NewQueueMonitor(&QueueMonitorConfig{Capacity: 10})

	if got := monitor.Observe(2, 10); got != BackpressureOverflow {
		t.Fatalf("Observe(2, 10) = %v, want overflow", got)
	}
	// A slower caller reporting an older size must not win.
	if got := monitor.Observe(1, 0); got != BackpressureOverflow {
		t.Errorf("Observe(1, 0) = %v, want overflow kept", got)
	}
	if st := monitor.State(); st.Size != 10 {
		t.Errorf("State().Size = %d, want 10", st.Size)
	}
	if got := monitor.Observe(3, 0); got != BackpressureNone {
		t.Errorf("Observe(3, 0) = %v, want none", got)
	}
}

func TestProcessor_BackpressureMatchesBufferUnderConcurrency(t *testing.T) {
	// BatchSize above capacity keeps the worker idle, so only the calls
	// below touch the buffer.
	p := newTestProcessor(t, Config{
		Exporter:     &recordingExporter{},
		MaxQueueSize: 10,
		BatchSize:    1000,
	})

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range 50 {
				p.Insert(record(string(rune('a'+w)) + string(rune('a'+i%26))))
				if i%7 == 0 {
					_, _ = p.Flush(context.Background())
				}
			}
		}(w)
	}
	wg.Wait()

	st := p.Stats()
	if state := p.monitor.State(); state.Size != st.QueueSize {
		t.Errorf("monitor size = %d, buffer size = %d", state.Size, st.QueueSize)
	}
	want := p.monitor.levelFor(float64(st.QueueSize) / float64(st.QueueCapacity) * 100)
	if st.BackpressureLevel != want {
		t.Errorf("BackpressureLevel = %v, want %v for %d/%d", st.BackpressureLevel, want, st.QueueSize, st.QueueCapacity)
	}
}
