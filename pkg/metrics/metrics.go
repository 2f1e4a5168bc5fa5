// Package metrics defines the SDK telemetry interface and a Prometheus
// implementation of it.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics receives SDK telemetry. Names are dot-separated, for example
// "agentreplay.spans.dropped".
type Metrics interface {
	IncrementCounter(name string, value int64)
	RecordDuration(name string, duration time.Duration)
	SetGauge(name string, value float64)
}

// Nop discards all metrics.
type Nop struct{}

func (Nop) IncrementCounter(string, int64)       {}
func (Nop) RecordDuration(string, time.Duration) {}
func (Nop) SetGauge(string, float64)             {}

// Prometheus exports SDK metrics as Prometheus collectors, created on first
// use. Dots in names become underscores; counters get a "_total" suffix and
// durations a "_seconds" suffix.
type Prometheus struct {
	factory promauto.Factory
	labels  prometheus.Labels

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Observer
}

// NewPrometheus registers collectors with reg. A nil reg uses
// prometheus.DefaultRegisterer. constLabels are attached to every collector.
func NewPrometheus(reg prometheus.Registerer, constLabels prometheus.Labels) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Prometheus{
		factory:    promauto.With(reg),
		labels:     constLabels,
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Observer),
	}
}

// IncrementCounter implements Metrics.
func (p *Prometheus) IncrementCounter(name string, value int64) {
	if value < 0 {
		return
	}
	p.mu.Lock()
	c, ok := p.counters[name]
	if !ok {
		c = p.factory.NewCounter(prometheus.CounterOpts{
			Name:        metricName(name) + "_total",
			Help:        "Counter " + name + ".",
			ConstLabels: p.labels,
		})
		p.counters[name] = c
	}
	p.mu.Unlock()
	c.Add(float64(value))
}

// RecordDuration implements Metrics.
func (p *Prometheus) RecordDuration(name string, duration time.Duration) {
	p.mu.Lock()
	h, ok := p.histograms[name]
	if !ok {
		h = p.factory.NewHistogram(prometheus.HistogramOpts{
			Name:        metricName(name) + "_seconds",
			Help:        "Duration " + name + ".",
			ConstLabels: p.labels,
			Buckets:     prometheus.DefBuckets,
		})
		p.histograms[name] = h
	}
	p.mu.Unlock()
	h.Observe(duration.Seconds())
}

// SetGauge implements Metrics.
func (p *Prometheus) SetGauge(name string, value float64) {
	p.mu.Lock()
	g, ok := p.gauges[name]
	if !ok {
		g = p.factory.NewGauge(prometheus.GaugeOpts{
			Name:        metricName(name),
			Help:        "Gauge " + name + ".",
			ConstLabels: p.labels,
		})
		p.gauges[name] = g
	}
	p.mu.Unlock()
	g.Set(value)
}

func metricName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

var (
	_ Metrics = Nop{}
	_ Metrics = (*Prometheus)(nil)
)
