package id

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Metrics is a minimal metrics interface.
type Metrics interface {
	IncrementCounter(name string, value int64)
}

// Logger is a minimal logging interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Mode controls behavior when the random source fails.
type Mode int

const (
	// ModeFallback builds a time+counter+pid ID when the random source fails.
	ModeFallback Mode = iota

	// ModeStrict returns an error when the random source fails.
	ModeStrict
)

// String returns a string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeFallback:
		return "fallback"
	case ModeStrict:
		return "strict"
	default:
		return "unknown"
	}
}

var (
	fallbackCounter atomic.Uint64
	processID       = uint32(os.Getpid())
)

// Generator creates IDs with configurable failure handling.
type Generator struct {
	mode    Mode
	rand    io.Reader
	metrics Metrics
	logger  Logger

	failures atomic.Int64
}

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	Mode Mode

	// Rand overrides the random source. Nil uses uuid's default source.
	Rand io.Reader

	Metrics Metrics
	Logger  Logger
}

// NewGenerator creates a Generator.
func NewGenerator(cfg *GeneratorConfig) *Generator {
	if cfg == nil {
		cfg = &GeneratorConfig{}
	}
	return &Generator{
		mode:    cfg.Mode,
		rand:    cfg.Rand,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

var defaultGenerator = NewGenerator(nil)

// Generate returns a new ID. It fails only in ModeStrict.
func (g *Generator) Generate() (ID, error) {
	var (
		u   uuid.UUID
		err error
	)
	if g.rand != nil {
		u, err = uuid.NewRandomFromReader(g.rand)
	} else {
		u, err = uuid.NewRandom()
	}
	if err == nil {
		return ID(u), nil
	}

	failures := g.failures.Add(1)
	if g.metrics != nil {
		g.metrics.IncrementCounter("agentreplay.id.random_failures", 1)
	}

	if g.mode == ModeStrict {
		return Zero, fmt.Errorf("id: random source failed (strict mode, %d failures): %w", failures, err)
	}

	if failures == 1 && g.logger != nil {
		g.logger.Printf("WARNING: random source failed, using fallback ID generation: %v", err)
	}
	return fallbackID(), nil
}

// New returns a new ID, falling back on random source failure regardless of mode.
func (g *Generator) New() ID {
	id, err := g.Generate()
	if err != nil {
		return fallbackID()
	}
	return id
}

// fallbackID packs the wall clock, a counter and the process ID.
// The counter occupies the low half so IDs from one process never collide.
func fallbackID() ID {
	n := fallbackCounter.Add(1)
	high := uint64(time.Now().UnixNano())
	low := uint64(processID)<<32 | n&0xffffffff
	if high == 0 && low == 0 {
		low = 1
	}
	return FromHalves(high, low)
}

// Stats contains generator statistics.
type Stats struct {
	RandomFailures int64
	Mode           Mode
}

// Stats returns the generator statistics.
func (g *Generator) Stats() Stats {
	return Stats{
		RandomFailures: g.failures.Load(),
		Mode:           g.mode,
	}
}
