// Package lifecycle tracks the state of an agentreplay client and runs the
// process exit hook.
//
// A Manager moves through Active, ShuttingDown and Closed exactly once. It
// can warn about clients left idle without a shutdown, and can watch for
// termination signals so buffered spans are flushed before the process exits.
package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/agentreplay/agentreplay-go/pkg/logging"
	"github.com/agentreplay/agentreplay-go/pkg/metrics"
)

// ErrAlreadyClosed is returned by BeginShutdown after the first call.
var ErrAlreadyClosed = errors.New("lifecycle: already closed or shutting down")

// State is the lifecycle state of a client.
type State int32

const (
	StateActive State = iota
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config configures a Manager.
type Config struct {
	// IdleWarningDuration logs a warning once if the client sees no activity
	// for this long while still active. Zero disables the check.
	IdleWarningDuration time.Duration

	// ExitSignals are watched by WatchExit. Nil means SIGINT and SIGTERM.
	ExitSignals []os.Signal

	Logger        logging.StructuredLogger
	Metrics       metrics.Metrics
	OnStateChange func(from, to State)
}

// Stats is a lifecycle snapshot.
type Stats struct {
	State        State
	CreatedAt    time.Time
	LastActivity time.Time
	Uptime       time.Duration
	IdleDuration time.Duration
}

// Manager coordinates client shutdown and owns its background watchers.
type Manager struct {
	state        atomic.Int32
	createdAt    time.Time
	lastActivity atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	idleWarning  time.Duration
	warningFired atomic.Bool
	exitSignals  []os.Signal
	watching     atomic.Bool

	logger        logging.StructuredLogger
	metrics       metrics.Metrics
	onStateChange func(from, to State)
}

// NewManager creates an active Manager. A nil cfg uses defaults.
func NewManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = &Config{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()

	m := &Manager{
		createdAt:     now,
		ctx:           ctx,
		cancel:        cancel,
		idleWarning:   cfg.IdleWarningDuration,
		exitSignals:   cfg.ExitSignals,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		onStateChange: cfg.OnStateChange,
	}
	if m.logger == nil {
		m.logger = logging.NopLogger{}
	}
	if m.metrics == nil {
		m.metrics = metrics.Nop{}
	}
	if len(m.exitSignals) == 0 {
		m.exitSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	m.state.Store(int32(StateActive))
	m.lastActivity.Store(now.UnixNano())

	if m.idleWarning > 0 {
		m.wg.Add(1)
		go m.idleDetector()
	}
	m.metrics.IncrementCounter("agentreplay.client.created", 1)
	return m
}

func (m *Manager) idleDetector() {
	defer m.wg.Done()

	interval := max(m.idleWarning/2, 10*time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			idle := m.IdleDuration()
			if idle > m.idleWarning && m.warningFired.CompareAndSwap(false, true) {
				m.logger.Warn("client idle without Shutdown; call Shutdown(ctx) to flush buffered spans",
					"idle", idle.Round(time.Millisecond),
					"created_at", m.createdAt.Format(time.RFC3339))
				m.metrics.IncrementCounter("agentreplay.client.idle_warning", 1)
			}
		}
	}
}

// WatchExit runs onExit once when one of the exit signals arrives, then
// stops watching and sends the signal to the process again so the host's
// own handling (or the default termination) still applies. The watcher
// stops when shutdown begins. Only the first call has an effect.
func (m *Manager) WatchExit(onExit func()) {
	if onExit == nil || !m.IsActive() || !m.watching.CompareAndSwap(false, true) {
		return
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, m.exitSignals...)

	m.wg.Add(1)
	go func() {
		sig, ok := m.waitExit(sigs)
		// wg is released first so onExit may call CompleteShutdown.
		m.wg.Done()
		if ok {
			m.logger.Info("exit signal received, shutting down", "signal", sig.String())
			m.metrics.IncrementCounter("agentreplay.client.exit_hook", 1)
			onExit()
			m.resend(sig)
		}
	}()
}

// resend delivers sig to the current process. waitExit has already
// stopped relaying to sigs, so a host without a handler terminates.
func (m *Manager) resend(sig os.Signal) {
	p, err := os.FindProcess(os.Getpid())
	if err == nil {
		err = p.Signal(sig)
	}
	if err != nil {
		m.logger.Warn("could not re-deliver exit signal", "signal", sig.String(), "error", err)
	}
}

func (m *Manager) waitExit(sigs chan os.Signal) (os.Signal, bool) {
	defer signal.Stop(sigs)
	select {
	case <-m.ctx.Done():
		return nil, false
	case sig := <-sigs:
		return sig, true
	}
}

// State returns the current state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// IsActive reports whether the client accepts spans.
func (m *Manager) IsActive() bool {
	return m.State() == StateActive
}

// IsClosed reports whether shutdown completed.
func (m *Manager) IsClosed() bool {
	return m.State() == StateClosed
}

// RecordActivity marks the client as used now.
func (m *Manager) RecordActivity() {
	m.lastActivity.Store(time.Now().UnixNano())
}

func (m *Manager) LastActivity() time.Time {
	return time.Unix(0, m.lastActivity.Load())
}

func (m *Manager) Uptime() time.Duration {
	return time.Since(m.createdAt)
}

func (m *Manager) IdleDuration() time.Duration {
	return time.Since(m.LastActivity())
}

// Done is closed when shutdown begins.
func (m *Manager) Done() <-chan struct{} {
	return m.ctx.Done()
}

func (m *Manager) transition(from, to State) bool {
	if !m.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if m.onStateChange != nil {
		m.onStateChange(from, to)
	}
	m.metrics.SetGauge("agentreplay.client.state", float64(to))
	return true
}

// BeginShutdown moves an active client to ShuttingDown and stops the
// watchers. Every call after the first returns ErrAlreadyClosed.
func (m *Manager) BeginShutdown() error {
	if !m.transition(StateActive, StateShuttingDown) {
		return ErrAlreadyClosed
	}
	m.cancel()
	m.metrics.IncrementCounter("agentreplay.client.shutdown_initiated", 1)
	m.metrics.RecordDuration("agentreplay.client.uptime", m.Uptime())
	return nil
}

// CompleteShutdown marks the client closed and waits for the watchers.
func (m *Manager) CompleteShutdown() {
	if m.transition(StateShuttingDown, StateClosed) {
		m.metrics.IncrementCounter("agentreplay.client.shutdown_complete", 1)
	}
	m.wg.Wait()
}

// Stats returns a snapshot.
func (m *Manager) Stats() Stats {
	return Stats{
		State:        m.State(),
		CreatedAt:    m.createdAt,
		LastActivity: m.LastActivity(),
		Uptime:       m.Uptime(),
		IdleDuration: m.IdleDuration(),
	}
}
