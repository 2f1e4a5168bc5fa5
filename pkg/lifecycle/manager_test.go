package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/agentreplay/agentreplay-go/pkg/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// signal.Notify starts a process-wide receiver that never exits.
		goleak.IgnoreAnyFunction("os/signal.loop"),
		goleak.IgnoreTopFunction("os/signal.signal_recv"),
	)
}

func TestManager_StateTransitions(t *testing.T) {
	var changes []string
	m := NewManager(&Config{OnStateChange: func(from, to State) {
		changes = append(changes, from.String()+"->"+to.String())
	}})

	if !m.IsActive() || m.IsClosed() {
		t.Fatalf("initial State() = %v, want active", m.State())
	}

	if err := m.BeginShutdown(); err != nil {
		t.Fatalf("BeginShutdown() error = %v", err)
	}
	if m.State() != StateShuttingDown {
		t.Errorf("State() = %v, want shutting_down", m.State())
	}
	if err := m.BeginShutdown(); err != ErrAlreadyClosed {
		t.Errorf("second BeginShutdown() error = %v, want ErrAlreadyClosed", err)
	}

	select {
	case <-m.Done():
	default:
		t.Error("Done() not closed after BeginShutdown()")
	}

	m.CompleteShutdown()
	m.CompleteShutdown()
	if !m.IsClosed() {
		t.Errorf("State() = %v, want closed", m.State())
	}

	want := []string{"active->shutting_down", "shutting_down->closed"}
	if len(changes) != len(want) || changes[0] != want[0] || changes[1] != want[1] {
		t.Errorf("state changes = %v, want %v", changes, want)
	}
}

func TestManager_RecordActivity(t *testing.T) {
	m := NewManager(nil)
	defer func() {
		_ = m.BeginShutdown()
		m.CompleteShutdown()
	}()

	before := m.LastActivity()
	time.Sleep(5 * time.Millisecond)
	m.RecordActivity()

	if !m.LastActivity().After(before) {
		t.Error("LastActivity() did not advance")
	}
	if s := m.Stats(); s.State != StateActive || s.Uptime <= 0 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestManager_IdleWarning(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := NewManager(&Config{
		IdleWarningDuration: 20 * time.Millisecond,
		Logger:              logging.NewZapAdapter(zap.New(core)),
	})

	deadline := time.Now().Add(2 * time.Second)
	for logs.FilterMessageSnippet("idle without Shutdown").Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no idle warning logged")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = m.BeginShutdown()
	m.CompleteShutdown()

	if n := logs.FilterMessageSnippet("idle without Shutdown").Len(); n != 1 {
		t.Errorf("idle warnings = %d, want 1", n)
	}
}

func TestManager_WatchExit(t *testing.T) {
	// A host handler keeps the re-delivered signal from killing the test.
	host := make(chan os.Signal, 2)
	signal.Notify(host, syscall.SIGUSR1)
	defer signal.Stop(host)

	m := NewManager(&Config{ExitSignals: []os.Signal{syscall.SIGUSR1}})

	var calls atomic.Int32
	done := make(chan struct{})
	onExit := func() {
		calls.Add(1)
		if m.BeginShutdown() == nil {
			m.CompleteShutdown()
		}
		close(done)
	}
	m.WatchExit(onExit)
	m.WatchExit(func() { t.Error("second WatchExit callback ran") })

	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("exit hook did not run")
	}
	if calls.Load() != 1 {
		t.Errorf("exit hook calls = %d, want 1", calls.Load())
	}
	if !m.IsClosed() {
		t.Errorf("State() = %v, want closed", m.State())
	}

	// The host sees the original signal and the re-delivered one.
	for i := range 2 {
		select {
		case <-host:
		case <-time.After(2 * time.Second):
			t.Fatalf("host handler received %d signals, want 2", i)
		}
	}
}

// TestManager_WatchExitTerminatesHost runs a child test process that has no
// signal handler of its own and checks SIGTERM still terminates it after
// the exit hook ran.
func TestManager_WatchExitTerminatesHost(t *testing.T) {
	if os.Getenv("AGENTREPLAY_LIFECYCLE_CHILD") == "1" {
		m := NewManager(nil)
		m.WatchExit(func() {
			if m.BeginShutdown() == nil {
				m.CompleteShutdown()
			}
			fmt.Println("exit hook ran")
		})
		_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
		time.Sleep(5 * time.Second)
		fmt.Println("still alive")
		os.Exit(0)
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestManager_WatchExitTerminatesHost$")
	cmd.Env = append(os.Environ(), "AGENTREPLAY_LIFECYCLE_CHILD=1")
	out, err := cmd.Output()

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("child error = %v, want termination by signal; output:\n%s", err, out)
	}
	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() || ws.Signal() != syscall.SIGTERM {
		t.Fatalf("child status = %v, want killed by SIGTERM; output:\n%s", exitErr, out)
	}
	if !strings.Contains(string(out), "exit hook ran") {
		t.Errorf("child output = %q, want exit hook to run first", out)
	}
	if strings.Contains(string(out), "still alive") {
		t.Errorf("child survived SIGTERM")
	}
}

func TestManager_WatchExitStopsOnShutdown(t *testing.T) {
	m := NewManager(&Config{ExitSignals: []os.Signal{syscall.SIGUSR2}})
	m.WatchExit(func() { t.Error("exit hook ran without a signal") })

	if err := m.BeginShutdown(); err != nil {
		t.Fatal(err)
	}
	m.CompleteShutdown()
	// goleak in TestMain verifies the watcher exited.
}
