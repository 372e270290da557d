package shutdown

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"

	"fastsd/core"
)

func TestOperationTracker(t *testing.T) {
	tr := NewOperationTracker()
	if !tr.Start() {
		t.Fatal("Start() on open tracker = false")
	}
	if tr.ActiveCount() != 1 {
		t.Errorf("ActiveCount() = %d, want 1", tr.ActiveCount())
	}
	tr.Close()
	if tr.Start() {
		t.Error("Start() after Close = true")
	}
	if err := tr.Wait(10 * time.Millisecond); !errors.Is(err, ErrWaitTimeout) {
		t.Errorf("Wait() = %v, want ErrWaitTimeout", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		tr.Done()
	}()
	if err := tr.Wait(time.Second); err != nil {
		t.Errorf("Wait() = %v", err)
	}
	if tr.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", tr.ActiveCount())
	}
}

func TestRegistry_Order(t *testing.T) {
	r := NewRegistry()
	var mu sync.Mutex
	var order []string
	add := func(name string, priority int, err error) {
		r.Register(name, priority, func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return err
		})
	}

	add("logger", PriorityLogger, nil)
	add("history", PriorityHistory, errors.New("disk full"))
	add("web", PriorityWebServer, nil)
	add("settings", PrioritySettings, nil)
	add("dispatcher", PriorityDispatcher, nil)
	add("stale-files", PriorityCleanup, nil)

	want := []string{"web", "dispatcher", "settings", "history", "stale-files", "logger"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}

	errs := r.Run(context.Background())
	if !reflect.DeepEqual(order, want) {
		t.Errorf("run order = %v, want %v", order, want)
	}
	if len(errs) != 1 || errs[0].Error() != "history: disk full" {
		t.Errorf("Run() errs = %v", errs)
	}
	if !r.IsClosed() {
		t.Error("IsClosed() = false after Run")
	}
	if errs := r.Run(context.Background()); errs != nil {
		t.Errorf("second Run() = %v", errs)
	}

	add("late", 0, nil)
	if r.Count() != 6 {
		t.Errorf("Count() = %d, registration after Run should be ignored", r.Count())
	}
}

func TestRegistry_EqualPriorityKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context) error { return nil }
	r.Register("a", 5, noop)
	r.Register("b", 5, noop)
	r.Register("c", 1, noop)
	if got, want := r.Names(), []string{"c", "a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestSignalCounter(t *testing.T) {
	forced := 0
	c := NewSignalCounter(2, func() { forced++ })
	c.Increment()
	if forced != 0 {
		t.Error("forced after first signal")
	}
	if n := c.Increment(); n != 2 || forced != 1 {
		t.Errorf("Increment() = %d, forced = %d", n, forced)
	}
	if c.Count() != 2 {
		t.Errorf("Count() = %d", c.Count())
	}
}

func TestManager_SignalHandling(t *testing.T) {
	exitCode := -1
	m := NewManager(zap.NewNop(), WithForceExit(func(code int) { exitCode = code }))

	m.handleSignal(syscall.SIGTERM)
	select {
	case <-m.Context().Done():
	default:
		t.Fatal("context not cancelled after first signal")
	}
	if m.ExitCode() != core.ExitCodeSIGTERM {
		t.Errorf("ExitCode() = %d, want %d", m.ExitCode(), core.ExitCodeSIGTERM)
	}
	if exitCode != -1 {
		t.Error("forced exit after first signal")
	}

	m.handleSignal(os.Interrupt)
	if exitCode != core.ExitCodeError {
		t.Errorf("force exit code = %d, want %d", exitCode, core.ExitCodeError)
	}
	if m.ExitCode() != core.ExitCodeSIGTERM {
		t.Error("second signal changed the exit code")
	}
}

func TestManager_Shutdown(t *testing.T) {
	m := NewManager(zap.NewNop(), WithTimeout(2*time.Second))
	m.Start()

	release := make(chan struct{})
	opDone := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		opDone <- m.WrapOperation(context.Background(), "generate", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var ran []string
	m.Register("history", PriorityHistory, func(ctx context.Context) error {
		ran = append(ran, "history")
		return nil
	})
	m.Register("dispatcher", PriorityDispatcher, func(ctx context.Context) error {
		ran = append(ran, "dispatcher")
		return nil
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := <-opDone; err != nil {
		t.Errorf("in-flight operation error = %v", err)
	}
	if !reflect.DeepEqual(ran, []string{"dispatcher", "history"}) {
		t.Errorf("cleanup order = %v", ran)
	}
	if !m.IsShuttingDown() {
		t.Error("IsShuttingDown() = false")
	}
	if m.ExitCode() != core.ExitCodeSuccess {
		t.Errorf("ExitCode() = %d", m.ExitCode())
	}

	err := m.WrapOperation(context.Background(), "late", func(context.Context) error { return nil })
	if !errors.Is(err, ErrTrackerClosed) {
		t.Errorf("WrapOperation() after shutdown = %v", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Errorf("second Shutdown() = %v", err)
	}
}

func TestManager_ShutdownReportsErrors(t *testing.T) {
	m := NewManager(zap.NewNop(), WithTimeout(time.Second))
	m.Register("broken", 1, func(context.Context) error { return errors.New("boom") })
	if err := m.Shutdown(); err == nil {
		t.Error("Shutdown() error = nil, want error")
	}
}

func TestManager_Trigger(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Trigger("console quit")
	select {
	case <-m.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("Trigger did not cancel context")
	}
}

func TestCleanupStaleFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{".settings-1.yaml", ".settings-2.yaml", "settings.yaml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	fn := CleanupStaleFiles(zap.NewNop(), dir, ".settings-*.yaml")
	if err := fn(context.Background()); err != nil {
		t.Fatalf("cleanup error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "settings.yaml" {
		t.Errorf("remaining entries = %v", entries)
	}

	missing := CleanupStaleFiles(zap.NewNop(), filepath.Join(dir, "absent"), "*")
	if err := missing(context.Background()); err != nil {
		t.Errorf("cleanup of missing dir = %v", err)
	}
}
