package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Policy decides what happens to a request that arrives while another one is
// running or waiting.
type Policy int

const (
	// PolicyReject resolves overlapping requests immediately with ErrBusy.
	PolicyReject Policy = iota
	// PolicyLatestWins keeps at most one waiting request. A newer trigger
	// resolves the waiting one with ErrSuperseded and takes its place.
	PolicyLatestWins
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyReject:
		return "reject"
	case PolicyLatestWins:
		return "latest-wins"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy converts a policy name into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "reject", "busy", "":
		return PolicyReject, nil
	case "latest-wins", "latest", "queue":
		return PolicyLatestWins, nil
	default:
		return PolicyReject, fmt.Errorf("unknown dispatch policy %q", s)
	}
}

// Generator runs a single request to completion. *Controller implements it.
type Generator interface {
	Generate(ctx context.Context, s GenerationSettings) Result
}

// Ticket is the handle for one triggered request. It resolves exactly once.
type Ticket struct {
	ID       string
	Settings GenerationSettings
	Queued   time.Time

	done   chan struct{}
	result Result
	once   sync.Once
}

func newTicket(s GenerationSettings) *Ticket {
	return &Ticket{
		ID:       uuid.NewString(),
		Settings: s,
		Queued:   time.Now(),
		done:     make(chan struct{}),
	}
}

// Done returns a channel that is closed once the request is resolved.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Result returns the request's Result. It is the zero Result until Done is
// closed.
func (t *Ticket) Result() Result {
	select {
	case <-t.done:
		return t.result
	default:
		return Result{}
	}
}

// Wait blocks until the result is available or ctx is done. A context error
// means the result is unknown; the request may still be running.
func (t *Ticket) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (t *Ticket) resolve(res Result) bool {
	resolved := false
	t.once.Do(func() {
		res.RequestID = t.ID
		if res.FinishedAt.IsZero() {
			res.FinishedAt = time.Now()
		}
		t.result = res
		close(t.done)
		resolved = true
	})
	return resolved
}

// Dispatcher moves generation off the caller's goroutine. It runs a single
// worker so at most one request is ever inside the Generator.
type Dispatcher struct {
	gen      Generator
	policy   Policy
	logger   *zap.Logger
	observer DispatchObserver
	baseCtx  context.Context

	mu      sync.Mutex
	running *Ticket
	pending *Ticket
	closed  bool

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPolicy selects the overlap policy.
func WithPolicy(p Policy) DispatcherOption {
	return func(d *Dispatcher) { d.policy = p }
}

// WithDispatchLogger sets the dispatcher logger.
func WithDispatchLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDispatchObserver reports requests resolved without running.
func WithDispatchObserver(o DispatchObserver) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

// NewDispatcher starts the worker goroutine.
func NewDispatcher(gen Generator, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		gen:     gen,
		policy:  PolicyReject,
		logger:  zap.NewNop(),
		baseCtx: context.Background(),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.observer == nil {
		if o, ok := gen.(interface{ Observer() Observer }); ok {
			if do, ok := o.Observer().(DispatchObserver); ok {
				d.observer = do
			}
		}
	}

	d.wg.Add(1)
	go d.worker()
	return d
}

// Policy returns the configured overlap policy.
func (d *Dispatcher) Policy() Policy {
	return d.policy
}

// Trigger submits s and returns immediately. Requests that cannot run are
// resolved before Trigger returns.
func (d *Dispatcher) Trigger(s GenerationSettings) *Ticket {
	t := newTicket(s)

	if err := s.Validate(); err != nil {
		d.reject(t, KindInvalidSettings, err)
		return t
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.reject(t, KindClosed, nil)
		return t
	}

	var superseded *Ticket
	switch d.policy {
	case PolicyLatestWins:
		superseded = d.pending
	default:
		if d.running != nil || d.pending != nil {
			d.mu.Unlock()
			d.reject(t, KindBusy, nil)
			return t
		}
	}
	d.pending = t
	d.mu.Unlock()

	if superseded != nil {
		d.reject(superseded, KindSuperseded, fmt.Errorf("superseded by request %s", t.ID))
	}

	select {
	case d.wake <- struct{}{}:
	default:
	}

	d.logger.Debug("Generation request queued",
		zap.String("request_id", t.ID),
		zap.String("policy", d.policy.String()),
	)
	return t
}

// Busy reports whether a request is running or waiting to run.
func (d *Dispatcher) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running != nil || d.pending != nil
}

// Running returns the ID of the request currently inside the Generator.
func (d *Dispatcher) Running() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running == nil {
		return "", false
	}
	return d.running.ID, true
}

// Close stops accepting requests, resolves any waiting request with ErrClosed
// and waits for the running one to finish. The running request is never
// interrupted; ctx only bounds how long Close waits for it.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	if pending != nil {
		d.reject(pending, KindClosed, nil)
	}
	close(d.quit)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight generation: %w", ctx.Err())
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.wake:
		case <-d.quit:
			return
		}

		d.mu.Lock()
		t := d.pending
		d.pending = nil
		d.running = t
		d.mu.Unlock()

		if t == nil {
			continue
		}

		res := d.gen.Generate(d.baseCtx, t.Settings)

		d.mu.Lock()
		d.running = nil
		d.mu.Unlock()

		t.resolve(res)
	}
}

func (d *Dispatcher) reject(t *Ticket, kind ErrorKind, cause error) {
	if !t.resolve(failure(t.ID, t.Settings, kind, cause)) {
		return
	}
	if d.observer != nil {
		d.observer.ObserveRejection(kind)
	}
	level := d.logger.Info
	if kind == KindSuperseded {
		level = d.logger.Debug
	}
	level("Generation request resolved without running",
		zap.String("request_id", t.ID),
		zap.String("kind", kind.String()),
	)
}
