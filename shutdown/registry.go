package shutdown

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Func releases one component during shutdown. It should honour ctx.
type Func func(ctx context.Context) error

// Priorities of the standard components. Lower runs first, so the web
// server stops taking requests before the dispatcher drains, and the logger
// is synced after everything else has logged.
const (
	PriorityWebServer  = 10
	PriorityDispatcher = 20
	PrioritySettings   = 30
	PriorityHistory    = 40
	PriorityCleanup    = 50
	PriorityLogger     = 90
)

type entry struct {
	name     string
	priority int
	seq      int
	fn       Func
}

// Registry holds cleanup functions and runs them once in priority order.
// Entries with equal priority run in registration order.
type Registry struct {
	mu      sync.Mutex
	entries []entry
	closed  bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds fn. It is a no-op after Run.
func (r *Registry) Register(name string, priority int, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.entries = append(r.entries, entry{name: name, priority: priority, seq: len(r.entries), fn: fn})
}

func (r *Registry) sorted() []entry {
	out := make([]entry, len(r.entries))
	copy(out, r.entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].priority < out[j].priority
	})
	return out
}

// Run calls every registered function, even after failures, and returns
// the failures wrapped with the entry name. Second and later calls return
// nil.
func (r *Registry) Run(ctx context.Context) []error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := r.sorted()
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := e.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		}
	}
	return errs
}

// Names lists the entries in execution order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.sorted()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// IsClosed reports whether the handlers have already been executed.
func (r *Registry) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
