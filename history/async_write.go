package history

import (
	"sync"
	"time"
)

// DefaultChannelCapacity is the default buffer size for queued writes.
const DefaultChannelCapacity = 100

// AsyncWriter processes queued items on a background goroutine so callers on
// the generation path never wait for the database.
type AsyncWriter[T any] struct {
	queue   chan T
	handler func(T) error
	onError func(T, error)

	mu      sync.Mutex
	started bool
	stopped bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

// NewAsyncWriter returns a stopped writer with the given buffer capacity.
// onError may be nil.
func NewAsyncWriter[T any](capacity int, handler func(T) error, onError func(T, error)) *AsyncWriter[T] {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	return &AsyncWriter[T]{
		queue:   make(chan T, capacity),
		handler: handler,
		onError: onError,
		quit:    make(chan struct{}),
	}
}

// Start launches the background goroutine. Repeated calls are no-ops.
func (w *AsyncWriter[T]) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.run()
}

func (w *AsyncWriter[T]) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.quit:
			w.drain()
			return
		case item := <-w.queue:
			w.handle(item)
		}
	}
}

func (w *AsyncWriter[T]) drain() {
	for {
		select {
		case item := <-w.queue:
			w.handle(item)
		default:
			return
		}
	}
}

func (w *AsyncWriter[T]) handle(item T) {
	if err := w.handler(item); err != nil && w.onError != nil {
		w.onError(item, err)
	}
}

// Write queues item without blocking. It returns false if the writer is not
// running or the buffer is full.
func (w *AsyncWriter[T]) Write(item T) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started || w.stopped {
		return false
	}
	select {
	case w.queue <- item:
		return true
	default:
		return false
	}
}

// Pending returns the number of queued items.
func (w *AsyncWriter[T]) Pending() int {
	return len(w.queue)
}

// Running reports whether the writer accepts items.
func (w *AsyncWriter[T]) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started && !w.stopped
}

// Stop drains queued items and waits up to timeout for the goroutine to exit.
// It reports whether the drain finished in time.
func (w *AsyncWriter[T]) Stop(timeout time.Duration) bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return true
	}
	w.stopped = true
	close(w.quit)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
