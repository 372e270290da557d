package auth

import (
	"context"
	"sync"
	"time"
)

type attempts struct {
	count   int
	resetAt time.Time
}

// Limiter blocks a client after too many failed logins within a window.
type Limiter struct {
	mu          sync.Mutex
	clients     map[string]attempts
	maxAttempts int
	window      time.Duration
	block       time.Duration
	now         func() time.Time
}

// NewLimiter allows maxAttempts failures per window and then blocks the
// client for block.
func NewLimiter(maxAttempts int, window, block time.Duration) *Limiter {
	return &Limiter{
		clients:     make(map[string]attempts),
		maxAttempts: maxAttempts,
		window:      window,
		block:       block,
		now:         time.Now,
	}
}

// Allow reports whether ip may try again, and if not, for how long it is
// blocked.
func (l *Limiter) Allow(ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.clients[ip]
	now := l.now()
	if !ok || !now.Before(rec.resetAt) {
		return true, 0
	}
	if rec.count >= l.maxAttempts {
		return false, rec.resetAt.Sub(now)
	}
	return true, 0
}

// Fail records a failed attempt.
func (l *Limiter) Fail(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, ok := l.clients[ip]
	if !ok || !now.Before(rec.resetAt) {
		rec = attempts{resetAt: now.Add(l.window)}
	}
	rec.count++
	if rec.count == l.maxAttempts {
		rec.resetAt = now.Add(l.block)
	}
	l.clients[ip] = rec
}

// Reset forgets ip, typically after a successful login.
func (l *Limiter) Reset(ip string) {
	l.mu.Lock()
	delete(l.clients, ip)
	l.mu.Unlock()
}

// Cleanup drops expired records and returns how many were removed.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for ip, rec := range l.clients {
		if !now.Before(rec.resetAt) {
			delete(l.clients, ip)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (l *Limiter) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup()
			}
		}
	}()
}
