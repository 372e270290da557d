package settings

import (
	"fmt"
	"sync"

	"fastsd/session"
)

// Live is the current settings shared by every surface. Edits are applied
// under a lock and validated before they become visible.
type Live struct {
	mu  sync.RWMutex
	cur AppSettings
}

// NewLive returns a holder seeded with initial, normalized.
func NewLive(initial AppSettings) *Live {
	initial.Normalize()
	return &Live{cur: initial}
}

// Get returns a copy of the current settings.
func (l *Live) Get() AppSettings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}

// Update applies fn to a copy of the current settings. The copy replaces the
// current settings only if it converts to a valid request; otherwise the
// error wraps session.ErrInvalidSettings and nothing changes.
func (l *Live) Update(fn func(*AppSettings)) (AppSettings, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.cur
	fn(&next)
	if next.ResultsPath == "" {
		return l.cur, fmt.Errorf("%w: results path is required", session.ErrInvalidSettings)
	}
	if err := next.Generation("").Validate(); err != nil {
		return l.cur, err
	}
	l.cur = next
	return next, nil
}

// Reset restores every setting to its default.
func (l *Live) Reset() AppSettings {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cur = Defaults()
	return l.cur
}

// Snapshot returns the request settings for prompt. The result is a value and
// is unaffected by later edits.
func (l *Live) Snapshot(prompt string) session.GenerationSettings {
	return l.Get().Generation(prompt)
}
