// Package auth tracks failed authentication attempts and applies
// escalating delays to slow down brute force attacks.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// IPKey builds the tracking key for a client address.
func IPKey(ip string) string { return "ip:" + ip }

// UserKey builds the tracking key for a username.
func UserKey(username string) string { return "user:" + username }

type failureEntry struct {
	count    int
	lastSeen time.Time
}

// TrackerOptions configures a Tracker.
type TrackerOptions struct {
	// Delays holds the escalating wait applied after each consecutive
	// failure. The last entry repeats once the count exceeds the list.
	Delays []time.Duration

	// IdleEviction drops an entry once no failure has been recorded
	// against it for this long. Zero disables the janitor.
	IdleEviction time.Duration

	// Disabled turns the tracker into a no-op.
	Disabled bool

	Logger *logrus.Logger
}

// Tracker counts consecutive authentication failures per key and
// translates the count into a delay. Keys are tracked independently,
// a request is slowed by the worst of its keys.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*failureEntry

	delays     []time.Duration
	evictAfter time.Duration
	disabled   bool
	logger     *logrus.Logger

	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewTracker creates a Tracker and starts its eviction janitor.
func NewTracker(opts TrackerOptions) *Tracker {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	t := &Tracker{
		entries:    make(map[string]*failureEntry),
		delays:     opts.Delays,
		evictAfter: opts.IdleEviction,
		disabled:   opts.Disabled,
		logger:     logger,
		stop:       make(chan struct{}),
		now:        time.Now,
	}
	if !t.disabled && t.evictAfter > 0 {
		go t.janitor()
	}
	return t
}

// RecordFailure increments the failure count for every key.
func (t *Tracker) RecordFailure(keys ...string) {
	if t.disabled {
		return
	}
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, key := range keys {
		if key == "" {
			continue
		}
		e := t.entries[key]
		if e == nil {
			e = &failureEntry{}
			t.entries[key] = e
		}
		e.count++
		e.lastSeen = now
	}
}

// FailureCount returns the highest failure count among the keys.
func (t *Tracker) FailureCount(keys ...string) int {
	if t.disabled {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	max := 0
	for _, key := range keys {
		if e := t.entries[key]; e != nil && e.count > max {
			max = e.count
		}
	}
	return max
}

// Delay blocks for the wait matching the current failure count and
// returns the duration it intended to wait. It returns early when the
// context is cancelled. With no recorded failures it returns zero
// without blocking.
func (t *Tracker) Delay(ctx context.Context, keys ...string) time.Duration {
	count := t.FailureCount(keys...)
	if count == 0 || len(t.delays) == 0 {
		return 0
	}
	idx := count - 1
	if idx >= len(t.delays) {
		idx = len(t.delays) - 1
	}
	wait := t.delays[idx]
	if wait <= 0 {
		return 0
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	return wait
}

// Clear drops the failure history for every key.
func (t *Tracker) Clear(keys ...string) {
	if t.disabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, key := range keys {
		delete(t.entries, key)
	}
}

// Destroy stops the eviction janitor.
func (t *Tracker) Destroy() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Tracker) janitor() {
	interval := t.evictAfter / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.evict()
		case <-t.stop:
			return
		}
	}
}

// evict drops entries that have been idle longer than the eviction
// window.
func (t *Tracker) evict() {
	cutoff := t.now().Add(-t.evictAfter)
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, e := range t.entries {
		if e.lastSeen.Before(cutoff) {
			delete(t.entries, key)
		}
	}
}

// size reports the number of tracked keys.
func (t *Tracker) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
