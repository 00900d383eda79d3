package ratelimit

import (
	"sync"
	"time"
)

// sweepInterval spaces out full passes that drop idle keys.
const sweepInterval = time.Minute

type windowKey struct {
	client   string
	endpoint string
}

// bucket holds the admitted timestamps of one key in ascending order.
// A dead bucket has been removed from the map; holders must look it up again.
type bucket struct {
	mu     sync.Mutex
	stamps []time.Time
	dead   bool
}

// prune drops stamps at or before now-WindowSize. Caller holds b.mu.
func (b *bucket) prune(now time.Time) {
	cutoff := now.Add(-WindowSize)
	i := 0
	for i < len(b.stamps) && !b.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.stamps = append(b.stamps[:0], b.stamps[i:]...)
	}
}

// insert keeps stamps sorted; out-of-order timestamps are rare.
func (b *bucket) insert(ts time.Time) {
	i := len(b.stamps)
	for i > 0 && b.stamps[i-1].After(ts) {
		i--
	}
	b.stamps = append(b.stamps, time.Time{})
	copy(b.stamps[i+1:], b.stamps[i:])
	b.stamps[i] = ts
}

// Window is a sliding one-hour log keyed by (client, endpoint). Each key
// has its own mutex; the map lock is held only for lookup, insert and
// eviction. Lock order is map before bucket.
type Window struct {
	mu        sync.RWMutex
	buckets   map[windowKey]*bucket
	lastSweep time.Time
	clock     Clock
}

// NewWindow creates an empty window. A nil clock uses the wall clock.
func NewWindow(clock Clock) *Window {
	if clock == nil {
		clock = SystemClock
	}
	return &Window{
		buckets:   make(map[windowKey]*bucket),
		lastSweep: clock.Now(),
		clock:     clock,
	}
}

func (w *Window) lookup(k windowKey) *bucket {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.buckets[k]
}

// lock returns the live bucket of k with its mutex held, creating it when
// missing.
func (w *Window) lock(client, endpoint string) *bucket {
	k := windowKey{client, endpoint}
	for {
		b := w.lookup(k)
		if b == nil {
			w.mu.Lock()
			if b = w.buckets[k]; b == nil {
				b = &bucket{}
				w.buckets[k] = b
			}
			w.mu.Unlock()
		}
		b.mu.Lock()
		if !b.dead {
			return b
		}
		b.mu.Unlock()
	}
}

// evict removes k when its bucket is empty at now.
func (w *Window) evict(k windowKey, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if b := w.buckets[k]; b != nil {
		w.evictLocked(k, b, now)
	}
}

// evictLocked is evict with w.mu held for writing.
func (w *Window) evictLocked(k windowKey, b *bucket, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(now)
	if len(b.stamps) == 0 {
		b.dead = true
		delete(w.buckets, k)
	}
}

// maybeSweep runs Sweep at most once per sweepInterval.
func (w *Window) maybeSweep(now time.Time) {
	w.mu.RLock()
	due := now.Sub(w.lastSweep) >= sweepInterval
	w.mu.RUnlock()
	if due {
		w.Sweep()
	}
}

// Sweep drops every key with no entries inside the window.
func (w *Window) Sweep() {
	now := w.clock.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	for k, b := range w.buckets {
		w.evictLocked(k, b, now)
	}
	w.lastSweep = now
}

// Len returns the number of tracked keys.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.buckets)
}

// Record appends ts (zero means now) and prunes expired entries.
func (w *Window) Record(client, endpoint string, ts time.Time) {
	now := w.clock.Now()
	if ts.IsZero() {
		ts = now
	}
	b := w.lock(client, endpoint)
	b.insert(ts)
	b.prune(now)
	empty := len(b.stamps) == 0
	b.mu.Unlock()
	if empty {
		w.evict(windowKey{client, endpoint}, now)
	}
	w.maybeSweep(now)
}

// Count returns the number of entries inside the window. A key left
// empty is evicted.
func (w *Window) Count(client, endpoint string) int {
	now := w.clock.Now()
	k := windowKey{client, endpoint}
	b := w.lookup(k)
	if b == nil {
		return 0
	}
	b.mu.Lock()
	b.prune(now)
	n := len(b.stamps)
	b.mu.Unlock()
	if n == 0 {
		w.evict(k, now)
	}
	return n
}

// TryRecord records now only if fewer than limit entries are inside the
// window. The check and the append happen under one lock.
func (w *Window) TryRecord(client, endpoint string, limit int) (count int, ok bool) {
	now := w.clock.Now()
	defer w.maybeSweep(now)
	b := w.lock(client, endpoint)
	defer b.mu.Unlock()
	b.prune(now)
	if len(b.stamps) >= limit {
		return len(b.stamps), false
	}
	b.insert(now)
	return len(b.stamps), true
}

// ResetTime is the oldest surviving entry plus WindowSize, or now when
// the window is empty.
func (w *Window) ResetTime(client, endpoint string) time.Time {
	now := w.clock.Now()
	b := w.lookup(windowKey{client, endpoint})
	if b == nil {
		return now
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(now)
	if len(b.stamps) == 0 {
		return now
	}
	return b.stamps[0].Add(WindowSize)
}

// Reset clears one key, or every key of client when endpoint is empty.
func (w *Window) Reset(client, endpoint string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k, b := range w.buckets {
		if k.client == client && (endpoint == "" || k.endpoint == endpoint) {
			b.mu.Lock()
			b.dead = true
			b.mu.Unlock()
			delete(w.buckets, k)
		}
	}
}
