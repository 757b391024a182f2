// Package ratelimit keeps one token bucket per client key.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter allows each key limit requests per window, refilled
// continuously, with bursts of up to limit.
type Limiter struct {
	limit int
	every rate.Limit
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*bucket
	window  time.Duration

	stop chan struct{}
	once sync.Once
}

// New starts a limiter and its idle-key sweeper. Call Close to stop it.
func New(limit int, window time.Duration) *Limiter {
	l := &Limiter{
		limit:   limit,
		now:     time.Now,
		entries: make(map[string]*bucket),
		window:  window,
		stop:    make(chan struct{}),
	}
	if limit > 0 {
		l.every = rate.Every(window / time.Duration(limit))
	}
	go l.sweep()
	return l
}

// Allow takes a token from key's bucket if one is available.
func (l *Limiter) Allow(key string) bool {
	if l.limit <= 0 {
		return false
	}
	now := l.now()
	l.mu.Lock()
	b, ok := l.entries[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.every, l.limit)}
		l.entries[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()
	return b.lim.AllowN(now, 1)
}

// Reset forgets key, restoring its full burst.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
}

func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stop:
			return
		}
	}
}

// evictIdle drops keys unseen for two windows; their buckets are full again
// by then.
func (l *Limiter) evictIdle() {
	cutoff := l.now().Add(-2 * l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.entries {
		if b.lastSeen.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}
