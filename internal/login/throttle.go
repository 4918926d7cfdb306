package login

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultAttemptsPerMinute = 10
	defaultBurst             = 5
	throttleIdleTTL          = 30 * time.Minute
	throttleSweepThreshold   = 1024
)

// Throttle limits login attempts per client key (usually the remote IP). There is no
// lockout: a throttled client simply waits for tokens to refill.
type Throttle struct {
	mu      sync.Mutex
	entries map[string]*throttleEntry
	limit   rate.Limit
	burst   int
	clock   func() time.Time
}

type throttleEntry struct {
	limiter *rate.Limiter
	lastUse time.Time
}

// NewThrottle allows attemptsPerMinute sustained attempts with the given burst per key.
func NewThrottle(attemptsPerMinute, burst int, clock func() time.Time) *Throttle {
	if attemptsPerMinute <= 0 {
		attemptsPerMinute = defaultAttemptsPerMinute
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	if clock == nil {
		clock = time.Now
	}
	return &Throttle{
		entries: make(map[string]*throttleEntry),
		limit:   rate.Every(time.Minute / time.Duration(attemptsPerMinute)),
		burst:   burst,
		clock:   clock,
	}
}

// Allow reports whether key may attempt a login now.
func (t *Throttle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	if len(t.entries) >= throttleSweepThreshold {
		for entryKey, entry := range t.entries {
			if now.Sub(entry.lastUse) > throttleIdleTTL {
				delete(t.entries, entryKey)
			}
		}
	}
	entry, ok := t.entries[key]
	if !ok {
		entry = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.entries[key] = entry
	}
	entry.lastUse = now
	return entry.limiter.AllowN(now, 1)
}
