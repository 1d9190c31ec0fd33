package relay

import (
	"sync"
	"time"
)

// ShapeThrottle rate limits shape-changed broadcasts per connection. The
// registry is always updated; only the broadcast is skipped.
type ShapeThrottle struct {
	interval time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

func NewShapeThrottle(interval time.Duration) *ShapeThrottle {
	return &ShapeThrottle{interval: interval, last: make(map[string]time.Time)}
}

// Allow reports whether a broadcast for connID may go out at now and, if so,
// records now as the last broadcast time.
func (t *ShapeThrottle) Allow(connID string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.last[connID]; ok && now.Sub(last) < t.interval {
		return false
	}
	t.last[connID] = now
	return true
}

func (t *ShapeThrottle) Forget(connID string) {
	t.mu.Lock()
	delete(t.last, connID)
	t.mu.Unlock()
}

// Prune drops entries whose last broadcast is older than ttl and returns how
// many were removed.
func (t *ShapeThrottle) Prune(now time.Time, ttl time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, last := range t.last {
		if now.Sub(last) > ttl {
			delete(t.last, id)
			n++
		}
	}
	return n
}

func (t *ShapeThrottle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.last)
}
