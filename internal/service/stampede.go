package service

import "sync"

// stampedeTracker counts concurrent misses per cache key. Purely
// observational: it feeds debug logging so operators can see when the
// coalescer is worth enabling.
type stampedeTracker struct {
	mu     sync.Mutex
	active map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{active: make(map[string]int)}
}

// recordMiss increments the concurrent-miss count for key and returns it.
// Pair with a deferred recordDone.
func (t *stampedeTracker) recordMiss(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[key]++
	return t.active[key]
}

// recordDone marks one miss for key as resolved.
func (t *stampedeTracker) recordDone(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.active[key]; ok && n > 0 {
		t.active[key]--
		if t.active[key] == 0 {
			delete(t.active, key)
		}
	}
}
