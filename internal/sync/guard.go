package sync

import gosync "sync"

// Guard allows one run per key at a time. A second caller is turned away
// rather than queued.
type Guard struct {
	mu      gosync.Mutex
	running map[string]bool
}

// NewGuard returns an empty guard.
func NewGuard() *Guard {
	return &Guard{running: make(map[string]bool)}
}

// TryAcquire claims key. It returns a release func and true, or nil and
// false when key is already held.
func (g *Guard) TryAcquire(key string) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running[key] {
		return nil, false
	}
	g.running[key] = true

	var once gosync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.running, key)
			g.mu.Unlock()
		})
	}, true
}

// Busy reports whether key is held.
func (g *Guard) Busy(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running[key]
}
