package batch

import "sync"

// Gate admits at most one pipeline run at a time. Triggers arriving while a
// run is in progress are dropped, not queued.
type Gate struct {
	mu      sync.Mutex
	running bool
}

// TryStart claims the gate, reporting false when a run already holds it
func (g *Gate) TryStart() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return false
	}
	g.running = true
	return true
}

// Done releases the gate
func (g *Gate) Done() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.running = false
}

// Running reports whether a run holds the gate
func (g *Gate) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}
