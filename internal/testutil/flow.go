package testutil

import "sync"

// FixedRunIDs returns predetermined run IDs for testing.
//
// This enables deterministic reports and golden file comparison.
// Thread-safety: FixedRunIDs is safe for concurrent use via internal mutex.
type FixedRunIDs struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedRunIDs creates a generator that returns ids in order.
//
// Example:
//
//	gen := NewFixedRunIDs("run-1", "run-2")
//	gen.NewRunID() // "run-1"
//	gen.NewRunID() // "run-2"
//	gen.NewRunID() // panic: all run IDs exhausted
func NewFixedRunIDs(ids ...string) *FixedRunIDs {
	return &FixedRunIDs{ids: ids}
}

// NewRunID returns the next predetermined ID.
//
// Panics if all IDs have been consumed. A test that starts more runs than it
// planned for is misconfigured.
func (g *FixedRunIDs) NewRunID() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedRunIDs: all run IDs exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
