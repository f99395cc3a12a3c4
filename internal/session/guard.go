package session

import (
	"sync"
	"sync/atomic"
)

const (
	uninitialized int32 = iota
	initializing
	initialized
)

// InitGuard runs a one-time side effect. A failed attempt returns the
// guard to the uninitialized state so a later call can try again.
type InitGuard struct {
	state atomic.Int32
	mu    sync.Mutex
}

// Do runs fn if the guard has not been initialized yet. It reports whether
// fn ran during this call. Concurrent callers block until the in-flight
// attempt finishes.
func (g *InitGuard) Do(fn func() error) (bool, error) {
	if g.state.Load() == initialized {
		return false, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.state.CompareAndSwap(uninitialized, initializing) {
		return false, nil
	}
	if err := fn(); err != nil {
		g.state.Store(uninitialized)
		return true, err
	}
	g.state.Store(initialized)
	return true, nil
}

// Initialized reports whether the side effect completed.
func (g *InitGuard) Initialized() bool {
	return g.state.Load() == initialized
}
