package service

import (
	"sync"
	"time"
)

// RunState is the loop's execution state.
type RunState string

const (
	StateIdle    RunState = "IDLE"
	StateRunning RunState = "RUNNING"
)

// runGuard enforces at most one cycle in flight per process.
type runGuard struct {
	mu          sync.Mutex
	state       RunState
	lastStarted time.Time
	last        *CycleResult
}

func newRunGuard() *runGuard {
	return &runGuard{state: StateIdle}
}

// tryAcquire moves IDLE to RUNNING. It never blocks.
func (g *runGuard) tryAcquire(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateRunning {
		return false
	}
	g.state = StateRunning
	g.lastStarted = now
	return true
}

func (g *runGuard) release(result CycleResult) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state = StateIdle
	g.last = &result
}

func (g *runGuard) snapshot() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := Status{State: g.state, Running: g.state == StateRunning}
	if !g.lastStarted.IsZero() {
		started := g.lastStarted
		st.LastRunStarted = &started
	}
	if g.last != nil {
		last := *g.last
		st.LastResult = &last
	}
	return st
}
