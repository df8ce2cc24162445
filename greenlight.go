package superloop

import (
	"sync"
	"time"
)

// GreenLight indicates the healthy state shared by all loops managed by one
// Controller. While set the group is healthy; any loop that exceeds its
// failure limit unsets the light, which the Controller observes and answers
// with a group reset.
//
// The zero value is not usable, create instances with NewGreenLight.
// All methods are safe for concurrent use.
type GreenLight struct {
	mu sync.Mutex
	on bool
	ch chan struct{} // closed while the light is set
}

// NewGreenLight returns an unset GreenLight.
func NewGreenLight() *GreenLight {
	return &GreenLight{ch: make(chan struct{})}
}

// Set turns the light on and wakes every caller blocked in Wait.
// Setting an already set light does nothing.
func (g *GreenLight) Set() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.on {
		return
	}
	g.on = true
	close(g.ch)
}

// Unset turns the light off. Unsetting an already unset light does nothing,
// so concurrent failure reports collapse into a single reset request.
func (g *GreenLight) Unset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.on {
		return
	}
	g.on = false
	g.ch = make(chan struct{})
}

// IsSet reports the current state without blocking.
func (g *GreenLight) IsSet() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.on
}

// Wait blocks until the light is set or timeout elapses.
// Returns true when the light was set, false on timeout.
func (g *GreenLight) Wait(timeout time.Duration) bool {
	g.mu.Lock()
	on, ch := g.on, g.ch
	g.mu.Unlock()

	if on {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
