// Package controlloop implements the process-wide active-control-loop mask:
// a single bitset, mutated only by the
// current maneuver and the supervisor, protected by one mutex, never held
// across a bus publish.
package controlloop

import (
	"sync"

	"github.com/joeycumines/go-uuvcore/pkg/message"
)

// Mask is the process-wide control-loop ownership tracker. Exactly one
// component ever claims each bit; Mask enforces this
// by tracking grants as a set union/difference, never a simple overwrite.
type Mask struct {
	mu     sync.Mutex
	active message.ControlLoopMask
}

// New constructs an empty Mask.
func New() *Mask {
	return &Mask{}
}

// Apply grants (enable=true) or revokes (enable=false) the bits in m,
// returning the resulting overall mask. This is the sole mutator: callers
// must never bypass it to set loop state directly, and this mutex is never
// held across a bus publish.
func (c *Mask) Apply(enable bool, m message.ControlLoopMask) message.ControlLoopMask {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enable {
		c.active |= m
	} else {
		c.active &^= m
	}
	return c.active
}

// Current returns the current mask without mutating it.
func (c *Mask) Current() message.ControlLoopMask {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Has reports whether every bit in m is currently active.
func (c *Mask) Has(m message.ControlLoopMask) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active&m == m
}

// Clear revokes every active bit, returning the mask that was cleared. Used
// by the supervisor's ERROR-mode reset.
func (c *Mask) Clear() message.ControlLoopMask {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.active
	c.active = 0
	return was
}
