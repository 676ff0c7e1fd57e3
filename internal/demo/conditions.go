package demo

import (
	"context"
	"sync"

	"github.com/watersir/f2fs-change/entities/segment"
)

// Conditions is a single fake backing every small environmental
// collaborator the reclaimer and selector consult: freeze state, device
// idleness, invalid-block pressure, the active write-cursor sections, and
// a counter for periodic metadata balancing calls.
type Conditions struct {
	mu sync.Mutex

	frozen        bool
	deviceIdle    bool
	enoughInvalid bool
	active        map[segment.SecNo]bool
	balanced      int
}

// NewConditions builds a Conditions with an idle, non-frozen device and no
// active write cursors, matching a freshly-mounted filesystem with no
// writers in flight.
func NewConditions() *Conditions {
	return &Conditions{
		deviceIdle:    true,
		enoughInvalid: true,
		active:        make(map[segment.SecNo]bool),
	}
}

func (c *Conditions) Frozen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frozen
}

func (c *Conditions) SetFrozen(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = v
}

func (c *Conditions) DeviceIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceIdle
}

func (c *Conditions) SetDeviceIdle(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deviceIdle = v
}

func (c *Conditions) EnoughInvalidBlocks() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enoughInvalid
}

func (c *Conditions) SetEnoughInvalidBlocks(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enoughInvalid = v
}

func (c *Conditions) BalanceMetadata(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balanced++
}

// Balanced reports how many times BalanceMetadata has run.
func (c *Conditions) Balanced() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanced
}

func (c *Conditions) IsActiveCursorSection(secno segment.SecNo) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[secno]
}

// SetActiveCursorSection marks (or unmarks) secno as holding an active
// write cursor, making it ineligible as a victim while set.
func (c *Conditions) SetActiveCursorSection(secno segment.SecNo, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if active {
		c.active[secno] = true
	} else {
		delete(c.active, secno)
	}
}
