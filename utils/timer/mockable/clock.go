// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mockable

import (
	"sync"
	"time"
)

// Clock reads wall time unless it has been frozen with Set, after which it
// only moves through Set and Advance. The zero value follows wall time.
// It is safe for concurrent use.
type Clock struct {
	mu     sync.RWMutex
	frozen bool
	now    time.Time
}

// Set freezes the clock at t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.frozen = true
	c.now = t
}

// Advance moves a frozen clock forward by d. On a live clock it freezes at
// the current wall time plus d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.frozen {
		c.frozen = true
		c.now = time.Now()
	}
	c.now = c.now.Add(d)
}

// Sync returns the clock to wall time.
func (c *Clock) Sync() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.frozen = false
}

func (c *Clock) Time() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.frozen {
		return c.now
	}
	return time.Now()
}
