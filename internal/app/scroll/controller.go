// Package scroll decides whether a conversation view follows new arrivals.
package scroll

import "sync"

// Controller tracks the merged list length and the reader's viewport position.
// Growth auto-advances only when the reader was at the bottom before the growth;
// otherwise the arrivals are counted as unseen and the viewport stays put.
type Controller struct {
	mu       sync.Mutex
	length   int
	atBottom bool
	unseen   int
}

// New starts at the bottom so the initial load lands on the newest message.
func New() *Controller {
	return &Controller{atBottom: true}
}

// Observe reports the current list length and returns true when the view should
// jump to the newest message.
func (c *Controller) Observe(length int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	grew := length > c.length
	added := length - c.length
	c.length = length
	if !grew {
		return false
	}
	if c.atBottom {
		return true
	}
	c.unseen += added
	return false
}

// SetAtBottom records the viewport signal. Reaching the bottom clears the unseen count.
func (c *Controller) SetAtBottom(atBottom bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.atBottom = atBottom
	if atBottom {
		c.unseen = 0
	}
}

func (c *Controller) AtBottom() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.atBottom
}

// Unseen is the number of arrivals since the reader scrolled away.
func (c *Controller) Unseen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unseen
}

// Reset is called when the conversation changes.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.length = 0
	c.unseen = 0
	c.atBottom = true
}
