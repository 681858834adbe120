package session

import (
	"sync"
	"time"

	"github.com/parkspot/tracker/pkg/core"
)

// Context holds per-session UI state the lifecycle manager maintains on
// behalf of its clients: which record is selected and where the map is.
type Context struct {
	mu         sync.RWMutex
	startedAt  time.Time
	selectedID string
	center     *core.ViewCenter
}

// NewContext creates an empty session starting at now.
func NewContext(now time.Time) *Context {
	return &Context{startedAt: now}
}

func (c *Context) StartedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.startedAt
}

// Selected returns the selected record id, if any.
func (c *Context) Selected() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selectedID, c.selectedID != ""
}

func (c *Context) Select(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectedID = id
}

// ClearSelectionIf drops the selection only when it points at id.
func (c *Context) ClearSelectionIf(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selectedID == "" || c.selectedID != id {
		return false
	}
	c.selectedID = ""
	return true
}

func (c *Context) SetViewCenter(vc core.ViewCenter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.center = &vc
}

// ViewCenter returns the last centre set, if any.
func (c *Context) ViewCenter() (core.ViewCenter, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.center == nil {
		return core.ViewCenter{}, false
	}
	return *c.center, true
}
