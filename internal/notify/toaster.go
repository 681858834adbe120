package notify

import (
	"context"
	"sync"

	"github.com/parkspot/tracker/pkg/core"
)

// DefaultToastLimit bounds how many notices a Toaster keeps.
const DefaultToastLimit = 50

// Toaster holds the notices currently on screen. A notice with a Key
// replaces the earlier one with the same Key in place; unkeyed notices stack.
type Toaster struct {
	mu      sync.Mutex
	limit   int
	notices []core.Notice
}

func NewToaster(limit int) *Toaster {
	if limit <= 0 {
		limit = DefaultToastLimit
	}
	return &Toaster{limit: limit}
}

func (t *Toaster) Notify(_ context.Context, n core.Notice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n.Key != "" {
		for i := range t.notices {
			if t.notices[i].Key == n.Key {
				t.notices[i] = n
				return
			}
		}
	}
	t.notices = append(t.notices, n)
	if over := len(t.notices) - t.limit; over > 0 {
		t.notices = append([]core.Notice(nil), t.notices[over:]...)
	}
}

// Active returns the notices in arrival order.
func (t *Toaster) Active() []core.Notice {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]core.Notice(nil), t.notices...)
}

// Get returns the notice with the given key.
func (t *Toaster) Get(key string) (core.Notice, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range t.notices {
		if n.Key == key {
			return n, true
		}
	}
	return core.Notice{}, false
}

// Dismiss removes the notice with the given key.
func (t *Toaster) Dismiss(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, n := range t.notices {
		if n.Key == key {
			t.notices = append(t.notices[:i], t.notices[i+1:]...)
			return true
		}
	}
	return false
}
