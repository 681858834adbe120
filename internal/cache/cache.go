package cache

import (
	"sync"

	"github.com/parkspot/tracker/pkg/core"
)

// RecordCache is the session's in-memory mirror of the location store,
// ordered most-recent-first. It only reflects writes the store accepted;
// callers update it after persistence succeeds.
type RecordCache struct {
	m       sync.RWMutex
	records []core.LocationRecord
	index   map[string]int
}

func NewRecordCache() *RecordCache {
	return &RecordCache{index: make(map[string]int)}
}

func (c *RecordCache) reindex() {
	c.index = make(map[string]int, len(c.records))
	for i, r := range c.records {
		c.index[r.ID] = i
	}
}

// Reset replaces the contents, keeping the given order.
func (c *RecordCache) Reset(records []core.LocationRecord) {
	c.m.Lock()
	defer c.m.Unlock()
	c.records = make([]core.LocationRecord, len(records))
	for i, r := range records {
		c.records[i] = r.Clone()
	}
	c.reindex()
}

// Prepend puts r at the front. An existing entry with the same id is dropped.
func (c *RecordCache) Prepend(r core.LocationRecord) {
	c.m.Lock()
	defer c.m.Unlock()
	if i, ok := c.index[r.ID]; ok {
		c.records = append(c.records[:i], c.records[i+1:]...)
	}
	c.records = append([]core.LocationRecord{r.Clone()}, c.records...)
	c.reindex()
}

// Replace swaps the entry with r's id in place. Returns false if absent.
func (c *RecordCache) Replace(r core.LocationRecord) bool {
	c.m.Lock()
	defer c.m.Unlock()
	i, ok := c.index[r.ID]
	if !ok {
		return false
	}
	c.records[i] = r.Clone()
	return true
}

// Remove drops the entry with the given id. Returns false if absent.
func (c *RecordCache) Remove(id string) bool {
	c.m.Lock()
	defer c.m.Unlock()
	i, ok := c.index[id]
	if !ok {
		return false
	}
	c.records = append(c.records[:i], c.records[i+1:]...)
	c.reindex()
	return true
}

func (c *RecordCache) Get(id string) (core.LocationRecord, bool) {
	c.m.RLock()
	defer c.m.RUnlock()
	if i, ok := c.index[id]; ok {
		return c.records[i].Clone(), true
	}
	return core.LocationRecord{}, false
}

// All returns a copy of every entry, most-recent-first.
func (c *RecordCache) All() []core.LocationRecord {
	c.m.RLock()
	defer c.m.RUnlock()
	out := make([]core.LocationRecord, len(c.records))
	for i, r := range c.records {
		out[i] = r.Clone()
	}
	return out
}

// Filter returns copies of the entries matching keep, in order.
func (c *RecordCache) Filter(keep func(core.LocationRecord) bool) []core.LocationRecord {
	c.m.RLock()
	defer c.m.RUnlock()
	var out []core.LocationRecord
	for _, r := range c.records {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	return out
}

func (c *RecordCache) Len() int {
	c.m.RLock()
	defer c.m.RUnlock()
	return len(c.records)
}

// SafeCounter is a thread-safe counter
type SafeCounter struct {
	mu sync.Mutex
	v  int
}

func (c *SafeCounter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *SafeCounter) Set(v int) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}

func (c *SafeCounter) Inc() {
	c.Add(1)
}

func (c *SafeCounter) Add(n int) {
	c.mu.Lock()
	c.v += n
	c.mu.Unlock()
}
