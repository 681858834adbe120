package timer

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/parkspot/tracker/pkg/core"
)

// ErrInvalidTimer is returned by Schedule for records whose timer fields
// cannot produce a fire instant.
var ErrInvalidTimer = errors.New("invalid timer")

// State is where a location's timer sits in its lifecycle.
type State int

const (
	Unscheduled State = iota
	Scheduled
	Fired
	Cancelled
)

func (s State) String() string {
	switch s {
	case Scheduled:
		return "scheduled"
	case Fired:
		return "fired"
	case Cancelled:
		return "cancelled"
	default:
		return "unscheduled"
	}
}

// FireFunc receives the record a timer was scheduled with.
type FireFunc func(rec core.LocationRecord)

type entry struct {
	gen    uint64
	state  State
	fireAt time.Time
	record core.LocationRecord
	handle Handle
}

// Manager keeps at most one pending timer per location id.
type Manager struct {
	mu      sync.Mutex
	clock   Clock
	logger  *slog.Logger
	onFire  FireFunc
	gen     uint64
	entries map[string]*entry
}

// New creates a Manager. A nil clock means the system clock.
func New(clock Clock, logger *slog.Logger) *Manager {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		clock:   clock,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// OnFire sets the callback invoked when a timer fires.
func (m *Manager) OnFire(fn FireFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFire = fn
}

// FireAt returns the reminder instant for rec: expiry minus the lead time.
func FireAt(rec core.LocationRecord) (time.Time, error) {
	if rec.ExpiryTime == nil {
		return time.Time{}, fmt.Errorf("%w: no expiry", ErrInvalidTimer)
	}
	lead := 0
	if rec.ReminderMinutes != nil {
		lead = *rec.ReminderMinutes
	}
	if lead < 0 {
		return time.Time{}, fmt.Errorf("%w: negative reminder lead %d", ErrInvalidTimer, lead)
	}
	return rec.ExpiryTime.Add(-time.Duration(lead) * time.Minute), nil
}

// Schedule arms the timer for rec, replacing any pending one for the same
// id. A record without an expiry cancels instead. Fire instants already in
// the past fire as soon as possible.
func (m *Manager) Schedule(rec core.LocationRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidTimer)
	}
	if rec.ExpiryTime == nil {
		m.Cancel(rec.ID)
		return nil
	}
	fireAt, err := FireAt(rec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entries[rec.ID]
	if e == nil {
		e = &entry{}
		m.entries[rec.ID] = e
	}
	if e.handle != nil {
		e.handle.Stop()
	}
	m.gen++
	gen := m.gen
	e.gen = gen
	e.state = Scheduled
	e.fireAt = fireAt
	e.record = rec.Clone()

	delay := fireAt.Sub(m.clock.Now())
	if delay < 0 {
		m.logger.Info("timer deadline already passed, firing now", "id", rec.ID, "fireAt", fireAt)
		delay = 0
	}
	id := rec.ID
	e.handle = m.clock.AfterFunc(delay, func() { m.fire(id, gen) })
	m.logger.Debug("timer scheduled", "id", id, "fireAt", fireAt, "generation", gen)
	return nil
}

func (m *Manager) fire(id string, gen uint64) {
	m.mu.Lock()
	e := m.entries[id]
	if e == nil || e.gen != gen || e.state != Scheduled {
		m.mu.Unlock()
		return
	}
	e.state = Fired
	e.handle = nil
	rec := e.record.Clone()
	cb := m.onFire
	m.mu.Unlock()

	m.logger.Info("timer fired", "id", id)
	if cb != nil {
		cb(rec)
	}
}

// Cancel stops any pending timer for id. Unknown ids are fine.
func (m *Manager) Cancel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	if e == nil {
		return
	}
	if e.handle != nil {
		e.handle.Stop()
		e.handle = nil
	}
	if e.state == Scheduled {
		e.state = Cancelled
	}
	e.gen = 0
}

// State reports the timer state for id.
func (m *Manager) State(id string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.entries[id]; e != nil {
		return e.state
	}
	return Unscheduled
}

// Deadline returns the pending fire instant for id.
func (m *Manager) Deadline(id string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	if e == nil || e.state != Scheduled {
		return time.Time{}, false
	}
	return e.fireAt, true
}

// Pending returns the ids with an armed timer, sorted.
func (m *Manager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, e := range m.entries {
		if e.state == Scheduled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Stop cancels every pending timer.
func (m *Manager) Stop() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Cancel(id)
	}
}
