// Package lifecycle owns the parking locations of a session: it persists
// every change, keeps the in-memory mirror and the reminder timers in step
// with the store, and backfills placeholder addresses once back online.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/parkspot/tracker/internal/cache"
	"github.com/parkspot/tracker/internal/config"
	"github.com/parkspot/tracker/internal/geo"
	"github.com/parkspot/tracker/internal/notify"
	"github.com/parkspot/tracker/internal/session"
	"github.com/parkspot/tracker/internal/storage"
	"github.com/parkspot/tracker/internal/timer"
	"github.com/parkspot/tracker/pkg/core"
)

// TimerScheduler arms and cancels the reminder for a record.
type TimerScheduler interface {
	Schedule(rec core.LocationRecord) error
	Cancel(id string)
}

// AddressResolver turns coordinates into a readable address.
type AddressResolver interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// EventPublisher receives lifecycle events after the change is persisted.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e core.Event) error
}

// HistoryRecorder keeps long-term parking statistics.
type HistoryRecorder interface {
	RecordSession(ctx context.Context, rec core.LocationRecord, ended time.Time)
	RecordExtension(ctx context.Context, rec core.LocationRecord, minutes int)
}

// Dependencies holds all dependencies for the lifecycle manager
type Dependencies struct {
	Store     storage.Backend
	Timers    TimerScheduler
	Resolver  AddressResolver
	Notifier  notify.Notifier
	Session   *session.Context
	Logger    *slog.Logger
	Publisher EventPublisher
	History   HistoryRecorder
	Clock     timer.Clock
	Meter     metric.Meter
	Sync      config.SyncConfig
}

// Manager is the LocationLifecycleManager. All mutations are serialised by
// mu and persisted before the mirror changes.
type Manager struct {
	deps       Dependencies
	mu         sync.Mutex
	mirror     *cache.RecordCache
	reconciler *Reconciler
	metrics    *instruments
}

// New creates a manager. When Timers can report firings, the manager
// registers itself as the receiver.
func New(deps Dependencies) (*Manager, error) {
	if deps.Store == nil {
		return nil, errors.New("lifecycle: store is required")
	}
	if deps.Clock == nil {
		deps.Clock = timer.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard
	}
	if deps.Session == nil {
		deps.Session = session.NewContext(deps.Clock.Now())
	}
	if deps.Timers == nil {
		deps.Timers = timer.New(deps.Clock, deps.Logger)
	}

	m := &Manager{
		deps:   deps,
		mirror: cache.NewRecordCache(),
	}
	in, err := newInstruments(deps.Meter, m.mirror.Len)
	if err != nil {
		return nil, err
	}
	m.metrics = in
	m.reconciler = newReconciler(m, deps.Sync)

	if r, ok := deps.Timers.(interface{ OnFire(timer.FireFunc) }); ok {
		r.OnFire(m.HandleTimerFired)
	}
	return m, nil
}

// Reconciler returns the manager's address reconciliation context.
func (m *Manager) Reconciler() *Reconciler { return m.reconciler }

// Session returns the session context.
func (m *Manager) Session() *session.Context { return m.deps.Session }

// Load fills the mirror from the store and re-arms every timer. Timers
// whose deadline passed while the process was down fire straight away.
func (m *Manager) Load(ctx context.Context) error {
	records, err := m.deps.Store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("%w: load: %w", ErrPersistence, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.mirror.Reset(records)

	now := m.deps.Clock.Now()
	armed, overdue := 0, 0
	for _, rec := range records {
		if !rec.HasTimer() {
			continue
		}
		if !rec.ExpiryTime.After(now) {
			overdue++
		}
		if m.scheduleLocked(ctx, rec) {
			armed++
		}
	}
	m.deps.Logger.Info("Locations loaded", "records", len(records), "timers", armed, "overdue", overdue)
	return nil
}

// Records returns the mirror, most recent first.
func (m *Manager) Records() []core.LocationRecord {
	return m.mirror.All()
}

// Get returns one record.
func (m *Manager) Get(id string) (core.LocationRecord, error) {
	rec, ok := m.mirror.Get(id)
	if !ok {
		return core.LocationRecord{}, notFound(id)
	}
	return rec, nil
}

// DueTimers returns the records whose expiry is at or before now.
func (m *Manager) DueTimers(now time.Time) []core.LocationRecord {
	return m.mirror.Filter(func(r core.LocationRecord) bool {
		return r.HasTimer() && !r.ExpiryTime.After(now)
	})
}

// Create persists a new record, puts it at the front of the mirror and
// arms its timer. A timer that cannot be armed does not fail the call.
func (m *Manager) Create(ctx context.Context, rec core.LocationRecord) (core.LocationRecord, error) {
	if err := rec.Validate(); err != nil {
		return core.LocationRecord{}, err
	}
	rec = rec.Clone()

	m.mu.Lock()
	if _, exists := m.mirror.Get(rec.ID); exists {
		m.mu.Unlock()
		return core.LocationRecord{}, precondition("a location with id %q already exists", rec.ID)
	}
	if err := m.deps.Store.Save(ctx, rec); err != nil {
		m.mu.Unlock()
		return core.LocationRecord{}, persistence("save", rec.ID, err)
	}
	m.mirror.Prepend(rec)
	if rec.HasTimer() {
		m.scheduleLocked(ctx, rec)
	}
	m.mu.Unlock()

	m.metrics.created.Add(ctx, 1)
	m.deps.Logger.Info("Location created", "id", rec.ID, "manual", rec.IsManualPlacement, "timer", rec.HasTimer())
	m.publish(ctx, core.EventCreated, rec)
	m.moveView(ctx, rec)
	return rec.Clone(), nil
}

// Update applies patch to the record and persists the result. When the
// patch touches the expiry, the timer is re-armed from the merged record.
func (m *Manager) Update(ctx context.Context, id string, patch core.Patch) (core.LocationRecord, error) {
	m.mu.Lock()
	updated, err := m.updateLocked(ctx, id, patch)
	m.mu.Unlock()
	if err != nil {
		return core.LocationRecord{}, err
	}
	m.publish(ctx, core.EventUpdated, updated)
	return updated, nil
}

func (m *Manager) updateLocked(ctx context.Context, id string, patch core.Patch) (core.LocationRecord, error) {
	cur, ok := m.mirror.Get(id)
	if !ok {
		return core.LocationRecord{}, notFound(id)
	}
	if err := cur.Apply(patch).Validate(); err != nil {
		return core.LocationRecord{}, err
	}

	stored, err := m.deps.Store.Update(ctx, id, patch)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return core.LocationRecord{}, notFound(id)
		}
		return core.LocationRecord{}, persistence("update", id, err)
	}
	m.mirror.Replace(stored)

	if patch.TouchesExpiry() {
		m.scheduleLocked(ctx, stored)
	}
	return stored, nil
}

// Delete removes the record, its timer and any selection of it.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	cur, ok := m.mirror.Get(id)
	if !ok {
		m.mu.Unlock()
		return notFound(id)
	}
	if err := m.deps.Store.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.mu.Unlock()
		return persistence("delete", id, err)
	}
	m.mirror.Remove(id)
	m.deps.Timers.Cancel(id)
	m.deps.Session.ClearSelectionIf(id)
	m.mu.Unlock()

	m.metrics.deleted.Add(ctx, 1)
	m.deps.Logger.Info("Location deleted", "id", id)
	if m.deps.History != nil {
		m.deps.History.RecordSession(ctx, cur, m.deps.Clock.Now())
	}
	m.publishEvent(ctx, core.Event{Type: core.EventDeleted, LocationID: id, Time: m.deps.Clock.Now()})
	return nil
}

// ExtendTimer pushes the current deadline back by minutes. The new expiry
// is computed from the old deadline, not from now.
func (m *Manager) ExtendTimer(ctx context.Context, id string, minutes int) (core.LocationRecord, error) {
	if minutes <= 0 {
		return core.LocationRecord{}, precondition("extension must be at least one minute")
	}

	m.mu.Lock()
	cur, ok := m.mirror.Get(id)
	if !ok {
		m.mu.Unlock()
		return core.LocationRecord{}, notFound(id)
	}
	if !cur.HasTimer() {
		m.mu.Unlock()
		return core.LocationRecord{}, precondition("this location has no active timer")
	}
	expiry := cur.ExpiryTime.Add(time.Duration(minutes) * time.Minute)
	count := cur.Extensions() + 1
	updated, err := m.updateLocked(ctx, id, core.Patch{ExpiryTime: &expiry, ExtensionCount: &count})
	m.mu.Unlock()
	if err != nil {
		return core.LocationRecord{}, err
	}

	m.metrics.extended.Add(ctx, 1)
	if m.deps.History != nil {
		m.deps.History.RecordExtension(ctx, updated, minutes)
	}
	m.publish(ctx, core.EventTimerExtended, updated)
	return updated, nil
}

// CancelTimer stops the reminder and clears every timer field.
func (m *Manager) CancelTimer(ctx context.Context, id string) (core.LocationRecord, error) {
	m.mu.Lock()
	if _, ok := m.mirror.Get(id); !ok {
		m.mu.Unlock()
		return core.LocationRecord{}, notFound(id)
	}
	m.deps.Timers.Cancel(id)
	updated, err := m.updateLocked(ctx, id, core.ClearTimerPatch())
	m.mu.Unlock()
	if err != nil {
		return core.LocationRecord{}, err
	}
	m.publish(ctx, core.EventTimerCanceled, updated)
	return updated, nil
}

// Select marks the record as the session's selection and moves the view.
func (m *Manager) Select(ctx context.Context, id string) (core.LocationRecord, error) {
	rec, ok := m.mirror.Get(id)
	if !ok {
		return core.LocationRecord{}, notFound(id)
	}
	m.deps.Session.Select(id)
	m.moveView(ctx, rec)
	return rec, nil
}

// HandleTimerFired turns a fired timer into a reminder notice.
func (m *Manager) HandleTimerFired(fired core.LocationRecord) {
	ctx := context.Background()
	rec, ok := m.mirror.Get(fired.ID)
	if !ok {
		m.deps.Logger.Warn("Timer fired for unknown location", "id", fired.ID)
		return
	}

	now := m.deps.Clock.Now()
	title := "Parking time is up"
	if rec.HasTimer() && rec.ExpiryTime.After(now) {
		left := rec.ExpiryTime.Sub(now).Round(time.Minute)
		title = fmt.Sprintf("Parking expires in %d minutes", int(left.Minutes()))
	}
	body := rec.AddressOrEmpty()
	if body == "" || geo.IsPlaceholder(body) {
		body = geo.FormatPlaceholder(rec.Latitude, rec.Longitude)
	}

	m.metrics.fired.Add(ctx, 1)
	m.deps.Notifier.Notify(ctx, core.Notice{
		Key:     notify.TimerKeyPrefix + rec.ID,
		Level:   core.NoticeWarning,
		Title:   title,
		Body:    body,
		Time:    now,
		Subject: rec.ID,
	})
	m.publish(ctx, core.EventTimerFired, rec)
}

// scheduleLocked arms the timer for rec. Failures are logged and counted,
// never returned.
func (m *Manager) scheduleLocked(ctx context.Context, rec core.LocationRecord) bool {
	if err := m.deps.Timers.Schedule(rec); err != nil {
		m.metrics.scheduled.Add(ctx, 1)
		m.deps.Logger.Warn("Timer could not be scheduled",
			"id", rec.ID, "error", fmt.Errorf("%w: %w", ErrTimerScheduling, err))
		return false
	}
	return rec.HasTimer()
}

func (m *Manager) moveView(ctx context.Context, rec core.LocationRecord) {
	x, y := geo.To3857(rec.Latitude, rec.Longitude)
	center := core.ViewCenter{Latitude: rec.Latitude, Longitude: rec.Longitude, X: x, Y: y}
	m.deps.Session.SetViewCenter(center)
	m.publishEvent(ctx, core.Event{
		Type:       core.EventViewCenter,
		LocationID: rec.ID,
		Time:       m.deps.Clock.Now(),
		Center:     &center,
	})
}

func (m *Manager) publish(ctx context.Context, t core.EventType, rec core.LocationRecord) {
	rec = rec.Clone()
	m.publishEvent(ctx, core.Event{Type: t, LocationID: rec.ID, Time: m.deps.Clock.Now(), Record: &rec})
}

func (m *Manager) publishEvent(ctx context.Context, e core.Event) {
	if m.deps.Publisher == nil {
		return
	}
	if err := m.deps.Publisher.PublishEvent(ctx, e); err != nil {
		m.deps.Logger.Warn("Failed to publish event", "type", e.Type, "id", e.LocationID, "error", err)
	}
}
