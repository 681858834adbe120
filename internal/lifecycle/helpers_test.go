package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parkspot/tracker/internal/config"
	"github.com/parkspot/tracker/internal/notify"
	"github.com/parkspot/tracker/internal/storage"
	"github.com/parkspot/tracker/internal/storage/memory"
	"github.com/parkspot/tracker/internal/timer"
	"github.com/parkspot/tracker/internal/timer/timertest"
	"github.com/parkspot/tracker/pkg/core"
)

var base = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

var errDisk = errors.New("disk full")

// flakyStore wraps a backend and fails chosen operations.
type flakyStore struct {
	storage.Backend
	failGetAll bool
	failSave   bool
	failUpdate bool
	failDelete bool
}

func (s *flakyStore) GetAll(ctx context.Context) ([]core.LocationRecord, error) {
	if s.failGetAll {
		return nil, errDisk
	}
	return s.Backend.GetAll(ctx)
}

func (s *flakyStore) Save(ctx context.Context, rec core.LocationRecord) error {
	if s.failSave {
		return errDisk
	}
	return s.Backend.Save(ctx, rec)
}

func (s *flakyStore) Update(ctx context.Context, id string, p core.Patch) (core.LocationRecord, error) {
	if s.failUpdate {
		return core.LocationRecord{}, errDisk
	}
	return s.Backend.Update(ctx, id, p)
}

func (s *flakyStore) Delete(ctx context.Context, id string) error {
	if s.failDelete {
		return errDisk
	}
	return s.Backend.Delete(ctx, id)
}

type resolveCall struct {
	Lat, Lng float64
}

// fakeResolver answers from a function and records every call.
type fakeResolver struct {
	mu     sync.Mutex
	calls  []resolveCall
	answer func(lat, lng float64) (string, error)
}

func (r *fakeResolver) ReverseGeocode(_ context.Context, lat, lng float64) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, resolveCall{lat, lng})
	answer := r.answer
	r.mu.Unlock()
	if answer == nil {
		return "Calle Resuelta 1", nil
	}
	return answer(lat, lng)
}

func (r *fakeResolver) Calls() []resolveCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]resolveCall(nil), r.calls...)
}

type eventLog struct {
	mu     sync.Mutex
	events []core.Event
}

func (l *eventLog) PublishEvent(_ context.Context, e core.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) Types() []core.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func (l *eventLog) Last(t core.EventType) (core.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Type == t {
			return l.events[i], true
		}
	}
	return core.Event{}, false
}

type historyLog struct {
	sessions   []string
	extensions []int
}

func (h *historyLog) RecordSession(_ context.Context, rec core.LocationRecord, _ time.Time) {
	h.sessions = append(h.sessions, rec.ID)
}

func (h *historyLog) RecordExtension(_ context.Context, _ core.LocationRecord, minutes int) {
	h.extensions = append(h.extensions, minutes)
}

type fixture struct {
	m        *Manager
	store    *flakyStore
	timers   *timer.Manager
	clock    *timertest.Clock
	toaster  *notify.Toaster
	resolver *fakeResolver
	events   *eventLog
	history  *historyLog
	sleeps   []time.Duration
}

func newFixture(t *testing.T, opts ...func(*Dependencies)) *fixture {
	t.Helper()
	mem := memory.New(config.MemoryConfig{})
	require.NoError(t, mem.Init())
	t.Cleanup(func() { _ = mem.Close() })

	f := &fixture{
		store:    &flakyStore{Backend: mem},
		clock:    timertest.NewClock(base),
		toaster:  notify.NewToaster(0),
		resolver: &fakeResolver{},
		events:   &eventLog{},
		history:  &historyLog{},
	}
	f.timers = timer.New(f.clock, nil)

	deps := Dependencies{
		Store:     f.store,
		Timers:    f.timers,
		Resolver:  f.resolver,
		Notifier:  f.toaster,
		Publisher: f.events,
		History:   f.history,
		Clock:     f.clock,
		Sync: config.SyncConfig{
			Throttle:     5 * time.Second,
			RequestDelay: 800 * time.Millisecond,
			TriggerDelay: 2 * time.Second,
		},
	}
	for _, o := range opts {
		o(&deps)
	}

	m, err := New(deps)
	require.NoError(t, err)
	m.reconciler.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return ctx.Err()
	}
	f.m = m
	return f
}

func record(id string, minutes int) core.LocationRecord {
	return core.LocationRecord{
		ID:          id,
		Latitude:    40.4168,
		Longitude:   -3.7038,
		Timestamp:   base.Add(time.Duration(minutes) * time.Minute),
		ParkingType: core.ParkingStreet,
	}
}

func withTimer(rec core.LocationRecord, expiry time.Time, reminder *int) core.LocationRecord {
	rec.ExpiryTime = &expiry
	rec.ReminderMinutes = reminder
	return rec
}

func ids(records []core.LocationRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func (f *fixture) create(t *testing.T, rec core.LocationRecord) core.LocationRecord {
	t.Helper()
	got, err := f.m.Create(context.Background(), rec)
	require.NoError(t, err)
	return got
}
