package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/parkspot/tracker/internal/config"
	"github.com/parkspot/tracker/internal/geo"
	"github.com/parkspot/tracker/internal/queue"
	"github.com/parkspot/tracker/internal/timer"
	"github.com/parkspot/tracker/pkg/core"
)

// Notice keys used by the reconciliation pass. Each replaces its previous
// notice instead of stacking.
const (
	NoticeSync       = "address-sync"
	NoticeSyncDone   = "address-sync-done"
	NoticeSyncFailed = "address-sync-failed"
)

const (
	DefaultThrottle     = 5 * time.Second
	DefaultRequestDelay = 800 * time.Millisecond
	DefaultTriggerDelay = 2 * time.Second
)

// Result summarises one reconciliation pass.
type Result struct {
	Skipped    bool   `json:"skipped"`
	Reason     string `json:"reason,omitempty"`
	Candidates int    `json:"candidates"`
	Updated    int    `json:"updated"`
	Failed     int    `json:"failed"`
}

// Reconciler backfills placeholder addresses. Its state belongs to one
// manager, so separate managers never share a throttle.
type Reconciler struct {
	m     *Manager
	clock timer.Clock
	cfg   config.SyncConfig
	sleep func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	inProgress bool
	hasRun     bool
	lastStart  time.Time
	online     bool
	closed     bool
	pending    timer.Handle
	triggerGen uint64
}

func newReconciler(m *Manager, cfg config.SyncConfig) *Reconciler {
	if cfg.Throttle <= 0 {
		cfg.Throttle = DefaultThrottle
	}
	if cfg.RequestDelay <= 0 {
		cfg.RequestDelay = DefaultRequestDelay
	}
	if cfg.TriggerDelay <= 0 {
		cfg.TriggerDelay = DefaultTriggerDelay
	}
	return &Reconciler{
		m:     m,
		clock: m.deps.Clock,
		cfg:   cfg,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// InProgress reports whether a pass is running.
func (r *Reconciler) InProgress() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inProgress
}

// Online reports the last connectivity status seen.
func (r *Reconciler) Online() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

// TriggerPending reports whether an automatic pass is waiting to start.
func (r *Reconciler) TriggerPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != nil
}

// Run executes one pass unless one is running or the last one started
// less than the throttle window ago. Skipping is not an error.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	now := r.clock.Now()
	r.mu.Lock()
	if r.inProgress {
		r.mu.Unlock()
		return Result{Skipped: true, Reason: "in progress"}, nil
	}
	if r.hasRun && now.Sub(r.lastStart) < r.cfg.Throttle {
		r.mu.Unlock()
		return Result{Skipped: true, Reason: "throttled"}, nil
	}
	r.inProgress = true
	r.hasRun = true
	r.lastStart = now
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inProgress = false
		r.mu.Unlock()
	}()
	return r.pass(ctx)
}

func (r *Reconciler) pass(ctx context.Context) (Result, error) {
	m := r.m
	logger := m.deps.Logger

	candidates := queue.New(m.mirror.Filter(func(rec core.LocationRecord) bool {
		return geo.NeedsResolution(rec.Address)
	})...)
	res := Result{Candidates: candidates.Len()}
	if candidates.Empty() {
		m.metrics.pass(ctx, "empty")
		return res, nil
	}
	if m.deps.Resolver == nil {
		m.metrics.pass(ctx, "no_resolver")
		return res, fmt.Errorf("%w: no address resolver configured", ErrResolution)
	}

	logger.Info("Address sync started", "candidates", res.Candidates)
	r.notify(ctx, core.NoticeInfo, NoticeSync,
		fmt.Sprintf("Synchronising %d %s", res.Candidates, plural(res.Candidates, "address", "addresses")), "")

	for {
		rec, ok := candidates.Pop()
		if !ok {
			break
		}
		if err := r.sleep(ctx, r.cfg.RequestDelay); err != nil {
			candidates.PushFront(rec)
			remaining := candidates.Drain()
			res.Failed += len(remaining)
			logger.Warn("Address sync interrupted", "error", err, "remaining", len(remaining), "next", remaining[0].ID)
			break
		}

		updated, err := r.resolveOne(ctx, rec)
		switch {
		case err != nil:
			res.Failed++
			m.metrics.failed.Add(ctx, 1)
			logger.Warn("Address resolution failed", "id", rec.ID, "error", err)
		case updated:
			res.Updated++
			m.metrics.resolved.Add(ctx, 1)
		}
	}

	if res.Updated > 0 {
		r.notify(ctx, core.NoticeSuccess, NoticeSyncDone,
			fmt.Sprintf("%d %s updated", res.Updated, plural(res.Updated, "address", "addresses")), "")
	}
	if res.Failed > 0 {
		r.notify(ctx, core.NoticeWarning, NoticeSyncFailed,
			fmt.Sprintf("%d %s could not be resolved", res.Failed, plural(res.Failed, "address", "addresses")),
			"They will be retried on the next sync.")
	}

	outcome := "ok"
	if res.Failed > 0 {
		outcome = "partial"
	}
	m.metrics.pass(ctx, outcome)
	logger.Info("Address sync finished", "updated", res.Updated, "failed", res.Failed)
	return res, nil
}

// resolveOne looks up one record and applies the result. It reports
// whether the record changed. A record whose address was resolved or
// edited while the pass ran is left alone.
func (r *Reconciler) resolveOne(ctx context.Context, rec core.LocationRecord) (bool, error) {
	m := r.m
	addr, err := m.deps.Resolver.ReverseGeocode(ctx, rec.Latitude, rec.Longitude)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrResolution, err)
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false, fmt.Errorf("%w: empty address", ErrResolution)
	}

	m.mu.Lock()
	cur, ok := m.mirror.Get(rec.ID)
	if !ok || !geo.NeedsResolution(cur.Address) || cur.AddressOrEmpty() == addr {
		m.mu.Unlock()
		return false, nil
	}
	updated, err := m.updateLocked(ctx, rec.ID, core.Patch{Address: &addr})
	m.mu.Unlock()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	m.publish(ctx, core.EventAddressSynced, updated)
	return true, nil
}

// OnConnectivity reacts to status changes. Only an offline to online edge
// arms the delayed pass; a newer edge replaces a pending one and going
// offline cancels it.
func (r *Reconciler) OnConnectivity(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	was := r.online
	r.online = online
	if !online {
		r.cancelPendingLocked()
		return
	}
	if was || r.closed {
		return
	}
	r.cancelPendingLocked()
	r.triggerGen++
	gen := r.triggerGen
	r.pending = r.clock.AfterFunc(r.cfg.TriggerDelay, func() { r.fireTrigger(gen) })
}

func (r *Reconciler) cancelPendingLocked() {
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
	r.triggerGen++
}

func (r *Reconciler) fireTrigger(gen uint64) {
	r.mu.Lock()
	if gen != r.triggerGen || r.closed {
		r.mu.Unlock()
		return
	}
	r.pending = nil
	r.mu.Unlock()

	res, err := r.Run(context.Background())
	if err != nil {
		r.m.deps.Logger.Warn("Automatic address sync failed", "error", err)
		return
	}
	r.m.deps.Logger.Debug("Automatic address sync", "skipped", res.Skipped, "updated", res.Updated, "failed", res.Failed)
}

// TriggerManual runs a pass on user request. It refuses while offline or
// while a pass is running. Once started the pass is not tied to ctx.
func (r *Reconciler) TriggerManual(ctx context.Context) (Result, error) {
	r.mu.Lock()
	online, busy := r.online, r.inProgress
	r.mu.Unlock()

	if !online {
		err := precondition("You are offline. Addresses will sync when the connection returns.")
		r.notify(ctx, core.NoticeWarning, NoticeSync, err.Error(), "")
		return Result{Skipped: true, Reason: "offline"}, err
	}
	if busy {
		err := precondition("An address sync is already in progress.")
		r.notify(ctx, core.NoticeInfo, NoticeSync, err.Error(), "")
		return Result{Skipped: true, Reason: "in progress"}, err
	}

	res, err := r.Run(context.WithoutCancel(ctx))
	if err != nil {
		return res, err
	}
	switch {
	case res.Skipped && res.Reason == "in progress":
		err := precondition("An address sync is already in progress.")
		r.notify(ctx, core.NoticeInfo, NoticeSync, err.Error(), "")
		return res, err
	case res.Skipped:
		r.notify(ctx, core.NoticeInfo, NoticeSync, "Addresses were synchronised moments ago.", "")
	case res.Candidates == 0:
		r.notify(ctx, core.NoticeSuccess, NoticeSync, "All addresses are up to date.", "")
	}
	return res, nil
}

// Close cancels a pending automatic pass. A pass already running finishes.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.cancelPendingLocked()
}

func (r *Reconciler) notify(ctx context.Context, level core.NoticeLevel, key, title, body string) {
	r.m.deps.Notifier.Notify(ctx, core.Notice{
		Key:   key,
		Level: level,
		Title: title,
		Body:  body,
		Time:  r.clock.Now(),
	})
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
