package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkspot/tracker/pkg/core"
)

func withAddress(rec core.LocationRecord, addr string) core.LocationRecord {
	rec.Address = &addr
	return rec
}

func TestRun_OnlyPlaceholderCandidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := withAddress(record("a", 0), "⏳ 1.0, 2.0")
	a.Latitude, a.Longitude = 1, 2
	b := withAddress(record("b", 1), "Real St 1")
	b.Latitude, b.Longitude = 3, 4
	f.create(t, a)
	f.create(t, b)

	res, err := f.m.Reconciler().Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []resolveCall{{1, 2}}, f.resolver.Calls())
	assert.Equal(t, Result{Candidates: 1, Updated: 1}, res)

	gotA, _ := f.m.Get("a")
	assert.Equal(t, "Calle Resuelta 1", gotA.AddressOrEmpty())
	gotB, _ := f.m.Get("b")
	assert.Equal(t, "Real St 1", gotB.AddressOrEmpty())

	storedB, err := f.store.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, b, storedB)
}

func TestRun_AbsentAddressIsCandidate(t *testing.T) {
	f := newFixture(t)
	f.create(t, record("a", 0))
	f.create(t, withAddress(record("b", 1), "  "))

	res, err := f.m.Reconciler().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Candidates)
	assert.Len(t, f.resolver.Calls(), 2)
}

func TestRun_TwiceWithinThrottleRunsOnce(t *testing.T) {
	f := newFixture(t)
	f.create(t, withAddress(record("a", 0), "40.416800, -3.703800"))
	f.resolver.answer = func(float64, float64) (string, error) { return "", errors.New("offline") }
	r := f.m.Reconciler()

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	f.clock.Advance(4999 * time.Millisecond)
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Skipped)
	assert.Equal(t, "throttled", res.Reason)
	assert.Len(t, f.resolver.Calls(), 1)

	f.clock.Advance(time.Millisecond)
	res, err = r.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Len(t, f.resolver.Calls(), 2)
}

func TestRun_EmptyIsSilent(t *testing.T) {
	f := newFixture(t)
	f.create(t, withAddress(record("a", 0), "Real St 1"))

	res, err := f.m.Reconciler().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, f.toaster.Active())
	assert.Empty(t, f.sleeps)
}

func TestRun_SequentialWithDelay(t *testing.T) {
	f := newFixture(t)
	for i, id := range []string{"a", "b", "c"} {
		f.create(t, withAddress(record(id, i), "⏳ 1.0, 2.0"))
	}

	res, err := f.m.Reconciler().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Updated)
	assert.Equal(t, []time.Duration{800 * time.Millisecond, 800 * time.Millisecond, 800 * time.Millisecond}, f.sleeps)
}

func TestRun_FailuresAreIsolatedAndTallied(t *testing.T) {
	f := newFixture(t)
	good := withAddress(record("good", 0), "⏳ 1.0, 2.0")
	good.Latitude = 1
	bad := withAddress(record("bad", 1), "⏳ 3.0, 4.0")
	bad.Latitude = 3
	empty := withAddress(record("empty", 2), "⏳ 5.0, 6.0")
	empty.Latitude = 5
	f.create(t, good)
	f.create(t, bad)
	f.create(t, empty)

	f.resolver.answer = func(lat, _ float64) (string, error) {
		switch lat {
		case 3:
			return "", errors.New("429 too many requests")
		case 5:
			return "   ", nil
		}
		return "Gran Vía 1, Madrid", nil
	}

	res, err := f.m.Reconciler().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Candidates: 3, Updated: 1, Failed: 2}, res)

	gotBad, _ := f.m.Get("bad")
	assert.Equal(t, "⏳ 3.0, 4.0", gotBad.AddressOrEmpty())

	n, ok := f.toaster.Get(NoticeSync)
	require.True(t, ok)
	assert.Equal(t, "Synchronising 3 addresses", n.Title)
	n, ok = f.toaster.Get(NoticeSyncDone)
	require.True(t, ok)
	assert.Equal(t, core.NoticeSuccess, n.Level)
	assert.Equal(t, "1 address updated", n.Title)
	n, ok = f.toaster.Get(NoticeSyncFailed)
	require.True(t, ok)
	assert.Equal(t, core.NoticeWarning, n.Level)

	e, ok := f.events.Last(core.EventAddressSynced)
	require.True(t, ok)
	assert.Equal(t, "good", e.LocationID)
}

func TestRun_RepeatedPassesDoNotStackNotices(t *testing.T) {
	f := newFixture(t)
	f.create(t, withAddress(record("a", 0), "⏳ 1.0, 2.0"))
	f.resolver.answer = func(float64, float64) (string, error) { return "", errors.New("down") }
	r := f.m.Reconciler()

	for i := 0; i < 3; i++ {
		_, err := r.Run(context.Background())
		require.NoError(t, err)
		f.clock.Advance(5 * time.Second)
	}
	assert.Len(t, f.toaster.Active(), 2, "one progress and one failure notice")
}

func TestRun_DoesNotOverwriteAddressEditedMidPass(t *testing.T) {
	f := newFixture(t)
	f.create(t, withAddress(record("a", 0), "⏳ 1.0, 2.0"))
	f.resolver.answer = func(float64, float64) (string, error) {
		_, err := f.m.Update(context.Background(), "a", core.Patch{Address: core.Ptr("Typed by hand")})
		require.NoError(t, err)
		return "Resolved St", nil
	}

	res, err := f.m.Reconciler().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Updated)
	got, _ := f.m.Get("a")
	assert.Equal(t, "Typed by hand", got.AddressOrEmpty())
}

func TestRun_PersistenceFailureCounts(t *testing.T) {
	f := newFixture(t)
	f.create(t, withAddress(record("a", 0), "⏳ 1.0, 2.0"))
	f.store.failUpdate = true

	res, err := f.m.Reconciler().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
}

func TestRun_InterruptedCountsRemaining(t *testing.T) {
	f := newFixture(t)
	f.create(t, record("a", 0))
	f.create(t, record("b", 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.m.Reconciler().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Empty(t, f.resolver.Calls())
}

func TestRun_NoResolver(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) { d.Resolver = nil })
	f.create(t, record("a", 0))

	_, err := f.m.Reconciler().Run(context.Background())
	assert.ErrorIs(t, err, ErrResolution)
}

func TestOnConnectivity_TriggersOncePerEdge(t *testing.T) {
	f := newFixture(t)
	f.create(t, record("a", 0))
	r := f.m.Reconciler()

	r.OnConnectivity(true)
	assert.True(t, r.TriggerPending())
	f.clock.Advance(1999 * time.Millisecond)
	assert.Empty(t, f.resolver.Calls(), "waits for the network to settle")

	r.OnConnectivity(true)
	f.clock.Advance(time.Millisecond)
	assert.Len(t, f.resolver.Calls(), 1)
	assert.False(t, r.TriggerPending())

	// still online: no further automatic passes
	r.OnConnectivity(true)
	f.clock.Advance(time.Minute)
	assert.Len(t, f.resolver.Calls(), 1)
}

func TestOnConnectivity_NewEdgeSupersedesPending(t *testing.T) {
	f := newFixture(t)
	f.create(t, record("a", 0))
	r := f.m.Reconciler()

	r.OnConnectivity(true)
	f.clock.Advance(time.Second)
	r.OnConnectivity(false)
	assert.False(t, r.TriggerPending())
	r.OnConnectivity(true)

	f.clock.Advance(time.Second)
	assert.Empty(t, f.resolver.Calls(), "first trigger was cancelled")
	f.clock.Advance(time.Second)
	assert.Len(t, f.resolver.Calls(), 1)
	assert.Equal(t, 0, f.clock.Pending())
}

func TestOnConnectivity_GoingOfflineCancels(t *testing.T) {
	f := newFixture(t)
	f.create(t, record("a", 0))
	r := f.m.Reconciler()

	r.OnConnectivity(true)
	r.OnConnectivity(false)
	f.clock.Advance(time.Minute)
	assert.Empty(t, f.resolver.Calls())
}

func TestClose_CancelsPendingTrigger(t *testing.T) {
	f := newFixture(t)
	f.create(t, record("a", 0))
	r := f.m.Reconciler()

	r.OnConnectivity(true)
	r.Close()
	f.clock.Advance(time.Minute)
	assert.Empty(t, f.resolver.Calls())

	r.OnConnectivity(false)
	r.OnConnectivity(true)
	assert.False(t, r.TriggerPending(), "closed reconcilers never re-arm")
}

func TestTriggerManual_Offline(t *testing.T) {
	f := newFixture(t)
	f.create(t, record("a", 0))

	res, err := f.m.Reconciler().TriggerManual(context.Background())
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.True(t, res.Skipped)
	assert.Empty(t, f.resolver.Calls())

	n, ok := f.toaster.Get(NoticeSync)
	require.True(t, ok)
	assert.Contains(t, n.Title, "offline")
}

func TestTriggerManual_InProgress(t *testing.T) {
	f := newFixture(t)
	f.create(t, record("a", 0))
	r := f.m.Reconciler()
	r.OnConnectivity(true)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.resolver.answer = func(float64, float64) (string, error) {
		close(entered)
		<-release
		return "Somewhere 1", nil
	}

	done := make(chan Result)
	go func() {
		res, _ := r.Run(context.Background())
		done <- res
	}()
	<-entered

	assert.True(t, r.InProgress())
	_, err := r.TriggerManual(context.Background())
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, "An address sync is already in progress.", UserMessage(err))

	close(release)
	res := <-done
	assert.Equal(t, 1, res.Updated)
	assert.False(t, r.InProgress())
}

func TestTriggerManual_Runs(t *testing.T) {
	f := newFixture(t)
	f.create(t, record("a", 0))
	r := f.m.Reconciler()
	r.OnConnectivity(true)

	res, err := r.TriggerManual(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	// the automatic trigger armed above now falls inside the throttle window
	f.clock.Advance(2 * time.Second)
	assert.Len(t, f.resolver.Calls(), 1)

	res, err = r.TriggerManual(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	n, _ := f.toaster.Get(NoticeSync)
	assert.Equal(t, "Addresses were synchronised moments ago.", n.Title)
}

func TestTriggerManual_NothingToDo(t *testing.T) {
	f := newFixture(t)
	f.create(t, withAddress(record("a", 0), "Real St 1"))
	r := f.m.Reconciler()
	r.OnConnectivity(true)
	f.clock.Advance(2 * time.Second)

	f.clock.Advance(5 * time.Second)
	res, err := r.TriggerManual(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Candidates)
	n, ok := f.toaster.Get(NoticeSync)
	require.True(t, ok)
	assert.Equal(t, "All addresses are up to date.", n.Title)
}

func TestReconcilers_DoNotShareState(t *testing.T) {
	f1 := newFixture(t)
	f2 := newFixture(t)
	f1.create(t, record("a", 0))
	f2.create(t, record("a", 0))

	_, err := f1.m.Reconciler().Run(context.Background())
	require.NoError(t, err)
	res, err := f2.m.Reconciler().Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
}
