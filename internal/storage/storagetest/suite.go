// Package storagetest holds the behaviour every storage.Backend must share.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/parkspot/tracker/internal/storage"
	"github.com/parkspot/tracker/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, initialised backend. Cleanup is the factory's job.
type Factory func(t *testing.T) storage.Backend

var base = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

// Record builds a valid record offset minutes after a fixed base time.
func Record(id string, minutes int) core.LocationRecord {
	return core.LocationRecord{
		ID:          id,
		Latitude:    40.4168,
		Longitude:   -3.7038,
		Timestamp:   base.Add(time.Duration(minutes) * time.Minute),
		ParkingType: core.ParkingStreet,
	}
}

// Run exercises the storage.Backend contract.
func Run(t *testing.T, newBackend Factory) {
	ctx := context.Background()

	t.Run("empty store", func(t *testing.T) {
		b := newBackend(t)
		all, err := b.GetAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("save then get round trips every field", func(t *testing.T) {
		b := newBackend(t)
		expiry := base.Add(2 * time.Hour)
		rec := Record("full", 0)
		rec.Address = core.Ptr("⏳ 40.416800, -3.703800")
		rec.Note = core.Ptr("level -1")
		rec.ParkingType = core.ParkingGarage
		rec.IsManualPlacement = true
		rec.Accuracy = core.Ptr(8.0)
		rec.Cost = core.Ptr(2.5)
		rec.Photos = []string{"a.jpg"}
		rec.ExpiryTime = &expiry
		rec.ReminderMinutes = core.Ptr(15)
		rec.ExtensionCount = core.Ptr(0)

		require.NoError(t, b.Save(ctx, rec))

		got, err := b.Get(ctx, "full")
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.InDelta(t, rec.Latitude, got.Latitude, 1e-9)
		assert.InDelta(t, rec.Longitude, got.Longitude, 1e-9)
		assert.True(t, rec.Timestamp.Equal(got.Timestamp))
		assert.Equal(t, *rec.Address, got.AddressOrEmpty())
		assert.Equal(t, rec.Note, got.Note)
		assert.Equal(t, rec.ParkingType, got.ParkingType)
		assert.True(t, got.IsManualPlacement)
		assert.Equal(t, rec.Accuracy, got.Accuracy)
		assert.Equal(t, rec.Cost, got.Cost)
		assert.Equal(t, rec.Photos, got.Photos)
		require.NotNil(t, got.ExpiryTime)
		assert.True(t, expiry.Equal(*got.ExpiryTime))
		assert.Equal(t, rec.ReminderMinutes, got.ReminderMinutes)
		assert.Equal(t, rec.ExtensionCount, got.ExtensionCount)
	})

	t.Run("get unknown id", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Get(ctx, "nope")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("get all is most recent first", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Save(ctx, Record("old", 0)))
		require.NoError(t, b.Save(ctx, Record("new", 30)))
		require.NoError(t, b.Save(ctx, Record("mid", 10)))

		all, err := b.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "new", all[0].ID)
		assert.Equal(t, "mid", all[1].ID)
		assert.Equal(t, "old", all[2].ID)
	})

	t.Run("save replaces existing id", func(t *testing.T) {
		b := newBackend(t)
		rec := Record("dup", 0)
		require.NoError(t, b.Save(ctx, rec))
		rec.Note = core.Ptr("second")
		require.NoError(t, b.Save(ctx, rec))

		all, err := b.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "second", *all[0].Note)
	})

	t.Run("update merges patch", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Save(ctx, Record("u", 0)))

		got, err := b.Update(ctx, "u", core.Patch{Address: core.Ptr("Calle Mayor 5")})
		require.NoError(t, err)
		assert.Equal(t, "Calle Mayor 5", got.AddressOrEmpty())

		stored, err := b.Get(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, "Calle Mayor 5", stored.AddressOrEmpty())
	})

	t.Run("update clears timer fields", func(t *testing.T) {
		b := newBackend(t)
		expiry := base.Add(time.Hour)
		rec := Record("t", 0)
		rec.ExpiryTime = &expiry
		rec.ReminderMinutes = core.Ptr(5)
		rec.ExtensionCount = core.Ptr(2)
		require.NoError(t, b.Save(ctx, rec))

		_, err := b.Update(ctx, "t", core.ClearTimerPatch())
		require.NoError(t, err)

		stored, err := b.Get(ctx, "t")
		require.NoError(t, err)
		assert.Nil(t, stored.ExpiryTime)
		assert.Nil(t, stored.ReminderMinutes)
		assert.Nil(t, stored.ExtensionCount)
	})

	t.Run("update unknown id", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Update(ctx, "ghost", core.Patch{Note: core.Ptr("x")})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Save(ctx, Record("d", 0)))
		require.NoError(t, b.Delete(ctx, "d"))

		_, err := b.Get(ctx, "d")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, b.Delete(ctx, "d"), storage.ErrNotFound)
	})

	t.Run("returned records are copies", func(t *testing.T) {
		b := newBackend(t)
		rec := Record("c", 0)
		rec.Photos = []string{"x.jpg"}
		require.NoError(t, b.Save(ctx, rec))

		got, err := b.Get(ctx, "c")
		require.NoError(t, err)
		got.Photos[0] = "mutated.jpg"

		again, err := b.Get(ctx, "c")
		require.NoError(t, err)
		assert.Equal(t, "x.jpg", again.Photos[0])
	})
}
