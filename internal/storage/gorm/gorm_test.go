package gormstorage

import (
	"context"
	"testing"

	"github.com/parkspot/tracker/internal/database"
	"github.com/parkspot/tracker/internal/logging"
	"github.com/parkspot/tracker/internal/model"
	"github.com/parkspot/tracker/internal/storage"
	"github.com/parkspot/tracker/internal/storage/storagetest"
	"github.com/parkspot/tracker/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	db, err := database.GetSqliteDB("")
	require.NoError(t, err)

	b := New(Dependencies{DB: db, LogManager: logging.NewSlogManager()})
	require.NoError(t, b.Init())
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBackendContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		return newTestBackend(t)
	})
}

func TestInit_NoDB(t *testing.T) {
	b := New(Dependencies{})
	assert.Error(t, b.Init())
	assert.NoError(t, b.Close())
}

func TestOperationsBeforeInit(t *testing.T) {
	db, err := database.GetSqliteDB("")
	require.NoError(t, err)
	b := New(Dependencies{DB: db})

	_, err = b.GetAll(context.Background())
	assert.Error(t, err)
	assert.Error(t, b.Save(context.Background(), storagetest.Record("a", 0)))
}

func TestSave_KeepsCreatedAtOnReplace(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	require.NoError(t, b.Save(ctx, storagetest.Record("a", 0)))
	var first model.ParkingLocation
	require.NoError(t, b.DB().Where("id = ?", "a").First(&first).Error)

	rec := storagetest.Record("a", 0)
	rec.Note = core.Ptr("replaced")
	require.NoError(t, b.Save(ctx, rec))
	var second model.ParkingLocation
	require.NoError(t, b.DB().Where("id = ?", "a").First(&second).Error)

	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
	assert.Equal(t, "replaced", second.Note.String)
}
