package alerts

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gel2mdt-server/internal/domain"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "alerts", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "alerts.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")
}

func TestSQLiteStore_SaveUpserts(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	alert := &CaseAlert{GELID: " 110000123 ", SampleType: domain.RareDisease, Comment: "call Dr Smith"}
	require.NoError(t, store.Save(ctx, alert))
	assert.NotZero(t, alert.ID)
	assert.Equal(t, "110000123", alert.GELID)
	assert.False(t, alert.CreatedAt.IsZero())

	again := &CaseAlert{GELID: "110000123", SampleType: domain.RareDisease, Comment: "urgent"}
	require.NoError(t, store.Save(ctx, again))
	assert.Equal(t, alert.ID, again.ID)

	// same participant in the other programme is a separate alert
	require.NoError(t, store.Save(ctx, &CaseAlert{GELID: "110000123", SampleType: domain.Cancer}))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	got, err := store.Get(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, "urgent", got.Comment)
}

func TestSQLiteStore_SaveValidates(t *testing.T) {
	store := createTestStore(t)
	var vErr *domain.ValidationError

	err := store.Save(context.Background(), &CaseAlert{GELID: "", SampleType: domain.Cancer})
	assert.True(t, errors.As(err, &vErr))

	err = store.Save(context.Background(), &CaseAlert{GELID: "1", SampleType: "solid"})
	assert.True(t, errors.As(err, &vErr))
}

func TestSQLiteStore_GetFindMissing(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, 42)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	a, err := store.Find(ctx, "nobody", domain.RareDisease)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestSQLiteStore_ListFiltersBySampleType(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	for _, a := range []*CaseAlert{
		{GELID: "1", SampleType: domain.RareDisease},
		{GELID: "2", SampleType: domain.Cancer},
		{GELID: "3", SampleType: domain.RareDisease},
	} {
		require.NoError(t, store.Save(ctx, a))
	}

	rd, err := store.List(ctx, domain.RareDisease, 10, 0)
	require.NoError(t, err)
	require.Len(t, rd, 2)
	assert.Equal(t, "3", rd[0].GELID)

	all, err := store.List(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	page, err := store.List(ctx, "", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "2", page[0].GELID)
}

func TestSQLiteStore_UpdateAndDelete(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	a := &CaseAlert{GELID: "1", SampleType: domain.RareDisease}
	require.NoError(t, store.Save(ctx, a))

	a.Comment = "family history"
	require.NoError(t, store.Update(ctx, a))
	got, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "family history", got.Comment)

	require.NoError(t, store.Delete(ctx, a.ID))
	assert.True(t, errors.Is(store.Update(ctx, a), domain.ErrNotFound))
}

func TestSQLiteStore_ExportImport(t *testing.T) {
	src := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, src.Save(ctx, &CaseAlert{GELID: "1", SampleType: domain.RareDisease, Comment: "a"}))
	require.NoError(t, src.Save(ctx, &CaseAlert{GELID: "2", SampleType: domain.Cancer, Comment: "b"}))

	var buf bytes.Buffer
	require.NoError(t, src.ExportJSON(ctx, &buf))
	assert.Contains(t, buf.String(), `"count": 2`)

	dst := createTestStore(t)
	require.NoError(t, dst.Save(ctx, &CaseAlert{GELID: "2", SampleType: domain.Cancer, Comment: "kept"}))

	imported, skipped, err := dst.ImportJSON(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Equal(t, 1, skipped)

	kept, err := dst.Find(ctx, "2", domain.Cancer)
	require.NoError(t, err)
	assert.Equal(t, "kept", kept.Comment)

	_, _, err = dst.ImportJSON(ctx, bytes.NewReader([]byte("not json")))
	assert.Error(t, err)
}
