package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gel2mdt-server/internal/domain"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, mock
}

func TestNewPostgresStore_NilDB(t *testing.T) {
	_, err := NewPostgresStore(nil)
	assert.Error(t, err)
}

func TestPostgresStore_Save(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO case_alerts`).
		WithArgs("110000123", "raredisease", "watch", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(7, created))

	a := &CaseAlert{GELID: "110000123", SampleType: domain.RareDisease, Comment: "watch"}
	require.NoError(t, store.Save(context.Background(), a))
	assert.Equal(t, int64(7), a.ID)
	assert.Equal(t, created, a.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .* FROM case_alerts WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "gel_id", "sample_type", "comment", "created_at", "updated_at"}))

	_, err := store.Get(context.Background(), 3)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestPostgresStore_List(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT .* FROM case_alerts`).
		WithArgs("cancer", 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "gel_id", "sample_type", "comment", "created_at", "updated_at"}).
			AddRow(1, "220000001", "cancer", "", now, now))

	got, err := store.List(context.Background(), domain.Cancer, 50, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.Cancer, got[0].SampleType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE case_alerts`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Update(context.Background(), &CaseAlert{ID: 9, GELID: "1", SampleType: domain.Cancer})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestNewStore_UnknownBackend(t *testing.T) {
	_, err := NewStore(domain.AlertsConfig{Backend: "mongo"}, "")
	assert.Error(t, err)
}
