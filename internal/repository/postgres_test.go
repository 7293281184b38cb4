package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	store, err := NewPostgresStore(db, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, mock
}

func TestNewPostgresStoreRequiresConnection(t *testing.T) {
	_, err := NewPostgresStore(nil, testLogger())
	assert.Error(t, err)
}

func TestPostgresStoreUpsert(t *testing.T) {
	store, mock := createMockStore(t)
	policy := testPolicy("2024-01")

	mock.ExpectQuery("INSERT INTO policy_cache").
		WithArgs(sqlmock.AnyArg(), "acme_health", "adalimumab", "2024-01",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("row-1"))

	id, err := store.Store(context.Background(), policy)
	require.NoError(t, err)
	assert.Equal(t, "row-1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreLoad(t *testing.T) {
	store, mock := createMockStore(t)

	policyJSON, err := testPolicy("2024-01").CanonicalJSON()
	require.NoError(t, err)

	mock.ExpectQuery("SELECT policy_json FROM policy_cache").
		WithArgs("acme_health", "adalimumab", "2024-01").
		WillReturnRows(sqlmock.NewRows([]string{"policy_json"}).AddRow(string(policyJSON)))

	loaded, err := store.Load(context.Background(), "Acme Health", "Adalimumab", "2024-01")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "pol-001", loaded.PolicyID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreLoadMiss(t *testing.T) {
	store, mock := createMockStore(t)

	mock.ExpectQuery("SELECT policy_json FROM policy_cache").
		WithArgs("acme_health", "adalimumab", "latest").
		WillReturnRows(sqlmock.NewRows([]string{"policy_json"}))

	loaded, err := store.Load(context.Background(), "Acme Health", "Adalimumab", "")
	require.NoError(t, err)
	assert.Nil(t, loaded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreLoadCorruptedRowIsAMiss(t *testing.T) {
	store, mock := createMockStore(t)

	mock.ExpectQuery("SELECT policy_json FROM policy_cache").
		WithArgs("acme_health", "adalimumab", "latest").
		WillReturnRows(sqlmock.NewRows([]string{"policy_json"}).AddRow("{not json"))

	loaded, err := store.Load(context.Background(), "Acme Health", "Adalimumab", "latest")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestPostgresStoreListVersions(t *testing.T) {
	store, mock := createMockStore(t)

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery("SELECT policy_version, cached_at, content_hash").
		WithArgs("acme_health", "adalimumab").
		WillReturnRows(sqlmock.NewRows([]string{"policy_version", "cached_at", "content_hash"}).
			AddRow("2024-01", now, "hash-new").
			AddRow("2023-06", now.Add(-24*time.Hour), "hash-old"))

	versions, err := store.ListVersions(context.Background(), "Acme Health", "Adalimumab")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "2024-01", versions[0].Version)
	assert.Equal(t, "2025-01-02T03:04:05Z", versions[0].CachedAt)
	assert.Equal(t, "hash-old", versions[1].ContentHash)
}

func TestPostgresStoreInvalidate(t *testing.T) {
	store, mock := createMockStore(t)

	mock.ExpectExec("DELETE FROM policy_cache").
		WithArgs("acme_health", "adalimumab").
		WillReturnResult(sqlmock.NewResult(0, 2))

	deleted, err := store.Invalidate(context.Background(), "Acme Health", "Adalimumab")
	require.NoError(t, err)
	assert.True(t, deleted)

	mock.ExpectExec("DELETE FROM policy_cache").
		WithArgs("acme_health", "adalimumab").
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err = store.Invalidate(context.Background(), "Acme Health", "Adalimumab")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestPostgresStoreCount(t *testing.T) {
	store, mock := createMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM policy_cache`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 7, count)
}
