package repository

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policy-digitalization-core/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "policies.db")
	store, err := NewSQLiteStore(dbPath, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testPolicy(version string) *domain.DigitizedPolicy {
	return &domain.DigitizedPolicy{
		PolicyID:       "pol-001",
		PayerName:      "Acme Health",
		MedicationName: "Adalimumab",
		Version:        version,
		AtomicCriteria: map[string]domain.AtomicCriterion{
			"crit_age": {
				CriterionID:    "crit_age",
				CriterionType:  domain.CriterionAge,
				Name:           "Minimum age",
				ThresholdValue: 18.0,
				IsRequired:     true,
			},
		},
		CriterionGroups: map[string]domain.CriterionGroup{
			"grp_root": {GroupID: "grp_root", Operator: domain.OperatorAND, Criteria: []string{"crit_age"}},
		},
		Indications: []domain.IndicationCriteria{
			{IndicationID: "ind_cd", IndicationName: "Crohn's Disease", InitialApprovalCriteria: "grp_root"},
		},
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Acme Health", "acme_health"},
		{"ADALIMUMAB", "adalimumab"},
		{"already_normalized", "already_normalized"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, NormalizeKey(tt.input))
	}
}

func TestNewSQLiteStoreCreatesFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "policies.db")
	store, err := NewSQLiteStore(dbPath, testLogger())
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist")
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	policy := testPolicy("2024-01")
	id, err := store.Store(ctx, policy)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	loaded, err := store.Load(ctx, "Acme Health", "Adalimumab", "2024-01")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "pol-001", loaded.PolicyID)
	assert.Equal(t, policy.AtomicCriteria["crit_age"].Name, loaded.AtomicCriteria["crit_age"].Name)

	storedHash, err := policy.ContentHash()
	require.NoError(t, err)
	loadedHash, err := loaded.ContentHash()
	require.NoError(t, err)
	assert.Equal(t, storedHash, loadedHash, "round trip must preserve content identity")
}

func TestSQLiteStoreMissReturnsNil(t *testing.T) {
	store := createTestStore(t)

	loaded, err := store.Load(context.Background(), "nobody", "nothing", "latest")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSQLiteStoreUpsertKeepsID(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	policy := testPolicy("2024-01")
	firstID, err := store.Store(ctx, policy)
	require.NoError(t, err)

	criterion := policy.AtomicCriteria["crit_age"]
	criterion.ThresholdValue = 21.0
	policy.AtomicCriteria["crit_age"] = criterion

	secondID, err := store.Store(ctx, policy)
	require.NoError(t, err)
	assert.Equal(t, firstID, secondID, "storing the same key again updates the row")

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestSQLiteStoreVersions(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	_, err := store.StoreVersion(ctx, testPolicy(""), "2023-06")
	require.NoError(t, err)
	_, err = store.StoreVersion(ctx, testPolicy(""), "2024-01")
	require.NoError(t, err)

	versions, err := store.ListVersions(ctx, "Acme Health", "Adalimumab")
	require.NoError(t, err)
	require.Len(t, versions, 2)

	labels := []string{versions[0].Version, versions[1].Version}
	assert.Contains(t, labels, "2023-06")
	assert.Contains(t, labels, "2024-01")
	for _, v := range versions {
		assert.NotEmpty(t, v.ContentHash)
		assert.NotEmpty(t, v.CachedAt)
	}

	// Versions are independent rows.
	old, err := store.Load(ctx, "Acme Health", "Adalimumab", "2023-06")
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.Equal(t, "2023-06", old.Version)
}

func TestSQLiteStoreDefaultVersion(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	_, err := store.Store(ctx, testPolicy(""))
	require.NoError(t, err)

	// Empty version on load resolves to "latest".
	loaded, err := store.Load(ctx, "Acme Health", "Adalimumab", "")
	require.NoError(t, err)
	require.NotNil(t, loaded)
}

func TestSQLiteStoreInvalidate(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	_, err := store.StoreVersion(ctx, testPolicy(""), "2023-06")
	require.NoError(t, err)
	_, err = store.StoreVersion(ctx, testPolicy(""), "2024-01")
	require.NoError(t, err)

	deleted, err := store.Invalidate(ctx, "Acme Health", "Adalimumab")
	require.NoError(t, err)
	assert.True(t, deleted)

	loaded, err := store.Load(ctx, "Acme Health", "Adalimumab", "2024-01")
	require.NoError(t, err)
	assert.Nil(t, loaded, "cache entries must be evicted with the rows")

	deleted, err = store.Invalidate(ctx, "Acme Health", "Adalimumab")
	require.NoError(t, err)
	assert.False(t, deleted, "second invalidation has nothing to delete")
}

func TestSQLiteStoreCorruptedRowIsAMiss(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	_, err := store.db.ExecContext(ctx, `
		INSERT INTO policy_cache (id, payer_name, medication_name, policy_version, content_hash, policy_json, cached_at)
		VALUES ('bad-row', 'acme_health', 'adalimumab', 'latest', 'deadbeef', '{not json', datetime('now'))
	`)
	require.NoError(t, err)

	loaded, err := store.Load(ctx, "Acme Health", "Adalimumab", "latest")
	require.NoError(t, err, "corruption must not surface as an error")
	assert.Nil(t, loaded)
}
