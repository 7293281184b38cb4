package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/policy-digitalization-core/internal/domain"
)

// policyCacheSize bounds the in-process decode cache. Policies are immutable
// once stored, so cached entries never go stale except through Store or
// Invalidate, which evict explicitly.
const policyCacheSize = 128

// SQLiteStore implements Store using SQLite. It keeps a small LRU of decoded
// policies in front of the table to avoid re-parsing canonical JSON on every
// load.
type SQLiteStore struct {
	db    *sql.DB
	cache *lru.Cache[string, *domain.DigitizedPolicy]
	log   *logrus.Logger
}

// NewSQLiteStore opens (or creates) the SQLite policy store at dbPath.
func NewSQLiteStore(dbPath string, logger *logrus.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening policy store: %w", err)
	}

	// WAL mode so concurrent loads do not block a store in progress.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := createPolicySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	cache, err := lru.New[string, *domain.DigitizedPolicy](policyCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating policy cache: %w", err)
	}

	logger.WithField("path", dbPath).Info("SQLite policy store opened")

	return &SQLiteStore{db: db, cache: cache, log: logger}, nil
}

func createPolicySchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS policy_cache (
		id TEXT PRIMARY KEY,
		payer_name TEXT NOT NULL,
		medication_name TEXT NOT NULL,
		policy_version TEXT NOT NULL DEFAULT 'latest',
		content_hash TEXT NOT NULL,
		policy_json TEXT NOT NULL,
		cached_at DATETIME NOT NULL,
		UNIQUE(payer_name, medication_name, policy_version)
	);

	CREATE INDEX IF NOT EXISTS idx_policy_cache_key ON policy_cache(payer_name, medication_name);
	CREATE INDEX IF NOT EXISTS idx_policy_cache_cached_at ON policy_cache(cached_at);
	`
	_, err := db.Exec(schema)
	return err
}

func cacheKey(payer, medication, version string) string {
	return payer + "|" + medication + "|" + version
}

// Store upserts the policy at its (payer, medication, version) key.
func (s *SQLiteStore) Store(ctx context.Context, policy *domain.DigitizedPolicy) (string, error) {
	payer := NormalizeKey(policy.PayerName)
	medication := NormalizeKey(policy.MedicationName)
	version := policy.EffectiveVersion()

	policyJSON, err := policy.CanonicalJSON()
	if err != nil {
		return "", fmt.Errorf("serializing policy: %w", err)
	}
	contentHash, err := policy.ContentHash()
	if err != nil {
		return "", fmt.Errorf("hashing policy: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning store transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM policy_cache WHERE payer_name = ? AND medication_name = ? AND policy_version = ?",
		payer, medication, version,
	).Scan(&id)

	now := time.Now().UTC()
	switch {
	case err == nil:
		_, err = tx.ExecContext(ctx, `
			UPDATE policy_cache SET content_hash = ?, policy_json = ?, cached_at = ?
			WHERE id = ?
		`, contentHash, string(policyJSON), now, id)
		if err != nil {
			return "", fmt.Errorf("updating policy row: %w", err)
		}
	case err == sql.ErrNoRows:
		id = uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO policy_cache (id, payer_name, medication_name, policy_version, content_hash, policy_json, cached_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, id, payer, medication, version, contentHash, string(policyJSON), now)
		if err != nil {
			return "", fmt.Errorf("inserting policy row: %w", err)
		}
	default:
		return "", fmt.Errorf("checking existing policy row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing policy store: %w", err)
	}

	s.cache.Add(cacheKey(payer, medication, version), policy)

	s.log.WithFields(logrus.Fields{
		"payer":      payer,
		"medication": medication,
		"version":    version,
		"hash":       contentHash,
	}).Info("Policy stored")

	return id, nil
}

// Load returns the stored policy or nil on miss. A row whose JSON no longer
// deserializes is logged and treated as a miss.
func (s *SQLiteStore) Load(ctx context.Context, payer, medication, version string) (*domain.DigitizedPolicy, error) {
	payerKey := NormalizeKey(payer)
	medKey := NormalizeKey(medication)
	if version == "" {
		version = domain.DefaultVersion
	}

	if cached, ok := s.cache.Get(cacheKey(payerKey, medKey, version)); ok {
		return cached, nil
	}

	var policyJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT policy_json FROM policy_cache WHERE payer_name = ? AND medication_name = ? AND policy_version = ?",
		payerKey, medKey, version,
	).Scan(&policyJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading policy: %w", err)
	}

	var policy domain.DigitizedPolicy
	if err := json.Unmarshal([]byte(policyJSON), &policy); err != nil {
		s.log.WithFields(logrus.Fields{
			"payer":      payerKey,
			"medication": medKey,
			"version":    version,
			"error":      err,
		}).Warn("Corrupted cached policy, treating as miss")
		return nil, nil
	}

	s.cache.Add(cacheKey(payerKey, medKey, version), &policy)
	return &policy, nil
}

// StoreVersion stores the policy under an explicit version label.
func (s *SQLiteStore) StoreVersion(ctx context.Context, policy *domain.DigitizedPolicy, version string) (string, error) {
	policy.Version = version
	return s.Store(ctx, policy)
}

// ListVersions returns all stored versions for the key, newest cached first.
func (s *SQLiteStore) ListVersions(ctx context.Context, payer, medication string) ([]VersionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT policy_version, cached_at, content_hash
		FROM policy_cache
		WHERE payer_name = ? AND medication_name = ?
		ORDER BY cached_at DESC
	`, NormalizeKey(payer), NormalizeKey(medication))
	if err != nil {
		return nil, fmt.Errorf("listing policy versions: %w", err)
	}
	defer rows.Close()

	var versions []VersionInfo
	for rows.Next() {
		var info VersionInfo
		var cachedAt time.Time
		if err := rows.Scan(&info.Version, &cachedAt, &info.ContentHash); err != nil {
			return nil, fmt.Errorf("scanning version row: %w", err)
		}
		info.CachedAt = cachedAt.UTC().Format(time.RFC3339)
		versions = append(versions, info)
	}
	return versions, rows.Err()
}

// Invalidate deletes every stored version for the key and evicts cache entries.
func (s *SQLiteStore) Invalidate(ctx context.Context, payer, medication string) (bool, error) {
	payerKey := NormalizeKey(payer)
	medKey := NormalizeKey(medication)

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM policy_cache WHERE payer_name = ? AND medication_name = ?",
		payerKey, medKey,
	)
	if err != nil {
		return false, fmt.Errorf("invalidating policy: %w", err)
	}

	prefix := payerKey + "|" + medKey + "|"
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Remove(key)
		}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking invalidation result: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"payer":      payerKey,
		"medication": medKey,
		"deleted":    affected > 0,
	}).Info("Policy cache invalidated")

	return affected > 0, nil
}

// Count returns the total number of stored policy rows.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM policy_cache").Scan(&count)
	return count, err
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
