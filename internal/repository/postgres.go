package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/policy-digitalization-core/internal/domain"
)

// PostgresStore implements Store using PostgreSQL. It expects the schema to
// already exist (created via migrations, see internal/database).
type PostgresStore struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewPostgresStore wraps an existing connection.
func NewPostgresStore(db *sql.DB, logger *logrus.Logger) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &PostgresStore{db: db, log: logger}, nil
}

// Store upserts the policy at its (payer, medication, version) key.
func (s *PostgresStore) Store(ctx context.Context, policy *domain.DigitizedPolicy) (string, error) {
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

	query := `
		INSERT INTO policy_cache (
			id, payer_name, medication_name, policy_version,
			content_hash, policy_json, cached_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (payer_name, medication_name, policy_version) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			policy_json = EXCLUDED.policy_json,
			cached_at = EXCLUDED.cached_at
		RETURNING id
	`

	var id string
	err = s.db.QueryRowContext(ctx, query,
		uuid.NewString(), payer, medication, version,
		contentHash, string(policyJSON), time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("storing policy: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"payer":      payer,
		"medication": medication,
		"version":    version,
		"hash":       contentHash,
	}).Info("Policy stored")

	return id, nil
}

// Load returns the stored policy or nil on miss; corrupted rows are logged
// and treated as misses.
func (s *PostgresStore) Load(ctx context.Context, payer, medication, version string) (*domain.DigitizedPolicy, error) {
	payerKey := NormalizeKey(payer)
	medKey := NormalizeKey(medication)
	if version == "" {
		version = domain.DefaultVersion
	}

	var policyJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT policy_json FROM policy_cache WHERE payer_name = $1 AND medication_name = $2 AND policy_version = $3",
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
	return &policy, nil
}

// StoreVersion stores the policy under an explicit version label.
func (s *PostgresStore) StoreVersion(ctx context.Context, policy *domain.DigitizedPolicy, version string) (string, error) {
	policy.Version = version
	return s.Store(ctx, policy)
}

// ListVersions returns all stored versions for the key, newest cached first.
func (s *PostgresStore) ListVersions(ctx context.Context, payer, medication string) ([]VersionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT policy_version, cached_at, content_hash
		FROM policy_cache
		WHERE payer_name = $1 AND medication_name = $2
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

// Invalidate deletes every stored version for the key.
func (s *PostgresStore) Invalidate(ctx context.Context, payer, medication string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM policy_cache WHERE payer_name = $1 AND medication_name = $2",
		NormalizeKey(payer), NormalizeKey(medication),
	)
	if err != nil {
		return false, fmt.Errorf("invalidating policy: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking invalidation result: %w", err)
	}
	return affected > 0, nil
}

// Count returns the total number of stored policy rows.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM policy_cache").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting policies: %w", err)
	}
	return count, nil
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
