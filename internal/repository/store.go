// Package repository persists digitized policies in a versioned,
// content-addressed store keyed by (payer, medication, version). Two backends
// are provided: SQLite for single-node deployments and PostgreSQL for shared
// ones. Both serialize policies as canonical JSON and index rows by the
// normalized key.
package repository

import (
	"context"
	"strings"

	"github.com/policy-digitalization-core/internal/domain"
)

// VersionInfo is a lightweight listing entry for a stored policy version.
type VersionInfo struct {
	Version     string `json:"version"`
	CachedAt    string `json:"cached_at"`
	ContentHash string `json:"content_hash"`
}

// Store is the versioned policy store. Load returns (nil, nil) on a miss;
// corrupted rows are treated as misses with a warning, never as errors.
type Store interface {
	// Store upserts the policy at (payer, medication, policy version) and
	// returns the row id.
	Store(ctx context.Context, policy *domain.DigitizedPolicy) (string, error)

	// Load returns the policy stored under the key, or nil on miss.
	Load(ctx context.Context, payer, medication, version string) (*domain.DigitizedPolicy, error)

	// StoreVersion sets the policy's version label and stores it.
	StoreVersion(ctx context.Context, policy *domain.DigitizedPolicy, version string) (string, error)

	// ListVersions returns all stored versions for the key, most recently
	// cached first.
	ListVersions(ctx context.Context, payer, medication string) ([]VersionInfo, error)

	// Invalidate deletes every version stored for the key. It reports whether
	// any row was deleted.
	Invalidate(ctx context.Context, payer, medication string) (bool, error)

	// Count returns the total number of stored policy rows.
	Count(ctx context.Context) (int64, error)

	// Close releases the underlying database handle.
	Close() error
}

// NormalizeKey lower-cases a payer or medication name and replaces spaces
// with underscores, producing the store's key form.
func NormalizeKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}
