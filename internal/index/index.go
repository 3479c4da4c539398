// Package index defines the persistent memory store contract and its
// concrete backends.
package index

import (
	"context"

	"github.com/subcog/subcog/internal/models"
)

// ScoredID is one (id, score) pair from a ranking query. Score is 0 for
// list_all enumeration, where there is no ranking.
type ScoredID struct {
	ID    string
	Score float32
}

// Backend is the core persistent memory store. Every concrete backend
// (SQLite, Postgres, Redis+RediSearch) implements this contract identically.
type Backend interface {
	// Index upserts a memory. Must be idempotent on id.
	Index(ctx context.Context, m *models.Memory) error

	// GetMemory fetches one memory by id, (nil, nil) if absent.
	GetMemory(ctx context.Context, id string) (*models.Memory, error)

	// GetMemoriesBatch fetches many memories by id in one round-trip. This is
	// the only supported path for recall fanout — callers MUST NOT loop
	// GetMemory over a result set.
	GetMemoriesBatch(ctx context.Context, ids []string) ([]*models.Memory, error)

	// Search performs full-text ranking (BM25 semantics) over content
	// restricted by filter, returning up to limit (id, score) pairs ordered
	// by descending score.
	Search(ctx context.Context, query string, filter models.Filter, limit int) ([]ScoredID, error)

	// ListAll enumerates memories under filter only, Score always 0.
	ListAll(ctx context.Context, filter models.Filter, offset, limit int) ([]ScoredID, error)

	// Remove hard-deletes a memory, reporting whether it existed.
	Remove(ctx context.Context, id string) (bool, error)

	// CurrentVersion returns the applied schema migration version, 0 if the
	// migrations table does not yet exist.
	CurrentVersion(ctx context.Context) (int, error)

	Close() error
}
