// Package vectorindex provides vector storage and similarity search over
// memory embeddings.
package vectorindex

import "context"

// Backend defines vector storage and nearest-neighbor search keyed by
// memory ID.
type Backend interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]Result, error)
	Remove(ctx context.Context, ids []string) error
	Save(path string) error
	Load(path string) error
	Size() int
	Close() error
}

// Result is a single vector search hit: a memory ID and its similarity
// score (cosine similarity on normalized vectors, 0-1).
type Result struct {
	ID    string
	Score float64
}
