// Package graph implements the knowledge-graph side of subcog: entities,
// relationships, and mentions recognized across captured memories, with
// bitemporal visibility and bounded traversal.
package graph

import (
	"context"
	"time"

	"github.com/subcog/subcog/internal/models"
)

// Backend is the knowledge-graph store contract. Every method is
// bitemporal-aware: CreateEntity/CreateRelationship open a valid-time
// interval at transaction-time "now"; reads default to visible-now unless
// asOf is supplied.
type Backend interface {
	CreateEntity(ctx context.Context, e *models.Entity) error
	GetEntity(ctx context.Context, id string) (*models.Entity, error)
	UpdateEntity(ctx context.Context, e *models.Entity) error
	DeleteEntity(ctx context.Context, id string) error
	QueryEntities(ctx context.Context, q models.EntityQuery) ([]models.Entity, error)

	CreateRelationship(ctx context.Context, r *models.Relationship) error
	GetRelationship(ctx context.Context, id string) (*models.Relationship, error)
	DeleteRelationship(ctx context.Context, id string) error
	QueryRelationships(ctx context.Context, q models.RelationshipQuery) ([]models.Relationship, error)

	RecordMention(ctx context.Context, m *models.EntityMention) error
	MentionsForMemory(ctx context.Context, memoryID string) ([]models.EntityMention, error)
	MentionsForEntity(ctx context.Context, entityID string) ([]models.EntityMention, error)

	// Traverse walks outward from startEntityID up to maxDepth hops,
	// following relationships in either direction, restricted to domain.
	// maxDepth is rejected with an error above the hard cap of 6.
	Traverse(ctx context.Context, startEntityID string, maxDepth int, domain models.Domain) (models.TraversalResult, error)

	// FindPath returns the shortest path (by edge count) between fromID and
	// toID, exploring no more than maxDepth hops. Ties among equally-short
	// paths are broken in favor of the higher average edge confidence.
	// Returns a zero-length GraphPath with ok=false if no path exists within
	// maxDepth.
	FindPath(ctx context.Context, fromID, toID string, maxDepth int) (models.GraphPath, bool, error)

	// MergeEntities merges ids[1:] into ids[0] in a single transaction:
	// every relationship and mention referencing a non-canonical id is
	// re-pointed to ids[0], which is then renamed to canonicalName. Every
	// non-canonical entity's valid-time interval is closed, not deleted.
	// Requires len(ids) >= 2.
	MergeEntities(ctx context.Context, ids []string, canonicalName string) error

	// CloseEntityValidTime closes an entity's valid-time interval at the
	// given instant without deleting the row, preserving bitemporal history.
	CloseEntityValidTime(ctx context.Context, id string, at time.Time) error

	// CloseRelationshipValidTime closes a relationship's valid-time interval
	// at the given instant without deleting the row.
	CloseRelationshipValidTime(ctx context.Context, id string, at time.Time) error

	// Stats summarizes the current graph for one domain scope.
	Stats(ctx context.Context, domain models.Domain) (models.GraphStats, error)

	// DeleteMemoryCascade removes every mention/relationship/orphaned
	// entity whose only provenance was memoryID.
	DeleteMemoryCascade(ctx context.Context, memoryID string) error

	CurrentVersion(ctx context.Context) (int, error)
	Close() error
}
