package models

import "time"

// EntityType is the closed set of knowledge-graph node kinds.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityTechnology   EntityType = "technology"
	EntityConcept      EntityType = "concept"
	EntityFile         EntityType = "file"
)

// RelationshipType is the closed set of edges between entities.
type RelationshipType string

const (
	RelWorksAt     RelationshipType = "works_at"
	RelUses        RelationshipType = "uses"
	RelDependsOn   RelationshipType = "depends_on"
	RelRelatesTo   RelationshipType = "relates_to"
	RelAuthoredBy  RelationshipType = "authored_by"
	RelPartOf      RelationshipType = "part_of"
	RelSupersedes  RelationshipType = "supersedes"
)

// Entity is a node in the knowledge graph: a person, org, technology,
// concept, or file recognized across one or more captured memories.
type Entity struct {
	ID         string
	Name       string
	Type       EntityType
	Aliases    []string
	Properties map[string]string
	Confidence float32

	MentionCount int

	Domain Domain

	ValidTime ValidTimeRange
	TxTime    TransactionTime

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Relationship is a directed, typed edge between two entities.
type Relationship struct {
	ID               string
	FromEntity       string
	ToEntity         string
	Type             RelationshipType
	Confidence       float32
	Properties       map[string]string

	Domain Domain

	ValidTime ValidTimeRange
	TxTime    TransactionTime

	CreatedAt time.Time
}

// EntityMention links an entity to the memory where it was recognized.
type EntityMention struct {
	EntityID   string
	MemoryID   string
	Confidence float32
	Context    string
	CreatedAt  time.Time
}

// EntityQuery filters Entity lookups.
type EntityQuery struct {
	Type          *EntityType
	Domain        *Domain
	NamePrefix    string
	MinConfidence float32
	Limit         int

	// At pins the query to a bitemporal point: an entity is returned only
	// when its valid-time range contains At.ValidAt and its transaction
	// time was known as of At.AsOf. Nil means "visible now" (ValidAt=now,
	// AsOf=now).
	At *BitemporalPoint
}

// NewEntityQuery returns an unfiltered query with no limit.
func NewEntityQuery() EntityQuery { return EntityQuery{} }

// WithType narrows the query to one entity type.
func (q EntityQuery) WithType(t EntityType) EntityQuery { q.Type = &t; return q }

// WithDomain narrows the query to one domain.
func (q EntityQuery) WithDomain(d Domain) EntityQuery { q.Domain = &d; return q }

// WithMinConfidence filters out entities below the given confidence.
func (q EntityQuery) WithMinConfidence(c float32) EntityQuery { q.MinConfidence = c; return q }

// WithLimit caps the number of returned entities.
func (q EntityQuery) WithLimit(n int) EntityQuery { q.Limit = n; return q }

// WithAt pins the query to a bitemporal point instead of "visible now".
func (q EntityQuery) WithAt(p BitemporalPoint) EntityQuery { q.At = &p; return q }

// RelationshipQuery filters Relationship lookups.
type RelationshipQuery struct {
	FromEntity    string
	ToEntity      string
	Type          *RelationshipType
	MinConfidence float32
	Limit         int

	// At pins the query to a bitemporal point, identically to EntityQuery.At.
	At *BitemporalPoint
}

// WithAt pins the query to a bitemporal point instead of "visible now".
func (q RelationshipQuery) WithAt(p BitemporalPoint) RelationshipQuery { q.At = &p; return q }

// TraversalResult is the set of entities and relationships reached by a
// bounded-depth graph walk from a starting entity.
type TraversalResult struct {
	Entities      []Entity
	Relationships []Relationship
	Depth         int
}

// GraphPath is one shortest path between two entities: the relationships
// traversed in order, plus their average confidence (used to break ties
// between equally-short paths).
type GraphPath struct {
	Relationships []Relationship
	AvgConfidence float32
}

// Length reports the number of edges (hops) in the path.
func (p GraphPath) Length() int { return len(p.Relationships) }

// GraphStats summarizes the knowledge graph's size.
type GraphStats struct {
	EntityCount             int
	EntitiesByType          map[EntityType]int
	RelationshipCount       int
	RelationshipsByType     map[RelationshipType]int
	MentionCount            int
	AvgRelationshipsPerNode float32
}
