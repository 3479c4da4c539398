package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/subcog/subcog/internal/errs"
	"github.com/subcog/subcog/internal/migrate"
	"github.com/subcog/subcog/internal/models"
)

const graphTable = "entities"

// maxTraversalDepth is the hard cap on Traverse/FindPath hop count.
const maxTraversalDepth = 6

// bitemporalClause builds the WHERE fragment equivalent to
// models.BitemporalPoint.IsVisible for a row with valid_start/valid_end/
// tx_at columns, defaulting to "visible now" when at is nil.
func bitemporalClause(at *models.BitemporalPoint) (string, []any) {
	validAt := time.Now().UTC()
	asOf := validAt
	if at != nil {
		validAt = at.ValidAt
		asOf = at.AsOf
	}
	return "(valid_start IS NULL OR valid_start <= ?) AND (valid_end IS NULL OR valid_end > ?) AND tx_at <= ?",
		[]any{validAt, validAt, asOf}
}

// SQLiteGraph is the default embedded Backend, reusing internal/index's
// schema-creation and transaction conventions against a dedicated database.
type SQLiteGraph struct {
	db *sql.DB
}

// NewSQLiteGraph opens or creates the graph database at dbPath, running
// pending migrations.
func NewSQLiteGraph(ctx context.Context, dbPath string) (*SQLiteGraph, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create graph directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite graph: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	runner := migrate.NewRunner(db, graphTable, nil)
	if err := runner.Run(ctx, graphMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteGraph{db: db}, nil
}

var graphMigrations = []migrate.Migration{
	{
		Version:     1,
		Description: "entities, relationships, mentions schema",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS entities (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				type TEXT NOT NULL,
				aliases TEXT NOT NULL DEFAULT '[]',
				properties TEXT NOT NULL DEFAULT '{}',
				confidence REAL NOT NULL DEFAULT 0,
				mention_count INTEGER NOT NULL DEFAULT 0,
				domain TEXT NOT NULL,
				valid_start TIMESTAMP,
				valid_end TIMESTAMP,
				tx_at TIMESTAMP NOT NULL,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type)`,
			`CREATE INDEX IF NOT EXISTS idx_entities_domain ON entities(domain)`,
			`CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name)`,
			`CREATE TABLE IF NOT EXISTS relationships (
				id TEXT PRIMARY KEY,
				from_entity TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
				to_entity TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
				type TEXT NOT NULL,
				confidence REAL NOT NULL DEFAULT 0,
				properties TEXT NOT NULL DEFAULT '{}',
				domain TEXT NOT NULL,
				valid_start TIMESTAMP,
				valid_end TIMESTAMP,
				tx_at TIMESTAMP NOT NULL,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships(from_entity)`,
			`CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_entity)`,
			`CREATE TABLE IF NOT EXISTS entity_mentions (
				entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
				memory_id TEXT NOT NULL,
				confidence REAL NOT NULL DEFAULT 0,
				context TEXT,
				created_at TIMESTAMP NOT NULL,
				PRIMARY KEY (entity_id, memory_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_mentions_memory ON entity_mentions(memory_id)`,
		},
	},
}

func (g *SQLiteGraph) CreateEntity(ctx context.Context, e *models.Entity) error {
	aliases, err := json.Marshal(e.Aliases)
	if err != nil {
		return fmt.Errorf("create entity: marshal aliases: %w", err)
	}
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return fmt.Errorf("create entity: marshal properties: %w", err)
	}
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO entities (
			id, name, type, aliases, properties, confidence, mention_count,
			domain, valid_start, valid_end, tx_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, type=excluded.type, aliases=excluded.aliases,
			properties=excluded.properties, confidence=excluded.confidence,
			mention_count=excluded.mention_count, domain=excluded.domain,
			valid_start=excluded.valid_start, valid_end=excluded.valid_end,
			tx_at=excluded.tx_at, updated_at=excluded.updated_at
	`,
		e.ID, e.Name, string(e.Type), string(aliases), string(props),
		e.Confidence, e.MentionCount, string(e.Domain),
		nullableTime(e.ValidTime.Start), nullableTime(e.ValidTime.End),
		e.TxTime.At(), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create entity: %w", err)
	}
	return nil
}

func (g *SQLiteGraph) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT id, name, type, aliases, properties, confidence, mention_count,
			domain, valid_start, valid_end, tx_at, created_at, updated_at
		FROM entities WHERE id = ?
	`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	return e, nil
}

func (g *SQLiteGraph) UpdateEntity(ctx context.Context, e *models.Entity) error {
	return g.CreateEntity(ctx, e)
}

// DeleteEntity closes the entity's valid-time interval rather than
// physically removing the row, preserving the bitemporal history.
func (g *SQLiteGraph) DeleteEntity(ctx context.Context, id string) error {
	return g.CloseEntityValidTime(ctx, id, time.Now().UTC())
}

// CloseEntityValidTime sets the entity's valid_end to at without deleting
// the row, preserving bitemporal history.
func (g *SQLiteGraph) CloseEntityValidTime(ctx context.Context, id string, at time.Time) error {
	_, err := g.db.ExecContext(ctx,
		`UPDATE entities SET valid_end = ?, updated_at = ? WHERE id = ? AND valid_end IS NULL`,
		at, at, id)
	if err != nil {
		return fmt.Errorf("close entity valid time: %w", err)
	}
	return nil
}

func (g *SQLiteGraph) QueryEntities(ctx context.Context, q models.EntityQuery) ([]models.Entity, error) {
	var clauses []string
	var args []any

	bc, bargs := bitemporalClause(q.At)
	clauses = append(clauses, bc)
	args = append(args, bargs...)
	if q.Type != nil {
		clauses = append(clauses, "type = ?")
		args = append(args, string(*q.Type))
	}
	if q.Domain != nil {
		clauses = append(clauses, "domain = ?")
		args = append(args, string(*q.Domain))
	}
	if q.NamePrefix != "" {
		clauses = append(clauses, "name LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(q.NamePrefix)+"%")
	}
	if q.MinConfidence > 0 {
		clauses = append(clauses, "confidence >= ?")
		args = append(args, q.MinConfidence)
	}

	query := "SELECT id, name, type, aliases, properties, confidence, mention_count, domain, valid_start, valid_end, tx_at, created_at, updated_at FROM entities"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY confidence DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var out []models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("query entities: scan: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (g *SQLiteGraph) CreateRelationship(ctx context.Context, r *models.Relationship) error {
	props, err := json.Marshal(r.Properties)
	if err != nil {
		return fmt.Errorf("create relationship: marshal properties: %w", err)
	}
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO relationships (
			id, from_entity, to_entity, type, confidence, properties,
			domain, valid_start, valid_end, tx_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			confidence=excluded.confidence, properties=excluded.properties,
			valid_start=excluded.valid_start, valid_end=excluded.valid_end,
			tx_at=excluded.tx_at
	`,
		r.ID, r.FromEntity, r.ToEntity, string(r.Type), r.Confidence, string(props),
		string(r.Domain), nullableTime(r.ValidTime.Start), nullableTime(r.ValidTime.End),
		r.TxTime.At(), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create relationship: %w", err)
	}
	return nil
}

func (g *SQLiteGraph) GetRelationship(ctx context.Context, id string) (*models.Relationship, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT id, from_entity, to_entity, type, confidence, properties,
			domain, valid_start, valid_end, tx_at, created_at
		FROM relationships WHERE id = ?
	`, id)
	r, err := scanRelationship(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get relationship: %w", err)
	}
	return r, nil
}

func (g *SQLiteGraph) DeleteRelationship(ctx context.Context, id string) error {
	return g.CloseRelationshipValidTime(ctx, id, time.Now().UTC())
}

// CloseRelationshipValidTime sets the relationship's valid_end to at
// without deleting the row.
func (g *SQLiteGraph) CloseRelationshipValidTime(ctx context.Context, id string, at time.Time) error {
	_, err := g.db.ExecContext(ctx,
		`UPDATE relationships SET valid_end = ? WHERE id = ? AND valid_end IS NULL`, at, id)
	if err != nil {
		return fmt.Errorf("close relationship valid time: %w", err)
	}
	return nil
}

func (g *SQLiteGraph) QueryRelationships(ctx context.Context, q models.RelationshipQuery) ([]models.Relationship, error) {
	var clauses []string
	var args []any

	bc, bargs := bitemporalClause(q.At)
	clauses = append(clauses, bc)
	args = append(args, bargs...)
	if q.FromEntity != "" {
		clauses = append(clauses, "from_entity = ?")
		args = append(args, q.FromEntity)
	}
	if q.ToEntity != "" {
		clauses = append(clauses, "to_entity = ?")
		args = append(args, q.ToEntity)
	}
	if q.Type != nil {
		clauses = append(clauses, "type = ?")
		args = append(args, string(*q.Type))
	}
	if q.MinConfidence > 0 {
		clauses = append(clauses, "confidence >= ?")
		args = append(args, q.MinConfidence)
	}

	query := "SELECT id, from_entity, to_entity, type, confidence, properties, domain, valid_start, valid_end, tx_at, created_at FROM relationships"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY confidence DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	defer rows.Close()

	var out []models.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("query relationships: scan: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (g *SQLiteGraph) RecordMention(ctx context.Context, m *models.EntityMention) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO entity_mentions (entity_id, memory_id, confidence, context, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_id, memory_id) DO UPDATE SET
			confidence=excluded.confidence, context=excluded.context
	`, m.EntityID, m.MemoryID, m.Confidence, m.Context, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("record mention: %w", err)
	}
	_, err = g.db.ExecContext(ctx, `
		UPDATE entities SET mention_count = (
			SELECT COUNT(*) FROM entity_mentions WHERE entity_id = ?
		) WHERE id = ?
	`, m.EntityID, m.EntityID)
	if err != nil {
		return fmt.Errorf("record mention: update count: %w", err)
	}
	return nil
}

func (g *SQLiteGraph) MentionsForMemory(ctx context.Context, memoryID string) ([]models.EntityMention, error) {
	return g.queryMentions(ctx, `WHERE memory_id = ?`, memoryID)
}

func (g *SQLiteGraph) MentionsForEntity(ctx context.Context, entityID string) ([]models.EntityMention, error) {
	return g.queryMentions(ctx, `WHERE entity_id = ?`, entityID)
}

func (g *SQLiteGraph) queryMentions(ctx context.Context, where string, arg string) ([]models.EntityMention, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT entity_id, memory_id, confidence, context, created_at FROM entity_mentions `+where, arg)
	if err != nil {
		return nil, fmt.Errorf("query mentions: %w", err)
	}
	defer rows.Close()

	var out []models.EntityMention
	for rows.Next() {
		var m models.EntityMention
		var context sql.NullString
		if err := rows.Scan(&m.EntityID, &m.MemoryID, &m.Confidence, &context, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("query mentions: scan: %w", err)
		}
		m.Context = context.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// Traverse performs a bounded-depth breadth-first walk outward from
// startEntityID, following relationships in either direction.
func (g *SQLiteGraph) Traverse(ctx context.Context, startEntityID string, maxDepth int, domain models.Domain) (models.TraversalResult, error) {
	if maxDepth > maxTraversalDepth {
		return models.TraversalResult{}, errs.New(errs.InvalidInput, "graph.Traverse",
			fmt.Errorf("max_depth %d exceeds hard cap of %d", maxDepth, maxTraversalDepth))
	}
	visited := map[string]bool{startEntityID: true}
	frontier := []string{startEntityID}

	var allEntities []models.Entity
	var allRelationships []models.Relationship
	seenRel := map[string]bool{}

	start, err := g.GetEntity(ctx, startEntityID)
	if err != nil {
		return models.TraversalResult{}, err
	}
	if start == nil {
		return models.TraversalResult{Depth: 0}, nil
	}
	allEntities = append(allEntities, *start)

	depth := 0
	for depth < maxDepth && len(frontier) > 0 {
		depth++
		var nextFrontier []string

		for _, id := range frontier {
			rels, err := g.relationshipsTouching(ctx, id, &domain)
			if err != nil {
				return models.TraversalResult{}, err
			}
			for _, r := range rels {
				if !seenRel[r.ID] {
					seenRel[r.ID] = true
					allRelationships = append(allRelationships, r)
				}
				other := r.ToEntity
				if other == id {
					other = r.FromEntity
				}
				if !visited[other] {
					visited[other] = true
					nextFrontier = append(nextFrontier, other)
					e, err := g.GetEntity(ctx, other)
					if err != nil {
						return models.TraversalResult{}, err
					}
					if e != nil {
						allEntities = append(allEntities, *e)
					}
				}
			}
		}
		frontier = nextFrontier
	}

	return models.TraversalResult{
		Entities:      allEntities,
		Relationships: allRelationships,
		Depth:         depth,
	}, nil
}

// relationshipsTouching returns every live relationship with entityID on
// either end, optionally restricted to domain (nil means any domain, used
// by FindPath which is not domain-scoped).
func (g *SQLiteGraph) relationshipsTouching(ctx context.Context, entityID string, domain *models.Domain) ([]models.Relationship, error) {
	query := `
		SELECT id, from_entity, to_entity, type, confidence, properties,
			domain, valid_start, valid_end, tx_at, created_at
		FROM relationships
		WHERE (from_entity = ? OR to_entity = ?)
			AND (valid_end IS NULL OR valid_end > CURRENT_TIMESTAMP)`
	args := []any{entityID, entityID}
	if domain != nil {
		query += " AND domain = ?"
		args = append(args, string(*domain))
	}

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("relationships touching: %w", err)
	}
	defer rows.Close()

	var out []models.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("relationships touching: scan: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// FindPath returns the shortest path between fromID and toID by a
// breadth-first search that explores one hop at a time; among paths tied
// for shortest, the one with the highest average edge confidence wins,
// since ties are only broken once a full BFS layer has been expanded.
func (g *SQLiteGraph) FindPath(ctx context.Context, fromID, toID string, maxDepth int) (models.GraphPath, bool, error) {
	const op = "graph.FindPath"
	if maxDepth > maxTraversalDepth {
		return models.GraphPath{}, false, errs.New(errs.InvalidInput, op, fmt.Errorf("max_depth %d exceeds hard cap of %d", maxDepth, maxTraversalDepth))
	}
	if fromID == toID {
		return models.GraphPath{}, true, nil
	}

	type pathState struct {
		rels    []models.Relationship
		confSum float32
	}

	visited := map[string]pathState{fromID: {}}
	frontier := []string{fromID}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		candidates := map[string]pathState{}
		for _, id := range frontier {
			cur := visited[id]
			rels, err := g.relationshipsTouching(ctx, id, nil)
			if err != nil {
				return models.GraphPath{}, false, fmt.Errorf("%s: %w", op, err)
			}
			for _, r := range rels {
				other := r.ToEntity
				if other == id {
					other = r.FromEntity
				}
				if _, already := visited[other]; already {
					continue
				}
				next := pathState{
					rels:    append(append([]models.Relationship{}, cur.rels...), r),
					confSum: cur.confSum + r.Confidence,
				}
				if best, ok := candidates[other]; !ok || next.confSum > best.confSum {
					candidates[other] = next
				}
			}
		}
		if len(candidates) == 0 {
			break
		}
		if st, ok := candidates[toID]; ok {
			return models.GraphPath{Relationships: st.rels, AvgConfidence: st.confSum / float32(len(st.rels))}, true, nil
		}

		frontier = frontier[:0]
		for id, st := range candidates {
			visited[id] = st
			frontier = append(frontier, id)
		}
	}

	return models.GraphPath{}, false, nil
}

func (g *SQLiteGraph) Stats(ctx context.Context, domain models.Domain) (models.GraphStats, error) {
	var stats models.GraphStats
	stats.EntitiesByType = map[models.EntityType]int{}
	stats.RelationshipsByType = map[models.RelationshipType]int{}

	rows, err := g.db.QueryContext(ctx, `
		SELECT type, COUNT(*) FROM entities
		WHERE domain = ? AND (valid_end IS NULL OR valid_end > CURRENT_TIMESTAMP)
		GROUP BY type
	`, string(domain))
	if err != nil {
		return stats, fmt.Errorf("stats: entity counts: %w", err)
	}
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			rows.Close()
			return stats, fmt.Errorf("stats: scan entity count: %w", err)
		}
		stats.EntitiesByType[models.EntityType(t)] = n
		stats.EntityCount += n
	}
	rows.Close()

	rows, err = g.db.QueryContext(ctx, `
		SELECT type, COUNT(*) FROM relationships
		WHERE domain = ? AND (valid_end IS NULL OR valid_end > CURRENT_TIMESTAMP)
		GROUP BY type
	`, string(domain))
	if err != nil {
		return stats, fmt.Errorf("stats: relationship counts: %w", err)
	}
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			rows.Close()
			return stats, fmt.Errorf("stats: scan relationship count: %w", err)
		}
		stats.RelationshipsByType[models.RelationshipType(t)] = n
		stats.RelationshipCount += n
	}
	rows.Close()

	if err := g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entity_mentions`).Scan(&stats.MentionCount); err != nil {
		return stats, fmt.Errorf("stats: mention count: %w", err)
	}

	if stats.EntityCount > 0 {
		stats.AvgRelationshipsPerNode = float32(stats.RelationshipCount) / float32(stats.EntityCount)
	}
	return stats, nil
}

// DeleteMemoryCascade removes mentions for memoryID, then deletes any
// entity left with zero mentions and its relationships.
func (g *SQLiteGraph) DeleteMemoryCascade(ctx context.Context, memoryID string) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete memory cascade: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT entity_id FROM entity_mentions WHERE memory_id = ?`, memoryID)
	if err != nil {
		return fmt.Errorf("delete memory cascade: find entities: %w", err)
	}
	var entityIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("delete memory cascade: scan: %w", err)
		}
		entityIDs = append(entityIDs, id)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entity_mentions WHERE memory_id = ?`, memoryID); err != nil {
		return fmt.Errorf("delete memory cascade: remove mentions: %w", err)
	}

	for _, id := range entityIDs {
		var remaining int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM entity_mentions WHERE entity_id = ?`, id).Scan(&remaining); err != nil {
			return fmt.Errorf("delete memory cascade: count remaining mentions: %w", err)
		}
		if remaining > 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM relationships WHERE from_entity = ? OR to_entity = ?`, id, id); err != nil {
			return fmt.Errorf("delete memory cascade: remove relationships: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete memory cascade: remove orphaned entity: %w", err)
		}
	}

	return tx.Commit()
}

// MergeEntities merges ids[1:] into ids[0], re-pointing relationships and
// mentions in one transaction, then closes the valid-time interval of each
// merged-away entity rather than deleting it.
func (g *SQLiteGraph) MergeEntities(ctx context.Context, ids []string, canonicalName string) error {
	const op = "graph.MergeEntities"
	if len(ids) < 2 {
		return errs.New(errs.InvalidInput, op, fmt.Errorf("merge requires at least 2 entity ids, got %d", len(ids)))
	}
	canonical := ids[0]
	merged := ids[1:]

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback()

	placeholders := make([]string, len(merged))
	args := make([]any, len(merged))
	for i, id := range merged {
		placeholders[i] = "?"
		args[i] = id
	}
	inClause := strings.Join(placeholders, ",")

	// Drop mentions of the merged-away entities that would collide with an
	// existing canonical mention for the same memory, then re-point the rest.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entity_mentions WHERE entity_id IN (`+inClause+`)
			AND memory_id IN (SELECT memory_id FROM entity_mentions WHERE entity_id = ?)`,
		append(append([]any{}, args...), canonical)...); err != nil {
		return fmt.Errorf("%s: dedupe mentions: %w", op, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE entity_mentions SET entity_id = ? WHERE entity_id IN (`+inClause+`)`,
		append([]any{canonical}, args...)...); err != nil {
		return fmt.Errorf("%s: repoint mentions: %w", op, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE relationships SET from_entity = ? WHERE from_entity IN (`+inClause+`)`,
		append([]any{canonical}, args...)...); err != nil {
		return fmt.Errorf("%s: repoint relationships from: %w", op, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE relationships SET to_entity = ? WHERE to_entity IN (`+inClause+`)`,
		append([]any{canonical}, args...)...); err != nil {
		return fmt.Errorf("%s: repoint relationships to: %w", op, err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET valid_end = ?, updated_at = ? WHERE id IN (`+inClause+`) AND valid_end IS NULL`,
		append([]any{now, now}, args...)...); err != nil {
		return fmt.Errorf("%s: close merged entities: %w", op, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET name = ?, updated_at = ? WHERE id = ?`,
		canonicalName, now, canonical); err != nil {
		return fmt.Errorf("%s: rename canonical entity: %w", op, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET mention_count = (
			SELECT COUNT(*) FROM entity_mentions WHERE entity_id = ?
		) WHERE id = ?`, canonical, canonical); err != nil {
		return fmt.Errorf("%s: recount mentions: %w", op, err)
	}

	return tx.Commit()
}

func (g *SQLiteGraph) CurrentVersion(ctx context.Context) (int, error) {
	return migrate.NewRunner(g.db, graphTable, nil).CurrentVersion(ctx)
}

func (g *SQLiteGraph) Close() error {
	return g.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (*models.Entity, error) {
	var e models.Entity
	var entityType, domain, aliasesJSON, propsJSON string
	var validStart, validEnd sql.NullTime
	var txAt time.Time

	err := row.Scan(&e.ID, &e.Name, &entityType, &aliasesJSON, &propsJSON,
		&e.Confidence, &e.MentionCount, &domain, &validStart, &validEnd,
		&txAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	e.Type = models.EntityType(entityType)
	e.Domain = models.Domain(domain)
	e.TxTime = models.TransactionTimeAt(txAt)
	e.ValidTime = models.ValidTimeRange{}
	if validStart.Valid {
		t := validStart.Time
		e.ValidTime.Start = &t
	}
	if validEnd.Valid {
		t := validEnd.Time
		e.ValidTime.End = &t
	}
	_ = json.Unmarshal([]byte(aliasesJSON), &e.Aliases)
	_ = json.Unmarshal([]byte(propsJSON), &e.Properties)
	return &e, nil
}

func scanRelationship(row scanner) (*models.Relationship, error) {
	var r models.Relationship
	var relType, domain, propsJSON string
	var validStart, validEnd sql.NullTime
	var txAt time.Time

	err := row.Scan(&r.ID, &r.FromEntity, &r.ToEntity, &relType, &r.Confidence,
		&propsJSON, &domain, &validStart, &validEnd, &txAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	r.Type = models.RelationshipType(relType)
	r.Domain = models.Domain(domain)
	r.TxTime = models.TransactionTimeAt(txAt)
	if validStart.Valid {
		t := validStart.Time
		r.ValidTime.Start = &t
	}
	if validEnd.Valid {
		t := validEnd.Time
		r.ValidTime.End = &t
	}
	_ = json.Unmarshal([]byte(propsJSON), &r.Properties)
	return &r, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}
