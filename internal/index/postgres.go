package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/subcog/subcog/internal/migrate"
	"github.com/subcog/subcog/internal/models"
)

// PostgresIndex is the shared-cluster IndexBackend.
// Lexical ranking uses Postgres' own tsvector/ts_rank rather than Bleve:
// Bleve is an embedded, single-process file index, and has no story for
// being shared by every process that talks to one Postgres cluster, so the
// search leg here is native to the backend instead of bolted on beside it.
type PostgresIndex struct {
	db *sql.DB
}

// NewPostgresIndex opens a connection pool against dsn and runs pending
// migrations. dsn is a standard postgres:// connection string.
func NewPostgresIndex(ctx context.Context, dsn string) (*PostgresIndex, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres index: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres index: %w", err)
	}

	runner := migrate.NewRunnerForDialect(db, memoriesTable, migrate.DialectPostgres, nil)
	if err := runner.Run(ctx, postgresMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresIndex{db: db}, nil
}

var postgresMigrations = []migrate.Migration{
	{
		Version:     1,
		Description: "initial memories/tags schema with tsvector search column",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS memories (
				id TEXT PRIMARY KEY,
				content TEXT NOT NULL,
				namespace TEXT NOT NULL,
				domain TEXT NOT NULL,
				status TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				tombstoned_at TIMESTAMPTZ,
				expires_at TIMESTAMPTZ,
				source TEXT,
				embedding BYTEA,
				is_summary BOOLEAN NOT NULL DEFAULT FALSE,
				source_memory_ids TEXT,
				user_id TEXT,
				agent_id TEXT,
				group_id TEXT,
				project TEXT,
				branch TEXT,
				file TEXT,
				content_tsv TSVECTOR NOT NULL GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
			)`,
			`CREATE INDEX IF NOT EXISTS idx_memories_namespace ON memories(namespace)`,
			`CREATE INDEX IF NOT EXISTS idx_memories_domain ON memories(domain)`,
			`CREATE INDEX IF NOT EXISTS idx_memories_status ON memories(status)`,
			`CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_memories_content_tsv ON memories USING GIN(content_tsv)`,
			`CREATE TABLE IF NOT EXISTS memory_tags (
				memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
				tag TEXT NOT NULL,
				PRIMARY KEY (memory_id, tag)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_memory_tags_tag ON memory_tags(tag)`,
		},
	},
}

// Index upserts a memory's row and tags; content_tsv regenerates automatically.
func (p *PostgresIndex) Index(ctx context.Context, m *models.Memory) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback()

	sourceIDs, err := json.Marshal(m.SourceMemoryIDs)
	if err != nil {
		return fmt.Errorf("index: marshal source_memory_ids: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (
			id, content, namespace, domain, status, created_at, updated_at,
			tombstoned_at, expires_at, source, embedding, is_summary,
			source_memory_ids, user_id, agent_id, group_id, project, branch, file
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			content=excluded.content, namespace=excluded.namespace,
			domain=excluded.domain, status=excluded.status,
			updated_at=excluded.updated_at, tombstoned_at=excluded.tombstoned_at,
			expires_at=excluded.expires_at, source=excluded.source,
			embedding=excluded.embedding, is_summary=excluded.is_summary,
			source_memory_ids=excluded.source_memory_ids, user_id=excluded.user_id,
			agent_id=excluded.agent_id, group_id=excluded.group_id,
			project=excluded.project, branch=excluded.branch, file=excluded.file
	`,
		m.ID, m.Content, string(m.Namespace), string(m.Domain), string(m.Status),
		m.CreatedAt, m.UpdatedAt, nullableTime(m.TombstonedAt), nullableTime(m.ExpiresAt),
		m.Source, encodeEmbedding(m.Embedding), m.IsSummary, string(sourceIDs),
		m.UserID, m.AgentID, m.GroupID, m.Project, m.Branch, m.File,
	)
	if err != nil {
		return fmt.Errorf("index: upsert memory row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_tags WHERE memory_id = $1`, m.ID); err != nil {
		return fmt.Errorf("index: clear tags: %w", err)
	}
	for _, tag := range m.Tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memory_tags (memory_id, tag) VALUES ($1, $2)`, m.ID, tag); err != nil {
			return fmt.Errorf("index: insert tag: %w", err)
		}
	}

	return tx.Commit()
}

// GetMemory fetches one memory by id.
func (p *PostgresIndex) GetMemory(ctx context.Context, id string) (*models.Memory, error) {
	memories, err := p.GetMemoriesBatch(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(memories) == 0 {
		return nil, nil
	}
	return memories[0], nil
}

// GetMemoriesBatch fetches many memories in one round-trip.
func (p *PostgresIndex) GetMemoriesBatch(ctx context.Context, ids []string) ([]*models.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, content, namespace, domain, status, created_at, updated_at,
			tombstoned_at, expires_at, source, embedding, is_summary,
			source_memory_ids, user_id, agent_id, group_id, project, branch, file
		FROM memories WHERE id IN (%s)
	`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("get memories batch: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*models.Memory, len(ids))
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("get memories batch: scan: %w", err)
		}
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get memories batch: %w", err)
	}

	for id, m := range byID {
		tags, err := p.tagsFor(ctx, id)
		if err != nil {
			return nil, err
		}
		m.Tags = tags
	}

	out := make([]*models.Memory, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (p *PostgresIndex) tagsFor(ctx context.Context, memoryID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT tag FROM memory_tags WHERE memory_id = $1`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("read tags for %s: %w", memoryID, err)
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// Search ranks by ts_rank over content_tsv, using plainto_tsquery so callers
// can pass free-text queries without learning tsquery syntax.
func (p *PostgresIndex) Search(ctx context.Context, query string, filter models.Filter, limit int) ([]ScoredID, error) {
	where, args := buildPostgresFilterClause(filter, 2)
	if where != "" {
		where = " AND " + where
	}
	sqlQuery := fmt.Sprintf(`
		SELECT id, ts_rank(content_tsv, plainto_tsquery('english', $1)) AS rank
		FROM memories
		WHERE content_tsv @@ plainto_tsquery('english', $1)%s
		ORDER BY rank DESC
		LIMIT %d
	`, where, limit)

	allArgs := append([]any{query}, args...)
	rows, err := p.db.QueryContext(ctx, sqlQuery, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("postgres search: %w", err)
	}
	defer rows.Close()

	var out []ScoredID
	for rows.Next() {
		var s ScoredID
		if err := rows.Scan(&s.ID, &s.Score); err != nil {
			return nil, fmt.Errorf("postgres search: scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListAll enumerates memories under filter only, with offset/limit pagination.
func (p *PostgresIndex) ListAll(ctx context.Context, filter models.Filter, offset, limit int) ([]ScoredID, error) {
	where, args := buildPostgresFilterClause(filter, 1)
	if where != "" {
		where = " WHERE " + where
	}
	nextArg := len(args) + 1
	query := fmt.Sprintf(`SELECT id FROM memories%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, nextArg, nextArg+1)
	args = append(args, limit, offset)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list all: %w", err)
	}
	defer rows.Close()

	var out []ScoredID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list all: scan: %w", err)
		}
		out = append(out, ScoredID{ID: id, Score: 0})
	}
	return out, rows.Err()
}

// Remove hard-deletes a memory; tags cascade via the FK.
func (p *PostgresIndex) Remove(ctx context.Context, id string) (bool, error) {
	result, err := p.db.ExecContext(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("remove: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// CurrentVersion reports the applied schema version for the memories table.
func (p *PostgresIndex) CurrentVersion(ctx context.Context) (int, error) {
	return migrate.NewRunnerForDialect(p.db, memoriesTable, migrate.DialectPostgres, nil).CurrentVersion(ctx)
}

// Close releases the connection pool.
func (p *PostgresIndex) Close() error {
	return p.db.Close()
}

// buildPostgresFilterClause renders filter's conjunctive facets as a bare
// "clause1 AND clause2 ..." fragment (no leading keyword), with $N
// placeholders starting at startArg. Mirrors buildFilterClause's SQLite
// semantics; callers prepend "WHERE " or " AND " as their query shape needs.
func buildPostgresFilterClause(filter models.Filter, startArg int) (string, []any) {
	var clauses []string
	var args []any
	next := startArg

	arg := func(v any) string {
		args = append(args, v)
		s := fmt.Sprintf("$%d", next)
		next++
		return s
	}

	if len(filter.Namespaces) > 0 {
		ph := make([]string, len(filter.Namespaces))
		for i, ns := range filter.Namespaces {
			ph[i] = arg(string(ns))
		}
		clauses = append(clauses, "namespace IN ("+strings.Join(ph, ",")+")")
	}
	if filter.Domain != nil {
		clauses = append(clauses, "domain = "+arg(string(*filter.Domain)))
	}
	if len(filter.Status) > 0 {
		ph := make([]string, len(filter.Status))
		for i, st := range filter.Status {
			ph[i] = arg(string(st))
		}
		clauses = append(clauses, "status IN ("+strings.Join(ph, ",")+")")
	} else if !filter.IncludeTombstoned {
		clauses = append(clauses, "status != "+arg(string(models.StatusTombstoned)))
	}
	if !filter.IncludeExpired {
		clauses = append(clauses, "(expires_at IS NULL OR expires_at > now())")
	}
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = "+arg(filter.UserID))
	}
	if filter.AgentID != "" {
		clauses = append(clauses, "agent_id = "+arg(filter.AgentID))
	}
	if filter.GroupID != "" {
		clauses = append(clauses, "group_id = "+arg(filter.GroupID))
	}
	if filter.Project != "" {
		clauses = append(clauses, "project = "+arg(filter.Project))
	}
	if filter.Branch != "" {
		clauses = append(clauses, "branch = "+arg(filter.Branch))
	}
	if filter.File != "" {
		clauses = append(clauses, "file = "+arg(filter.File))
	}
	for _, tag := range filter.Tags {
		clauses = append(clauses, "id IN (SELECT memory_id FROM memory_tags WHERE tag = "+arg(tag)+")")
	}

	return strings.Join(clauses, " AND "), args
}
