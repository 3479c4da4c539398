package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	_ "github.com/mattn/go-sqlite3"

	"github.com/subcog/subcog/internal/migrate"
	"github.com/subcog/subcog/internal/models"
)

const memoriesTable = "memories"

// bleveDoc is the flattened shape indexed for lexical search. Bleve's own
// scorer already implements TF-IDF/BM25 token scoring, so it is reused here
// rather than reimplemented against sqlite FTS5.
type bleveDoc struct {
	Content   string `json:"content"`
	Namespace string `json:"namespace"`
	Domain    string `json:"domain"`
}

// SQLiteIndex is the default embedded IndexBackend: one SQLite file per
// scope (WAL mode) for memories/tags, plus a Bleve index for BM25 ranking.
type SQLiteIndex struct {
	db    *sql.DB
	bleve bleve.Index
}

// NewSQLiteIndex opens or creates a scope's database at dbPath and its
// sibling Bleve index directory, running pending migrations.
func NewSQLiteIndex(ctx context.Context, dbPath, blevePath string) (*SQLiteIndex, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite index: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous=NORMAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set synchronous mode: %w", err)
	}

	runner := migrate.NewRunner(db, memoriesTable, nil)
	if err := runner.Run(ctx, sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	bi, err := openOrCreateBleve(blevePath)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteIndex{db: db, bleve: bi}, nil
}

var sqliteMigrations = []migrate.Migration{
	{
		Version:     1,
		Description: "initial memories/tags schema",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS memories (
				id TEXT PRIMARY KEY,
				content TEXT NOT NULL,
				namespace TEXT NOT NULL,
				domain TEXT NOT NULL,
				status TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				tombstoned_at TIMESTAMP,
				expires_at TIMESTAMP,
				source TEXT,
				embedding BLOB,
				is_summary INTEGER NOT NULL DEFAULT 0,
				source_memory_ids TEXT,
				user_id TEXT,
				agent_id TEXT,
				group_id TEXT,
				project TEXT,
				branch TEXT,
				file TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_memories_namespace ON memories(namespace)`,
			`CREATE INDEX IF NOT EXISTS idx_memories_domain ON memories(domain)`,
			`CREATE INDEX IF NOT EXISTS idx_memories_status ON memories(status)`,
			`CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at)`,
			`CREATE TABLE IF NOT EXISTS memory_tags (
				memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
				tag TEXT NOT NULL,
				PRIMARY KEY (memory_id, tag)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_memory_tags_tag ON memory_tags(tag)`,
		},
	},
}

func openOrCreateBleve(path string) (bleve.Index, error) {
	if _, err := os.Stat(path); err == nil {
		bi, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("open bleve index: %w", openErr)
		}
		return bi, nil
	}

	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	im.AddDocumentMapping("memory", docMapping)
	im.DefaultType = "memory"
	im.DefaultMapping = docMapping

	bi, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}
	return bi, nil
}

// Index upserts a memory's SQL row, tags, and lexical document.
func (s *SQLiteIndex) Index(ctx context.Context, m *models.Memory) error {
	tx, err := s.db.BeginTx(ctx, nil)
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
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
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
		m.Source, encodeEmbedding(m.Embedding), boolToInt(m.IsSummary), string(sourceIDs),
		m.UserID, m.AgentID, m.GroupID, m.Project, m.Branch, m.File,
	)
	if err != nil {
		return fmt.Errorf("index: upsert memory row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_tags WHERE memory_id = ?`, m.ID); err != nil {
		return fmt.Errorf("index: clear tags: %w", err)
	}
	for _, tag := range m.Tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memory_tags (memory_id, tag) VALUES (?, ?)`, m.ID, tag); err != nil {
			return fmt.Errorf("index: insert tag: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit: %w", err)
	}

	if err := s.bleve.Index(m.ID, bleveDoc{
		Content:   m.Content,
		Namespace: string(m.Namespace),
		Domain:    string(m.Domain),
	}); err != nil {
		return fmt.Errorf("index: bleve upsert: %w", err)
	}
	return nil
}

// GetMemory fetches one memory by id.
func (s *SQLiteIndex) GetMemory(ctx context.Context, id string) (*models.Memory, error) {
	memories, err := s.GetMemoriesBatch(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(memories) == 0 {
		return nil, nil
	}
	return memories[0], nil
}

// GetMemoriesBatch fetches many memories in one round-trip; this is the
// only supported fanout path.
func (s *SQLiteIndex) GetMemoriesBatch(ctx context.Context, ids []string) ([]*models.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
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
		tags, err := s.tagsFor(ctx, id)
		if err != nil {
			return nil, err
		}
		m.Tags = tags
	}

	// Preserve the id ordering requested.
	out := make([]*models.Memory, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *SQLiteIndex) tagsFor(ctx context.Context, memoryID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag FROM memory_tags WHERE memory_id = ?`, memoryID)
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

// Search runs a BM25-style lexical query via Bleve, then applies filter
// facets as a post-filter over the returned id set.
func (s *SQLiteIndex) Search(ctx context.Context, query string, filter models.Filter, limit int) ([]ScoredID, error) {
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = limit * 4
	if req.Size < 50 {
		req.Size = 50
	}
	result, err := s.bleve.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	candidates := make([]ScoredID, len(result.Hits))
	for i, hit := range result.Hits {
		candidates[i] = ScoredID{ID: hit.ID, Score: float32(hit.Score)}
	}

	allowed, err := s.filterAllowedIDs(ctx, filter, idsOf(candidates))
	if err != nil {
		return nil, err
	}

	var out []ScoredID
	for _, c := range candidates {
		if allowed[c.ID] {
			out = append(out, c)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// ListAll enumerates memories under filter only, with offset/limit pagination.
func (s *SQLiteIndex) ListAll(ctx context.Context, filter models.Filter, offset, limit int) ([]ScoredID, error) {
	where, args := buildFilterClause(filter)
	query := fmt.Sprintf(`SELECT id FROM memories%s ORDER BY created_at DESC LIMIT ? OFFSET ?`, where)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
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

// Remove hard-deletes a memory from both SQL and Bleve.
func (s *SQLiteIndex) Remove(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return false, nil
	}
	if err := s.bleve.Delete(id); err != nil {
		return false, fmt.Errorf("remove: bleve delete: %w", err)
	}
	return true, nil
}

// CurrentVersion reports the applied schema version for the memories table.
func (s *SQLiteIndex) CurrentVersion(ctx context.Context) (int, error) {
	return migrate.NewRunner(s.db, memoriesTable, nil).CurrentVersion(ctx)
}

// Close releases both the SQL connection and the Bleve index handle.
func (s *SQLiteIndex) Close() error {
	bleveErr := s.bleve.Close()
	dbErr := s.db.Close()
	if dbErr != nil {
		return dbErr
	}
	return bleveErr
}

// filterAllowedIDs restricts candidateIDs to those matching filter, using a
// single batched SQL query rather than a per-id lookup.
func (s *SQLiteIndex) filterAllowedIDs(ctx context.Context, filter models.Filter, candidateIDs []string) (map[string]bool, error) {
	allowed := make(map[string]bool, len(candidateIDs))
	if len(candidateIDs) == 0 {
		return allowed, nil
	}

	where, args := buildFilterClause(filter)
	placeholders := make([]string, len(candidateIDs))
	idArgs := make([]any, len(candidateIDs))
	for i, id := range candidateIDs {
		placeholders[i] = "?"
		idArgs[i] = id
	}

	clause := "WHERE id IN (" + strings.Join(placeholders, ",") + ")"
	if where != "" {
		clause += " AND " + strings.TrimPrefix(where, " WHERE ")
	}
	query := fmt.Sprintf("SELECT id FROM memories %s", clause)
	rows, err := s.db.QueryContext(ctx, query, append(idArgs, args...)...)
	if err != nil {
		return nil, fmt.Errorf("filter candidates: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("filter candidates: scan: %w", err)
		}
		allowed[id] = true
	}
	return allowed, rows.Err()
}

func idsOf(scored []ScoredID) []string {
	ids := make([]string, len(scored))
	for i, s := range scored {
		ids[i] = s.ID
	}
	return ids
}

// buildFilterClause renders filter's conjunctive facets as a SQL WHERE
// clause. Tag membership is AND-of-sets: the memory must
// carry every requested tag.
func buildFilterClause(filter models.Filter) (string, []any) {
	var clauses []string
	var args []any

	if len(filter.Namespaces) > 0 {
		ph := make([]string, len(filter.Namespaces))
		for i, ns := range filter.Namespaces {
			ph[i] = "?"
			args = append(args, string(ns))
		}
		clauses = append(clauses, "namespace IN ("+strings.Join(ph, ",")+")")
	}
	if filter.Domain != nil {
		clauses = append(clauses, "domain = ?")
		args = append(args, string(*filter.Domain))
	}
	if len(filter.Status) > 0 {
		ph := make([]string, len(filter.Status))
		for i, st := range filter.Status {
			ph[i] = "?"
			args = append(args, string(st))
		}
		clauses = append(clauses, "status IN ("+strings.Join(ph, ",")+")")
	} else if !filter.IncludeTombstoned {
		clauses = append(clauses, "status != ?")
		args = append(args, string(models.StatusTombstoned))
	}
	if !filter.IncludeExpired {
		clauses = append(clauses, "(expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)")
	}
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.AgentID != "" {
		clauses = append(clauses, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.GroupID != "" {
		clauses = append(clauses, "group_id = ?")
		args = append(args, filter.GroupID)
	}
	if filter.Project != "" {
		clauses = append(clauses, "project = ?")
		args = append(args, filter.Project)
	}
	if filter.Branch != "" {
		clauses = append(clauses, "branch = ?")
		args = append(args, filter.Branch)
	}
	if filter.File != "" {
		clauses = append(clauses, "file = ?")
		args = append(args, filter.File)
	}
	for _, tag := range filter.Tags {
		clauses = append(clauses, "id IN (SELECT memory_id FROM memory_tags WHERE tag = ?)")
		args = append(args, tag)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanMemory(rows *sql.Rows) (*models.Memory, error) {
	var m models.Memory
	var namespace, domain, status string
	var tombstonedAt, expiresAt sql.NullTime
	var source, userID, agentID, groupID, project, branch, file sql.NullString
	var embedding []byte
	var isSummary int
	var sourceIDsJSON string

	err := rows.Scan(
		&m.ID, &m.Content, &namespace, &domain, &status, &m.CreatedAt, &m.UpdatedAt,
		&tombstonedAt, &expiresAt, &source, &embedding, &isSummary, &sourceIDsJSON,
		&userID, &agentID, &groupID, &project, &branch, &file,
	)
	if err != nil {
		return nil, err
	}

	m.Namespace = models.Namespace(namespace)
	m.Domain = models.Domain(domain)
	m.Status = models.Status(status)
	m.Source = source.String
	m.UserID = userID.String
	m.AgentID = agentID.String
	m.GroupID = groupID.String
	m.Project = project.String
	m.Branch = branch.String
	m.File = file.String
	m.IsSummary = isSummary != 0
	if tombstonedAt.Valid {
		t := tombstonedAt.Time
		m.TombstonedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		m.ExpiresAt = &t
	}
	if len(embedding) > 0 {
		m.Embedding = decodeEmbedding(embedding)
	}
	if sourceIDsJSON != "" {
		_ = json.Unmarshal([]byte(sourceIDsJSON), &m.SourceMemoryIDs)
	}

	return &m, nil
}

// encodeEmbedding/decodeEmbedding store a []float32 vector as a flat
// little-endian byte blob. Vector search itself lives in vectorindex; the
// index package only needs to round-trip the value alongside its memory row.
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	n := len(b) / 4
	if n == 0 {
		return nil
	}
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
