package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/subcog/subcog/internal/models"
)

// RedisIndex is the shared-cache-tier IndexBackend. Grounded
// on the minimal redis.ParseURL+redis.NewClient wrapper used for gateway
// service caching elsewhere in the corpus.
//
// Base go-redis carries no RediSearch module, so lexical Search here is a
// hand-rolled inverted index (term -> set of memory ids) scored by matching
// term count rather than BM25/tf-idf. This is a deliberate simplification:
// a cluster that needs real lexical ranking should run the Postgres or
// SQLite+Bleve backend instead. Documented as a known limitation rather than
// silently approximated.
type RedisIndex struct {
	c *redis.Client
}

const (
	redisAllIDsKey      = "subcog:ids"
	redisMemoryKeyPrefix = "subcog:memory:"
	redisTagKeyPrefix    = "subcog:tag:"
	redisTermKeyPrefix   = "subcog:term:"
)

// NewRedisIndex connects to the Redis instance described by addr (a
// redis:// or rediss:// URL, as accepted by redis.ParseURL).
func NewRedisIndex(ctx context.Context, addr string) (*RedisIndex, error) {
	opt, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid redis address: %w", err)
	}
	c := redis.NewClient(opt)
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis index: %w", err)
	}
	return &RedisIndex{c: c}, nil
}

type redisDoc struct {
	Memory models.Memory `json:"memory"`
}

// Index upserts a memory's JSON document, its tag/term reverse indices, and
// the global id set.
func (r *RedisIndex) Index(ctx context.Context, m *models.Memory) error {
	payload, err := json.Marshal(redisDoc{Memory: *m})
	if err != nil {
		return fmt.Errorf("redis index: marshal: %w", err)
	}

	existingTerms, err := r.existingTerms(ctx, m.ID)
	if err != nil {
		return err
	}

	pipe := r.c.TxPipeline()
	pipe.Set(ctx, redisMemoryKeyPrefix+m.ID, payload, 0)
	pipe.SAdd(ctx, redisAllIDsKey, m.ID)

	for _, term := range existingTerms {
		pipe.SRem(ctx, redisTermKeyPrefix+term, m.ID)
	}
	for _, term := range tokenize(m.Content) {
		pipe.SAdd(ctx, redisTermKeyPrefix+term, m.ID)
	}
	pipe.Del(ctx, redisTagKeyPrefix+"of:"+m.ID)
	if len(m.Tags) > 0 {
		tags := make([]any, len(m.Tags))
		for i, t := range m.Tags {
			tags[i] = t
		}
		pipe.SAdd(ctx, redisTagKeyPrefix+"of:"+m.ID, tags...)
	}

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis index: pipeline exec: %w", err)
	}
	return nil
}

// existingTerms looks up the previous document's tokens so Index can evict
// its stale inverted-index entries before writing the new ones.
func (r *RedisIndex) existingTerms(ctx context.Context, id string) ([]string, error) {
	raw, err := r.c.Get(ctx, redisMemoryKeyPrefix+id).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis index: read prior doc: %w", err)
	}
	var doc redisDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("redis index: unmarshal prior doc: %w", err)
	}
	return tokenize(doc.Memory.Content), nil
}

// GetMemory fetches one memory by id, (nil, nil) if absent.
func (r *RedisIndex) GetMemory(ctx context.Context, id string) (*models.Memory, error) {
	memories, err := r.GetMemoriesBatch(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(memories) == 0 {
		return nil, nil
	}
	return memories[0], nil
}

// GetMemoriesBatch fetches many memories in one MGET round-trip.
func (r *RedisIndex) GetMemoriesBatch(ctx context.Context, ids []string) ([]*models.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisMemoryKeyPrefix + id
	}
	raws, err := r.c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get memories batch: %w", err)
	}

	out := make([]*models.Memory, 0, len(ids))
	for _, raw := range raws {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var doc redisDoc
		if err := json.Unmarshal([]byte(s), &doc); err != nil {
			return nil, fmt.Errorf("redis get memories batch: unmarshal: %w", err)
		}
		mem := doc.Memory
		out = append(out, &mem)
	}
	return out, nil
}

// Search matches query tokens against the inverted term index and scores
// candidates by matching-term count (see type doc for the BM25 caveat).
func (r *RedisIndex) Search(ctx context.Context, query string, filter models.Filter, limit int) ([]ScoredID, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	counts := make(map[string]int)
	for _, term := range terms {
		ids, err := r.c.SMembers(ctx, redisTermKeyPrefix+term).Result()
		if err != nil {
			return nil, fmt.Errorf("redis search: smembers %q: %w", term, err)
		}
		for _, id := range ids {
			counts[id]++
		}
	}
	if len(counts) == 0 {
		return nil, nil
	}

	candidateIDs := make([]string, 0, len(counts))
	for id := range counts {
		candidateIDs = append(candidateIDs, id)
	}

	memories, err := r.GetMemoriesBatch(ctx, candidateIDs)
	if err != nil {
		return nil, err
	}

	var scored []ScoredID
	for _, m := range memories {
		if !matchesFilter(m, filter) {
			continue
		}
		scored = append(scored, ScoredID{ID: m.ID, Score: float32(counts[m.ID])})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// ListAll enumerates memories under filter only, with offset/limit
// pagination, ordered by descending CreatedAt. Redis has no native
// secondary index over CreatedAt, so all ids are fetched and sorted in Go;
// acceptable for a cache-tier backend's expected data volumes.
func (r *RedisIndex) ListAll(ctx context.Context, filter models.Filter, offset, limit int) ([]ScoredID, error) {
	ids, err := r.c.SMembers(ctx, redisAllIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list all: smembers: %w", err)
	}
	memories, err := r.GetMemoriesBatch(ctx, ids)
	if err != nil {
		return nil, err
	}

	var matched []*models.Memory
	for _, m := range memories {
		if matchesFilter(m, filter) {
			matched = append(matched, m)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]ScoredID, 0, end-offset)
	for _, m := range matched[offset:end] {
		out = append(out, ScoredID{ID: m.ID, Score: 0})
	}
	return out, nil
}

// Remove hard-deletes a memory, its term/tag reverse indices, and its
// membership in the global id set.
func (r *RedisIndex) Remove(ctx context.Context, id string) (bool, error) {
	terms, err := r.existingTerms(ctx, id)
	if err != nil {
		return false, err
	}

	pipe := r.c.TxPipeline()
	del := pipe.Del(ctx, redisMemoryKeyPrefix+id)
	pipe.SRem(ctx, redisAllIDsKey, id)
	pipe.Del(ctx, redisTagKeyPrefix+"of:"+id)
	for _, term := range terms {
		pipe.SRem(ctx, redisTermKeyPrefix+term, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis remove: pipeline exec: %w", err)
	}
	return del.Val() > 0, nil
}

// CurrentVersion is always 1: Redis has no schema to migrate, only the
// inverted-index document shape defined by this package's own code.
func (r *RedisIndex) CurrentVersion(ctx context.Context) (int, error) {
	return 1, nil
}

// Close releases the underlying connection pool.
func (r *RedisIndex) Close() error {
	return r.c.Close()
}

// tokenize lowercases and splits on non-alphanumeric runs. This is the same
// simple tokenization on both the index and the query side, which is what
// makes term matching consistent.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// matchesFilter applies filter's conjunctive facets in Go, mirroring
// buildFilterClause's SQLite semantics for a backend with no query planner.
func matchesFilter(m *models.Memory, filter models.Filter) bool {
	if len(filter.Namespaces) > 0 && !containsNamespace(filter.Namespaces, m.Namespace) {
		return false
	}
	if filter.Domain != nil && m.Domain != *filter.Domain {
		return false
	}
	if len(filter.Status) > 0 {
		if !containsStatus(filter.Status, m.Status) {
			return false
		}
	} else if !filter.IncludeTombstoned && m.Status == models.StatusTombstoned {
		return false
	}
	if !filter.IncludeExpired && m.ExpiresAt != nil && m.ExpiresAt.Before(time.Now()) {
		return false
	}
	if filter.UserID != "" && m.UserID != filter.UserID {
		return false
	}
	if filter.AgentID != "" && m.AgentID != filter.AgentID {
		return false
	}
	if filter.GroupID != "" && m.GroupID != filter.GroupID {
		return false
	}
	if filter.Project != "" && m.Project != filter.Project {
		return false
	}
	if filter.Branch != "" && m.Branch != filter.Branch {
		return false
	}
	if filter.File != "" && m.File != filter.File {
		return false
	}
	for _, tag := range filter.Tags {
		if !m.HasTag(tag) {
			return false
		}
	}
	return true
}

func containsNamespace(haystack []models.Namespace, needle models.Namespace) bool {
	for _, n := range haystack {
		if n == needle {
			return true
		}
	}
	return false
}

func containsStatus(haystack []models.Status, needle models.Status) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
