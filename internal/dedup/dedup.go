// Package dedup implements subcog's three-stage duplicate check: a
// recent-capture cache, exact content-hash match, and semantic similarity
// search.
package dedup

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/subcog/subcog/internal/hasher"
	"github.com/subcog/subcog/internal/index"
	"github.com/subcog/subcog/internal/models"
	"github.com/subcog/subcog/internal/vectorindex"
)

// Reason is why content was identified as a duplicate.
type Reason string

const (
	ReasonExactMatch      Reason = "exact_match"
	ReasonSemanticSimilar Reason = "semantic_similar"
	ReasonRecentCapture   Reason = "recent_capture"
)

// CheckResult is the outcome of a duplicate check.
type CheckResult struct {
	IsDuplicate      bool
	Reason           Reason
	SimilarityScore  *float32
	MatchedMemoryID  string
	MatchedURN       string
	CheckDurationMS  int64
}

// NotDuplicate reports a negative check result.
func NotDuplicate(durationMS int64) CheckResult {
	return CheckResult{CheckDurationMS: durationMS}
}

// Deduplicator checks captured content against three layers, cheapest
// first: an in-process recent-capture cache, an exact content-hash lookup
// in the index backend, then semantic similarity against the vector index.
type Deduplicator struct {
	recent              *recentCaptureCache
	idx                 index.Backend
	vec                 vectorindex.Backend
	similarityThreshold float32
}

// New constructs a Deduplicator. recentCapacity bounds the in-process
// recent-capture cache; recentTTL is how long an entry stays eligible to
// match. similarityThreshold is the minimum cosine similarity (0-1) for a
// semantic match to count as a duplicate.
func New(idx index.Backend, vec vectorindex.Backend, recentCapacity int, recentTTL time.Duration, similarityThreshold float32) *Deduplicator {
	return &Deduplicator{
		recent:              newRecentCaptureCache(recentCapacity, recentTTL),
		idx:                 idx,
		vec:                 vec,
		similarityThreshold: similarityThreshold,
	}
}

// Check runs the three-stage pipeline against content within namespace/
// domain, short-circuiting on the first layer that finds a match. embedding
// may be nil to skip the semantic layer (e.g. when embedding generation is
// disabled for a capture).
func (d *Deduplicator) Check(ctx context.Context, content string, namespace models.Namespace, domain models.Domain, embedding []float32) (CheckResult, error) {
	start := time.Now()

	tag := hasher.ContentToTag(content)

	if memID, ok := d.recent.Get(tag); ok {
		return d.result(ReasonRecentCapture, memID, domain, namespace, nil, start), nil
	}

	exact, err := d.checkExact(ctx, tag, namespace)
	if err != nil {
		return CheckResult{}, fmt.Errorf("dedup: exact match check: %w", err)
	}
	if exact != "" {
		return d.result(ReasonExactMatch, exact, domain, namespace, nil, start), nil
	}

	if len(embedding) > 0 && d.vec != nil {
		memID, score, err := d.checkSemantic(ctx, embedding, namespace)
		if err != nil {
			return CheckResult{}, fmt.Errorf("dedup: semantic match check: %w", err)
		}
		if memID != "" {
			s := score
			return d.result(ReasonSemanticSimilar, memID, domain, namespace, &s, start), nil
		}
	}

	return NotDuplicate(time.Since(start).Milliseconds()), nil
}

func (d *Deduplicator) checkExact(ctx context.Context, hashTag string, namespace models.Namespace) (string, error) {
	hits, err := d.idx.ListAll(ctx, models.Filter{
		Namespaces: []models.Namespace{namespace},
		Tags:       []string{hashTag},
	}, 0, 1)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "", nil
	}
	return hits[0].ID, nil
}

// semanticSearchK is how many vector-index neighbors are pulled before
// filtering by namespace, so a same-namespace match ranked below a
// cross-namespace one is still found.
const semanticSearchK = 5

func (d *Deduplicator) checkSemantic(ctx context.Context, embedding []float32, namespace models.Namespace) (string, float32, error) {
	results, err := d.vec.Search(ctx, embedding, semanticSearchK)
	if err != nil {
		return "", 0, err
	}
	if len(results) == 0 {
		return "", 0, nil
	}

	ids := make([]string, len(results))
	scoreByID := make(map[string]float64, len(results))
	for i, r := range results {
		ids[i] = r.ID
		scoreByID[r.ID] = r.Score
	}
	candidates, err := d.idx.GetMemoriesBatch(ctx, ids)
	if err != nil {
		return "", 0, err
	}
	byID := make(map[string]*models.Memory, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	for _, r := range results {
		score := scoreByID[r.ID]
		if float32(score) < d.similarityThreshold {
			continue
		}
		mem, ok := byID[r.ID]
		if !ok || mem.Namespace != namespace {
			continue
		}
		return r.ID, float32(score), nil
	}
	return "", 0, nil
}

func (d *Deduplicator) result(reason Reason, memoryID string, domain models.Domain, namespace models.Namespace, score *float32, start time.Time) CheckResult {
	urn := (&models.URN{Domain: string(domain), Namespace: string(namespace), MemoryID: memoryID}).String()
	return CheckResult{
		IsDuplicate:     true,
		Reason:          reason,
		SimilarityScore: score,
		MatchedMemoryID: memoryID,
		MatchedURN:      urn,
		CheckDurationMS: time.Since(start).Milliseconds(),
	}
}

// RecordCapture registers a successful capture so subsequent near-term
// recaptures of identical content are caught by the recent-capture layer
// before an index round-trip.
func (d *Deduplicator) RecordCapture(contentHash, memoryID string) {
	d.recent.Set(hasher.HashToTag(contentHash), memoryID)
}

// recentCaptureCache is an LRU of hash-tag -> memory ID with a per-entry
// TTL.
type recentCaptureCache struct {
	capacity int
	ttl      time.Duration
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type recentEntry struct {
	key        string
	memoryID   string
	insertedAt time.Time
}

func newRecentCaptureCache(capacity int, ttl time.Duration) *recentCaptureCache {
	return &recentCaptureCache{
		capacity: capacity,
		ttl:      ttl,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

func (c *recentCaptureCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.cache[key]
	if !ok {
		return "", false
	}
	entry := elem.Value.(*recentEntry)
	if c.ttl > 0 && time.Since(entry.insertedAt) > c.ttl {
		c.lru.Remove(elem)
		delete(c.cache, key)
		return "", false
	}
	c.lru.MoveToFront(elem)
	return entry.memoryID, true
}

func (c *recentCaptureCache) Set(key, memoryID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		entry := elem.Value.(*recentEntry)
		entry.memoryID = memoryID
		entry.insertedAt = time.Now()
		return
	}

	entry := &recentEntry{key: key, memoryID: memoryID, insertedAt: time.Now()}
	elem := c.lru.PushFront(entry)
	c.cache[key] = elem

	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*recentEntry).key)
		}
	}
}
