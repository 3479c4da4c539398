// Package recall implements subcog's hybrid search entry point: text-only,
// vector-only, or hybrid (Reciprocal Rank Fusion over both) retrieval.
// Keyword and semantic search run concurrently and are fused by genuine
// RRF rather than a weighted linear combination of normalized scores.
package recall

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/subcog/subcog/internal/authctx"
	"github.com/subcog/subcog/internal/embedding"
	"github.com/subcog/subcog/internal/errs"
	"github.com/subcog/subcog/internal/eventbus"
	"github.com/subcog/subcog/internal/index"
	"github.com/subcog/subcog/internal/models"
	"github.com/subcog/subcog/internal/resilience"
	"github.com/subcog/subcog/internal/vectorindex"
)

// rrfK is the Reciprocal Rank Fusion rank-damping constant.
const rrfK = 60

// Service runs text, vector, and hybrid (RRF-fused) recall queries over
// the index/vector backends.
type Service struct {
	index    index.Backend
	vector   vectorindex.Backend
	embedder embedding.Embedder
	bus      *eventbus.Bus
	bulkhead *resilience.Bulkhead
	timeout  *resilience.TimeoutRunner
	boost    *Booster
	logger   *zap.Logger
}

// Config bounds the embedding bulkhead used for query-time embedding.
type Config struct {
	EmbedTimeout       time.Duration
	EmbedMaxConcurrent int
}

// DefaultConfig mirrors capture.DefaultConfig's embedding bulkhead sizing.
func DefaultConfig() Config {
	return Config{EmbedTimeout: 30 * time.Second, EmbedMaxConcurrent: 2}
}

// New constructs a Service. embedder may be nil, in which case vector and
// hybrid modes degrade to text-only.
func New(cfg Config, idx index.Backend, vec vectorindex.Backend, embedder embedding.Embedder, bus *eventbus.Bus, boost *Booster, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		index:    idx,
		vector:   vec,
		embedder: embedder,
		bus:      bus,
		bulkhead: resilience.NewBulkhead("recall-embedding", resilience.BulkheadConfig{
			MaxConcurrent:  cfg.EmbedMaxConcurrent,
			AcquireTimeout: cfg.EmbedTimeout,
		}),
		timeout: resilience.NewTimeoutRunner("recall-embedding", cfg.EmbedTimeout),
		boost:   boost,
		logger:  logger,
	}
}

// Search runs query under auth, emitting a Retrieved event per returned
// hit. An empty query is rejected with InvalidInput.
func (s *Service) Search(ctx context.Context, auth authctx.Context, q models.SearchQuery) (models.SearchResult, error) {
	const op = "recall.Search"

	if err := auth.Require(s.logger, op, authctx.Read); err != nil {
		return models.SearchResult{}, err
	}
	if q.Query == "" {
		return models.SearchResult{}, errs.New(errs.InvalidInput, op, fmt.Errorf("query must not be empty"))
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}

	start := time.Now()

	var result models.SearchResult
	var err error
	switch q.Mode {
	case models.SearchModeVector:
		result, err = s.searchVector(ctx, q)
	case models.SearchModeHybrid, "":
		result, err = s.searchHybrid(ctx, q)
	default:
		result, err = s.searchText(ctx, q)
	}
	if err != nil {
		return models.SearchResult{}, err
	}

	if s.boost != nil {
		s.boost.Apply(result.Memories)
		sort.SliceStable(result.Memories, func(i, j int) bool {
			return result.Memories[i].Score > result.Memories[j].Score
		})
	}

	result.ExecutionTimeMS = time.Since(start).Milliseconds()
	result.Mode = q.Mode

	s.publishRetrieved(ctx, q, result)

	return result, nil
}

// publishRetrieved emits one Retrieved event per returned hit, carrying the
// fused score. A no-op when no bus is configured.
func (s *Service) publishRetrieved(ctx context.Context, q models.SearchQuery, result models.SearchResult) {
	if s.bus == nil {
		return
	}
	for _, hit := range result.Memories {
		s.bus.Publish(ctx, models.MemoryEvent{
			Kind: models.EventRetrieved,
			Meta: models.EventMeta{
				Timestamp: time.Now(),
			},
			MemoryID:      hit.Memory.ID,
			Namespace:     hit.Memory.Namespace,
			Domain:        hit.Memory.Domain,
			ContentLength: len(hit.Memory.Content),
			Query:         q.Query,
			Score:         hit.Score,
		})
	}
}

func (s *Service) searchText(ctx context.Context, q models.SearchQuery) (models.SearchResult, error) {
	hits, err := s.index.Search(ctx, q.Query, q.Filter, q.Limit)
	if err != nil {
		return models.SearchResult{}, errs.Wrap("recall.searchText", "index", err)
	}
	return s.materialize(ctx, hits, nil, q.Limit)
}

func (s *Service) searchVector(ctx context.Context, q models.SearchQuery) (models.SearchResult, error) {
	if s.embedder == nil || s.vector == nil {
		return models.SearchResult{}, errs.New(errs.FeatureNotEnabled, "recall.searchVector", fmt.Errorf("no embedder configured"))
	}
	vec, err := s.embedQuery(ctx, q.Query)
	if err != nil {
		return models.SearchResult{}, errs.Wrap("recall.searchVector", "embedding", err)
	}
	hits, err := s.vector.Search(ctx, vec, q.Limit)
	if err != nil {
		return models.SearchResult{}, errs.Wrap("recall.searchVector", "vector", err)
	}
	return s.materialize(ctx, nil, hits, q.Limit)
}

// searchHybrid runs text and vector search concurrently, one goroutine per
// modality, and fuses the two ranked lists with RRF. If no embedder is
// configured, or the vector leg fails, hybrid degrades gracefully to the
// text-only result.
func (s *Service) searchHybrid(ctx context.Context, q models.SearchQuery) (models.SearchResult, error) {
	k := 2 * q.Limit

	var (
		textHits   []index.ScoredID
		vectorHits []vectorindex.Result
		textErr    error
		vectorErr  error
		wg         sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		textHits, textErr = s.index.Search(ctx, q.Query, q.Filter, k)
	}()

	if s.embedder != nil && s.vector != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec, err := s.embedQuery(ctx, q.Query)
			if err != nil {
				vectorErr = err
				return
			}
			vectorHits, vectorErr = s.vector.Search(ctx, vec, k)
		}()
	}

	wg.Wait()

	if textErr != nil {
		return models.SearchResult{}, errs.Wrap("recall.searchHybrid", "index", textErr)
	}
	if vectorErr != nil {
		s.logger.Warn("recall: vector leg failed, degrading to text-only", zap.Error(vectorErr))
		vectorHits = nil
	}

	return s.materialize(ctx, textHits, vectorHits, q.Limit)
}

func (s *Service) embedQuery(ctx context.Context, query string) ([]float32, error) {
	var vec []float32
	err := s.bulkhead.Run(ctx, func(ctx context.Context) error {
		return s.timeout.Run(ctx, func(ctx context.Context) error {
			v, err := s.embedder.Embed(ctx, query)
			if err != nil {
				return err
			}
			vec = v
			return nil
		})
	})
	return vec, err
}

// fusedCandidate accumulates RRF score and raw sub-scores for one memory id
// across the text and vector ranked lists.
type fusedCandidate struct {
	id          string
	rrf         float32
	bm25        *float32
	vectorScore *float32
}

// fuse computes RRF(id) = sum over rankings r of 1/(K+rank_r), merging raw
// sub-scores for explainability. Deterministic: ties in RRF
// score are broken by id, not map iteration order.
func fuse(textHits []index.ScoredID, vectorHits []vectorindex.Result) []fusedCandidate {
	byID := make(map[string]*fusedCandidate)
	order := make([]string, 0, len(textHits)+len(vectorHits))

	get := func(id string) *fusedCandidate {
		if c, ok := byID[id]; ok {
			return c
		}
		c := &fusedCandidate{id: id}
		byID[id] = c
		order = append(order, id)
		return c
	}

	for rank, hit := range textHits {
		c := get(hit.ID)
		score := float32(hit.Score)
		c.bm25 = &score
		c.rrf += 1.0 / float32(rrfK+rank+1)
	}
	for rank, hit := range vectorHits {
		c := get(hit.ID)
		score := float32(hit.Score)
		c.vectorScore = &score
		c.rrf += 1.0 / float32(rrfK+rank+1)
	}

	candidates := make([]fusedCandidate, 0, len(order))
	for _, id := range order {
		candidates = append(candidates, *byID[id])
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].rrf != candidates[j].rrf {
			return candidates[i].rrf > candidates[j].rrf
		}
		return candidates[i].id < candidates[j].id
	})
	return candidates
}

// materialize fuses textHits/vectorHits (either may be nil for a
// single-mode search), truncates to limit, and fetches the full Memory for
// each surviving candidate in one batch round-trip.
func (s *Service) materialize(ctx context.Context, textHits []index.ScoredID, vectorHits []vectorindex.Result, limit int) (models.SearchResult, error) {
	candidates := fuse(textHits, vectorHits)
	total := len(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	memories, err := s.index.GetMemoriesBatch(ctx, ids)
	if err != nil {
		return models.SearchResult{}, errs.Wrap("recall.materialize", "index", err)
	}
	byID := make(map[string]*models.Memory, len(memories))
	for _, m := range memories {
		byID[m.ID] = m
	}

	var topRaw float32
	if len(candidates) > 0 {
		topRaw = candidates[0].rrf
		if topRaw == 0 {
			topRaw = 1
		}
	}

	hits := make([]models.SearchHit, 0, len(candidates))
	for _, c := range candidates {
		mem := byID[c.id]
		if mem == nil {
			continue
		}
		hits = append(hits, models.SearchHit{
			Memory:      *mem,
			Score:       c.rrf / topRaw,
			RawScore:    c.rrf,
			BM25Score:   c.bm25,
			VectorScore: c.vectorScore,
		})
	}

	return models.SearchResult{Memories: hits, TotalCount: total}, nil
}
