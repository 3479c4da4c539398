package recall

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subcog/subcog/internal/authctx"
	"github.com/subcog/subcog/internal/embedding"
	"github.com/subcog/subcog/internal/errs"
	"github.com/subcog/subcog/internal/index"
	"github.com/subcog/subcog/internal/models"
	"github.com/subcog/subcog/internal/vectorindex"
)

func newTestService(t *testing.T, embed bool) (*Service, index.Backend, vectorindex.Backend) {
	t.Helper()
	dir := t.TempDir()
	idx, err := index.NewSQLiteIndex(context.Background(),
		filepath.Join(dir, "test.db"), filepath.Join(dir, "test.bleve"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	vec, err := vectorindex.NewMemoryIndex(384)
	require.NoError(t, err)

	var embedder embedding.Embedder
	if embed {
		embedder = embedding.NewMockEmbedder(384)
	}

	svc := New(DefaultConfig(), idx, vec, embedder, nil, nil, nil)
	return svc, idx, vec
}

func seedMemory(t *testing.T, idx index.Backend, id, content string) {
	t.Helper()
	require.NoError(t, idx.Index(context.Background(), &models.Memory{
		ID: id, Content: content, Namespace: models.NamespaceDecisions,
		Domain: models.DomainProject, Status: models.StatusActive,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
}

func TestRecall_RejectsEmptyQuery(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	_, err := svc.Search(context.Background(), authctx.Local(), models.SearchQuery{Mode: models.SearchModeText})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidInput))
}

func TestRecall_Unauthorized(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	noAuth := authctx.FromScopes([]string{"write"})
	_, err := svc.Search(context.Background(), noAuth, models.SearchQuery{Query: "postgres", Mode: models.SearchModeText})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Unauthorized))
}

func TestRecall_TextMode(t *testing.T) {
	svc, idx, _ := newTestService(t, false)
	seedMemory(t, idx, "mem-1", "Use PostgreSQL for primary storage")

	result, err := svc.Search(context.Background(), authctx.Local(), models.SearchQuery{
		Query: "postgres", Mode: models.SearchModeText, Limit: 5,
	})
	require.NoError(t, err)
	require.Len(t, result.Memories, 1)
	assert.Equal(t, "mem-1", result.Memories[0].Memory.ID)
	assert.NotNil(t, result.Memories[0].BM25Score)
	assert.Nil(t, result.Memories[0].VectorScore)
}

func TestRecall_VectorModeWithoutEmbedderFails(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	_, err := svc.Search(context.Background(), authctx.Local(), models.SearchQuery{
		Query: "postgres", Mode: models.SearchModeVector, Limit: 5,
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.FeatureNotEnabled))
}

func TestRecall_HybridFusesTextAndVector(t *testing.T) {
	svc, idx, vec := newTestService(t, true)
	seedMemory(t, idx, "mem-1", "Use PostgreSQL for primary storage")
	require.NoError(t, vec.Add(context.Background(), []string{"mem-1"}, [][]float32{
		mustEmbed(t, svc, "Use PostgreSQL for primary storage"),
	}))

	result, err := svc.Search(context.Background(), authctx.Local(), models.SearchQuery{
		Query: "postgres storage", Mode: models.SearchModeHybrid, Limit: 5,
	})
	require.NoError(t, err)
	require.Len(t, result.Memories, 1)
	hit := result.Memories[0]
	assert.Equal(t, "mem-1", hit.Memory.ID)
	assert.NotNil(t, hit.BM25Score)
	assert.NotNil(t, hit.VectorScore)
	assert.Greater(t, hit.Score, float32(0))
}

func TestFuse_DeterministicAcrossInsertionOrder(t *testing.T) {
	text := []index.ScoredID{{ID: "a", Score: 1.0}, {ID: "b", Score: 0.5}}
	vector1 := []vectorindex.Result{{ID: "b", Score: 0.9}, {ID: "a", Score: 0.8}}
	vector2 := []vectorindex.Result{{ID: "a", Score: 0.8}, {ID: "b", Score: 0.9}}

	c1 := fuse(text, vector1)
	c2 := fuse(text, vector2)
	require.Equal(t, len(c1), len(c2))
	for i := range c1 {
		assert.Equal(t, c1[i].id, c2[i].id)
		assert.InDelta(t, c1[i].rrf, c2[i].rrf, 0.0001)
	}
}

func TestBooster_BoostsSummaryAndRecentMemories(t *testing.T) {
	b := NewBooster(DefaultBoostConfig())
	hits := []models.SearchHit{
		{Memory: models.Memory{ID: "a", IsSummary: true, CreatedAt: time.Now()}, Score: 0.5},
		{Memory: models.Memory{ID: "b", CreatedAt: time.Now().Add(-60 * 24 * time.Hour)}, Score: 0.5},
	}
	b.Apply(hits)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func mustEmbed(t *testing.T, svc *Service, text string) []float32 {
	t.Helper()
	vec, err := svc.embedder.Embed(context.Background(), text)
	require.NoError(t, err)
	return vec
}
