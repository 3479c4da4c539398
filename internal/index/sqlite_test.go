package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/subcog/subcog/internal/models"
)

func newTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	dir := t.TempDir()
	idx, err := NewSQLiteIndex(context.Background(),
		filepath.Join(dir, "test.db"), filepath.Join(dir, "test.bleve"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestSQLiteIndex_IndexAndGet(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	m := &models.Memory{
		ID:        "mem1",
		Content:   "we decided to use postgres for the main store",
		Namespace: models.NamespaceDecisions,
		Domain:    models.DomainProject,
		Status:    models.StatusActive,
		Tags:      []string{"storage", "postgres"},
	}
	if err := idx.Index(ctx, m); err != nil {
		t.Fatal(err)
	}

	got, err := idx.GetMemory(ctx, "mem1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected memory, got nil")
	}
	if got.Content != m.Content {
		t.Errorf("content = %q, want %q", got.Content, m.Content)
	}
	if len(got.Tags) != 2 {
		t.Errorf("tags = %v, want 2 entries", got.Tags)
	}
}

func TestSQLiteIndex_GetMemoriesBatch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := idx.Index(ctx, &models.Memory{
			ID: id, Content: "content " + id,
			Namespace: models.NamespaceContext, Domain: models.DomainProject,
			Status: models.StatusActive,
		}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := idx.GetMemoriesBatch(ctx, []string{"a", "c", "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 memories, got %d", len(got))
	}
}

func TestSQLiteIndex_Search(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if err := idx.Index(ctx, &models.Memory{
		ID: "m1", Content: "the deployment pipeline uses kubernetes",
		Namespace: models.NamespacePatterns, Domain: models.DomainProject,
		Status: models.StatusActive,
	}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Index(ctx, &models.Memory{
		ID: "m2", Content: "unrelated note about lunch",
		Namespace: models.NamespaceContext, Domain: models.DomainProject,
		Status: models.StatusActive,
	}); err != nil {
		t.Fatal(err)
	}

	hits, err := idx.Search(ctx, "kubernetes", models.Filter{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != "m1" {
		t.Errorf("hits = %+v, want [m1]", hits)
	}
}

func TestSQLiteIndex_SearchRespectsFilter(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if err := idx.Index(ctx, &models.Memory{
		ID: "m1", Content: "shared keyword here",
		Namespace: models.NamespacePatterns, Domain: models.DomainProject,
		Status: models.StatusActive,
	}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Index(ctx, &models.Memory{
		ID: "m2", Content: "shared keyword here too",
		Namespace: models.NamespaceSecurity, Domain: models.DomainProject,
		Status: models.StatusActive,
	}); err != nil {
		t.Fatal(err)
	}

	ns := models.NamespaceSecurity
	hits, err := idx.Search(ctx, "shared keyword", models.Filter{
		Namespaces: []models.Namespace{ns},
	}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != "m2" {
		t.Errorf("hits = %+v, want only [m2]", hits)
	}
}

func TestSQLiteIndex_RemoveAndTombstoneDefaults(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if err := idx.Index(ctx, &models.Memory{
		ID: "m1", Content: "to be tombstoned",
		Namespace: models.NamespaceLearnings, Domain: models.DomainProject,
		Status: models.StatusTombstoned,
	}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Index(ctx, &models.Memory{
		ID: "m2", Content: "active memory",
		Namespace: models.NamespaceLearnings, Domain: models.DomainProject,
		Status: models.StatusActive,
	}); err != nil {
		t.Fatal(err)
	}

	list, err := idx.ListAll(ctx, models.Filter{}, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "m2" {
		t.Errorf("listAll = %+v, want only [m2] (tombstoned excluded by default)", list)
	}

	ok, err := idx.Remove(ctx, "m2")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected Remove to report existing id")
	}
	got, err := idx.GetMemory(ctx, "m2")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("expected memory removed")
	}
}

func TestSQLiteIndex_CurrentVersion(t *testing.T) {
	idx := newTestIndex(t)
	v, err := idx.CurrentVersion(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Errorf("version = %d, want 1", v)
	}
}
