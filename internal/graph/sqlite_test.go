package graph

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/subcog/subcog/internal/errs"
	"github.com/subcog/subcog/internal/models"
)

func newTestGraph(t *testing.T) *SQLiteGraph {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.db")
	g, err := NewSQLiteGraph(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func newTestEntity(id, name string, typ models.EntityType) *models.Entity {
	now := time.Now().UTC()
	return &models.Entity{
		ID: id, Name: name, Type: typ,
		Domain:     models.DomainProject,
		Confidence: 0.9,
		ValidTime:  models.UnboundedRange(),
		TxTime:     models.TransactionTimeNow(now),
		CreatedAt:  now, UpdatedAt: now,
	}
}

func TestSQLiteGraph_CreateAndGetEntity(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	e := newTestEntity("e1", "Alice", models.EntityPerson)
	e.Aliases = []string{"Ally"}
	e.Properties = map[string]string{"role": "engineer"}
	if err := g.CreateEntity(ctx, e); err != nil {
		t.Fatal(err)
	}

	got, err := g.GetEntity(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Name != "Alice" || got.Properties["role"] != "engineer" {
		t.Errorf("got = %+v", got)
	}
}

func TestSQLiteGraph_DeleteEntityClosesValidTime(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	e := newTestEntity("e1", "Bob", models.EntityPerson)
	if err := g.CreateEntity(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := g.DeleteEntity(ctx, "e1"); err != nil {
		t.Fatal(err)
	}

	results, err := g.QueryEntities(ctx, models.NewEntityQuery())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected deleted entity excluded from default query, got %+v", results)
	}
}

func TestSQLiteGraph_RelationshipAndTraverse(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	a := newTestEntity("a", "ServiceA", models.EntityTechnology)
	b := newTestEntity("b", "ServiceB", models.EntityTechnology)
	c := newTestEntity("c", "ServiceC", models.EntityTechnology)
	for _, e := range []*models.Entity{a, b, c} {
		if err := g.CreateEntity(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	now := time.Now().UTC()
	rel1 := &models.Relationship{
		ID: "r1", FromEntity: "a", ToEntity: "b", Type: models.RelDependsOn,
		Confidence: 0.8, Domain: models.DomainProject,
		ValidTime: models.UnboundedRange(), TxTime: models.TransactionTimeNow(now),
		CreatedAt: now,
	}
	rel2 := &models.Relationship{
		ID: "r2", FromEntity: "b", ToEntity: "c", Type: models.RelDependsOn,
		Confidence: 0.8, Domain: models.DomainProject,
		ValidTime: models.UnboundedRange(), TxTime: models.TransactionTimeNow(now),
		CreatedAt: now,
	}
	if err := g.CreateRelationship(ctx, rel1); err != nil {
		t.Fatal(err)
	}
	if err := g.CreateRelationship(ctx, rel2); err != nil {
		t.Fatal(err)
	}

	result, err := g.Traverse(ctx, "a", 1, models.DomainProject)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entities) != 2 {
		t.Errorf("depth-1 traversal entities = %d, want 2 (a, b)", len(result.Entities))
	}

	result2, err := g.Traverse(ctx, "a", 2, models.DomainProject)
	if err != nil {
		t.Fatal(err)
	}
	if len(result2.Entities) != 3 {
		t.Errorf("depth-2 traversal entities = %d, want 3 (a, b, c)", len(result2.Entities))
	}
}

func TestSQLiteGraph_TraverseRejectsDepthAboveCap(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	e := newTestEntity("a", "Lone", models.EntityTechnology)
	if err := g.CreateEntity(ctx, e); err != nil {
		t.Fatal(err)
	}

	_, err := g.Traverse(ctx, "a", 7, models.DomainProject)
	if err == nil {
		t.Fatal("expected error for max_depth above hard cap")
	}
	if !errs.Is(err, errs.InvalidInput) {
		t.Errorf("expected InvalidInput, got %v", err)
	}
}

func TestSQLiteGraph_FindPath(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	a := newTestEntity("a", "ServiceA", models.EntityTechnology)
	b := newTestEntity("b", "ServiceB", models.EntityTechnology)
	c := newTestEntity("c", "ServiceC", models.EntityTechnology)
	d := newTestEntity("d", "ServiceD", models.EntityTechnology)
	for _, e := range []*models.Entity{a, b, c, d} {
		if err := g.CreateEntity(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	now := time.Now().UTC()
	newRel := func(id, from, to string, confidence float32) *models.Relationship {
		return &models.Relationship{
			ID: id, FromEntity: from, ToEntity: to, Type: models.RelDependsOn,
			Confidence: confidence, Domain: models.DomainProject,
			ValidTime: models.UnboundedRange(), TxTime: models.TransactionTimeNow(now),
			CreatedAt: now,
		}
	}
	// Two equally-short (2-hop) paths from a to d: via b (high confidence)
	// and via c (low confidence). The higher-confidence path must win.
	rels := []*models.Relationship{
		newRel("r1", "a", "b", 0.9),
		newRel("r2", "b", "d", 0.9),
		newRel("r3", "a", "c", 0.2),
		newRel("r4", "c", "d", 0.2),
	}
	for _, r := range rels {
		if err := g.CreateRelationship(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	path, ok, err := g.FindPath(ctx, "a", "d", 6)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a path to be found")
	}
	if len(path.Relationships) != 2 {
		t.Errorf("path length = %d, want 2", len(path.Relationships))
	}
	if path.Relationships[0].ID != "r1" || path.Relationships[1].ID != "r2" {
		t.Errorf("expected the higher-confidence path via b, got %+v", path.Relationships)
	}

	_, err = g.FindPath(ctx, "a", "d", 7)
	if err == nil || !errs.Is(err, errs.InvalidInput) {
		t.Errorf("expected InvalidInput for max_depth above hard cap, got %v", err)
	}

	_, ok, err = g.FindPath(ctx, "a", "nonexistent", 6)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected no path to a nonexistent entity")
	}
}

func TestSQLiteGraph_MergeEntities(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	canonical := newTestEntity("e1", "Postgres", models.EntityTechnology)
	dup := newTestEntity("e2", "postgresql", models.EntityTechnology)
	other := newTestEntity("e3", "API", models.EntityTechnology)
	for _, e := range []*models.Entity{canonical, dup, other} {
		if err := g.CreateEntity(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	now := time.Now().UTC()
	if err := g.CreateRelationship(ctx, &models.Relationship{
		ID: "r1", FromEntity: "e2", ToEntity: "e3", Type: models.RelUses,
		Confidence: 0.8, Domain: models.DomainProject,
		ValidTime: models.UnboundedRange(), TxTime: models.TransactionTimeNow(now),
		CreatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	if err := g.RecordMention(ctx, &models.EntityMention{
		EntityID: "e2", MemoryID: "mem1", Confidence: 0.8, CreatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	if err := g.MergeEntities(ctx, []string{"e1", "e2"}, "PostgreSQL"); err != nil {
		t.Fatal(err)
	}

	merged, err := g.GetEntity(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if merged == nil || merged.Name != "PostgreSQL" {
		t.Errorf("expected canonical entity renamed, got %+v", merged)
	}
	if merged.MentionCount != 1 {
		t.Errorf("expected canonical mention count 1 after merge, got %d", merged.MentionCount)
	}

	rel, err := g.GetRelationship(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if rel.FromEntity != "e1" {
		t.Errorf("expected relationship re-pointed to canonical id, got from=%s", rel.FromEntity)
	}

	mentions, err := g.MentionsForEntity(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if len(mentions) != 1 || mentions[0].MemoryID != "mem1" {
		t.Errorf("expected mention re-pointed to canonical id, got %+v", mentions)
	}

	results, err := g.QueryEntities(ctx, models.NewEntityQuery())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range results {
		if e.ID == "e2" {
			t.Error("expected merged-away entity excluded from default visible-now query")
		}
	}
}

func TestSQLiteGraph_QueryEntitiesAtBitemporalPoint(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-2 * time.Hour)
	e := &models.Entity{
		ID: "e1", Name: "Historic", Type: models.EntityConcept,
		Domain:     models.DomainProject,
		Confidence: 0.9,
		ValidTime:  models.RangeBetween(past, past.Add(time.Hour)),
		TxTime:     models.TransactionTimeNow(past),
		CreatedAt:  past, UpdatedAt: past,
	}
	if err := g.CreateEntity(ctx, e); err != nil {
		t.Fatal(err)
	}

	// Visible now: no, since valid-time has already closed.
	nowResults, err := g.QueryEntities(ctx, models.NewEntityQuery())
	if err != nil {
		t.Fatal(err)
	}
	if len(nowResults) != 0 {
		t.Errorf("expected entity invisible now, got %+v", nowResults)
	}

	// Visible when pinned to a point inside its original valid-time range.
	pastResults, err := g.QueryEntities(ctx, models.NewEntityQuery().WithAt(
		models.BitemporalPoint{ValidAt: past.Add(30 * time.Minute), AsOf: time.Now().UTC()}))
	if err != nil {
		t.Fatal(err)
	}
	if len(pastResults) != 1 || pastResults[0].ID != "e1" {
		t.Errorf("expected entity visible at historical point, got %+v", pastResults)
	}
}

func TestSQLiteGraph_MentionsAndStats(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	e := newTestEntity("e1", "Widget", models.EntityConcept)
	if err := g.CreateEntity(ctx, e); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	if err := g.RecordMention(ctx, &models.EntityMention{
		EntityID: "e1", MemoryID: "mem1", Confidence: 0.7, Context: "seen here", CreatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	mentions, err := g.MentionsForEntity(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if len(mentions) != 1 {
		t.Fatalf("mentions = %d, want 1", len(mentions))
	}

	got, err := g.GetEntity(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if got.MentionCount != 1 {
		t.Errorf("mention_count = %d, want 1", got.MentionCount)
	}

	stats, err := g.Stats(ctx, models.DomainProject)
	if err != nil {
		t.Fatal(err)
	}
	if stats.EntityCount != 1 || stats.MentionCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSQLiteGraph_DeleteMemoryCascadeRemovesOrphans(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	e := newTestEntity("e1", "OnlyFromOneMemory", models.EntityConcept)
	if err := g.CreateEntity(ctx, e); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	if err := g.RecordMention(ctx, &models.EntityMention{
		EntityID: "e1", MemoryID: "mem1", CreatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	if err := g.DeleteMemoryCascade(ctx, "mem1"); err != nil {
		t.Fatal(err)
	}

	got, err := g.GetEntity(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected orphaned entity removed, got %+v", got)
	}
}

func TestSQLiteGraph_CurrentVersion(t *testing.T) {
	g := newTestGraph(t)
	v, err := g.CurrentVersion(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Errorf("version = %d, want 1", v)
	}
}
