package vectorstore_test

import (
	"context"
	"testing"

	"github.com/contex-io/contex/internal/vectorstore"
	"github.com/contex-io/contex/pkg/models"
)

func record(nodeKey string, vec []float32) models.NodeRecord {
	return models.NodeRecord{NodeKey: nodeKey, Vector: vec, Description: nodeKey}
}

// ─── Upsert and replace ──────────────────────────────────────

func TestUpsertReplacesDataKeySet(t *testing.T) {
	s := vectorstore.NewEmbeddedStore()
	ctx := context.Background()

	first := []models.NodeRecord{
		record("users.a", []float32{1, 0}),
		record("users.b", []float32{0, 1}),
		record("users.c", []float32{1, 1}),
	}
	if err := s.Upsert(ctx, "p", "users", first); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	second := []models.NodeRecord{record("users.x", []float32{1, 0})}
	if err := s.Upsert(ctx, "p", "users", second); err != nil {
		t.Fatalf("Upsert() replace error = %v", err)
	}

	results, err := s.KNN(ctx, "p", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("KNN() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results after replace, want 1 (old set dropped)", len(results))
	}
	if results[0].NodeKey != "users.x" {
		t.Errorf("NodeKey = %q, want users.x", results[0].NodeKey)
	}
}

func TestUpsertDoesNotTouchOtherDataKeys(t *testing.T) {
	s := vectorstore.NewEmbeddedStore()
	ctx := context.Background()

	s.Upsert(ctx, "p", "users", []models.NodeRecord{record("users.a", []float32{1, 0})})
	s.Upsert(ctx, "p", "orders", []models.NodeRecord{record("orders.a", []float32{0, 1})})
	s.Upsert(ctx, "p", "users", []models.NodeRecord{record("users.b", []float32{1, 0})})

	keys, err := s.ListDataKeys(ctx, "p")
	if err != nil {
		t.Fatalf("ListDataKeys() error = %v", err)
	}
	if len(keys) != 2 || keys[0] != "orders" || keys[1] != "users" {
		t.Errorf("ListDataKeys() = %v, want [orders users]", keys)
	}
}

// ─── KNN ─────────────────────────────────────────────────────

func TestKNNOrdersBySimilarity(t *testing.T) {
	s := vectorstore.NewEmbeddedStore()
	ctx := context.Background()

	s.Upsert(ctx, "p", "d", []models.NodeRecord{
		record("d.exact", []float32{1, 0, 0}),
		record("d.close", []float32{1, 0.5, 0}),
		record("d.far", []float32{0, 0, 1}),
	})

	results, err := s.KNN(ctx, "p", []float32{1, 0, 0}, 3)
	if err != nil {
		t.Fatalf("KNN() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].NodeKey != "d.exact" || results[1].NodeKey != "d.close" || results[2].NodeKey != "d.far" {
		t.Errorf("order = %s, %s, %s", results[0].NodeKey, results[1].NodeKey, results[2].NodeKey)
	}
	if results[0].Similarity < 0.999 {
		t.Errorf("exact match similarity = %v, want ~1", results[0].Similarity)
	}
}

func TestKNNProjectIsolation(t *testing.T) {
	s := vectorstore.NewEmbeddedStore()
	ctx := context.Background()

	s.Upsert(ctx, "p1", "d", []models.NodeRecord{record("d.a", []float32{1, 0})})
	s.Upsert(ctx, "p2", "d", []models.NodeRecord{record("d.b", []float32{1, 0})})

	results, err := s.KNN(ctx, "p1", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("KNN() error = %v", err)
	}
	if len(results) != 1 || results[0].NodeKey != "d.a" {
		t.Errorf("project filter leaked: %v", results)
	}
}

func TestKNNEmptyProject(t *testing.T) {
	s := vectorstore.NewEmbeddedStore()

	results, err := s.KNN(context.Background(), "empty", []float32{1}, 5)
	if err != nil {
		t.Fatalf("KNN() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from empty project", len(results))
	}
}

// ─── Get, Clear, capacity ────────────────────────────────────

func TestGetRecord(t *testing.T) {
	s := vectorstore.NewEmbeddedStore()
	ctx := context.Background()

	s.Upsert(ctx, "p", "d", []models.NodeRecord{record("d.a", []float32{1})})

	r, err := s.Get(ctx, "p", "d.a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if r.DataKey != "d" {
		t.Errorf("DataKey = %q, want d", r.DataKey)
	}

	if _, err := s.Get(ctx, "p", "missing"); err == nil {
		t.Error("Get(missing) expected error, got nil")
	}
}

func TestClearProject(t *testing.T) {
	s := vectorstore.NewEmbeddedStore()
	ctx := context.Background()

	s.Upsert(ctx, "p", "d", []models.NodeRecord{record("d.a", []float32{1})})
	if err := s.Clear(ctx, "p"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	keys, _ := s.ListDataKeys(ctx, "p")
	if len(keys) != 0 {
		t.Errorf("data keys remain after Clear: %v", keys)
	}
}

func TestCapacityEnforced(t *testing.T) {
	s := vectorstore.NewEmbeddedStore(vectorstore.WithMaxRecords(2))
	ctx := context.Background()

	err := s.Upsert(ctx, "p", "d", []models.NodeRecord{
		record("d.a", []float32{1}),
		record("d.b", []float32{1}),
		record("d.c", []float32{1}),
	})
	if err == nil {
		t.Error("Upsert() beyond capacity expected error, got nil")
	}
}

func TestFailedReplaceKeepsPreviousSet(t *testing.T) {
	s := vectorstore.NewEmbeddedStore(vectorstore.WithMaxRecords(2))
	ctx := context.Background()

	if err := s.Upsert(ctx, "p", "d", []models.NodeRecord{
		record("d.a", []float32{1, 0}),
		record("d.b", []float32{0, 1}),
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	err := s.Upsert(ctx, "p", "d", []models.NodeRecord{
		record("d.x", []float32{1, 0}),
		record("d.y", []float32{0, 1}),
		record("d.z", []float32{1, 1}),
	})
	if err == nil {
		t.Fatal("Upsert() beyond capacity expected error, got nil")
	}

	keys, err := s.ListDataKeys(ctx, "p")
	if err != nil {
		t.Fatalf("ListDataKeys() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != "d" {
		t.Fatalf("ListDataKeys() after failed replace = %v, want [d]", keys)
	}
	if _, err := s.Get(ctx, "p", "d.a"); err != nil {
		t.Errorf("Get(d.a) after failed replace error = %v, want old record intact", err)
	}
	if _, err := s.Get(ctx, "p", "d.x"); err == nil {
		t.Error("Get(d.x) after failed replace expected error, got partial insert")
	}
}
