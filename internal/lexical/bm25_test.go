package lexical_test

import (
	"context"
	"testing"

	"github.com/contex-io/contex/internal/lexical"
)

func TestSearchRanksExactTermsFirst(t *testing.T) {
	ix := lexical.NewMemoryIndex()
	ctx := context.Background()

	ix.Index(ctx, "p", "roster.rows[0]", "rows Name: Alice | Role: Engineer")
	ix.Index(ctx, "p", "roster.rows[1]", "rows Name: Bob | Role: Manager")
	ix.Index(ctx, "p", "schema.users", "users table id uuid email varchar")

	hits, err := ix.Search(ctx, "p", "Bob", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0] != "roster.rows[1]" {
		t.Errorf("top hit = %q, want roster.rows[1]", hits[0])
	}
}

func TestSearchMultiTermScoring(t *testing.T) {
	ix := lexical.NewMemoryIndex()
	ctx := context.Background()

	ix.Index(ctx, "p", "a", "database connection pooling")
	ix.Index(ctx, "p", "b", "database settings")
	ix.Index(ctx, "p", "c", "frontend styling guide")

	hits, err := ix.Search(ctx, "p", "database connection", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0] != "a" {
		t.Errorf("top hit = %q, want a (matches both terms)", hits[0])
	}
}

func TestSearchSizeLimit(t *testing.T) {
	ix := lexical.NewMemoryIndex()
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c", "d"} {
		ix.Index(ctx, "p", key, "shared token")
	}

	hits, err := ix.Search(ctx, "p", "shared", 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("got %d hits, want 2", len(hits))
	}
}

func TestSearchProjectIsolation(t *testing.T) {
	ix := lexical.NewMemoryIndex()
	ctx := context.Background()

	ix.Index(ctx, "p1", "a", "secret token")
	ix.Index(ctx, "p2", "b", "secret token")

	hits, _ := ix.Search(ctx, "p1", "secret", 10)
	if len(hits) != 1 || hits[0] != "a" {
		t.Errorf("project filter leaked: %v", hits)
	}
}

func TestSearchDeterministic(t *testing.T) {
	ix := lexical.NewMemoryIndex()
	ctx := context.Background()

	ix.Index(ctx, "p", "x", "same words here")
	ix.Index(ctx, "p", "y", "same words here")

	first, _ := ix.Search(ctx, "p", "same words", 10)
	second, _ := ix.Search(ctx, "p", "same words", 10)
	if len(first) != 2 || first[0] != second[0] || first[1] != second[1] {
		t.Errorf("repeated searches differ: %v vs %v", first, second)
	}
	if first[0] != "x" {
		t.Errorf("equal scores should break by key: got %v", first)
	}
}

func TestRemovePrefix(t *testing.T) {
	ix := lexical.NewMemoryIndex()
	ctx := context.Background()

	ix.Index(ctx, "p", "users.a", "alpha token")
	ix.Index(ctx, "p", "users.b", "alpha token")
	ix.Index(ctx, "p", "usersext", "alpha token")

	if err := ix.RemovePrefix(ctx, "p", "users"); err != nil {
		t.Fatalf("RemovePrefix() error = %v", err)
	}

	hits, _ := ix.Search(ctx, "p", "alpha", 10)
	if len(hits) != 1 || hits[0] != "usersext" {
		t.Errorf("hits after RemovePrefix = %v, want [usersext] (no loose prefix match)", hits)
	}
}

func TestSearchEmptyProject(t *testing.T) {
	ix := lexical.NewMemoryIndex()
	hits, err := ix.Search(context.Background(), "none", "anything", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits from empty project", len(hits))
	}
}
