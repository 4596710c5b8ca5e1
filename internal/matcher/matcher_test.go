package matcher_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/contex-io/contex/internal/embeddings"
	"github.com/contex-io/contex/internal/lexical"
	"github.com/contex-io/contex/internal/matcher"
	"github.com/contex-io/contex/internal/vectorstore"
	"github.com/contex-io/contex/pkg/models"
)

func newEncoder() *embeddings.CachedEncoder {
	return embeddings.NewCachedEncoder(embeddings.NewHashDriver(128), embeddings.NewMemoryCache(time.Hour))
}

// seed embeds the description and stores one record per entry.
func seed(t *testing.T, store *vectorstore.EmbeddedStore, enc *embeddings.CachedEncoder, project, dataKey string, descriptions map[string]string) {
	t.Helper()
	ctx := context.Background()

	var records []models.NodeRecord
	for nodeKey, desc := range descriptions {
		vec, err := enc.EncodeOne(ctx, desc)
		if err != nil {
			t.Fatalf("EncodeOne() error = %v", err)
		}
		records = append(records, models.NodeRecord{
			NodeKey:     nodeKey,
			Description: desc,
			Content:     desc,
			Vector:      vec,
		})
	}
	if err := store.Upsert(ctx, project, dataKey, records); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
}

// ─── Pure vector path ────────────────────────────────────────

func TestMatchReturnsRelevantNode(t *testing.T) {
	enc := newEncoder()
	store := vectorstore.NewEmbeddedStore()
	seed(t, store, enc, "p", "schema", map[string]string{
		"schema.users":  "users table id uuid email varchar unique",
		"schema.orders": "orders table total amount currency",
	})

	m := matcher.New(enc, store, nil, matcher.Config{MaxMatches: 1, SimilarityThreshold: 0.01})
	result, err := m.Match(context.Background(), "p", []string{"users email"})
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}

	matches := result["users email"]
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].NodeKey != "schema.users" {
		t.Errorf("top match = %q, want schema.users", matches[0].NodeKey)
	}
	if matches[0].DataKey != "schema" {
		t.Errorf("DataKey = %q, want schema", matches[0].DataKey)
	}
}

func TestMatchEmptyNeeds(t *testing.T) {
	m := matcher.New(newEncoder(), vectorstore.NewEmbeddedStore(), nil, matcher.Config{})
	result, err := m.Match(context.Background(), "p", nil)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if len(result) != 0 {
		t.Errorf("got %d entries, want empty map", len(result))
	}
}

func TestMatchEmptyProject(t *testing.T) {
	m := matcher.New(newEncoder(), vectorstore.NewEmbeddedStore(), nil, matcher.Config{})
	result, err := m.Match(context.Background(), "empty", []string{"anything"})
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if got := result["anything"]; len(got) != 0 {
		t.Errorf("got %d matches from empty project, want 0", len(got))
	}
}

func TestMatchThresholdFiltersUnrelated(t *testing.T) {
	enc := newEncoder()
	store := vectorstore.NewEmbeddedStore()
	seed(t, store, enc, "p", "misc", map[string]string{
		"misc.a": "entirely unrelated words about gardening tulips",
	})

	m := matcher.New(enc, store, nil, matcher.Config{MaxMatches: 5, SimilarityThreshold: 0.9})
	result, err := m.Match(context.Background(), "p", []string{"kubernetes deployment"})
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if len(result["kubernetes deployment"]) != 0 {
		t.Error("threshold 0.9 should filter an unrelated node")
	}
}

func TestMatchDeterministic(t *testing.T) {
	enc := newEncoder()
	store := vectorstore.NewEmbeddedStore()
	seed(t, store, enc, "p", "d", map[string]string{
		"d.a": "alpha beta gamma",
		"d.b": "alpha beta delta",
		"d.c": "alpha epsilon",
	})

	m := matcher.New(enc, store, nil, matcher.Config{MaxMatches: 3, SimilarityThreshold: 0.01})
	first, err := m.Match(context.Background(), "p", []string{"alpha beta"})
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	second, err := m.Match(context.Background(), "p", []string{"alpha beta"})
	if err != nil {
		t.Fatalf("Match() second call error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("repeated Match() calls returned different ordered lists")
	}
}

// ─── Hybrid fusion ───────────────────────────────────────────

func TestHybridSurfacesLexicalHit(t *testing.T) {
	enc := newEncoder()
	store := vectorstore.NewEmbeddedStore()
	lex := lexical.NewMemoryIndex()
	ctx := context.Background()

	descriptions := map[string]string{
		"roster.rows[0]": "rows Name: Alice | Role: Engineer",
		"roster.rows[1]": "rows Name: Bob | Role: Manager",
	}
	seed(t, store, enc, "p", "roster", descriptions)
	for key, desc := range descriptions {
		lex.Index(ctx, "p", key, desc)
	}

	m := matcher.New(enc, store, lex, matcher.Config{MaxMatches: 2, Hybrid: true})
	result, err := m.Match(ctx, "p", []string{"Bob"})
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}

	matches := result["Bob"]
	if len(matches) == 0 {
		t.Fatal("hybrid search returned no matches for exact keyword")
	}
	if matches[0].NodeKey != "roster.rows[1]" {
		t.Errorf("top match = %q, want roster.rows[1] (lexical hit boosted)", matches[0].NodeKey)
	}
}

func TestHybridRRFScores(t *testing.T) {
	enc := newEncoder()
	store := vectorstore.NewEmbeddedStore()
	lex := lexical.NewMemoryIndex()
	ctx := context.Background()

	descriptions := map[string]string{
		"d.both":   "payment gateway timeout settings",
		"d.vector": "payment gateway retry policy",
	}
	seed(t, store, enc, "p", "d", descriptions)
	// Only one document in the lexical index: d.both gets both RRF terms.
	lex.Index(ctx, "p", "d.both", descriptions["d.both"])

	m := matcher.New(enc, store, lex, matcher.Config{MaxMatches: 2, Hybrid: true, RRFK: 60})
	result, err := m.Match(ctx, "p", []string{"payment gateway timeout"})
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}

	matches := result["payment gateway timeout"]
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].NodeKey != "d.both" {
		t.Errorf("top match = %q, want d.both (present in both lists)", matches[0].NodeKey)
	}
	if matches[0].Similarity <= matches[1].Similarity {
		t.Errorf("fused scores not descending: %v then %v", matches[0].Similarity, matches[1].Similarity)
	}
}

// failingLexical always errors, to exercise one-shot degradation.
type failingLexical struct {
	calls int
}

func (f *failingLexical) Index(ctx context.Context, project, nodeKey, text string) error { return nil }
func (f *failingLexical) Search(ctx context.Context, project, query string, size int) ([]string, error) {
	f.calls++
	return nil, errors.New("search exploded")
}
func (f *failingLexical) RemovePrefix(ctx context.Context, project, dataKey string) error { return nil }
func (f *failingLexical) Clear(ctx context.Context, project string) error                 { return nil }

func TestLexicalFailureDegradesOnce(t *testing.T) {
	enc := newEncoder()
	store := vectorstore.NewEmbeddedStore()
	seed(t, store, enc, "p", "d", map[string]string{"d.a": "alpha beta"})

	lex := &failingLexical{}
	m := matcher.New(enc, store, lex, matcher.Config{MaxMatches: 2, Hybrid: true, SimilarityThreshold: 0.01})
	ctx := context.Background()

	if _, err := m.Match(ctx, "p", []string{"alpha"}); err != nil {
		t.Fatalf("Match() error = %v (lexical failure must not fail the call)", err)
	}
	if _, err := m.Match(ctx, "p", []string{"beta"}); err != nil {
		t.Fatalf("Match() error = %v", err)
	}

	if lex.calls != 1 {
		t.Errorf("lexical Search called %d times, want 1 (disabled after first failure)", lex.calls)
	}
}
