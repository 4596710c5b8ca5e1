package embeddings_test

import (
	"context"
	"testing"
	"time"

	"github.com/contex-io/contex/internal/embeddings"
)

// ─── Hash driver ─────────────────────────────────────────────

func TestHashDriverDeterministic(t *testing.T) {
	d := embeddings.NewHashDriver(384)
	ctx := context.Background()

	first, err := d.Encode(ctx, []string{"user email schema"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	second, err := d.Encode(ctx, []string{"user email schema"})
	if err != nil {
		t.Fatalf("Encode() second call error = %v", err)
	}

	for i := range first[0] {
		if first[0][i] != second[0][i] {
			t.Fatalf("vectors differ at dim %d: %v vs %v", i, first[0][i], second[0][i])
		}
	}
}

func TestHashDriverDimensions(t *testing.T) {
	d := embeddings.NewHashDriver(0)
	if d.Dimensions() != 384 {
		t.Errorf("Dimensions() = %d, want 384 default", d.Dimensions())
	}

	vecs, err := d.Encode(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 384 {
		t.Errorf("got %d vectors of dim %d", len(vecs), len(vecs[0]))
	}
}

func TestHashDriverUnitNorm(t *testing.T) {
	d := embeddings.NewHashDriver(128)
	vecs, err := d.Encode(context.Background(), []string{"database connection pool settings"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var norm float64
	for _, v := range vecs[0] {
		norm += float64(v) * float64(v)
	}
	if norm < 0.999 || norm > 1.001 {
		t.Errorf("squared norm = %v, want 1", norm)
	}
}

// ─── Cache ───────────────────────────────────────────────────

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := embeddings.NewMemoryCache(time.Hour)
	ctx := context.Background()

	vec := []float32{0.1, -0.25, 3.75, 0}
	c.Set(ctx, "some text", vec)

	got, ok := c.Get(ctx, "some text")
	if !ok {
		t.Fatal("Get() miss after Set()")
	}
	if len(got) != len(vec) {
		t.Fatalf("got %d dims, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("dim %d = %v, want %v (lossless round trip)", i, got[i], vec[i])
		}
	}
}

func TestMemoryCacheMiss(t *testing.T) {
	c := embeddings.NewMemoryCache(time.Hour)
	if _, ok := c.Get(context.Background(), "never stored"); ok {
		t.Error("Get() hit for text never stored")
	}
}

func TestMemoryCacheDelete(t *testing.T) {
	c := embeddings.NewMemoryCache(time.Hour)
	ctx := context.Background()

	c.Set(ctx, "t", []float32{1})
	c.Delete(ctx, "t")
	if _, ok := c.Get(ctx, "t"); ok {
		t.Error("Get() hit after Delete()")
	}
}

// ─── Cached encoder ──────────────────────────────────────────

// countingDriver wraps HashDriver and counts Encode calls.
type countingDriver struct {
	*embeddings.HashDriver
	calls int
	texts int
}

func (d *countingDriver) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	d.calls++
	d.texts += len(texts)
	return d.HashDriver.Encode(ctx, texts)
}

func TestCachedEncoderSkipsKnownTexts(t *testing.T) {
	driver := &countingDriver{HashDriver: embeddings.NewHashDriver(64)}
	enc := embeddings.NewCachedEncoder(driver, embeddings.NewMemoryCache(time.Hour))
	ctx := context.Background()

	if _, err := enc.Encode(ctx, []string{"alpha", "beta"}); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if _, err := enc.Encode(ctx, []string{"beta", "gamma"}); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if driver.texts != 3 {
		t.Errorf("driver embedded %d texts, want 3 (beta cached)", driver.texts)
	}
	hits, misses := enc.Stats()
	if hits != 1 || misses != 3 {
		t.Errorf("stats = %d hits / %d misses, want 1/3", hits, misses)
	}
}

func TestCachedEncoderIdenticalVectors(t *testing.T) {
	enc := embeddings.NewCachedEncoder(embeddings.NewHashDriver(64), embeddings.NewMemoryCache(time.Hour))
	ctx := context.Background()

	first, err := enc.EncodeOne(ctx, "replicated text")
	if err != nil {
		t.Fatalf("EncodeOne() error = %v", err)
	}
	second, err := enc.EncodeOne(ctx, "replicated text")
	if err != nil {
		t.Fatalf("EncodeOne() error = %v", err)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatal("cached vector differs from computed vector")
		}
	}
}

// ─── Registry ────────────────────────────────────────────────

func TestRegistryGet(t *testing.T) {
	r := embeddings.NewRegistry()
	r.Register("hash", embeddings.NewHashDriver(384))

	d, err := r.Get("hash")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if d.Kind() != "hash" {
		t.Errorf("Kind() = %q, want hash", d.Kind())
	}

	if _, err := r.Get("missing"); err == nil {
		t.Error("Get(missing) expected error, got nil")
	}
}
