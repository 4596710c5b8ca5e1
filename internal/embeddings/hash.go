package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashDriver is a deterministic feature-hashing embedder. It needs no
// model server, which makes it the zero-config default for development
// and the fixture for tests: identical text always produces the
// identical unit vector, and texts sharing words land near each other.
//
// Each word (and each adjacent word bigram, at half weight) is hashed
// into one of D buckets with a hash-derived sign; the result is L2
// normalized so cosine similarity behaves like the model-backed drivers.
type HashDriver struct {
	dimensions int
}

// NewHashDriver creates a hash driver with the given dimension.
// Dimension 0 defaults to 384 to match the all-minilm class of models.
func NewHashDriver(dimensions int) *HashDriver {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashDriver{dimensions: dimensions}
}

func (d *HashDriver) Kind() string      { return "hash" }
func (d *HashDriver) Dimensions() int   { return d.dimensions }
func (d *HashDriver) MaxBatchSize() int { return 4096 }

// Encode embeds each text independently. Never fails.
func (d *HashDriver) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = d.encodeOne(t)
	}
	return vectors, nil
}

func (d *HashDriver) encodeOne(text string) []float32 {
	vec := make([]float32, d.dimensions)
	words := tokenize(text)

	for _, w := range words {
		d.accumulate(vec, w, 1.0)
	}
	for i := 0; i+1 < len(words); i++ {
		d.accumulate(vec, words[i]+" "+words[i+1], 0.5)
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func (d *HashDriver) accumulate(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(d.dimensions))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// HealthCheck always succeeds; there is no backing service.
func (d *HashDriver) HealthCheck(ctx context.Context) error { return nil }
