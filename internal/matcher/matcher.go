// Package matcher answers "which nodes satisfy this need": cosine kNN
// over the vector index, optionally fused with BM25 ranks by Reciprocal
// Rank Fusion when hybrid search is enabled.
package matcher

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/contex-io/contex/internal/embeddings"
	"github.com/contex-io/contex/pkg/contracts"
	"github.com/contex-io/contex/pkg/models"
)

// Config tunes retrieval. Zero values are replaced by the defaults.
type Config struct {
	// SimilarityThreshold discards pure-vector results below this cosine.
	SimilarityThreshold float64
	// MaxMatches caps results per need.
	MaxMatches int
	// Hybrid enables lexical+vector fusion when a lexical index is wired.
	Hybrid bool
	// RRFK is the k constant in 1/(k+rank). Default 60.
	RRFK int
	// VectorBoost weights the vector list's RRF contribution. Default 1.0.
	VectorBoost float64
}

func (c Config) withDefaults() Config {
	if c.MaxMatches <= 0 {
		c.MaxMatches = 5
	}
	if c.RRFK <= 0 {
		c.RRFK = 60
	}
	if c.VectorBoost == 0 {
		c.VectorBoost = 1.0
	}
	return c
}

// Matcher resolves needs against the project's indices.
type Matcher struct {
	encoder *embeddings.CachedEncoder
	vectors contracts.VectorIndex
	lexical contracts.LexicalIndex
	cfg     Config

	// One-shot degradation: a lexical search failure disables hybrid
	// for the remainder of the process.
	lexicalBroken atomic.Bool
}

// New creates a matcher. lexical may be nil when hybrid search is off.
func New(encoder *embeddings.CachedEncoder, vectors contracts.VectorIndex, lexical contracts.LexicalIndex, cfg Config) *Matcher {
	return &Matcher{
		encoder: encoder,
		vectors: vectors,
		lexical: lexical,
		cfg:     cfg.withDefaults(),
	}
}

// Threshold returns the configured similarity floor, for callers that
// let requests override it.
func (m *Matcher) Threshold() float64 { return m.cfg.SimilarityThreshold }

// Match resolves every need. An empty needs list yields an empty map; a
// project with no data yields an empty match list per need.
func (m *Matcher) Match(ctx context.Context, project string, needs []string) (models.MatchSet, error) {
	result := make(models.MatchSet, len(needs))
	for _, need := range needs {
		matches, err := m.MatchNeed(ctx, project, need, m.cfg.MaxMatches, m.cfg.SimilarityThreshold)
		if err != nil {
			return nil, err
		}
		result[need] = matches
	}
	return result, nil
}

// MatchNeed resolves a single need with explicit top-k and threshold,
// used both by Match and by the ad-hoc query endpoint.
func (m *Matcher) MatchNeed(ctx context.Context, project, need string, topK int, threshold float64) ([]models.Match, error) {
	if topK <= 0 {
		topK = m.cfg.MaxMatches
	}

	qvec, err := m.encoder.EncodeOne(ctx, need)
	if err != nil {
		return nil, fmt.Errorf("embed need: %w", err)
	}

	// Over-fetch both lists so fusion has material to reorder.
	fetch := 2 * topK
	neighbors, err := m.vectors.KNN(ctx, project, qvec, fetch)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	lexKeys := m.lexicalSearch(ctx, project, need, fetch)
	if len(lexKeys) > 0 {
		return m.fuse(ctx, project, neighbors, lexKeys, topK)
	}
	return vectorOnly(neighbors, topK, threshold), nil
}

// lexicalSearch runs the BM25 side when enabled. A failure logs, falls
// back to pure vector for this call, and disables lexical for the
// process.
func (m *Matcher) lexicalSearch(ctx context.Context, project, need string, size int) []string {
	if !m.cfg.Hybrid || m.lexical == nil || m.lexicalBroken.Load() {
		return nil
	}
	keys, err := m.lexical.Search(ctx, project, need, size)
	if err != nil {
		m.lexicalBroken.Store(true)
		log.Error().Err(err).Msg("Lexical search failed — disabling hybrid retrieval for this process")
		return nil
	}
	return keys
}

// fuse combines the two ranked lists by RRF:
//
//	score(key) = 1/(k + rank_lexical) + vector_boost/(k + rank_vector)
//
// with each term present only when the key appears in that list. Keys
// present in either list survive; the cosine threshold does not apply
// because RRF scores are not comparable to cosines.
func (m *Matcher) fuse(ctx context.Context, project string, neighbors []contracts.Neighbor, lexKeys []string, topK int) ([]models.Match, error) {
	type fused struct {
		score  float64
		cosine float64
		record *models.NodeRecord
	}
	byKey := make(map[string]*fused)

	for rank, n := range neighbors {
		rec := n.Record
		byKey[n.NodeKey] = &fused{
			score:  m.cfg.VectorBoost / float64(m.cfg.RRFK+rank),
			cosine: n.Similarity,
			record: &rec,
		}
	}
	for rank, key := range lexKeys {
		contribution := 1 / float64(m.cfg.RRFK+rank)
		if f, ok := byKey[key]; ok {
			f.score += contribution
			continue
		}
		rec, err := m.vectors.Get(ctx, project, key)
		if err != nil {
			// Lexical index can lag the vector index by one publish;
			// skip keys it no longer knows.
			log.Debug().Str("node_key", key).Msg("Lexical hit missing from vector index, skipping")
			continue
		}
		byKey[key] = &fused{score: contribution, record: rec}
	}

	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := byKey[keys[i]], byKey[keys[j]]
		if a.score != b.score {
			return a.score > b.score
		}
		return keys[i] < keys[j]
	})
	if len(keys) > topK {
		keys = keys[:topK]
	}

	matches := make([]models.Match, 0, len(keys))
	for _, key := range keys {
		f := byKey[key]
		matches = append(matches, models.Match{
			DataKey:     f.record.DataKey,
			NodeKey:     key,
			Similarity:  f.score,
			Content:     f.record.Content,
			Description: f.record.Description,
		})
	}
	return matches, nil
}

// vectorOnly applies the cosine threshold and top-k to the kNN list.
// Negative cosines are clamped to 0.
func vectorOnly(neighbors []contracts.Neighbor, topK int, threshold float64) []models.Match {
	matches := make([]models.Match, 0, topK)
	for _, n := range neighbors {
		sim := n.Similarity
		if sim < 0 {
			sim = 0
		}
		if sim < threshold {
			continue
		}
		matches = append(matches, models.Match{
			DataKey:     n.Record.DataKey,
			NodeKey:     n.NodeKey,
			Similarity:  sim,
			Content:     n.Record.Content,
			Description: n.Record.Description,
		})
		if len(matches) == topK {
			break
		}
	}
	return matches
}
