// Package vectorstore holds the per-project node record index: an
// in-memory brute-force store for development and small workloads, and
// a pgvector-backed store for production.
package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/contex-io/contex/pkg/contracts"
	"github.com/contex-io/contex/pkg/models"
)

// DefaultMaxRecords is the default cap for the embedded store (50K).
// Exceeding this triggers a warning nudging users to pgvector.
const DefaultMaxRecords = 50_000

// EmbeddedStore is a lightweight in-memory vector index using
// brute-force cosine similarity. Records live under a single RWMutex,
// so a data_key replace is atomic by construction: readers either see
// the full old set or the full new set.
type EmbeddedStore struct {
	mu         sync.RWMutex
	records    map[string]*models.NodeRecord // key: project:node_key
	maxRecords int
}

// EmbeddedOption configures the embedded store.
type EmbeddedOption func(*EmbeddedStore)

// WithMaxRecords sets the maximum number of records (default 50K).
func WithMaxRecords(max int) EmbeddedOption {
	return func(s *EmbeddedStore) { s.maxRecords = max }
}

// NewEmbeddedStore creates an in-memory vector index.
func NewEmbeddedStore(opts ...EmbeddedOption) *EmbeddedStore {
	s := &EmbeddedStore{
		records:    make(map[string]*models.NodeRecord),
		maxRecords: DefaultMaxRecords,
	}
	for _, opt := range opts {
		opt(s)
	}
	log.Info().Int("max_records", s.maxRecords).Msg("Embedded vector index initialized")
	return s
}

func (s *EmbeddedStore) Kind() string { return "embedded" }

// Upsert atomically replaces every record under (project, dataKey) with
// the given set.
func (s *EmbeddedStore) Upsert(_ context.Context, project, dataKey string, records []models.NodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Reject over-capacity replaces before touching the previous node
	// set, so a failed publish leaves the data_key intact.
	existing := 0
	for _, r := range s.records {
		if r.Project == project && r.DataKey == dataKey {
			existing++
		}
	}
	total := len(s.records) - existing + len(records)
	if total > s.maxRecords {
		return fmt.Errorf("%w: embedded index capacity exceeded: %d > %d (consider pgvector)", models.ErrIndex, total, s.maxRecords)
	}
	if total > int(float64(s.maxRecords)*0.9) {
		log.Warn().Int("count", total).Int("max", s.maxRecords).Msg("Embedded vector index nearing capacity — consider pgvector")
	}

	removed := 0
	for k, r := range s.records {
		if r.Project == project && r.DataKey == dataKey {
			delete(s.records, k)
			removed++
		}
	}

	for _, r := range records {
		cp := r
		cp.Project = project
		cp.DataKey = dataKey
		s.records[key(project, cp.NodeKey)] = &cp
	}
	log.Debug().Str("project", project).Str("data_key", dataKey).Int("replaced", removed).Int("inserted", len(records)).Msg("Vector index replace")
	return nil
}

// KNN returns up to k neighbors sorted by descending cosine similarity.
// The project filter is applied inside the scan.
func (s *EmbeddedStore) KNN(_ context.Context, project string, query []float32, k int) ([]contracts.Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []contracts.Neighbor
	for _, r := range s.records {
		if r.Project != project {
			continue
		}
		if len(r.Vector) != len(query) {
			continue
		}
		candidates = append(candidates, contracts.Neighbor{
			NodeKey:    r.NodeKey,
			Similarity: cosineSimilarity(query, r.Vector),
			Record:     *r,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].NodeKey < candidates[j].NodeKey
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	return candidates[:k], nil
}

// Get fetches one record by node_key.
func (s *EmbeddedStore) Get(_ context.Context, project, nodeKey string) (*models.NodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[key(project, nodeKey)]
	if !ok {
		return nil, fmt.Errorf("%w: node %s", models.ErrNotFound, nodeKey)
	}
	cp := *r
	return &cp, nil
}

// ListDataKeys returns the distinct data_keys stored for the project.
func (s *EmbeddedStore) ListDataKeys(_ context.Context, project string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]struct{}{}
	for _, r := range s.records {
		if r.Project == project {
			seen[r.DataKey] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear drops all records for the project.
func (s *EmbeddedStore) Clear(_ context.Context, project string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.records {
		if strings.HasPrefix(k, project+":") {
			delete(s.records, k)
		}
	}
	return nil
}

func (s *EmbeddedStore) HealthCheck(_ context.Context) error {
	return nil // always healthy — it's in-memory
}

// ── Helpers ─────────────────────────────────────────────────

func key(project, nodeKey string) string {
	return project + ":" + nodeKey
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
