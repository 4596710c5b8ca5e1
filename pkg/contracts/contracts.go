// Package contracts defines the driver interfaces the context router's
// pipeline is assembled from.
//
// The engine and HTTP handlers depend only on these interfaces, so the
// zero-config tier (in-memory index, in-process pub/sub) and the
// production tier (pgvector, Postgres event log, Redis) are a single
// line change in the wiring code (pkg/server).
package contracts

import (
	"context"

	"github.com/contex-io/contex/pkg/models"
)

// ── Embedding Driver ────────────────────────────────────────

// EmbeddingDriver turns text into fixed-dimension float32 vectors.
// Implementations: hash (deterministic, zero-config), ollama, openai.
//
// Encode must be deterministic within a model version: identical text
// produces the identical vector.
type EmbeddingDriver interface {
	// Kind returns the driver identifier (e.g. "ollama", "hash").
	Kind() string

	// Dimensions returns the fixed output dimension D. The vector index
	// and matcher must agree on D; a mismatch is a startup error.
	Dimensions() int

	// MaxBatchSize returns the max texts per Encode call.
	MaxBatchSize() int

	// Encode embeds a batch of texts, one vector per input in order.
	Encode(ctx context.Context, texts []string) ([][]float32, error)

	// HealthCheck verifies the backing model is reachable.
	HealthCheck(ctx context.Context) error
}

// ── Embedding Cache ─────────────────────────────────────────

// EmbeddingCache is a content-addressed (SHA-256 of the text) vector
// cache with TTL. A hit returns exactly the vector Set stored; cache
// errors are treated as misses and never fail the caller.
type EmbeddingCache interface {
	Get(ctx context.Context, text string) ([]float32, bool)
	Set(ctx context.Context, text string, vector []float32)
	Delete(ctx context.Context, text string)
	Clear(ctx context.Context) error
}

// ── Event Log ───────────────────────────────────────────────

// EventLog is the append-only per-project source of truth. Sequences
// are strictly increasing within a project; sinceExclusive=0 means
// "from the beginning".
type EventLog interface {
	// Append records an event and returns its assigned sequence, which
	// strictly exceeds every sequence previously returned for project.
	Append(ctx context.Context, project, eventType string, payload map[string]any) (int64, error)

	// Range returns events with sequence > sinceExclusive in order.
	// May return fewer than maxCount; callers loop if they need more.
	Range(ctx context.Context, project string, sinceExclusive int64, maxCount int) ([]models.Event, error)

	// Latest returns the highest sequence for project, or 0 when empty.
	Latest(ctx context.Context, project string) (int64, error)

	// Length returns the number of retained events for project.
	Length(ctx context.Context, project string) (int, error)

	// Delete drops all events for project.
	Delete(ctx context.Context, project string) error

	// Trim drops the oldest events beyond maxLen and events older than
	// the TTL cutoff; returns how many were removed. Retention only.
	Trim(ctx context.Context, project string, maxLen int, olderThanDays int) (int, error)

	// Projects lists project ids with at least one retained event.
	Projects(ctx context.Context) ([]string, error)
}

// ── Vector Index ────────────────────────────────────────────

// Neighbor is one kNN result.
type Neighbor struct {
	NodeKey    string
	Similarity float64
	Record     models.NodeRecord
}

// VectorIndex stores node records keyed by (project, node_key) and
// answers cosine kNN queries. The project filter is enforced inside the
// query, never by post-filtering a global neighbor list.
type VectorIndex interface {
	// Upsert atomically replaces every record whose node_key falls under
	// the data_key prefix with the given set. No reader observes a
	// partial replacement.
	Upsert(ctx context.Context, project, dataKey string, records []models.NodeRecord) error

	// KNN returns up to k neighbors sorted by descending cosine similarity.
	KNN(ctx context.Context, project string, query []float32, k int) ([]Neighbor, error)

	// Get fetches one record by node_key.
	Get(ctx context.Context, project, nodeKey string) (*models.NodeRecord, error)

	// ListDataKeys returns the distinct data_keys stored for project.
	ListDataKeys(ctx context.Context, project string) ([]string, error)

	// Clear drops all records for project.
	Clear(ctx context.Context, project string) error
}

// ── Lexical Index ───────────────────────────────────────────

// LexicalIndex is the optional BM25 side of hybrid retrieval. Only
// ranks matter to the matcher; raw scores are not exposed.
type LexicalIndex interface {
	// Index adds or replaces one document.
	Index(ctx context.Context, project, nodeKey, text string) error

	// Search returns node_keys in BM25 order; a key's rank is its
	// 0-based position in the returned slice.
	Search(ctx context.Context, project, query string, size int) ([]string, error)

	// RemovePrefix drops documents whose node_key falls under the
	// data_key prefix. Called before re-indexing on publish.
	RemovePrefix(ctx context.Context, project, dataKey string) error

	// Clear drops all documents for project.
	Clear(ctx context.Context, project string) error
}

// ── Pub/Sub ─────────────────────────────────────────────────

// PubSub is the best-effort fan-out transport for subscribers that poll
// a channel instead of exposing a webhook. No retries; if nobody
// listens, the message is dropped.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// ── Snapshot Store ──────────────────────────────────────────

// Snapshot is a fold of a project's events up to a sequence.
type Snapshot = models.Snapshot

// SnapshotStore persists administrative state snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, snap *models.Snapshot) error
	Get(ctx context.Context, project string, sequence int64) (*models.Snapshot, error)
	Latest(ctx context.Context, project string) (*models.Snapshot, error)
	List(ctx context.Context, project string) ([]int64, error)
	// Prune keeps at most max newest snapshots; returns how many were dropped.
	Prune(ctx context.Context, project string, max int) (int, error)
}
