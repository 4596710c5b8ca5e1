package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/contex-io/contex/pkg/models"
)

// DefaultKeep is how many snapshots Prune retains per project.
const DefaultKeep = 10

// ── Redis store ─────────────────────────────────────────────

// RedisStore persists snapshots as JSON values with a sorted-set
// catalog per project, scored by sequence.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps a Redis client as a snapshot store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func snapKey(project string, seq int64) string {
	return fmt.Sprintf("contex:snapshot:%s:%d", project, seq)
}

func catalogKey(project string) string {
	return "contex:snapshot:" + project + ":index"
}

func latestKey(project string) string {
	return "contex:snapshot:" + project + ":latest"
}

// Save stores the snapshot and advances the latest pointer.
func (s *RedisStore) Save(ctx context.Context, snap *models.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, snapKey(snap.Project, snap.Sequence), raw, 0)
	pipe.ZAdd(ctx, catalogKey(snap.Project), redis.Z{Score: float64(snap.Sequence), Member: strconv.FormatInt(snap.Sequence, 10)})
	pipe.Set(ctx, latestKey(snap.Project), snap.Sequence, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

// Get fetches the snapshot at an exact sequence.
func (s *RedisStore) Get(ctx context.Context, project string, sequence int64) (*models.Snapshot, error) {
	raw, err := s.client.Get(ctx, snapKey(project, sequence)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: snapshot %s@%d", models.ErrNotFound, project, sequence)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Latest fetches the most recent snapshot for the project.
func (s *RedisStore) Latest(ctx context.Context, project string) (*models.Snapshot, error) {
	seq, err := s.client.Get(ctx, latestKey(project)).Int64()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: no snapshots for %s", models.ErrNotFound, project)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch latest pointer: %w", err)
	}
	return s.Get(ctx, project, seq)
}

// List returns the stored sequences, ascending.
func (s *RedisStore) List(ctx context.Context, project string) ([]int64, error) {
	members, err := s.client.ZRange(ctx, catalogKey(project), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out := make([]int64, 0, len(members))
	for _, m := range members {
		seq, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, seq)
	}
	return out, nil
}

// Prune drops the oldest snapshots beyond max.
func (s *RedisStore) Prune(ctx context.Context, project string, max int) (int, error) {
	if max <= 0 {
		max = DefaultKeep
	}
	seqs, err := s.List(ctx, project)
	if err != nil {
		return 0, err
	}
	if len(seqs) <= max {
		return 0, nil
	}

	drop := seqs[:len(seqs)-max]
	pipe := s.client.TxPipeline()
	for _, seq := range drop {
		pipe.Del(ctx, snapKey(project, seq))
		pipe.ZRem(ctx, catalogKey(project), strconv.FormatInt(seq, 10))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return len(drop), nil
}

// ── Memory store ────────────────────────────────────────────

// MemoryStore is the zero-config snapshot store.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]map[int64]*models.Snapshot
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]map[int64]*models.Snapshot)}
}

func (s *MemoryStore) Save(_ context.Context, snap *models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snaps[snap.Project] == nil {
		s.snaps[snap.Project] = make(map[int64]*models.Snapshot)
	}
	cp := *snap
	s.snaps[snap.Project][snap.Sequence] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, project string, sequence int64) (*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[project][sequence]
	if !ok {
		return nil, fmt.Errorf("%w: snapshot %s@%d", models.ErrNotFound, project, sequence)
	}
	cp := *snap
	return &cp, nil
}

func (s *MemoryStore) Latest(ctx context.Context, project string) (*models.Snapshot, error) {
	s.mu.RLock()
	var best int64 = -1
	for seq := range s.snaps[project] {
		if seq > best {
			best = seq
		}
	}
	s.mu.RUnlock()
	if best < 0 {
		return nil, fmt.Errorf("%w: no snapshots for %s", models.ErrNotFound, project)
	}
	return s.Get(ctx, project, best)
}

func (s *MemoryStore) List(_ context.Context, project string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0, len(s.snaps[project]))
	for seq := range s.snaps[project] {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemoryStore) Prune(ctx context.Context, project string, max int) (int, error) {
	if max <= 0 {
		max = DefaultKeep
	}
	seqs, _ := s.List(ctx, project)
	if len(seqs) <= max {
		return 0, nil
	}
	drop := seqs[:len(seqs)-max]
	s.mu.Lock()
	for _, seq := range drop {
		delete(s.snaps[project], seq)
	}
	s.mu.Unlock()
	return len(drop), nil
}
