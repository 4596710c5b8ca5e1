package snapshot_test

import (
	"context"
	"errors"
	"testing"

	"github.com/contex-io/contex/internal/eventlog"
	"github.com/contex-io/contex/internal/snapshot"
	"github.com/contex-io/contex/pkg/models"
)

// ─── Building ────────────────────────────────────────────────

func TestBuildFoldsLatestPerDataKey(t *testing.T) {
	ctx := context.Background()
	log := eventlog.NewMemoryLog()

	log.Append(ctx, "proj", "users_updated", map[string]any{"data_key": "users", "data": "v1"})
	log.Append(ctx, "proj", "config_updated", map[string]any{"data_key": "config", "data": "c1"})
	log.Append(ctx, "proj", "users_updated", map[string]any{"data_key": "users", "data": "v2"})

	snap, err := snapshot.Build(ctx, log, "proj")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if snap.Sequence != 3 {
		t.Errorf("Sequence = %d, want 3", snap.Sequence)
	}
	if snap.EventCount != 3 {
		t.Errorf("EventCount = %d, want 3", snap.EventCount)
	}
	if snap.Data["users"] != "v2" {
		t.Errorf("Data[users] = %v, want v2 (later publish wins)", snap.Data["users"])
	}
	if snap.Data["config"] != "c1" {
		t.Errorf("Data[config] = %v", snap.Data["config"])
	}
	if snap.ID == "" {
		t.Error("ID is empty")
	}
}

func TestBuildEmptyProject(t *testing.T) {
	snap, err := snapshot.Build(context.Background(), eventlog.NewMemoryLog(), "ghost")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if snap.Sequence != 0 || snap.EventCount != 0 || len(snap.Data) != 0 {
		t.Errorf("empty project snapshot = %+v", snap)
	}
}

// ─── Store ───────────────────────────────────────────────────

func TestStoreSaveGetLatest(t *testing.T) {
	ctx := context.Background()
	store := snapshot.NewMemoryStore()

	for _, seq := range []int64{3, 7, 5} {
		if err := store.Save(ctx, &models.Snapshot{Project: "proj", Sequence: seq}); err != nil {
			t.Fatalf("Save(%d) error = %v", seq, err)
		}
	}

	got, err := store.Get(ctx, "proj", 5)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Sequence != 5 {
		t.Errorf("Get(5).Sequence = %d", got.Sequence)
	}

	latest, err := store.Latest(ctx, "proj")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest.Sequence != 7 {
		t.Errorf("Latest().Sequence = %d, want 7", latest.Sequence)
	}

	seqs, err := store.List(ctx, "proj")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(seqs) != 3 || seqs[0] != 3 || seqs[2] != 7 {
		t.Errorf("List() = %v, want [3 5 7]", seqs)
	}
}

func TestStoreMissing(t *testing.T) {
	ctx := context.Background()
	store := snapshot.NewMemoryStore()

	if _, err := store.Get(ctx, "proj", 1); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Get() error = %v, want not found", err)
	}
	if _, err := store.Latest(ctx, "proj"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Latest() error = %v, want not found", err)
	}
}

func TestStorePruneKeepsNewest(t *testing.T) {
	ctx := context.Background()
	store := snapshot.NewMemoryStore()
	for seq := int64(1); seq <= 12; seq++ {
		store.Save(ctx, &models.Snapshot{Project: "proj", Sequence: seq})
	}

	dropped, err := store.Prune(ctx, "proj", 10)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if dropped != 2 {
		t.Errorf("Prune() dropped %d, want 2", dropped)
	}

	seqs, _ := store.List(ctx, "proj")
	if len(seqs) != 10 || seqs[0] != 3 {
		t.Errorf("List() after prune = %v, want 3..12", seqs)
	}

	if dropped, _ := store.Prune(ctx, "proj", 10); dropped != 0 {
		t.Errorf("second Prune() dropped %d, want 0", dropped)
	}
}
