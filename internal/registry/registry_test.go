package registry_test

import (
	"testing"
	"time"

	"github.com/contex-io/contex/internal/registry"
	"github.com/contex-io/contex/pkg/models"
)

func sub(agent, project string, keys ...string) *models.Subscription {
	matched := map[string]struct{}{}
	for _, k := range keys {
		matched[k] = struct{}{}
	}
	return &models.Subscription{
		AgentID:         agent,
		Project:         project,
		Needs:           []string{"something"},
		MatchedDataKeys: matched,
	}
}

// ─── Put / Get / Remove ──────────────────────────────────────

func TestPutGetRemove(t *testing.T) {
	r := registry.New()
	r.Put(sub("a1", "p", "users"))

	got := r.Get("a1")
	if got == nil {
		t.Fatal("Get() = nil after Put()")
	}
	if got.Project != "p" {
		t.Errorf("Project = %q, want p", got.Project)
	}
	if got.RegisteredAt.IsZero() || got.LastActivity.IsZero() {
		t.Error("timestamps not initialized on Put()")
	}

	if !r.Remove("a1") {
		t.Error("Remove() = false for existing subscription")
	}
	if r.Get("a1") != nil {
		t.Error("Get() != nil after Remove()")
	}
	if r.Remove("a1") {
		t.Error("Remove() = true for missing subscription")
	}
}

func TestPutLastWriteWins(t *testing.T) {
	r := registry.New()
	r.Put(sub("a1", "p", "users"))
	r.Put(sub("a1", "p", "orders"))

	got := r.Get("a1")
	if got.Matched("users") {
		t.Error("old matched keys survived replacement")
	}
	if !got.Matched("orders") {
		t.Error("new matched keys missing")
	}
}

// ─── AffectedBy ──────────────────────────────────────────────

func TestAffectedByFiltersProjectAndKey(t *testing.T) {
	r := registry.New()
	r.Put(sub("a1", "p", "users"))
	r.Put(sub("a2", "p", "orders"))
	r.Put(sub("a3", "other", "users"))

	affected := r.AffectedBy("p", "users")
	if len(affected) != 1 || affected[0].AgentID != "a1" {
		t.Errorf("AffectedBy() = %d subs, want just a1", len(affected))
	}
}

func TestAffectedByMultiple(t *testing.T) {
	r := registry.New()
	r.Put(sub("b", "p", "users"))
	r.Put(sub("a", "p", "users"))

	affected := r.AffectedBy("p", "users")
	if len(affected) != 2 {
		t.Fatalf("got %d subs, want 2", len(affected))
	}
	if affected[0].AgentID != "a" {
		t.Errorf("results not sorted by agent id: %q first", affected[0].AgentID)
	}
}

// ─── Sequence cursor ─────────────────────────────────────────

func TestUpdateLastSequenceMonotonic(t *testing.T) {
	r := registry.New()
	r.Put(sub("a1", "p"))

	r.UpdateLastSequence("a1", 5)
	if got := r.Get("a1").LastSequence; got != 5 {
		t.Fatalf("LastSequence = %d, want 5", got)
	}

	// Regression is a no-op.
	r.UpdateLastSequence("a1", 3)
	if got := r.Get("a1").LastSequence; got != 5 {
		t.Errorf("LastSequence = %d after regression attempt, want 5", got)
	}

	r.UpdateLastSequence("a1", 6)
	if got := r.Get("a1").LastSequence; got != 6 {
		t.Errorf("LastSequence = %d, want 6", got)
	}
}

// ─── Stale reaping ───────────────────────────────────────────

func TestStale(t *testing.T) {
	r := registry.New()
	old := sub("old", "p")
	old.LastActivity = time.Now().UTC().Add(-48 * time.Hour)
	r.Put(old)
	r.Put(sub("fresh", "p"))

	stale := r.Stale(24 * time.Hour)
	if len(stale) != 1 || stale[0] != "old" {
		t.Errorf("Stale() = %v, want [old]", stale)
	}
}

func TestListSorted(t *testing.T) {
	r := registry.New()
	r.Put(sub("c", "p"))
	r.Put(sub("a", "p"))
	r.Put(sub("b", "p"))

	ids := r.List()
	if len(ids) != 3 || ids[0] != "a" || ids[2] != "c" {
		t.Errorf("List() = %v, want sorted [a b c]", ids)
	}
}
