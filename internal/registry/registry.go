// Package registry holds the in-memory subscription state for active
// agents. Subscriptions are ephemeral: created on register, destroyed
// on unregister or stale-reap, never persisted.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/contex-io/contex/pkg/models"
)

// Registry is a reader-biased concurrent map keyed by agent id. Reads
// (AffectedBy on every publish) are hot; writes are sparse.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]*models.Subscription
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{subs: make(map[string]*models.Subscription)}
}

// Put creates or replaces the subscription for its agent id. Last write
// wins. The MatchedDataKeys map is owned by the registry after Put and
// must not be mutated by the caller.
func (r *Registry) Put(sub *models.Subscription) {
	cp := *sub
	now := time.Now().UTC()
	if cp.RegisteredAt.IsZero() {
		cp.RegisteredAt = now
	}
	if cp.LastActivity.IsZero() {
		cp.LastActivity = now
	}
	if cp.MatchedDataKeys == nil {
		cp.MatchedDataKeys = map[string]struct{}{}
	}

	r.mu.Lock()
	r.subs[cp.AgentID] = &cp
	r.mu.Unlock()
	log.Info().Str("agent", cp.AgentID).Str("project", cp.Project).Int("needs", len(cp.Needs)).Msg("Subscription stored")
}

// Get returns a copy of the subscription, or nil if absent.
func (r *Registry) Get(agentID string) *models.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[agentID]
	if !ok {
		return nil
	}
	cp := *sub
	return &cp
}

// Remove deletes the subscription. Returns whether it existed.
func (r *Registry) Remove(agentID string) bool {
	r.mu.Lock()
	_, ok := r.subs[agentID]
	delete(r.subs, agentID)
	r.mu.Unlock()
	if ok {
		log.Info().Str("agent", agentID).Msg("Subscription removed")
	}
	return ok
}

// List returns all agent ids, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AffectedBy returns copies of subscriptions in the project whose
// matched data keys contain dataKey.
func (r *Registry) AffectedBy(project, dataKey string) []*models.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Subscription
	for _, sub := range r.subs {
		if sub.Project != project {
			continue
		}
		if _, ok := sub.MatchedDataKeys[dataKey]; !ok {
			continue
		}
		cp := *sub
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// UpdateLastSequence advances the subscription's cursor. Regressions
// are ignored: the cursor never decreases.
func (r *Registry) UpdateLastSequence(agentID string, seq int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[agentID]
	if !ok || seq <= sub.LastSequence {
		return
	}
	sub.LastSequence = seq
	sub.LastActivity = time.Now().UTC()
}

// Touch refreshes the subscription's activity timestamp.
func (r *Registry) Touch(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[agentID]; ok {
		sub.LastActivity = time.Now().UTC()
	}
}

// Stale returns agent ids whose last activity is older than maxAge.
func (r *Registry) Stale(maxAge time.Duration) []string {
	cutoff := time.Now().UTC().Add(-maxAge)
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for id, sub := range r.subs {
		if sub.LastActivity.Before(cutoff) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of active subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
