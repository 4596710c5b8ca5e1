// Package retention enforces the router's data retention policies: it
// trims per-project event logs by age and length, reaps subscriptions
// with no recent activity, and prunes old snapshots.
//
// The janitor runs as a background goroutine and respects context
// cancellation for graceful shutdown. Backend failures are logged and
// retried on the next cycle; a cycle never fails the process.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/contex-io/contex/internal/registry"
	"github.com/contex-io/contex/pkg/contracts"
)

// Defaults applied when a policy field is zero.
const (
	DefaultEventsTTLDays     = 30
	DefaultMaxStreamLength   = 10000
	DefaultAgentInactiveDays = 7
	DefaultSnapshotsKept     = 10
)

// Policy holds the retention windows, sourced from configuration.
type Policy struct {
	EventsTTLDays     int
	MaxStreamLength   int
	AgentInactiveDays int
	SnapshotsKept     int
}

func (p Policy) withDefaults() Policy {
	if p.EventsTTLDays <= 0 {
		p.EventsTTLDays = DefaultEventsTTLDays
	}
	if p.MaxStreamLength <= 0 {
		p.MaxStreamLength = DefaultMaxStreamLength
	}
	if p.AgentInactiveDays <= 0 {
		p.AgentInactiveDays = DefaultAgentInactiveDays
	}
	if p.SnapshotsKept <= 0 {
		p.SnapshotsKept = DefaultSnapshotsKept
	}
	return p
}

// CycleStats records what a single retention sweep removed.
type CycleStats struct {
	Projects         int       `json:"projects"`
	EventsTrimmed    int       `json:"events_trimmed"`
	AgentsReaped     int       `json:"agents_reaped"`
	SnapshotsPruned  int       `json:"snapshots_pruned"`
	Errors           int       `json:"errors"`
	CompletedAt      time.Time `json:"completed_at"`
	DurationMillis   int64     `json:"duration_ms"`
	CyclesSinceStart int64     `json:"cycles_since_start"`
}

// Janitor periodically applies the retention policy.
type Janitor struct {
	events    contracts.EventLog
	registry  *registry.Registry
	snapshots contracts.SnapshotStore
	policy    Policy
	interval  time.Duration

	mu     sync.RWMutex
	last   CycleStats
	cycles int64
}

// NewJanitor creates a janitor sweeping on the given interval.
// snapshots may be nil when no snapshot store is wired.
func NewJanitor(events contracts.EventLog, reg *registry.Registry, snapshots contracts.SnapshotStore, policy Policy, interval time.Duration) *Janitor {
	if interval < time.Minute {
		interval = time.Hour
	}
	return &Janitor{
		events:    events,
		registry:  reg,
		snapshots: snapshots,
		policy:    policy.withDefaults(),
		interval:  interval,
	}
}

// Start runs the janitor until ctx is canceled. The first sweep runs
// immediately.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", j.interval).
		Int("events_ttl_days", j.policy.EventsTTLDays).
		Int("max_stream_length", j.policy.MaxStreamLength).
		Int("agent_inactive_days", j.policy.AgentInactiveDays).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one retention sweep and records its stats.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	start := time.Now()
	stats := CycleStats{}

	j.trimEvents(ctx, &stats)
	j.reapStaleAgents(&stats)
	j.pruneSnapshots(ctx, &stats)

	stats.CompletedAt = time.Now().UTC()
	stats.DurationMillis = time.Since(start).Milliseconds()

	j.mu.Lock()
	j.cycles++
	stats.CyclesSinceStart = j.cycles
	j.last = stats
	j.mu.Unlock()

	if stats.EventsTrimmed > 0 || stats.AgentsReaped > 0 || stats.SnapshotsPruned > 0 {
		log.Info().
			Int("projects", stats.Projects).
			Int("events_trimmed", stats.EventsTrimmed).
			Int("agents_reaped", stats.AgentsReaped).
			Int("snapshots_pruned", stats.SnapshotsPruned).
			Int("errors", stats.Errors).
			Dur("elapsed", time.Since(start)).
			Msg("Retention cycle complete")
	}
	return stats
}

// LastStats returns the stats of the most recent sweep.
func (j *Janitor) LastStats() CycleStats {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.last
}

// Policy returns the effective retention policy.
func (j *Janitor) Policy() Policy { return j.policy }

func (j *Janitor) trimEvents(ctx context.Context, stats *CycleStats) {
	projects, err := j.events.Projects(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Retention: listing projects failed")
		stats.Errors++
		return
	}
	stats.Projects = len(projects)

	for _, project := range projects {
		removed, err := j.events.Trim(ctx, project, j.policy.MaxStreamLength, j.policy.EventsTTLDays)
		if err != nil {
			log.Warn().Err(err).Str("project", project).Msg("Retention: event trim failed")
			stats.Errors++
			continue
		}
		stats.EventsTrimmed += removed
	}
}

func (j *Janitor) reapStaleAgents(stats *CycleStats) {
	maxAge := time.Duration(j.policy.AgentInactiveDays) * 24 * time.Hour
	for _, agentID := range j.registry.Stale(maxAge) {
		if j.registry.Remove(agentID) {
			log.Info().Str("agent", agentID).Dur("max_age", maxAge).Msg("Stale subscription reaped")
			stats.AgentsReaped++
		}
	}
}

func (j *Janitor) pruneSnapshots(ctx context.Context, stats *CycleStats) {
	if j.snapshots == nil {
		return
	}
	projects, err := j.events.Projects(ctx)
	if err != nil {
		stats.Errors++
		return
	}
	for _, project := range projects {
		dropped, err := j.snapshots.Prune(ctx, project, j.policy.SnapshotsKept)
		if err != nil {
			log.Warn().Err(err).Str("project", project).Msg("Retention: snapshot prune failed")
			stats.Errors++
			continue
		}
		stats.SnapshotsPruned += dropped
	}
}
