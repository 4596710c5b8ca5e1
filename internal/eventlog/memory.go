// Package eventlog implements the append-only per-project event log:
// an in-memory log for the zero-config tier and a Postgres log for
// durable deployments. Sequences are strictly increasing per project.
package eventlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/contex-io/contex/pkg/models"
)

// MemoryLog is the in-process event log. Events are held per project in
// append order; sequence assignment happens under the same lock as the
// append, so two concurrent publishes are linearized here.
type MemoryLog struct {
	mu     sync.RWMutex
	events map[string][]models.Event
	seqs   map[string]int64
}

// NewMemoryLog creates an empty in-memory event log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		events: make(map[string][]models.Event),
		seqs:   make(map[string]int64),
	}
}

// Append records an event and returns its assigned sequence.
func (l *MemoryLog) Append(ctx context.Context, project, eventType string, payload map[string]any) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seqs[project]++
	seq := l.seqs[project]
	l.events[project] = append(l.events[project], models.Event{
		Sequence:  seq,
		Project:   project,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	return seq, nil
}

// Range returns up to maxCount events with sequence > sinceExclusive.
// maxCount <= 0 means no limit.
func (l *MemoryLog) Range(ctx context.Context, project string, sinceExclusive int64, maxCount int) ([]models.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	events := l.events[project]
	// Events are sorted by sequence; find the first one past the cursor.
	start := sort.Search(len(events), func(i int) bool {
		return events[i].Sequence > sinceExclusive
	})

	out := events[start:]
	if maxCount > 0 && len(out) > maxCount {
		out = out[:maxCount]
	}
	result := make([]models.Event, len(out))
	copy(result, out)
	return result, nil
}

// Latest returns the highest assigned sequence, or 0 when the project
// has never seen an append.
func (l *MemoryLog) Latest(ctx context.Context, project string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seqs[project], nil
}

// Length returns the number of retained events.
func (l *MemoryLog) Length(ctx context.Context, project string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events[project]), nil
}

// Delete drops all events for the project. The sequence counter is kept
// so future appends stay monotonic.
func (l *MemoryLog) Delete(ctx context.Context, project string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.events, project)
	return nil
}

// Trim applies retention: drop events older than olderThanDays and trim
// the oldest beyond maxLen. Zero disables the respective policy.
func (l *MemoryLog) Trim(ctx context.Context, project string, maxLen int, olderThanDays int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := l.events[project]
	before := len(events)

	if olderThanDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
		kept := events[:0]
		for _, e := range events {
			if !e.CreatedAt.Before(cutoff) {
				kept = append(kept, e)
			}
		}
		events = kept
	}
	if maxLen > 0 && len(events) > maxLen {
		events = events[len(events)-maxLen:]
	}

	l.events[project] = events
	return before - len(events), nil
}

// Projects lists project ids with at least one retained event.
func (l *MemoryLog) Projects(ctx context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.events))
	for p, evs := range l.events {
		if len(evs) > 0 {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}
