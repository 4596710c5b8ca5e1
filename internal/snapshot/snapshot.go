// Package snapshot materializes and stores folds of a project's event
// log: data_key → the latest published payload at a sequence.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/contex-io/contex/pkg/contracts"
	"github.com/contex-io/contex/pkg/models"
)

// buildPageSize bounds one event log read while folding.
const buildPageSize = 500

// Build folds the project's retained events into a snapshot. Later
// publishes to the same data_key win, matching the replace semantics of
// the vector index.
func Build(ctx context.Context, log contracts.EventLog, project string) (*models.Snapshot, error) {
	data := make(map[string]any)
	count := 0
	var last int64

	since := int64(0)
	for {
		events, err := log.Range(ctx, project, since, buildPageSize)
		if err != nil {
			return nil, fmt.Errorf("fold events for %s: %w", project, err)
		}
		if len(events) == 0 {
			break
		}
		for _, ev := range events {
			key, ok := ev.Payload["data_key"].(string)
			if ok && key != "" {
				data[key] = ev.Payload["data"]
			}
			count++
			last = ev.Sequence
		}
		since = last
	}

	return &models.Snapshot{
		ID:         uuid.NewString(),
		Project:    project,
		Sequence:   last,
		Data:       data,
		EventCount: count,
		CreatedAt:  time.Now().UTC(),
	}, nil
}
