package eventlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/contex-io/contex/pkg/models"
)

// PostgresLog is the durable event log. Sequences are assigned from a
// per-project counter row updated in the same transaction as the event
// insert, which linearizes concurrent appends.
type PostgresLog struct {
	pool *pgxpool.Pool
}

// NewPostgresLog connects to Postgres and ensures the schema exists.
func NewPostgresLog(ctx context.Context, connString string) (*PostgresLog, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	l := &PostgresLog{pool: pool}
	if err := l.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate event log schema: %w", err)
	}
	log.Info().Msg("Postgres event log ready")
	return l, nil
}

func (l *PostgresLog) migrate(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS contex_sequences (
			project TEXT PRIMARY KEY,
			seq     BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS contex_events (
			project    TEXT NOT NULL,
			sequence   BIGINT NOT NULL,
			event_type TEXT NOT NULL,
			payload    JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (project, sequence)
		);
		CREATE INDEX IF NOT EXISTS contex_events_created_idx
			ON contex_events (project, created_at);
	`)
	return err
}

// Append records an event and returns its assigned sequence.
func (l *PostgresLog) Append(ctx context.Context, project, eventType string, payload map[string]any) (int64, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("%w: marshal payload: %v", models.ErrEventLog, err)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", models.ErrEventLog, err)
	}
	defer tx.Rollback(ctx)

	var seq int64
	err = tx.QueryRow(ctx, `
		INSERT INTO contex_sequences (project, seq) VALUES ($1, 1)
		ON CONFLICT (project) DO UPDATE SET seq = contex_sequences.seq + 1
		RETURNING seq
	`, project).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("%w: assign sequence: %v", models.ErrEventLog, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO contex_events (project, sequence, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`, project, seq, eventType, payloadJSON)
	if err != nil {
		return 0, fmt.Errorf("%w: insert event: %v", models.ErrEventLog, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", models.ErrEventLog, err)
	}
	return seq, nil
}

// Range returns up to maxCount events with sequence > sinceExclusive.
func (l *PostgresLog) Range(ctx context.Context, project string, sinceExclusive int64, maxCount int) ([]models.Event, error) {
	query := `
		SELECT sequence, event_type, payload, created_at
		FROM contex_events
		WHERE project = $1 AND sequence > $2
		ORDER BY sequence`
	args := []any{project, sinceExclusive}
	if maxCount > 0 {
		query += " LIMIT $3"
		args = append(args, maxCount)
	}

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: range: %v", models.ErrEventLog, err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		e := models.Event{Project: project}
		var payloadJSON []byte
		if err := rows.Scan(&e.Sequence, &e.Type, &payloadJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", models.ErrEventLog, err)
		}
		if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
			return nil, fmt.Errorf("%w: decode payload: %v", models.ErrEventLog, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Latest returns the highest assigned sequence, or 0 when none.
func (l *PostgresLog) Latest(ctx context.Context, project string) (int64, error) {
	var seq int64
	err := l.pool.QueryRow(ctx,
		`SELECT seq FROM contex_sequences WHERE project = $1`, project).Scan(&seq)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: latest: %v", models.ErrEventLog, err)
	}
	return seq, nil
}

// Length returns the number of retained events.
func (l *PostgresLog) Length(ctx context.Context, project string) (int, error) {
	var n int
	err := l.pool.QueryRow(ctx,
		`SELECT count(*) FROM contex_events WHERE project = $1`, project).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: length: %v", models.ErrEventLog, err)
	}
	return n, nil
}

// Delete drops all events for the project, keeping the sequence counter
// so future appends stay monotonic.
func (l *PostgresLog) Delete(ctx context.Context, project string) error {
	_, err := l.pool.Exec(ctx, `DELETE FROM contex_events WHERE project = $1`, project)
	if err != nil {
		return fmt.Errorf("%w: delete: %v", models.ErrEventLog, err)
	}
	return nil
}

// Trim applies retention policies and returns the number of removed rows.
func (l *PostgresLog) Trim(ctx context.Context, project string, maxLen int, olderThanDays int) (int, error) {
	removed := 0

	if olderThanDays > 0 {
		tag, err := l.pool.Exec(ctx, `
			DELETE FROM contex_events
			WHERE project = $1 AND created_at < now() - make_interval(days => $2)
		`, project, olderThanDays)
		if err != nil {
			return removed, fmt.Errorf("%w: ttl trim: %v", models.ErrEventLog, err)
		}
		removed += int(tag.RowsAffected())
	}

	if maxLen > 0 {
		tag, err := l.pool.Exec(ctx, `
			DELETE FROM contex_events
			WHERE project = $1 AND sequence <= (
				SELECT COALESCE(max(sequence), 0) - $2 FROM contex_events WHERE project = $1
			)
		`, project, maxLen)
		if err != nil {
			return removed, fmt.Errorf("%w: length trim: %v", models.ErrEventLog, err)
		}
		removed += int(tag.RowsAffected())
	}
	return removed, nil
}

// Projects lists project ids with at least one retained event.
func (l *PostgresLog) Projects(ctx context.Context) ([]string, error) {
	rows, err := l.pool.Query(ctx, `SELECT DISTINCT project FROM contex_events ORDER BY project`)
	if err != nil {
		return nil, fmt.Errorf("%w: projects: %v", models.ErrEventLog, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (l *PostgresLog) Close() {
	l.pool.Close()
}
