package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/contex-io/contex/pkg/contracts"
	"github.com/contex-io/contex/pkg/models"
)

// PgvectorStore is the production vector index, backed by PostgreSQL
// with the pgvector extension. Users must provide their own PostgreSQL
// instance with pgvector installed.
type PgvectorStore struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPgvectorStore creates a pgvector-backed vector index.
// It creates the required table and indexes if they don't exist.
func NewPgvectorStore(ctx context.Context, connURL string, dimensions int) (*PgvectorStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector ping: %w", err)
	}

	s := &PgvectorStore{pool: pool, dimensions: dimensions}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector migrate: %w", err)
	}

	log.Info().Int("dims", dimensions).Msg("pgvector index initialized")
	return s, nil
}

func (s *PgvectorStore) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS contex_nodes (
			project          TEXT NOT NULL,
			node_key         TEXT NOT NULL,
			data_key         TEXT NOT NULL,
			node_path        TEXT NOT NULL DEFAULT '',
			node_type        TEXT NOT NULL DEFAULT '',
			description      TEXT NOT NULL DEFAULT '',
			content          JSONB,
			original_payload JSONB,
			data_format      TEXT NOT NULL DEFAULT '',
			vector           vector(%d) NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (project, node_key)
		);

		CREATE INDEX IF NOT EXISTS idx_contex_nodes_data_key ON contex_nodes (project, data_key);
	`, s.dimensions)

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PgvectorStore) Kind() string { return "pgvector" }

// Upsert replaces every record under (project, dataKey) with the given
// set, inside one transaction so no reader observes a partial state.
func (s *PgvectorStore) Upsert(ctx context.Context, project, dataKey string, records []models.NodeRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", models.ErrIndex, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM contex_nodes WHERE project = $1 AND data_key = $2`,
		project, dataKey); err != nil {
		return fmt.Errorf("%w: delete old set: %v", models.ErrIndex, err)
	}

	if len(records) > 0 {
		var sb strings.Builder
		sb.WriteString(`INSERT INTO contex_nodes
			(project, node_key, data_key, node_path, node_type, description, content, original_payload, data_format, vector)
			VALUES `)

		args := make([]any, 0, len(records)*10)
		for i, r := range records {
			if i > 0 {
				sb.WriteString(", ")
			}
			base := i*10 + 1
			sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
				base, base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9))

			contentJSON, err := json.Marshal(r.Content)
			if err != nil {
				return fmt.Errorf("%w: marshal content: %v", models.ErrIndex, err)
			}
			originalJSON, err := json.Marshal(r.OriginalPayload)
			if err != nil {
				return fmt.Errorf("%w: marshal original payload: %v", models.ErrIndex, err)
			}
			args = append(args, project, r.NodeKey, dataKey, r.NodePath, r.NodeType,
				r.Description, contentJSON, originalJSON, r.DataFormat, pgvectorArray(r.Vector))
		}

		if _, err := tx.Exec(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("%w: insert new set: %v", models.ErrIndex, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", models.ErrIndex, err)
	}
	return nil
}

// KNN returns up to k neighbors by cosine similarity. The project
// filter lives inside the SQL query.
func (s *PgvectorStore) KNN(ctx context.Context, project string, query []float32, k int) ([]contracts.Neighbor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT node_key, data_key, node_path, node_type, description, content, original_payload, data_format,
			1 - (vector <=> $1) AS score
		FROM contex_nodes
		WHERE project = $2
		ORDER BY vector <=> $1, node_key
		LIMIT $3
	`, pgvectorArray(query), project, k)
	if err != nil {
		return nil, fmt.Errorf("%w: knn: %v", models.ErrIndex, err)
	}
	defer rows.Close()

	var results []contracts.Neighbor
	for rows.Next() {
		r := models.NodeRecord{Project: project}
		var contentJSON, originalJSON []byte
		var score float64
		if err := rows.Scan(&r.NodeKey, &r.DataKey, &r.NodePath, &r.NodeType,
			&r.Description, &contentJSON, &originalJSON, &r.DataFormat, &score); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", models.ErrIndex, err)
		}
		if len(contentJSON) > 0 {
			if err := json.Unmarshal(contentJSON, &r.Content); err != nil {
				return nil, fmt.Errorf("%w: decode content: %v", models.ErrIndex, err)
			}
		}
		if len(originalJSON) > 0 {
			_ = json.Unmarshal(originalJSON, &r.OriginalPayload)
		}
		results = append(results, contracts.Neighbor{NodeKey: r.NodeKey, Similarity: score, Record: r})
	}
	return results, rows.Err()
}

// Get fetches one record by node_key.
func (s *PgvectorStore) Get(ctx context.Context, project, nodeKey string) (*models.NodeRecord, error) {
	r := models.NodeRecord{Project: project}
	var contentJSON, originalJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT node_key, data_key, node_path, node_type, description, content, original_payload, data_format
		FROM contex_nodes WHERE project = $1 AND node_key = $2
	`, project, nodeKey).Scan(&r.NodeKey, &r.DataKey, &r.NodePath, &r.NodeType,
		&r.Description, &contentJSON, &originalJSON, &r.DataFormat)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: node %s", models.ErrNotFound, nodeKey)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", models.ErrIndex, err)
	}
	if len(contentJSON) > 0 {
		_ = json.Unmarshal(contentJSON, &r.Content)
	}
	if len(originalJSON) > 0 {
		_ = json.Unmarshal(originalJSON, &r.OriginalPayload)
	}
	return &r, nil
}

// ListDataKeys returns the distinct data_keys stored for the project.
func (s *PgvectorStore) ListDataKeys(ctx context.Context, project string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT data_key FROM contex_nodes WHERE project = $1 ORDER BY data_key`, project)
	if err != nil {
		return nil, fmt.Errorf("%w: list data keys: %v", models.ErrIndex, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Clear drops all records for the project.
func (s *PgvectorStore) Clear(ctx context.Context, project string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM contex_nodes WHERE project = $1`, project)
	if err != nil {
		return fmt.Errorf("%w: clear: %v", models.ErrIndex, err)
	}
	return nil
}

func (s *PgvectorStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PgvectorStore) Close() {
	s.pool.Close()
}

// pgvectorArray converts a float32 slice to pgvector's text format: [1.0,2.0,3.0]
func pgvectorArray(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(fmt.Sprintf("%g", f))
	}
	sb.WriteByte(']')
	return sb.String()
}
