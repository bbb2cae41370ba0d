// Package pgstore implements domain.Store on PostgreSQL with the same
// two-table layout as the SQLite driver. It exists for deployments that
// already run Postgres and want the visualizer records next to the rest
// of their data; records do not expire.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DaanH/buildings-visualizer/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS images (
	id            TEXT PRIMARY KEY,
	data          TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT '',
	file_name     TEXT NOT NULL DEFAULT '',
	ts            TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS image_metadata (
	image_id TEXT NOT NULL,
	field    TEXT NOT NULL,
	value    TEXT NOT NULL,
	PRIMARY KEY (image_id, field)
);
`

var directColumns = map[string]string{
	domain.FieldData:         "data",
	domain.FieldStatus:       "status",
	domain.FieldFileName:     "file_name",
	domain.FieldTimestamp:    "ts",
	domain.FieldErrorMessage: "error_message",
}

// Store is the PostgreSQL-backed record store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects a pgx pool using the connection URL and ensures the schema.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse database url: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ensure schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Put applies the patch inside one transaction.
func (s *Store) Put(ctx context.Context, id string, patch domain.RecordPatch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO images (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id); err != nil {
		return fmt.Errorf("pgstore: ensure record %s: %w", id, err)
	}

	set := make([]string, 0, 5)
	args := []any{id}
	appendSet := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Data != nil {
		appendSet("data", *patch.Data)
	}
	if patch.Status != nil {
		appendSet("status", string(*patch.Status))
	}
	if patch.FileName != nil {
		appendSet("file_name", *patch.FileName)
	}
	if patch.Timestamp != nil {
		appendSet("ts", *patch.Timestamp)
	}
	if patch.ErrorMessage != nil {
		appendSet("error_message", *patch.ErrorMessage)
	}
	if len(set) > 0 {
		query := "UPDATE images SET " + strings.Join(set, ", ") + " WHERE id = $1"
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("pgstore: update %s: %w", id, err)
		}
	}

	if patch.Metadata != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM image_metadata WHERE image_id = $1`, id); err != nil {
			return fmt.Errorf("pgstore: clear metadata %s: %w", id, err)
		}
		for field, value := range patch.Metadata {
			encoded, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("pgstore: encode metadata %q: %w", field, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO image_metadata (image_id, field, value) VALUES ($1, $2, $3)`,
				id, field, string(encoded)); err != nil {
				return fmt.Errorf("pgstore: insert metadata %s.%s: %w", id, field, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgstore: commit %s: %w", id, err)
	}
	return nil
}

// Get loads the record and its decoded metadata.
func (s *Store) Get(ctx context.Context, id string) (*domain.Record, error) {
	rec := &domain.Record{ID: id}
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT data, status, file_name, ts, error_message FROM images WHERE id = $1`, id).
		Scan(&rec.Data, &status, &rec.FileName, &rec.Timestamp, &rec.ErrorMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get %s: %w", id, err)
	}
	rec.Status = domain.Status(status)

	rows, err := s.pool.Query(ctx,
		`SELECT field, value FROM image_metadata WHERE image_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("pgstore: get metadata %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, fmt.Errorf("pgstore: scan metadata %s: %w", id, err)
		}
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]any)
		}
		rec.Metadata[field] = decodeMetaValue(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: iterate metadata %s: %w", id, err)
	}
	return rec, nil
}

// GetField reads a single field without materializing the whole record.
func (s *Store) GetField(ctx context.Context, id, field string) (any, error) {
	if column, ok := directColumns[field]; ok {
		var value string
		err := s.pool.QueryRow(ctx,
			`SELECT `+column+` FROM images WHERE id = $1`, id).Scan(&value)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("pgstore: get field %s.%s: %w", id, field, err)
		}
		return value, nil
	}

	var exists int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(1) FROM images WHERE id = $1`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("pgstore: get field %s.%s: %w", id, field, err)
	}
	if exists == 0 {
		return nil, domain.ErrNotFound
	}
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM image_metadata WHERE image_id = $1 AND field = $2`, id, field).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get field %s.%s: %w", id, field, err)
	}
	return decodeMetaValue(value), nil
}

// Delete removes the record and its metadata in one transaction.
func (s *Store) Delete(ctx context.Context, id string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("pgstore: begin: %w", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `DELETE FROM image_metadata WHERE image_id = $1`, id); err != nil {
		return 0, fmt.Errorf("pgstore: delete metadata %s: %w", id, err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("pgstore: delete %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("pgstore: commit delete %s: %w", id, err)
	}
	return int(tag.RowsAffected()), nil
}

// Ping verifies the pool.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func decodeMetaValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

var _ domain.Store = (*Store)(nil)
