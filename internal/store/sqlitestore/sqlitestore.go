// Package sqlitestore implements domain.Store on an embedded SQLite
// database. Records live in an images table with a side table for the
// open-ended metadata entries; records do not expire.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

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

// Store is the SQLite-backed record store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent request handlers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Put applies the patch inside one transaction.
func (s *Store) Put(ctx context.Context, id string, patch domain.RecordPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO images (id) VALUES (?)`, id); err != nil {
		return fmt.Errorf("sqlitestore: ensure record %s: %w", id, err)
	}

	set := make([]string, 0, 5)
	args := make([]any, 0, 6)
	appendSet := func(column string, value any) {
		set = append(set, column+" = ?")
		args = append(args, value)
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
		args = append(args, id)
		query := "UPDATE images SET " + strings.Join(set, ", ") + " WHERE id = ?"
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("sqlitestore: update %s: %w", id, err)
		}
	}

	if patch.Metadata != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM image_metadata WHERE image_id = ?`, id); err != nil {
			return fmt.Errorf("sqlitestore: clear metadata %s: %w", id, err)
		}
		for field, value := range patch.Metadata {
			encoded, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("sqlitestore: encode metadata %q: %w", field, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO image_metadata (image_id, field, value) VALUES (?, ?, ?)`,
				id, field, string(encoded)); err != nil {
				return fmt.Errorf("sqlitestore: insert metadata %s.%s: %w", id, field, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit %s: %w", id, err)
	}
	return nil
}

// Get loads the record and its decoded metadata.
func (s *Store) Get(ctx context.Context, id string) (*domain.Record, error) {
	rec := &domain.Record{ID: id}
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT data, status, file_name, ts, error_message FROM images WHERE id = ?`, id).
		Scan(&rec.Data, &status, &rec.FileName, &rec.Timestamp, &rec.ErrorMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get %s: %w", id, err)
	}
	rec.Status = domain.Status(status)

	rows, err := s.db.QueryContext(ctx,
		`SELECT field, value FROM image_metadata WHERE image_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get metadata %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan metadata %s: %w", id, err)
		}
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]any)
		}
		rec.Metadata[field] = decodeMetaValue(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: iterate metadata %s: %w", id, err)
	}
	return rec, nil
}

// GetField reads a single field without materializing the whole record.
func (s *Store) GetField(ctx context.Context, id, field string) (any, error) {
	if column, ok := directColumns[field]; ok {
		var value string
		err := s.db.QueryRowContext(ctx,
			`SELECT `+column+` FROM images WHERE id = ?`, id).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: get field %s.%s: %w", id, field, err)
		}
		return value, nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM images WHERE id = ?`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("sqlitestore: get field %s.%s: %w", id, field, err)
	}
	if exists == 0 {
		return nil, domain.ErrNotFound
	}
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM image_metadata WHERE image_id = ? AND field = ?`, id, field).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get field %s.%s: %w", id, field, err)
	}
	return decodeMetaValue(value), nil
}

// Delete removes the record and its metadata in one transaction.
func (s *Store) Delete(ctx context.Context, id string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM image_metadata WHERE image_id = ?`, id); err != nil {
		return 0, fmt.Errorf("sqlitestore: delete metadata %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM images WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: delete %s: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlitestore: commit delete %s: %w", id, err)
	}
	return int(affected), nil
}

// Ping verifies the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func decodeMetaValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

var _ domain.Store = (*Store)(nil)
