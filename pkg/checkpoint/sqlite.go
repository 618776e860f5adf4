package checkpoint

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/ajitpratap0/comet/pkg/errors"
	"github.com/ajitpratap0/comet/pkg/record"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	entity       TEXT PRIMARY KEY,
	cursor       TEXT NOT NULL,
	records_seen INTEGER NOT NULL,
	pages_seen   INTEGER NOT NULL,
	completed    INTEGER NOT NULL,
	updated_at   TEXT NOT NULL
);
`

// SQLiteStore persists checkpoints in a local SQLite database. The pure
// Go driver keeps the binary dependency-free while surviving process
// restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and initializes) the checkpoint database at
// path, creating parent directories as needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create state directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to open checkpoint database")
	}

	// Serialized writes; the scheduler saves one checkpoint per page.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize checkpoint schema")
	}

	return &SQLiteStore{db: db}, nil
}

// Save upserts the checkpoint for an entity type.
func (s *SQLiteStore) Save(ctx context.Context, entity record.EntityType, cp record.Checkpoint) error {
	completed := 0
	if cp.Completed {
		completed = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (entity, cursor, records_seen, pages_seen, completed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity) DO UPDATE SET
			cursor = excluded.cursor,
			records_seen = excluded.records_seen,
			pages_seen = excluded.pages_seen,
			completed = excluded.completed,
			updated_at = excluded.updated_at`,
		string(entity), cp.Cursor, cp.RecordsSeen, cp.PagesSeen, completed,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to save checkpoint").
			WithDetail("entity", string(entity))
	}
	return nil
}

// Load reads the checkpoint for an entity type.
func (s *SQLiteStore) Load(ctx context.Context, entity record.EntityType) (record.Checkpoint, bool, error) {
	var cp record.Checkpoint
	var completed int

	row := s.db.QueryRowContext(ctx, `
		SELECT cursor, records_seen, pages_seen, completed
		FROM checkpoints WHERE entity = ?`, string(entity))

	err := row.Scan(&cp.Cursor, &cp.RecordsSeen, &cp.PagesSeen, &completed)
	if err == sql.ErrNoRows {
		return record.Checkpoint{}, false, nil
	}
	if err != nil {
		return record.Checkpoint{}, false, errors.Wrap(err, errors.ErrorTypeInternal, "failed to load checkpoint").
			WithDetail("entity", string(entity))
	}

	cp.Completed = completed != 0
	return cp, true, nil
}

// Reset removes the checkpoint for an entity type.
func (s *SQLiteStore) Reset(ctx context.Context, entity record.EntityType) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE entity = ?`, string(entity))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to reset checkpoint").
			WithDetail("entity", string(entity))
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
