package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS whiteboard_snapshots (
	id                    TEXT PRIMARY KEY,
	class_id              TEXT NOT NULL DEFAULT '',
	controller_id         TEXT NOT NULL DEFAULT '',
	title                 TEXT NOT NULL DEFAULT '',
	content               TEXT NOT NULL DEFAULT '{}',
	collaboration_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at            TIMESTAMP NOT NULL
)`

const upsertQuery = `
INSERT INTO whiteboard_snapshots
	(id, class_id, controller_id, title, content, collaboration_enabled, updated_at)
VALUES
	(:id, :class_id, :controller_id, :title, :content, :collaboration_enabled, :updated_at)
ON CONFLICT (id) DO UPDATE SET
	class_id = excluded.class_id,
	controller_id = excluded.controller_id,
	title = excluded.title,
	content = excluded.content,
	collaboration_enabled = excluded.collaboration_enabled,
	updated_at = excluded.updated_at`

// row mirrors the table; content is kept as text so every driver scans it
type row struct {
	ID                   string    `db:"id"`
	ClassID              string    `db:"class_id"`
	ControllerID         string    `db:"controller_id"`
	Title                string    `db:"title"`
	Content              string    `db:"content"`
	CollaborationEnabled bool      `db:"collaboration_enabled"`
	UpdatedAt            time.Time `db:"updated_at"`
}

// SQLStore persists snapshots in a relational database (sqlite3 or postgres).
type SQLStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// OpenSQL: connects with the given driver and DSN and verifies the connection
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s", driver)
	}
	if driver == "sqlite3" {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	}
	return NewSQLStore(db), nil
}

// NewSQLStore: wraps an open database
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// Migrate: creates the snapshot table if missing
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "migrate whiteboard_snapshots")
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Record, error) {
	var r row
	query := s.db.Rebind(`SELECT * FROM whiteboard_snapshots WHERE id = ?`)
	if err := s.db.GetContext(ctx, &r, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get snapshot %s", id)
	}

	return &Record{
		ID:                   r.ID,
		ClassID:              r.ClassID,
		ControllerID:         r.ControllerID,
		Title:                r.Title,
		Content:              json.RawMessage(r.Content),
		CollaborationEnabled: r.CollaborationEnabled,
		UpdatedAt:            r.UpdatedAt,
	}, nil
}

func (s *SQLStore) Upsert(ctx context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}

	content := string(rec.Content)
	if content == "" {
		content = "{}"
	}

	r := row{
		ID:                   rec.ID,
		ClassID:              rec.ClassID,
		ControllerID:         rec.ControllerID,
		Title:                rec.Title,
		Content:              content,
		CollaborationEnabled: rec.CollaborationEnabled,
		UpdatedAt:            s.now().UTC(),
	}

	if _, err := s.db.NamedExecContext(ctx, upsertQuery, r); err != nil {
		return errors.Wrapf(err, "upsert snapshot %s", rec.ID)
	}
	return nil
}

func (s *SQLStore) SetCollaboration(ctx context.Context, id string, enabled bool) error {
	query := s.db.Rebind(`UPDATE whiteboard_snapshots SET collaboration_enabled = ?, updated_at = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, enabled, s.now().UTC(), id)
	if err != nil {
		return errors.Wrapf(err, "update snapshot %s", id)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "update snapshot %s", id)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
