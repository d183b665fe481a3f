package snapshot

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when no snapshot exists for a session id.
var ErrNotFound = errors.New("snapshot not found")

// Record is the persisted state of one whiteboard session.
type Record struct {
	ID                   string          `json:"id" db:"id"`
	ClassID              string          `json:"classId" db:"class_id"`
	ControllerID         string          `json:"controllerId" db:"controller_id"`
	Title                string          `json:"title" db:"title"`
	Content              json.RawMessage `json:"content" db:"content"`
	CollaborationEnabled bool            `json:"collaborationEnabled" db:"collaboration_enabled"`
	UpdatedAt            time.Time       `json:"updatedAt" db:"updated_at"`
}

// Store persists session snapshots. Upserts are last-write-wins; there is
// no version check between concurrent writers.
type Store interface {
	// Get returns ErrNotFound if the session has never been saved.
	Get(ctx context.Context, id string) (*Record, error)
	// Upsert inserts or fully replaces the record keyed by rec.ID.
	Upsert(ctx context.Context, rec *Record) error
	// SetCollaboration returns ErrNotFound if the session has never been saved.
	SetCollaboration(ctx context.Context, id string, enabled bool) error
}

// IsNotFound reports whether err, or its cause, is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Cause(err) == ErrNotFound
}

func validate(rec *Record) error {
	if rec == nil || rec.ID == "" {
		return errors.New("snapshot id is required")
	}
	if len(rec.Content) > 0 && !json.Valid(rec.Content) {
		return errors.Errorf("snapshot %s content is not valid JSON", rec.ID)
	}
	return nil
}
