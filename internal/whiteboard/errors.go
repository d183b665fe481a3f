package whiteboard

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNotOpen          = errors.New("whiteboard session is not open")
	ErrAlreadyOpen      = errors.New("whiteboard session is already open")
	ErrPermissionDenied = errors.New("only the controller may do this")
)

// SnapshotLoadError means the persisted snapshot could not be read for a
// reason other than it not existing. The session still opens, empty.
type SnapshotLoadError struct {
	SessionID string
	Err       error
}

func (e *SnapshotLoadError) Error() string {
	return fmt.Sprintf("could not load whiteboard %s: %v", e.SessionID, e.Err)
}

func (e *SnapshotLoadError) Unwrap() error { return e.Err }

// PersistenceError means the snapshot store rejected a write.
type PersistenceError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("could not %s whiteboard %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Notifier shows non-blocking notices to the local participant.
type Notifier interface {
	Notify(err error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(err error)

func (f NotifierFunc) Notify(err error) { f(err) }
