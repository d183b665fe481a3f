// Package whiteboard keeps a local drawing surface in step with every other
// participant of the same session.
//
// Edits are mirrored as whole-object broadcasts and applied in delivery
// order, so concurrent edits of one object resolve to whichever copy
// arrived last at each client. Clients may therefore disagree after a
// conflict; there is no reconciliation pass.
package whiteboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"classboard/internal/broadcast"
	"classboard/internal/library"
	"classboard/internal/logging"
	"classboard/internal/object"
	"classboard/internal/snapshot"
	"classboard/internal/surface"
)

const defaultTitle = "Whiteboard"

// State is the client-local lifecycle of a session.
type State int

const (
	StateClosed State = iota
	StateLoading
	StateLive
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures an Engine. Transport and Store are required.
type Options struct {
	ClassID string
	// UserID identifies the local participant.
	UserID string
	// ClassID, ControllerID and Title are recorded on save. Empty values
	// are taken from the loaded snapshot; ControllerID then falls back to
	// UserID for controllers.
	ControllerID string
	Title        string
	Width        int
	Height       int

	Transport broadcast.Transport
	Store     snapshot.Store
	Library   library.Library
	Notifier  Notifier
	// Invalidate is called after remote events change the surface.
	Invalidate func()
	Log        *logrus.Entry
	Now        func() time.Time
}

// SnapshotRef is the result of a save.
type SnapshotRef struct {
	SessionID string
	Title     string
	// Image is the PNG export of the canvas.
	Image []byte
}

// Engine synchronizes one session at a time.
type Engine struct {
	opts      Options
	validator *object.Validator
	log       *logrus.Entry

	sessionID     string
	isController  bool
	collaboration bool
	state         State
	surface       *surface.Surface
	channel       broadcast.Channel
	meta          sessionMeta
	// local changes made while loading, published once live
	pending []outbound
	mu      sync.Mutex
}

// sessionMeta is what a save records besides the canvas
type sessionMeta struct {
	classID      string
	controllerID string
	title        string
}

type outbound struct {
	event   string
	payload interface{}
}

// New: creates a closed engine
func New(opts Options) *Engine {
	if opts.Log == nil {
		opts.Log = logging.For("whiteboard")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		opts:      opts,
		validator: object.NewValidator(),
		log:       opts.Log,
	}
}

// Open joins the session channel, loads the persisted snapshot and goes
// live. A snapshot that cannot be read is reported through the notifier
// and the session opens empty.
func (e *Engine) Open(ctx context.Context, sessionID string, isController bool) error {
	e.mu.Lock()
	if e.state != StateClosed {
		e.mu.Unlock()
		return ErrAlreadyOpen
	}

	surf := surface.New(e.opts.Width, e.opts.Height)
	surf.OnChange(surface.Listener{
		Added:       e.OnLocalObjectAdded,
		Modified:    e.OnLocalObjectModified,
		Removed:     e.OnLocalObjectRemoved,
		PathCreated: e.OnLocalPathCreated,
	})

	e.sessionID = sessionID
	e.isController = isController
	e.collaboration = false
	e.surface = surf
	e.state = StateLoading
	e.applyPermissionsLocked()
	e.mu.Unlock()

	log := e.log.WithFields(logrus.Fields{"session": sessionID, "controller": isController})

	ch, err := e.opts.Transport.Join(ctx, broadcast.Topic(sessionID), e.OnRemoteEvent)
	if err != nil {
		e.mu.Lock()
		e.reset()
		e.mu.Unlock()
		surf.Release()
		return errors.Wrapf(err, "join whiteboard %s", sessionID)
	}

	e.mu.Lock()
	if e.state != StateLoading || e.surface != surf {
		// closed while joining
		e.mu.Unlock()
		ch.Unsubscribe()
		return ErrNotOpen
	}
	e.channel = ch
	e.mu.Unlock()

	rec := e.loadSnapshot(ctx, sessionID, surf, log)

	e.mu.Lock()
	if e.state != StateLoading || e.surface != surf {
		e.mu.Unlock()
		return ErrNotOpen
	}
	if rec != nil {
		e.collaboration = rec.CollaborationEnabled
	}
	e.meta = e.resolveMetaLocked(rec)
	e.state = StateLive
	e.applyPermissionsLocked()
	queued := e.pending
	e.pending = nil
	e.mu.Unlock()

	for _, out := range queued {
		e.publish(ch, out.event, out.payload)
	}

	log.WithFields(logrus.Fields{"objects": surf.Len(), "flushed": len(queued)}).Info("whiteboard live")
	return nil
}

// loadSnapshot merges the persisted canvas into surf and returns the
// record, nil when there is none or it could not be read
func (e *Engine) loadSnapshot(ctx context.Context, sessionID string, surf *surface.Surface, log *logrus.Entry) *snapshot.Record {
	rec, err := e.opts.Store.Get(ctx, sessionID)
	switch {
	case snapshot.IsNotFound(err):
		log.Debug("no snapshot yet, starting empty")
		return nil
	case err != nil:
		loadErr := &SnapshotLoadError{SessionID: sessionID, Err: err}
		log.WithError(err).Error("snapshot load failed")
		e.notify(loadErr)
		return nil
	}

	if len(rec.Content) > 0 {
		n, err := surf.Load(rec.Content, e.validator)
		if err != nil {
			log.WithError(err).Warn("snapshot contained invalid objects")
		}
		log.WithField("loaded", n).Debug("snapshot applied")
	}
	return rec
}

// resolveMetaLocked prefers the options, then the loaded record
func (e *Engine) resolveMetaLocked(rec *snapshot.Record) sessionMeta {
	meta := sessionMeta{
		classID:      e.opts.ClassID,
		controllerID: e.opts.ControllerID,
		title:        e.opts.Title,
	}
	if rec != nil {
		if meta.classID == "" {
			meta.classID = rec.ClassID
		}
		if meta.controllerID == "" {
			meta.controllerID = rec.ControllerID
		}
		if meta.title == "" {
			meta.title = rec.Title
		}
	}
	if meta.controllerID == "" && e.isController {
		meta.controllerID = e.opts.UserID
	}
	if meta.title == "" {
		meta.title = defaultTitle
	}
	return meta
}

// OnLocalObjectAdded publishes a newly drawn object.
func (e *Engine) OnLocalObjectAdded(obj *object.Object) {
	e.publishObject(EventObjectAdded, obj, canDraw)
}

// OnLocalPathCreated publishes a finished freehand stroke.
func (e *Engine) OnLocalPathCreated(obj *object.Object) {
	e.publishObject(EventPathCreated, obj, canDraw)
}

// OnLocalObjectModified publishes the full new state of an object.
func (e *Engine) OnLocalObjectModified(obj *object.Object) {
	e.publishObject(EventObjectModified, obj, canSelect)
}

// OnLocalObjectRemoved publishes a deletion.
func (e *Engine) OnLocalObjectRemoved(id string) {
	if id == "" {
		return
	}

	e.send(EventObjectRemoved, removedPayload{ID: id}, canSelect)
}

func (e *Engine) publishObject(event string, obj *object.Object, allowed func(surface.Permissions) bool) {
	if obj == nil {
		return
	}
	obj.EnsureID()

	e.send(event, obj, allowed)
}

// send publishes a local change if the local participant holds the
// permission. While loading the change is queued until the session is live.
func (e *Engine) send(event string, payload interface{}, allowed func(surface.Permissions) bool) {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return
	}
	if !allowed(e.permissionsLocked()) {
		e.mu.Unlock()
		e.log.WithField("session", e.sessionID).Debug("local change not permitted, not publishing")
		return
	}
	if e.state == StateLoading || e.channel == nil {
		e.pending = append(e.pending, outbound{event: event, payload: payload})
		e.mu.Unlock()
		return
	}
	ch := e.channel
	e.mu.Unlock()

	e.publish(ch, event, payload)
}

// publish sends without waiting for any acknowledgement; failures are logged
func (e *Engine) publish(ch broadcast.Channel, event string, payload interface{}) {
	if err := ch.Publish(context.Background(), event, payload); err != nil {
		e.log.WithError(err).WithField("event", event).Warn("publish failed")
	}
}

// OnRemoteEvent applies an event delivered by another participant. Events
// for unknown ids are dropped, so out-of-order delivery is harmless.
func (e *Engine) OnRemoteEvent(msg broadcast.Message) {
	e.mu.Lock()
	surf := e.surface
	open := e.state != StateClosed
	e.mu.Unlock()

	if !open || surf == nil {
		return
	}

	log := e.log.WithFields(logrus.Fields{"event": msg.Event, "sender": msg.Sender})

	changed := false
	switch msg.Event {
	case EventObjectAdded, EventPathCreated:
		obj, err := e.validator.Decode(msg.Payload)
		if err != nil {
			log.WithError(err).Warn("dropping invalid object")
			return
		}
		changed = surf.Insert(obj)

	case EventObjectModified:
		obj, err := e.validator.Decode(msg.Payload)
		if err != nil {
			log.WithError(err).Warn("dropping invalid object")
			return
		}
		changed = surf.Replace(obj)

	case EventObjectRemoved:
		var p removedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.WithError(err).Warn("dropping malformed removal")
			return
		}
		changed = surf.Delete(p.ID)

	case EventCanvasCleared:
		changed = surf.Clear() > 0

	case EventCollaborationToggled:
		var p collaborationPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.WithError(err).Warn("dropping malformed collaboration toggle")
			return
		}
		e.mu.Lock()
		if e.surface == surf {
			e.collaboration = p.Enabled
			e.applyPermissionsLocked()
		}
		e.mu.Unlock()
		changed = true

	default:
		log.Debug("ignoring unknown event")
		return
	}

	if changed && e.opts.Invalidate != nil {
		e.opts.Invalidate()
	}
}

// SetCollaboration lets non-controllers draw (or stops them). Calls by a
// non-controller are ignored.
func (e *Engine) SetCollaboration(ctx context.Context, enabled bool) error {
	e.mu.Lock()
	if e.state != StateLive {
		e.mu.Unlock()
		return ErrNotOpen
	}
	if !e.isController {
		e.mu.Unlock()
		e.log.WithField("session", e.sessionID).Debug("collaboration toggle ignored for non-controller")
		return nil
	}
	sessionID := e.sessionID
	e.mu.Unlock()

	// a session without a snapshot row gets the flag with its first save
	err := e.opts.Store.SetCollaboration(ctx, sessionID, enabled)
	if err != nil && !snapshot.IsNotFound(err) {
		perr := &PersistenceError{Op: "update", SessionID: sessionID, Err: err}
		e.log.WithError(err).WithField("session", sessionID).Error("collaboration update failed")
		e.notify(perr)
		return perr
	}

	e.mu.Lock()
	if e.state != StateLive || e.sessionID != sessionID {
		e.mu.Unlock()
		return ErrNotOpen
	}
	e.collaboration = enabled
	e.applyPermissionsLocked()
	ch := e.channel
	e.mu.Unlock()

	e.publish(ch, EventCollaborationToggled, collaborationPayload{Enabled: enabled})
	return nil
}

// Clear removes every object locally and on every other participant.
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateLive {
		e.mu.Unlock()
		return ErrNotOpen
	}
	if !e.isController {
		e.mu.Unlock()
		return ErrPermissionDenied
	}
	e.surface.Clear()
	ch := e.channel
	e.mu.Unlock()

	e.publish(ch, EventCanvasCleared, clearedPayload{})
	return nil
}

// Save persists the canvas and collaboration flag, then hands a PNG export
// to the library. The export is skipped when the store rejects the save.
func (e *Engine) Save(ctx context.Context) (*SnapshotRef, error) {
	e.mu.Lock()
	if e.state != StateLive {
		e.mu.Unlock()
		return nil, ErrNotOpen
	}
	surf := e.surface
	rec := &snapshot.Record{
		ID:                   e.sessionID,
		ClassID:              e.meta.classID,
		ControllerID:         e.meta.controllerID,
		Title:                e.meta.title,
		CollaborationEnabled: e.collaboration,
	}
	e.mu.Unlock()

	log := e.log.WithField("session", rec.ID)

	content, err := surf.Serialize()
	if err != nil {
		return nil, err
	}
	rec.Content = content

	if err := e.opts.Store.Upsert(ctx, rec); err != nil {
		perr := &PersistenceError{Op: "save", SessionID: rec.ID, Err: err}
		log.WithError(err).Error("snapshot save failed")
		e.notify(perr)
		return nil, perr
	}

	var buf bytes.Buffer
	if err := surf.Rasterize(&buf, 1); err != nil {
		return nil, errors.Wrap(err, "rasterize canvas")
	}

	ref := &SnapshotRef{
		SessionID: rec.ID,
		Title:     e.libraryTitle(rec.Title, rec.ClassID),
		Image:     buf.Bytes(),
	}

	if e.opts.Library != nil {
		if err := e.opts.Library.SaveToLibrary(ctx, ref.Image, ref.Title); err != nil {
			log.WithError(err).Warn("save to library failed")
			e.notify(err)
		}
	}

	log.WithField("bytes", len(content)).Info("snapshot saved")
	return ref, nil
}

// Close leaves the channel and releases the surface. Closing a closed
// engine does nothing.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return nil
	}
	ch := e.channel
	surf := e.surface
	sessionID := e.sessionID
	e.reset()
	e.mu.Unlock()

	if surf != nil {
		surf.Release()
	}

	e.log.WithField("session", sessionID).Info("whiteboard closed")
	if ch != nil {
		return ch.Unsubscribe()
	}
	return nil
}

// State: returns the lifecycle state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// Collaboration: returns the local view of the collaboration flag
func (e *Engine) Collaboration() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.collaboration
}

// Surface: returns the drawing surface of the open session, nil when closed
func (e *Engine) Surface() *surface.Surface {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.surface
}

// SessionID: returns the open session id
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.sessionID
}

// libraryTitle is "<title> - <class> - <date>"
func (e *Engine) libraryTitle(title, classID string) string {
	stamp := e.opts.Now().Format("2006-01-02 15:04")
	if classID == "" {
		return fmt.Sprintf("%s - %s", title, stamp)
	}
	return fmt.Sprintf("%s - %s - %s", title, classID, stamp)
}

func (e *Engine) notify(err error) {
	if e.opts.Notifier != nil {
		e.opts.Notifier.Notify(err)
	}
}

// permissionsLocked: the controller always edits; others only draw, and
// only while collaboration is on
func (e *Engine) permissionsLocked() surface.Permissions {
	return surface.Permissions{
		Drawing:   e.isController || e.collaboration,
		Selection: e.isController,
	}
}

func (e *Engine) applyPermissionsLocked() {
	if e.surface != nil {
		e.surface.SetPermissions(e.permissionsLocked())
	}
}

func (e *Engine) reset() {
	e.state = StateClosed
	e.channel = nil
	e.surface = nil
	e.sessionID = ""
	e.isController = false
	e.collaboration = false
	e.meta = sessionMeta{}
	e.pending = nil
}

func canDraw(p surface.Permissions) bool   { return p.Drawing }
func canSelect(p surface.Permissions) bool { return p.Selection }
