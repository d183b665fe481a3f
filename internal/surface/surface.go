package surface

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/pkg/errors"

	"classboard/internal/object"
	"classboard/internal/render"
)

const (
	CanvasVersion     = "1"
	DefaultWidth      = 1280
	DefaultHeight     = 720
	DefaultBackground = "#ffffff"
)

var (
	ErrDrawingDisabled   = errors.New("drawing is disabled")
	ErrSelectionDisabled = errors.New("selection is disabled")
	ErrNotFound          = errors.New("object not found")
	ErrDuplicateID       = errors.New("object id already on canvas")
	ErrKindMismatch      = errors.New("shape kind does not match object")
	ErrReleased          = errors.New("surface released")
	ErrInvalidObject     = errors.New("invalid object")
)

// Permissions is the edit mode of the local participant.
type Permissions struct {
	// Drawing allows creating new objects.
	Drawing bool
	// Selection allows selecting, moving and deleting existing objects.
	Selection bool
}

// Listener receives local change notifications. Any field may be nil.
type Listener struct {
	Added       func(obj *object.Object)
	Modified    func(obj *object.Object)
	Removed     func(id string)
	PathCreated func(obj *object.Object)
}

// Canvas is the serialized form of a whole surface.
type Canvas struct {
	Version    string           `json:"version"`
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	Background string           `json:"background"`
	Objects    []*object.Object `json:"objects"`
}

// Surface owns the live object collection of one canvas. Objects handed out
// are copies; the surface is the only holder of the live ones.
type Surface struct {
	width      int
	height     int
	background string

	order     []*object.Object
	byID      map[string]*object.Object
	perms     Permissions
	listener  Listener
	validator *object.Validator
	released  bool
	mu        sync.RWMutex
}

// New: creates an empty surface of the given size
func New(width, height int) *Surface {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}

	return &Surface{
		width:      width,
		height:     height,
		background: DefaultBackground,
		byID:       make(map[string]*object.Object),
		validator:  object.NewValidator(),
	}
}

// OnChange: replaces the change listener
func (s *Surface) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listener = l
}

// SetPermissions: updates edit mode and the selectable/evented flags of every object
func (s *Surface) SetPermissions(p Permissions) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.perms = p
	for _, obj := range s.order {
		obj.Selectable = p.Selection
		obj.Evented = p.Selection
	}
}

// Permissions: returns the current edit mode
func (s *Surface) Permissions() Permissions {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.perms
}

// Add: draws a new object as the local participant and notifies Added.
// The object is validated and its text sanitized the same way remote
// copies are, so every peer accepts what this one shows.
func (s *Surface) Add(obj *object.Object) error {
	added, err := s.addLocal(obj)
	if err != nil {
		return err
	}

	if fn := s.currentListener().Added; fn != nil {
		fn(added)
	}
	return nil
}

// AddPath: finishes a freehand stroke and notifies PathCreated
func (s *Surface) AddPath(obj *object.Object) error {
	if obj.Shape == nil || obj.Shape.Kind() != object.KindPath {
		return ErrKindMismatch
	}

	added, err := s.addLocal(obj)
	if err != nil {
		return err
	}

	if fn := s.currentListener().PathCreated; fn != nil {
		fn(added)
	}
	return nil
}

// addLocal stores a validated copy of obj and returns another copy of it
func (s *Surface) addLocal(obj *object.Object) (*object.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil, ErrReleased
	}
	if !s.perms.Drawing {
		return nil, ErrDrawingDisabled
	}

	obj.EnsureID()
	if _, exists := s.byID[obj.ID]; exists {
		return nil, errors.Wrap(ErrDuplicateID, obj.ID)
	}

	stored := obj.Clone()
	if err := s.validator.ValidateAndSanitize(stored); err != nil {
		return nil, errors.Wrapf(ErrInvalidObject, "%s: %v", obj.ID, err)
	}
	stored.Kind = stored.Shape.Kind()

	s.insert(stored)
	return stored.Clone(), nil
}

// Modify: replaces the shape of an existing object as the local participant
func (s *Surface) Modify(id string, shape object.Shape) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrReleased
	}
	if !s.perms.Selection {
		s.mu.Unlock()
		return ErrSelectionDisabled
	}

	obj, exists := s.byID[id]
	if !exists {
		s.mu.Unlock()
		return errors.Wrap(ErrNotFound, id)
	}
	if shape == nil || shape.Kind() != obj.Kind {
		s.mu.Unlock()
		return ErrKindMismatch
	}

	fresh := (&object.Object{ID: id, Kind: obj.Kind, Shape: shape}).Clone()
	if err := s.validator.ValidateAndSanitize(fresh); err != nil {
		s.mu.Unlock()
		return errors.Wrapf(ErrInvalidObject, "%s: %v", id, err)
	}
	obj.Shape = fresh.Shape
	changed := obj.Clone()
	listener := s.listener
	s.mu.Unlock()

	if listener.Modified != nil {
		listener.Modified(changed)
	}
	return nil
}

// Erase: deletes an object as the local participant and notifies Removed
func (s *Surface) Erase(id string) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrReleased
	}
	if !s.perms.Selection {
		s.mu.Unlock()
		return ErrSelectionDisabled
	}
	if !s.remove(id) {
		s.mu.Unlock()
		return errors.Wrap(ErrNotFound, id)
	}
	listener := s.listener
	s.mu.Unlock()

	if listener.Removed != nil {
		listener.Removed(id)
	}
	return nil
}

// Insert: adds an object without notifying; false if the id is already present
func (s *Surface) Insert(obj *object.Object) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released || obj.ID == "" {
		return false
	}
	if _, exists := s.byID[obj.ID]; exists {
		return false
	}

	s.insert(obj.Clone())
	return true
}

// Replace: overwrites the shape of an existing object without notifying
func (s *Surface) Replace(obj *object.Object) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return false
	}
	existing, exists := s.byID[obj.ID]
	if !exists {
		return false
	}

	c := obj.Clone()
	existing.Kind = c.Kind
	existing.Shape = c.Shape
	return true
}

// Delete: removes an object without notifying
func (s *Surface) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.remove(id)
}

// Clear: removes every object without notifying, returns how many were removed
func (s *Surface) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.order)
	s.order = nil
	s.byID = make(map[string]*object.Object)
	return n
}

// Find: returns a copy of the object with the given id
func (s *Surface) Find(id string) (*object.Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, exists := s.byID[id]
	if !exists {
		return nil, false
	}
	return obj.Clone(), true
}

// Objects: returns copies of all objects in z-order
func (s *Surface) Objects() []*object.Object {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects := make([]*object.Object, 0, len(s.order))
	for _, obj := range s.order {
		objects = append(objects, obj.Clone())
	}
	return objects
}

// Len: returns the number of objects on the surface
func (s *Surface) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.order)
}

// Serialize: encodes the whole canvas as JSON
func (s *Surface) Serialize() ([]byte, error) {
	s.mu.RLock()
	canvas := Canvas{
		Version:    CanvasVersion,
		Width:      s.width,
		Height:     s.height,
		Background: s.background,
		Objects:    make([]*object.Object, 0, len(s.order)),
	}
	canvas.Objects = append(canvas.Objects, s.order...)
	data, err := json.Marshal(canvas)
	s.mu.RUnlock()

	if err != nil {
		return nil, errors.Wrap(err, "serialize canvas")
	}
	return data, nil
}

// Load: decodes a serialized canvas and inserts every valid object whose
// id is not already present. Returns the number of inserted objects.
func (s *Surface) Load(data []byte, v *object.Validator) (int, error) {
	var raw struct {
		Background string            `json:"background"`
		Objects    []json.RawMessage `json:"objects"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, errors.Wrap(err, "parse canvas")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return 0, ErrReleased
	}
	if raw.Background != "" {
		s.background = raw.Background
	}

	var (
		inserted int
		firstErr error
	)
	for _, item := range raw.Objects {
		obj, err := v.Decode(item)
		if err != nil {
			if firstErr == nil {
				firstErr = errors.Wrap(err, "load canvas object")
			}
			continue
		}
		if _, exists := s.byID[obj.ID]; exists {
			continue
		}
		s.insert(obj)
		inserted++
	}

	return inserted, firstErr
}

// Rasterize: writes the current canvas as PNG
func (s *Surface) Rasterize(w io.Writer, scale float64) error {
	s.mu.RLock()
	opts := render.Options{
		Width:      s.width,
		Height:     s.height,
		Background: s.background,
		Scale:      scale,
	}
	s.mu.RUnlock()

	return render.PNG(w, s.Objects(), opts)
}

// Release: drops all objects and the listener; the surface is unusable afterwards
func (s *Surface) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = nil
	s.byID = make(map[string]*object.Object)
	s.listener = Listener{}
	s.released = true
}

func (s *Surface) currentListener() Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listener
}

// insert appends obj on top; caller holds the write lock
func (s *Surface) insert(obj *object.Object) {
	obj.Selectable = s.perms.Selection
	obj.Evented = s.perms.Selection
	s.order = append(s.order, obj)
	s.byID[obj.ID] = obj
}

// remove deletes by id; caller holds the write lock
func (s *Surface) remove(id string) bool {
	if _, exists := s.byID[id]; !exists {
		return false
	}

	delete(s.byID, id)
	for i, obj := range s.order {
		if obj.ID == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}
