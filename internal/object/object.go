package object

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Object is a single drawable element on the whiteboard. The id is assigned
// at construction and travels with every serialized copy.
type Object struct {
	ID    string
	Kind  Kind
	Shape Shape

	// Surface-local interaction flags, never serialized.
	Selectable bool
	Evented    bool
}

// NewID: returns a fresh object id
func NewID() string {
	return uuid.NewString()
}

// New: creates an object with a fresh id for the given shape
func New(shape Shape) *Object {
	return &Object{
		ID:         NewID(),
		Kind:       shape.Kind(),
		Shape:      shape,
		Selectable: true,
		Evented:    true,
	}
}

// EnsureID assigns an id if the object has none and reports whether it did.
func (o *Object) EnsureID() bool {
	if o.ID != "" {
		return false
	}
	o.ID = NewID()
	return true
}

// Clone returns a deep copy of the object.
func (o *Object) Clone() *Object {
	c := *o
	c.Shape = cloneShape(o.Shape)
	return &c
}

// cloneShape copies the shape value; only paths hold a slice
func cloneShape(shape Shape) Shape {
	switch s := shape.(type) {
	case *RectangleData:
		c := *s
		return &c
	case *CircleData:
		c := *s
		return &c
	case *LineData:
		c := *s
		return &c
	case *PathData:
		c := *s
		c.Points = append([]Point(nil), s.Points...)
		return &c
	case *TextData:
		c := *s
		return &c
	case *ImageData:
		c := *s
		return &c
	default:
		return shape
	}
}

// MarshalJSON flattens the shape fields next to id and type.
func (o *Object) MarshalJSON() ([]byte, error) {
	if o.Shape == nil {
		return nil, fmt.Errorf("object %s has no shape", o.ID)
	}

	shapeJSON, err := json.Marshal(o.Shape)
	if err != nil {
		return nil, fmt.Errorf("marshal shape: %w", err)
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(shapeJSON, &fields); err != nil {
		return nil, fmt.Errorf("flatten shape: %w", err)
	}

	fields["id"], _ = json.Marshal(o.ID)
	fields["type"], _ = json.Marshal(o.Shape.Kind())

	return json.Marshal(fields)
}

// UnmarshalJSON picks the shape schema from the type tag.
func (o *Object) UnmarshalJSON(data []byte) error {
	var header struct {
		ID   string `json:"id"`
		Type Kind   `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return fmt.Errorf("unmarshal object header: %w", err)
	}

	shape := GetSchemaForType(header.Type)
	if shape == nil {
		return fmt.Errorf("invalid object type: %q", header.Type)
	}

	if err := json.Unmarshal(data, shape); err != nil {
		return fmt.Errorf("unmarshal %s data: %w", header.Type, err)
	}

	o.ID = header.ID
	o.Kind = header.Type
	o.Shape = shape
	o.Selectable = true
	o.Evented = true
	return nil
}
