package surface

import (
	"bytes"
	"image/png"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classboard/internal/object"
)

func rect(id string) *object.Object {
	return &object.Object{ID: id, Kind: object.KindRect, Shape: &object.RectangleData{
		Size: object.Size{Width: 10, Height: 10},
	}}
}

func stroke(id string) *object.Object {
	return &object.Object{ID: id, Kind: object.KindPath, Shape: &object.PathData{
		Points: []object.Point{{X: 0, Y: 0}, {X: 4, Y: 4}},
	}}
}

func editable() *Surface {
	s := New(100, 100)
	s.SetPermissions(Permissions{Drawing: true, Selection: true})
	return s
}

func TestAddNotifiesAndAssignsID(t *testing.T) {
	s := editable()

	var added []*object.Object
	s.OnChange(Listener{Added: func(obj *object.Object) { added = append(added, obj) }})

	obj := &object.Object{Kind: object.KindRect, Shape: &object.RectangleData{}}
	require.NoError(t, s.Add(obj))

	assert.NotEmpty(t, obj.ID)
	require.Len(t, added, 1)
	assert.Equal(t, obj.ID, added[0].ID)
	assert.Equal(t, 1, s.Len())
}

func TestAddBlockedWithoutDrawing(t *testing.T) {
	s := New(100, 100)
	s.SetPermissions(Permissions{Drawing: false})

	called := false
	s.OnChange(Listener{Added: func(*object.Object) { called = true }})

	err := s.Add(rect("r1"))
	assert.Equal(t, ErrDrawingDisabled, err)
	assert.False(t, called)
	assert.Equal(t, 0, s.Len())
}

func TestAddDuplicate(t *testing.T) {
	s := editable()
	require.NoError(t, s.Add(rect("r1")))

	err := s.Add(rect("r1"))
	assert.Equal(t, ErrDuplicateID, errors.Cause(err))
}

func TestAddPathNotifiesPathCreatedOnly(t *testing.T) {
	s := editable()

	var added, paths int
	s.OnChange(Listener{
		Added:       func(*object.Object) { added++ },
		PathCreated: func(*object.Object) { paths++ },
	})

	require.NoError(t, s.AddPath(stroke("p1")))
	assert.Equal(t, 0, added)
	assert.Equal(t, 1, paths)

	assert.Equal(t, ErrKindMismatch, s.AddPath(rect("r1")))
}

func TestModifyAndEraseRequireSelection(t *testing.T) {
	s := New(100, 100)
	s.SetPermissions(Permissions{Drawing: true})
	require.NoError(t, s.Add(rect("r1")))

	assert.Equal(t, ErrSelectionDisabled, s.Modify("r1", &object.RectangleData{}))
	assert.Equal(t, ErrSelectionDisabled, s.Erase("r1"))

	s.SetPermissions(Permissions{Drawing: true, Selection: true})

	var modified *object.Object
	var removed string
	s.OnChange(Listener{
		Modified: func(obj *object.Object) { modified = obj },
		Removed:  func(id string) { removed = id },
	})

	require.NoError(t, s.Modify("r1", &object.RectangleData{Position: object.Position{X: 7}}))
	require.NotNil(t, modified)
	assert.Equal(t, 7.0, modified.Shape.(*object.RectangleData).X)

	assert.Equal(t, ErrKindMismatch, s.Modify("r1", &object.CircleData{}))

	require.NoError(t, s.Erase("r1"))
	assert.Equal(t, "r1", removed)
	assert.Equal(t, ErrNotFound, errors.Cause(s.Erase("r1")))
}

func TestSilentMutations(t *testing.T) {
	s := New(100, 100)

	notified := false
	s.OnChange(Listener{
		Added:    func(*object.Object) { notified = true },
		Modified: func(*object.Object) { notified = true },
		Removed:  func(string) { notified = true },
	})

	assert.True(t, s.Insert(rect("r1")))
	assert.False(t, s.Insert(rect("r1")))
	assert.False(t, s.Insert(rect("")))

	moved := rect("r1")
	moved.Shape.(*object.RectangleData).X = 42
	assert.True(t, s.Replace(moved))
	assert.False(t, s.Replace(rect("missing")))

	got, ok := s.Find("r1")
	require.True(t, ok)
	assert.Equal(t, 42.0, got.Shape.(*object.RectangleData).X)

	assert.True(t, s.Delete("r1"))
	assert.False(t, s.Delete("r1"))
	assert.False(t, notified)
}

func TestSetPermissionsUpdatesFlags(t *testing.T) {
	s := New(100, 100)
	s.Insert(rect("r1"))

	obj, _ := s.Find("r1")
	assert.False(t, obj.Selectable)

	s.SetPermissions(Permissions{Selection: true})
	obj, _ = s.Find("r1")
	assert.True(t, obj.Selectable)
	assert.True(t, obj.Evented)
}

func TestFindReturnsCopy(t *testing.T) {
	s := New(100, 100)
	s.Insert(rect("r1"))

	obj, _ := s.Find("r1")
	obj.Shape.(*object.RectangleData).X = 99

	again, _ := s.Find("r1")
	assert.Equal(t, 0.0, again.Shape.(*object.RectangleData).X)
}

func TestClear(t *testing.T) {
	s := New(100, 100)
	s.Insert(rect("r1"))
	s.Insert(stroke("p1"))

	assert.Equal(t, 2, s.Clear())
	assert.Equal(t, 0, s.Len())
}

func TestSerializeLoadRoundTrip(t *testing.T) {
	s := New(200, 100)
	s.Insert(rect("r1"))
	s.Insert(stroke("p1"))

	data, err := s.Serialize()
	require.NoError(t, err)

	other := New(200, 100)
	n, err := other.Load(data, object.NewValidator())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	objects := other.Objects()
	require.Len(t, objects, 2)
	assert.Equal(t, "r1", objects[0].ID)
	assert.Equal(t, "p1", objects[1].ID)
}

func TestLoadMergesAndSkipsInvalid(t *testing.T) {
	s := New(100, 100)
	live := rect("r1")
	live.Shape.(*object.RectangleData).X = 5
	s.Insert(live)

	data := []byte(`{"version":"1","objects":[
		{"id":"r1","type":"rect","x":1,"y":1,"width":2,"height":2},
		{"id":"bad","type":"path","points":[]},
		{"id":"t1","type":"text","x":1,"y":1,"text":"hello"}
	]}`)

	n, err := s.Load(data, object.NewValidator())
	assert.Error(t, err)
	assert.Equal(t, 1, n)

	kept, _ := s.Find("r1")
	assert.Equal(t, 5.0, kept.Shape.(*object.RectangleData).X)
	_, ok := s.Find("t1")
	assert.True(t, ok)
}

func TestRasterize(t *testing.T) {
	s := New(64, 32)
	s.Insert(rect("r1"))

	var buf bytes.Buffer
	require.NoError(t, s.Rasterize(&buf, 1))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
}

func TestRelease(t *testing.T) {
	s := editable()
	s.Insert(rect("r1"))
	s.Release()

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, ErrReleased, s.Add(rect("r2")))
	assert.False(t, s.Insert(rect("r3")))
}

func TestLocalObjectsAreValidated(t *testing.T) {
	s := editable()

	published := 0
	s.OnChange(Listener{
		Added:    func(*object.Object) { published++ },
		Modified: func(*object.Object) { published++ },
	})

	tests := map[string]*object.Object{
		"not a number": {ID: "nan", Kind: object.KindRect, Shape: &object.RectangleData{
			Position: object.Position{X: math.NaN()},
		}},
		"out of range": {ID: "far", Kind: object.KindRect, Shape: &object.RectangleData{
			Position: object.Position{X: 5e6},
		}},
		"empty text": {ID: "t0", Kind: object.KindText, Shape: &object.TextData{}},
	}
	for name, obj := range tests {
		t.Run(name, func(t *testing.T) {
			err := s.Add(obj)
			assert.ErrorIs(t, err, ErrInvalidObject)
		})
	}
	assert.Equal(t, 0, s.Len())

	require.NoError(t, s.Add(rect("r1")))
	err := s.Modify("r1", &object.RectangleData{Size: object.Size{Width: math.Inf(1)}})
	assert.ErrorIs(t, err, ErrInvalidObject)

	kept, _ := s.Find("r1")
	assert.Equal(t, 10.0, kept.Shape.(*object.RectangleData).Width)
	assert.Equal(t, 1, published)
}

func TestLocalTextIsSanitized(t *testing.T) {
	s := editable()

	var sent *object.Object
	s.OnChange(Listener{Added: func(obj *object.Object) { sent = obj }})

	require.NoError(t, s.Add(&object.Object{ID: "t1", Kind: object.KindText, Shape: &object.TextData{
		Text: "<script>alert(1)</script>Hello",
	}}))

	require.NotNil(t, sent)
	assert.Equal(t, "Hello", sent.Shape.(*object.TextData).Text)
	kept, _ := s.Find("t1")
	assert.Equal(t, "Hello", kept.Shape.(*object.TextData).Text)
}

func TestSilentMutationsAfterRelease(t *testing.T) {
	s := New(100, 100)
	s.Insert(rect("r1"))
	s.Release()

	// a lingering reference must not be revived through the silent path
	stale := rect("r1")
	s.byID["r1"] = stale
	moved := rect("r1")
	moved.Shape.(*object.RectangleData).X = 42

	assert.False(t, s.Replace(moved))
	assert.Equal(t, 0.0, stale.Shape.(*object.RectangleData).X)
	assert.False(t, s.Insert(rect("r2")))
	assert.Equal(t, 0, s.Len())
}
