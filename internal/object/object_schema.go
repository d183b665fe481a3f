package object

// Validation limit constants
const (
	MaxStringLength   = 1000
	MaxImageSrcLength = 2 << 20
	MaxPointsInPath   = 10000
	MaxCoordinate     = 1000000
	MinCoordinate     = -1000000
	MaxStrokeWidth    = 1000
	MaxFontSize       = 500
	MaxColorLength    = 50
)

// Kind tags the variant of a drawable object.
type Kind string

const (
	KindPath   Kind = "path"
	KindRect   Kind = "rect"
	KindCircle Kind = "circle"
	KindLine   Kind = "line"
	KindText   Kind = "text"
	KindImage  Kind = "image"
)

var AllowedObjectTypes = map[Kind]bool{
	KindPath:   true,
	KindRect:   true,
	KindCircle: true,
	KindLine:   true,
	KindText:   true,
	KindImage:  true,
}

// Shape is the kind-specific data of an object.
type Shape interface {
	Kind() Kind
}

// GetSchemaForType: returns an empty shape for the kind, nil if unknown
func GetSchemaForType(kind Kind) Shape {
	switch kind {
	case KindRect:
		return &RectangleData{}
	case KindCircle:
		return &CircleData{}
	case KindLine:
		return &LineData{}
	case KindPath:
		return &PathData{}
	case KindText:
		return &TextData{}
	case KindImage:
		return &ImageData{}
	default:
		return nil
	}
}

// =============================================================================
// Common Embedded Structs
// =============================================================================

//  x,y coordinates for positioning shapes on the canvas
type Position struct {
	X float64 `json:"x" validate:"min=-1000000,max=1000000"`
	Y float64 `json:"y" validate:"min=-1000000,max=1000000"`
}

//  center x,y coordinates (cx, cy) for circular shapes
type CenterPosition struct {
	CX float64 `json:"cx" validate:"min=-1000000,max=1000000"`
	CY float64 `json:"cy" validate:"min=-1000000,max=1000000"`
}

//  width and height dimensions
type Size struct {
	Width  float64 `json:"width" validate:"min=0,max=1000000"`
	Height float64 `json:"height" validate:"min=0,max=1000000"`
}

//  start and end points for line-based shapes
type LineCoordinates struct {
	X1 float64 `json:"x1" validate:"min=-1000000,max=1000000"`
	Y1 float64 `json:"y1" validate:"min=-1000000,max=1000000"`
	X2 float64 `json:"x2" validate:"min=-1000000,max=1000000"`
	Y2 float64 `json:"y2" validate:"min=-1000000,max=1000000"`
}

//  common styling properties for shapes
type StyleProps struct {
	Fill        string  `json:"fill,omitempty" validate:"omitempty,max=50"`
	Stroke      string  `json:"stroke,omitempty" validate:"omitempty,max=50"`
	StrokeWidth float64 `json:"strokeWidth,omitempty" validate:"omitempty,min=0,max=1000"`
	Opacity     float64 `json:"opacity,omitempty" validate:"omitempty,min=0,max=1"`
}

//  transformation properties for shapes
type Transform struct {
	Rotation float64 `json:"rotation,omitempty" validate:"omitempty,min=-360,max=360"`
}

//  single point in a path or polygon
type Point struct {
	X float64 `json:"x" validate:"min=-1000000,max=1000000"`
	Y float64 `json:"y" validate:"min=-1000000,max=1000000"`
}

// =============================================================================
// Simple Shape Types
// =============================================================================

type RectangleData struct {
	Position
	Size
	StyleProps
	Transform
}

func (*RectangleData) Kind() Kind { return KindRect }

type CircleData struct {
	CenterPosition
	Radius float64 `json:"radius" validate:"min=0,max=1000000"`
	StyleProps
}

func (*CircleData) Kind() Kind { return KindCircle }

// =============================================================================
// Line-Based Shape Types
// =============================================================================

type LineData struct {
	LineCoordinates
	Stroke      string  `json:"stroke,omitempty" validate:"omitempty,max=50"`
	StrokeWidth float64 `json:"strokeWidth,omitempty" validate:"omitempty,min=0,max=1000"`
	Opacity     float64 `json:"opacity,omitempty" validate:"omitempty,min=0,max=1"`
}

func (*LineData) Kind() Kind { return KindLine }

// PathData is a freehand stroke.
type PathData struct {
	Points      []Point `json:"points" validate:"required,min=2,max=10000,dive"`
	Stroke      string  `json:"stroke,omitempty" validate:"omitempty,max=50"`
	StrokeWidth float64 `json:"strokeWidth,omitempty" validate:"omitempty,min=0,max=1000"`
	Fill        string  `json:"fill,omitempty" validate:"omitempty,max=50"`
	Opacity     float64 `json:"opacity,omitempty" validate:"omitempty,min=0,max=1"`
	Smooth      bool    `json:"smooth,omitempty"`
}

func (*PathData) Kind() Kind { return KindPath }

// =============================================================================
// Content Shape Types
// =============================================================================

type TextData struct {
	Position
	Text       string  `json:"text" validate:"required,max=1000"`
	FontSize   float64 `json:"fontSize,omitempty" validate:"omitempty,min=1,max=500"`
	FontFamily string  `json:"fontFamily,omitempty" validate:"omitempty,max=100"`
	Fill       string  `json:"fill,omitempty" validate:"omitempty,max=50"`
	Bold       bool    `json:"bold,omitempty"`
	Italic     bool    `json:"italic,omitempty"`
	Underline  bool    `json:"underline,omitempty"`
	Transform
}

func (*TextData) Kind() Kind { return KindText }

// ImageData places a raster image; Src is a data URL or an http(s) URL.
type ImageData struct {
	Position
	Size
	Src     string  `json:"src" validate:"required,max=2097152,imgsrc"`
	Opacity float64 `json:"opacity,omitempty" validate:"omitempty,min=0,max=1"`
	Transform
}

func (*ImageData) Kind() Kind { return KindImage }
