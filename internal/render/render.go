package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"
	"strings"

	"github.com/llgcode/draw2d"
	"github.com/llgcode/draw2d/draw2dimg"
	"github.com/llgcode/draw2d/draw2dkit"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"classboard/internal/object"
)

var (
	defaultStroke = color.RGBA{0, 0, 0, 255}
	noColor       = color.RGBA{}
)

// Options controls the raster export.
type Options struct {
	Width      int
	Height     int
	Background string
	// Scale multiplies the canvas size, 0 means 1.
	Scale float64
}

func (o Options) scale() float64 {
	if o.Scale <= 0 {
		return 1
	}
	return o.Scale
}

// PNG paints the objects in order and writes the result as PNG data.
func PNG(w io.Writer, objects []*object.Object, opts Options) error {
	img, err := Image(objects, opts)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// Image paints the objects onto a new RGBA image. Objects are painted in
// slice order, so later objects cover earlier ones.
func Image(objects []*object.Object, opts Options) (*image.RGBA, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid canvas size %dx%d", opts.Width, opts.Height)
	}

	s := opts.scale()
	rect := image.Rect(0, 0, int(float64(opts.Width)*s), int(float64(opts.Height)*s))
	dst := image.NewRGBA(rect)

	bg, ok := parseColor(opts.Background, color.RGBA{255, 255, 255, 255})
	if ok {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	}

	for _, obj := range objects {
		if err := renderObject(dst, obj, s); err != nil {
			return nil, fmt.Errorf("render %s %s: %w", obj.Kind, obj.ID, err)
		}
	}

	return dst, nil
}

func renderObject(dst *image.RGBA, obj *object.Object, scale float64) error {
	switch s := obj.Shape.(type) {
	case *object.PathData:
		renderPath(dst, s, scale)
	case *object.LineData:
		renderLine(dst, s, scale)
	case *object.RectangleData:
		renderRect(dst, s, scale)
	case *object.CircleData:
		renderCircle(dst, s, scale)
	case *object.TextData:
		renderText(dst, s, scale)
	case *object.ImageData:
		return renderImage(dst, s, scale)
	default:
		return fmt.Errorf("unsupported shape %T", obj.Shape)
	}
	return nil
}

func newContext(dst *image.RGBA, scale float64) *draw2dimg.GraphicContext {
	gc := draw2dimg.NewGraphicContext(dst)
	gc.Scale(scale, scale)
	gc.SetLineCap(draw2d.RoundCap)
	gc.SetLineJoin(draw2d.RoundJoin)
	return gc
}

// paint fills and strokes the current path, depending on which colors are set
func paint(gc *draw2dimg.GraphicContext, fill, stroke string, width, opacity float64) {
	fc, doFill := parseColor(fill, noColor)
	sc, doStroke := parseColor(stroke, defaultStroke)
	if width <= 0 {
		width = 1
	}

	gc.SetFillColor(withOpacity(fc, opacity))
	gc.SetStrokeColor(withOpacity(sc, opacity))
	gc.SetLineWidth(width)

	switch {
	case doFill && doStroke:
		gc.FillStroke()
	case doFill:
		gc.Fill()
	case doStroke:
		gc.Stroke()
	}
}

func renderPath(dst *image.RGBA, p *object.PathData, scale float64) {
	if len(p.Points) < 2 {
		return
	}

	gc := newContext(dst, scale)
	gc.BeginPath()
	gc.MoveTo(p.Points[0].X, p.Points[0].Y)

	if p.Smooth && len(p.Points) > 2 {
		// quadratic segments through the midpoints
		for i := 1; i < len(p.Points)-1; i++ {
			cur, next := p.Points[i], p.Points[i+1]
			gc.QuadCurveTo(cur.X, cur.Y, (cur.X+next.X)/2, (cur.Y+next.Y)/2)
		}
		last := p.Points[len(p.Points)-1]
		gc.LineTo(last.X, last.Y)
	} else {
		for _, pt := range p.Points[1:] {
			gc.LineTo(pt.X, pt.Y)
		}
	}

	paint(gc, p.Fill, p.Stroke, p.StrokeWidth, p.Opacity)
}

func renderLine(dst *image.RGBA, l *object.LineData, scale float64) {
	gc := newContext(dst, scale)
	gc.BeginPath()
	gc.MoveTo(l.X1, l.Y1)
	gc.LineTo(l.X2, l.Y2)
	paint(gc, "", l.Stroke, l.StrokeWidth, l.Opacity)
}

func renderRect(dst *image.RGBA, r *object.RectangleData, scale float64) {
	gc := newContext(dst, scale)
	rotateAround(gc, r.X, r.Y, r.Rotation)
	gc.BeginPath()
	draw2dkit.Rectangle(gc, r.X, r.Y, r.X+r.Width, r.Y+r.Height)
	paint(gc, r.Fill, r.Stroke, r.StrokeWidth, r.Opacity)
}

func renderCircle(dst *image.RGBA, c *object.CircleData, scale float64) {
	gc := newContext(dst, scale)
	gc.BeginPath()
	draw2dkit.Circle(gc, c.CX, c.CY, c.Radius)
	paint(gc, c.Fill, c.Stroke, c.StrokeWidth, c.Opacity)
}

func rotateAround(gc *draw2dimg.GraphicContext, x, y, degrees float64) {
	if degrees == 0 {
		return
	}
	gc.Translate(x, y)
	gc.Rotate(degrees * math.Pi / 180)
	gc.Translate(-x, -y)
}

// renderText draws with the fixed 7x13 face; font size and family are not
// honored in raster exports.
func renderText(dst *image.RGBA, t *object.TextData, scale float64) {
	col, ok := parseColor(t.Fill, defaultStroke)
	if !ok {
		return
	}

	face := basicfont.Face7x13
	x := int(t.X * scale)
	y := int(t.Y*scale) + face.Ascent

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(t.Text)

	if t.Underline {
		width := d.MeasureString(t.Text).Ceil()
		line := image.Rect(x, y+2, x+width, y+3)
		draw.Draw(dst, line, image.NewUniform(col), image.Point{}, draw.Over)
	}
}

// renderImage paints inline (data URL) images. Remote images are skipped.
func renderImage(dst *image.RGBA, m *object.ImageData, scale float64) error {
	if !strings.HasPrefix(m.Src, "data:") {
		return nil
	}

	src, err := decodeDataURL(m.Src)
	if err != nil {
		return err
	}

	w, h := m.Width, m.Height
	if w == 0 || h == 0 {
		b := src.Bounds()
		w, h = float64(b.Dx()), float64(b.Dy())
	}

	target := image.Rect(
		int(m.X*scale), int(m.Y*scale),
		int((m.X+w)*scale), int((m.Y+h)*scale),
	)
	draw.CatmullRom.Scale(dst, target, src, src.Bounds(), draw.Over, nil)
	return nil
}

func decodeDataURL(src string) (image.Image, error) {
	idx := strings.Index(src, ",")
	if idx < 0 || !strings.Contains(src[:idx], ";base64") {
		return nil, fmt.Errorf("unsupported data URL")
	}

	raw, err := base64.StdEncoding.DecodeString(src[idx+1:])
	if err != nil {
		return nil, fmt.Errorf("decode image data: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
