// Package library stores raster exports of whiteboards as files.
package library

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf"
	"github.com/pkg/errors"
)

// Library receives a PNG export and a title. What it does with them is up
// to the implementation.
type Library interface {
	SaveToLibrary(ctx context.Context, image []byte, title string) error
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slug: turns a title into a file name stem
func Slug(title string) string {
	s := unsafeChars.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "whiteboard"
	}
	return s
}

// Dir writes each export as <slug>.png into a directory.
type Dir struct {
	Path string
}

func (d Dir) SaveToLibrary(ctx context.Context, image []byte, title string) error {
	if err := os.MkdirAll(d.Path, 0o755); err != nil {
		return errors.Wrapf(err, "create library dir %s", d.Path)
	}

	name := filepath.Join(d.Path, Slug(title)+".png")
	if err := os.WriteFile(name, image, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", name)
	}
	return nil
}

// PDF writes each export as a single-page <slug>.pdf into a directory.
type PDF struct {
	Path string
}

func (p PDF) SaveToLibrary(ctx context.Context, image []byte, title string) error {
	if err := os.MkdirAll(p.Path, 0o755); err != nil {
		return errors.Wrapf(err, "create library dir %s", p.Path)
	}

	data, err := ToPDF(image, title)
	if err != nil {
		return err
	}

	name := filepath.Join(p.Path, Slug(title)+".pdf")
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", name)
	}
	return nil
}

// ToPDF embeds a PNG into a landscape page sized to the image, with the
// title as document metadata.
func ToPDF(image []byte, title string) ([]byte, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(image))
	if err != nil {
		return nil, errors.Wrap(err, "read png header")
	}

	w, h := float64(cfg.Width), float64(cfg.Height)
	orientation := "L"
	if h > w {
		orientation = "P"
	}

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: orientation,
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: w, Ht: h},
	})
	pdf.SetTitle(title, true)
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	name := uuid.NewString()
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(image))
	pdf.ImageOptions(name, 0, 0, w, h, false, opts, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, errors.Wrap(err, "render pdf")
	}
	return buf.Bytes(), nil
}
