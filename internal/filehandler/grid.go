package filehandler

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// GridSuffix is appended to the file stem of a gridded image.
const GridSuffix = "_grid"

// GridOptions describes a transfer grid. Squares are sized in canvas
// centimetres so the same grid drawn on the canvas lines up with the image.
type GridOptions struct {
	SquareCM       float64
	CanvasWidthCM  float64
	CanvasHeightCM float64
	MajorEvery     int
	MajorColor     color.RGBA
	MinorColor     color.RGBA
	MajorWidth     int
	MinorWidth     int
	Opacity        float64
}

// DefaultGridOptions returns 10 cm squares on an 80x100 cm canvas with a
// major line every 20 cm.
func DefaultGridOptions() GridOptions {
	return GridOptions{
		SquareCM:       10,
		CanvasWidthCM:  80,
		CanvasHeightCM: 100,
		MajorEvery:     2,
		MajorColor:     color.RGBA{R: 255, A: 255},
		MinorColor:     color.RGBA{R: 255, G: 100, B: 100, A: 255},
		MajorWidth:     3,
		MinorWidth:     1,
		Opacity:        0.7,
	}
}

// Validate checks that the grid can be laid out.
func (o GridOptions) Validate() error {
	switch {
	case o.SquareCM <= 0:
		return fmt.Errorf("grid square size must be positive, got %v", o.SquareCM)
	case o.CanvasWidthCM <= 0 || o.CanvasHeightCM <= 0:
		return fmt.Errorf("canvas size must be positive, got %vx%v", o.CanvasWidthCM, o.CanvasHeightCM)
	case o.MajorEvery < 1:
		return fmt.Errorf("major line interval must be at least 1, got %d", o.MajorEvery)
	case o.Opacity < 0 || o.Opacity > 1:
		return fmt.Errorf("grid opacity must be between 0 and 1, got %v", o.Opacity)
	}
	return nil
}

// GridLayout is the number of whole squares that fit the image once it is
// scaled onto the canvas.
type GridLayout struct {
	Cols          int
	Rows          int
	PaintWidthCM  float64
	PaintHeightCM float64
}

// Layout fits an image of the given pixel size onto the canvas, preserving
// its aspect ratio, and counts whole squares in each direction.
func (o GridOptions) Layout(width, height int) GridLayout {
	imgAspect := float64(width) / float64(height)
	canvasAspect := o.CanvasWidthCM / o.CanvasHeightCM

	var l GridLayout
	if imgAspect > canvasAspect {
		l.PaintWidthCM = o.CanvasWidthCM
		l.PaintHeightCM = o.CanvasWidthCM / imgAspect
	} else {
		l.PaintHeightCM = o.CanvasHeightCM
		l.PaintWidthCM = o.CanvasHeightCM * imgAspect
	}
	l.Cols = max(1, int(l.PaintWidthCM/o.SquareCM))
	l.Rows = max(1, int(l.PaintHeightCM/o.SquareCM))
	return l
}

// AddGridOverlay draws the grid over src and returns a new opaque image.
// Minor lines are drawn first so major lines sit on top.
func AddGridOverlay(src image.Image, opts GridOptions) (*image.RGBA, GridLayout) {
	b := src.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), src, b.Min, draw.Src)

	layout := opts.Layout(b.Dx(), b.Dy())
	xSpacing := float64(b.Dx()) / float64(layout.Cols)
	ySpacing := float64(b.Dy()) / float64(layout.Rows)

	minor := &image.Uniform{withOpacity(opts.MinorColor, opts.Opacity)}
	major := &image.Uniform{withOpacity(opts.MajorColor, opts.Opacity)}

	for pass := 0; pass < 2; pass++ {
		isMajorPass := pass == 1
		fill, width := minor, opts.MinorWidth
		if isMajorPass {
			fill, width = major, opts.MajorWidth
		}
		for i := 0; i <= layout.Cols; i++ {
			if (i%opts.MajorEvery == 0) != isMajorPass {
				continue
			}
			x := int(float64(i) * xSpacing)
			draw.Draw(out, lineRect(x, width, true, out.Bounds()), fill, image.Point{}, draw.Over)
		}
		for i := 0; i <= layout.Rows; i++ {
			if (i%opts.MajorEvery == 0) != isMajorPass {
				continue
			}
			y := int(float64(i) * ySpacing)
			draw.Draw(out, lineRect(y, width, false, out.Bounds()), fill, image.Point{}, draw.Over)
		}
	}
	return out, layout
}

// lineRect returns the rectangle of a line of the given width centred on
// pos, clipped to bounds.
func lineRect(pos, width int, vertical bool, bounds image.Rectangle) image.Rectangle {
	width = max(width, 1)
	lo := pos - width/2
	hi := lo + width
	if vertical {
		return image.Rect(lo, bounds.Min.Y, hi, bounds.Max.Y).Intersect(bounds)
	}
	return image.Rect(bounds.Min.X, lo, bounds.Max.X, hi).Intersect(bounds)
}

// withOpacity returns c as a premultiplied colour with alpha scaled by opacity.
func withOpacity(c color.RGBA, opacity float64) color.RGBA {
	a := opacity * float64(c.A) / 255
	return color.RGBA{
		R: uint8(float64(c.R) * a),
		G: uint8(float64(c.G) * a),
		B: uint8(float64(c.B) * a),
		A: uint8(255 * a),
	}
}

// GridPath returns the output path for a gridded copy of path. Formats
// other than JPEG and PNG are written as PNG.
func GridPath(path string) string {
	ext := filepath.Ext(path)
	out := ext
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png":
	default:
		out = ".png"
	}
	return strings.TrimSuffix(path, ext) + GridSuffix + out
}

// GridFile writes a gridded copy of the image at inPath. An empty outPath
// writes next to the input with the _grid suffix.
func GridFile(inPath, outPath string, opts GridOptions) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}
	if outPath == "" {
		outPath = GridPath(inPath)
	}

	f, err := os.Open(inPath)
	if err != nil {
		return "", fmt.Errorf("failed to open image: %w", err)
	}
	src, format, err := image.Decode(f)
	f.Close()
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", inPath, err)
	}

	gridded, layout := AddGridOverlay(src, opts)

	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", outPath, err)
	}
	switch strings.ToLower(filepath.Ext(outPath)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(out, gridded, &jpeg.Options{Quality: 95})
	default:
		err = png.Encode(out, gridded)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("failed to write %s: %w", outPath, err)
	}

	log.Info().
		Str("input", inPath).
		Str("output", outPath).
		Str("format", format).
		Int("cols", layout.Cols).
		Int("rows", layout.Rows).
		Float64("paint_width_cm", layout.PaintWidthCM).
		Float64("paint_height_cm", layout.PaintHeightCM).
		Msg("Grid overlay written")

	return outPath, nil
}

// GridSession grids every accepted stage image (v*_final.*) in a session
// directory, in stage order.
func GridSession(dir string, opts GridOptions) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "v*_final.*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list stage images: %w", err)
	}

	var gridded []string
	for _, path := range matches {
		if !IsImage(filepath.Ext(path)) {
			continue
		}
		out, err := GridFile(path, "", opts)
		if err != nil {
			return gridded, err
		}
		gridded = append(gridded, out)
	}
	if len(gridded) == 0 {
		return nil, fmt.Errorf("no stage images found in %s", dir)
	}
	return gridded, nil
}
