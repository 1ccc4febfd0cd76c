// Package preview draws calibrated key regions so a calibration can be checked by eye.
package preview

import (
	"image"
	"io"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"skyplay/internal/calibration"
	"skyplay/internal/notes"
)

const margin = 20

// Options controls the rendered canvas
type Options struct {
	// Width and Height of the canvas; zero fits the calibrated regions
	Width, Height int

	// Background, if set, is drawn first (e.g. a screenshot of the instrument)
	Background image.Image

	// Highlight marks notes to fill solid (e.g. currently pressed)
	Highlight []int
}

var (
	fontOnce sync.Once
	fontErr  error
	goFont   *truetype.Font
)

func labelFace(size float64) (font.Face, error) {
	fontOnce.Do(func() {
		goFont, fontErr = truetype.Parse(goregular.TTF)
	})
	if fontErr != nil {
		return nil, errors.Wrap(fontErr, "parse font")
	}
	return truetype.NewFace(goFont, &truetype.Options{Size: size}), nil
}

// Render draws each calibrated region as an outlined rectangle labelled with
// its key name, and marks the tap point with a dot.
func Render(positions []calibration.KeyPosition, opts Options) (image.Image, error) {
	w, h := opts.Width, opts.Height
	if opts.Background != nil && (w == 0 || h == 0) {
		b := opts.Background.Bounds()
		w, h = b.Dx(), b.Dy()
	}
	if w == 0 || h == 0 {
		w, h = fit(positions)
	}

	dc := gg.NewContext(w, h)
	if opts.Background != nil {
		dc.DrawImage(opts.Background, 0, 0)
	} else {
		dc.SetRGB(0.17, 0.17, 0.17)
		dc.DrawRectangle(0, 0, float64(w), float64(h))
		dc.Fill()
	}

	face, err := labelFace(14)
	if err != nil {
		return nil, err
	}
	dc.SetFontFace(face)

	highlight := make(map[int]bool, len(opts.Highlight))
	for _, n := range opts.Highlight {
		highlight[n] = true
	}

	for _, p := range positions {
		x, y := float64(p.X), float64(p.Y)
		pw, ph := float64(p.Width), float64(p.Height)

		if highlight[p.Note] {
			dc.SetRGBA(1, 0.8, 0.2, 0.6)
			dc.DrawRectangle(x, y, pw, ph)
			dc.Fill()
		}

		dc.SetRGBA(0.2, 0.9, 0.9, 0.9)
		dc.SetLineWidth(2)
		dc.DrawRectangle(x, y, pw, ph)
		dc.Stroke()

		cx, cy := p.Center()
		dc.SetRGB(1, 0.2, 0.2)
		dc.DrawCircle(float64(cx), float64(cy), 4)
		dc.Fill()

		dc.SetRGB(1, 1, 1)
		dc.DrawStringAnchored(notes.NoteToName(p.Note), x+pw/2, y+ph-12, 0.5, 0)
	}

	return dc.Image(), nil
}

// WritePNG renders and encodes the preview as PNG
func WritePNG(w io.Writer, positions []calibration.KeyPosition, opts Options) error {
	img, err := Render(positions, opts)
	if err != nil {
		return err
	}
	dc := gg.NewContextForImage(img)
	return errors.Wrap(dc.EncodePNG(w), "encode preview")
}

// LoadBackground reads a PNG or JPEG screenshot
func LoadBackground(path string) (image.Image, error) {
	img, err := gg.LoadImage(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load background %s", path)
	}
	return img, nil
}

func fit(positions []calibration.KeyPosition) (int, int) {
	w, h := 320, 240
	for _, p := range positions {
		if r := p.X + p.Width + margin; r > w {
			w = r
		}
		if b := p.Y + p.Height + margin; b > h {
			h = b
		}
	}
	return w, h
}
