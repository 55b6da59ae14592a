// Package display draws overlays onto images and shows them, either in an
// OpenCV window or headless.
package display

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-annotator/pkg/annotate"
	"github.com/teslashibe/go-annotator/pkg/imaging"
	"github.com/teslashibe/go-annotator/pkg/overlay"
)

// Colors are RGB; gocv converts them to BGR when drawing.
var (
	Green = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	Cyan  = color.RGBA{R: 0, G: 255, B: 255, A: 0}
	Red   = color.RGBA{R: 255, G: 0, B: 0, A: 0}
)

// Label offsets below a face box, one per likelihood tier.
const (
	veryLikelyOffset = 20
	likelyOffset     = 50
	possibleOffset   = 80
)

// Renderer draws annotation overlays.
type Renderer struct {
	Thickness int
	FontScale float64
}

// NewRenderer returns a renderer with 2px strokes and unit font scale.
func NewRenderer() *Renderer {
	return &Renderer{Thickness: 2, FontScale: 1}
}

// Render returns a copy of the response image with its overlay drawn on it.
// The source image is left untouched and the copy keeps its id.
func (r *Renderer) Render(resp annotate.Response) (annotate.RawImage, error) {
	return r.Draw(resp.Image, overlay.Plan(resp.Result))
}

// Draw returns a copy of img with o drawn on it.
func (r *Renderer) Draw(img annotate.RawImage, o overlay.Overlay) (annotate.RawImage, error) {
	src, err := imaging.ToMat(img)
	if err != nil {
		return annotate.RawImage{}, fmt.Errorf("display: %w", err)
	}
	defer src.Close()

	// Single-channel images (binarized frames) get colour so the overlay is
	// visible.
	canvas := src
	if img.Channels == 1 {
		canvas = gocv.NewMat()
		defer canvas.Close()
		if err := gocv.CvtColor(src, &canvas, gocv.ColorGrayToBGR); err != nil {
			return annotate.RawImage{}, fmt.Errorf("display: colour: %w", err)
		}
	}

	for _, rect := range o.Rects {
		if err := gocv.Rectangle(&canvas, rect, Green, r.Thickness); err != nil {
			return annotate.RawImage{}, fmt.Errorf("display: rectangle %v: %w", rect, err)
		}
	}
	for _, f := range o.Faces {
		if err := gocv.Circle(&canvas, f.Center, f.Radius, Green, r.Thickness); err != nil {
			return annotate.RawImage{}, fmt.Errorf("display: circle at %v: %w", f.Center, err)
		}
		r.label(&canvas, f.Tiers.VeryLikely, image.Pt(f.Box.Min.X, f.Box.Max.Y+veryLikelyOffset), Green)
		r.label(&canvas, f.Tiers.Likely, image.Pt(f.Box.Min.X, f.Box.Max.Y+likelyOffset), Cyan)
		r.label(&canvas, f.Tiers.Possible, image.Pt(f.Box.Min.X, f.Box.Max.Y+possibleOffset), Red)
	}

	out, err := imaging.FromMat(canvas)
	if err != nil {
		return annotate.RawImage{}, fmt.Errorf("display: %w", err)
	}
	out.ID = img.ID
	out.CapturedAt = img.CapturedAt
	return out, nil
}

func (r *Renderer) label(m *gocv.Mat, names []string, at image.Point, c color.RGBA) {
	if len(names) == 0 {
		return
	}
	gocv.PutTextWithParams(m, " "+strings.Join(names, " "), at,
		gocv.FontHersheySimplex, r.FontScale, c, r.Thickness, gocv.LineAA, false)
}
