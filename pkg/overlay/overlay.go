// Package overlay computes what to draw for an annotation result: rectangles
// around detected text and circles with emotion labels over detected faces.
// It does no drawing itself.
package overlay

import (
	"image"

	vision "google.golang.org/api/vision/v1"

	"github.com/teslashibe/go-annotator/pkg/annotate"
)

// Likelihood values reported by the service, strongest first.
const (
	VeryLikely = "VERY_LIKELY"
	Likely     = "LIKELY"
	Possible   = "POSSIBLE"
)

// Emotion label names, in the order they are listed within a tier.
const (
	Joy          = "joyLikelihood"
	Sorrow       = "sorrowLikelihood"
	Anger        = "angerLikelihood"
	Surprise     = "surpriseLikelihood"
	UnderExposed = "underExposedLikelihood"
	Blurred      = "blurredLikelihood"
	Headwear     = "headwearLikelihood"
)

// Tiers groups a face's emotion labels by likelihood. Labels below POSSIBLE
// are left out.
type Tiers struct {
	VeryLikely []string
	Likely     []string
	Possible   []string
}

// Empty reports whether no emotion reached POSSIBLE.
func (t Tiers) Empty() bool {
	return len(t.VeryLikely)+len(t.Likely)+len(t.Possible) == 0
}

// FaceMark is the drawing plan for one face.
type FaceMark struct {
	Box    image.Rectangle
	Center image.Point
	Radius int
	Tiers  Tiers
}

// Overlay is everything to draw for one result.
type Overlay struct {
	Rects []image.Rectangle
	Faces []FaceMark
}

// Empty reports whether there is nothing to draw.
func (o Overlay) Empty() bool {
	return len(o.Rects) == 0 && len(o.Faces) == 0
}

// Plan builds the overlay for res. Annotations without vertices are skipped.
func Plan(res *annotate.Result) Overlay {
	var o Overlay
	if res == nil {
		return o
	}

	for _, t := range res.Texts {
		if t == nil {
			continue
		}
		if box, ok := Bounds(t.BoundingPoly); ok {
			o.Rects = append(o.Rects, box)
		}
	}

	for _, f := range res.Faces {
		if mark, ok := planFace(f); ok {
			o.Faces = append(o.Faces, mark)
		}
	}
	return o
}

func planFace(f *vision.FaceAnnotation) (FaceMark, bool) {
	if f == nil {
		return FaceMark{}, false
	}
	box, ok := Bounds(f.FdBoundingPoly)
	if !ok {
		box, ok = Bounds(f.BoundingPoly)
	}
	if !ok {
		return FaceMark{}, false
	}

	return FaceMark{
		Box:    box,
		Center: image.Pt((box.Min.X+box.Max.X)/2, (box.Min.Y+box.Max.Y)/2),
		Radius: box.Dx() / 2,
		Tiers:  Emotions(f),
	}, true
}

// Bounds returns the axis-aligned box enclosing every vertex of p. Missing
// coordinates count as 0.
func Bounds(p *vision.BoundingPoly) (image.Rectangle, bool) {
	if p == nil {
		return image.Rectangle{}, false
	}

	found := false
	var minX, minY, maxX, maxY int
	for _, v := range p.Vertices {
		var x, y int
		if v != nil {
			x, y = int(v.X), int(v.Y)
		}
		if !found {
			minX, minY, maxX, maxY = x, y, x, y
			found = true
			continue
		}
		minX, maxX = min(minX, x), max(maxX, x)
		minY, maxY = min(minY, y), max(maxY, y)
	}
	if !found {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX, maxY), true
}

// Emotions sorts the face's likelihoods into tiers.
func Emotions(f *vision.FaceAnnotation) Tiers {
	var t Tiers
	if f == nil {
		return t
	}

	for _, e := range []struct {
		name, value string
	}{
		{Joy, f.JoyLikelihood},
		{Sorrow, f.SorrowLikelihood},
		{Anger, f.AngerLikelihood},
		{Surprise, f.SurpriseLikelihood},
		{UnderExposed, f.UnderExposedLikelihood},
		{Blurred, f.BlurredLikelihood},
		{Headwear, f.HeadwearLikelihood},
	} {
		switch e.value {
		case VeryLikely:
			t.VeryLikely = append(t.VeryLikely, e.name)
		case Likely:
			t.Likely = append(t.Likely, e.name)
		case Possible:
			t.Possible = append(t.Possible, e.name)
		}
	}
	return t
}
