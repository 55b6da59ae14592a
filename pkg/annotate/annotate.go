// Package annotate defines the pipeline data model and the remote
// annotation capability.
//
// Images travel through the pipeline as RawImage values. The worker and the
// upload server turn each one into a Request for an Annotator, and publish the
// Result together with the image it was computed against as a Response, so
// correlation never needs an external id.
//
// Example usage:
//
//	client, _ := annotate.NewVisionClient(ctx,
//	    annotate.WithAPIKey(os.Getenv("VISION_API_KEY")),
//	    annotate.WithTimeout(10*time.Second),
//	)
//	defer client.Close()
//
//	result, err := client.Annotate(ctx, &annotate.Request{
//	    Kind:       annotate.Text,
//	    Image:      jpegBytes,
//	    MaxResults: 4,
//	})
package annotate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	vision "google.golang.org/api/vision/v1"
)

// Annotator is the remote vision capability. Implementations issue one call
// per Annotate and must honour ctx cancellation.
type Annotator interface {
	// Annotate runs one detection over an already encoded image.
	Annotate(ctx context.Context, req *Request) (*Result, error)

	// Close releases any resources held by the annotator.
	Close() error
}

// DetectionKind selects what the remote service looks for.
type DetectionKind int

const (
	// Text asks for TEXT_DETECTION.
	Text DetectionKind = iota
	// Face asks for FACE_DETECTION.
	Face
)

// String returns the wire name of the feature.
func (k DetectionKind) String() string {
	switch k {
	case Text:
		return "TEXT_DETECTION"
	case Face:
		return "FACE_DETECTION"
	default:
		return fmt.Sprintf("DetectionKind(%d)", int(k))
	}
}

// ParseDetectionKind accepts "text" or "face" (any case), or the wire names.
func ParseDetectionKind(s string) (DetectionKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TEXT", "TEXT_DETECTION":
		return Text, nil
	case "FACE", "FACE_DETECTION":
		return Face, nil
	default:
		return Text, fmt.Errorf("annotate: unknown detection kind %q", s)
	}
}

// RawImage is a decoded bitmap prior to any detection-specific transform.
// Pix holds Height rows of Width*Channels bytes in BGR order, which is the
// layout OpenCV uses. A RawImage is never modified after construction;
// transforms derive a new one.
type RawImage struct {
	ID         string
	Width      int
	Height     int
	Channels   int
	Pix        []byte
	CapturedAt time.Time
}

// NewRawImage wraps pix as a RawImage with a fresh id.
func NewRawImage(width, height, channels int, pix []byte) RawImage {
	return RawImage{
		ID:         uuid.NewString(),
		Width:      width,
		Height:     height,
		Channels:   channels,
		Pix:        pix,
		CapturedAt: time.Now(),
	}
}

// Valid reports whether the dimensions match the pixel buffer.
func (r RawImage) Valid() bool {
	return r.Width > 0 && r.Height > 0 && r.Channels > 0 &&
		len(r.Pix) == r.Width*r.Height*r.Channels
}

// Clone returns a deep copy that keeps the id, so a derived image stays
// correlated with its source.
func (r RawImage) Clone() RawImage {
	c := r
	c.Pix = make([]byte, len(r.Pix))
	copy(c.Pix, r.Pix)
	return c
}

// Request is one annotation call.
type Request struct {
	// Kind is the detection feature to run.
	Kind DetectionKind

	// Image is the re-encoded (JPEG) image. It is base64-encoded on the wire.
	Image []byte

	// MaxResults caps the number of annotations returned.
	MaxResults int

	// LanguageHints are sent for Text requests only.
	LanguageHints []string
}

// Result is the service payload for one image.
type Result struct {
	Kind  DetectionKind
	Texts []*vision.EntityAnnotation
	Faces []*vision.FaceAnnotation
}

// Detections returns the number of annotations of the result's kind.
func (r *Result) Detections() int {
	if r == nil {
		return 0
	}
	if r.Kind == Face {
		return len(r.Faces)
	}
	return len(r.Texts)
}

// Empty reports whether the result holds no detections.
func (r *Result) Empty() bool {
	return r.Detections() == 0
}

// FirstText returns the first text annotation, which the service uses for the
// full detected text, or nil when there is none.
func (r *Result) FirstText() *vision.EntityAnnotation {
	if r == nil || len(r.Texts) == 0 {
		return nil
	}
	return r.Texts[0]
}

// Response pairs a Result with the image it was computed against.
type Response struct {
	Result *Result
	Image  RawImage
}
