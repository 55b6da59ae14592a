// Package imaging converts between encoded images, RawImage bitmaps and
// OpenCV matrices, and binarizes images before they are sent for text
// detection.
package imaging

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-annotator/pkg/annotate"
)

// DefaultQuality is the JPEG quality used for re-encoding.
const DefaultQuality = 95

var (
	// ErrDecode is returned for bytes that do not decode to an image.
	ErrDecode = errors.New("imaging: cannot decode image")

	// ErrInvalidImage is returned for a RawImage whose buffer does not match
	// its dimensions.
	ErrInvalidImage = errors.New("imaging: invalid raw image")
)

// Decode decodes an encoded image (JPEG, PNG, ...) into a 3-channel BGR
// RawImage with a fresh id.
func Decode(data []byte) (annotate.RawImage, error) {
	if len(data) == 0 {
		return annotate.RawImage{}, ErrDecode
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return annotate.RawImage{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer mat.Close()

	if mat.Empty() {
		return annotate.RawImage{}, ErrDecode
	}
	return FromMat(mat)
}

// ToMat copies img into a new Mat. On success the caller owns the Mat and
// must Close it.
func ToMat(img annotate.RawImage) (gocv.Mat, error) {
	if !img.Valid() {
		return gocv.Mat{}, ErrInvalidImage
	}

	var mt gocv.MatType
	switch img.Channels {
	case 1:
		mt = gocv.MatTypeCV8UC1
	case 3:
		mt = gocv.MatTypeCV8UC3
	case 4:
		mt = gocv.MatTypeCV8UC4
	default:
		return gocv.Mat{}, fmt.Errorf("%w: %d channels", ErrInvalidImage, img.Channels)
	}

	// NewMatFromBytes keeps a reference to the slice, so hand it a copy to
	// keep img immutable.
	pix := make([]byte, len(img.Pix))
	copy(pix, img.Pix)
	return gocv.NewMatFromBytes(img.Height, img.Width, mt, pix)
}

// FromMat copies an 8-bit Mat into a RawImage with a fresh id.
func FromMat(m gocv.Mat) (annotate.RawImage, error) {
	if m.Empty() {
		return annotate.RawImage{}, ErrInvalidImage
	}
	pix := m.ToBytes()
	img := annotate.NewRawImage(m.Cols(), m.Rows(), m.Channels(), pix)
	if !img.Valid() {
		return annotate.RawImage{}, fmt.Errorf("%w: unsupported mat type %v", ErrInvalidImage, m.Type())
	}
	return img, nil
}

// EncodeJPEG encodes img as JPEG at the given quality (1-100).
func EncodeJPEG(img annotate.RawImage, quality int) ([]byte, error) {
	mat, err := ToMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	return encodeMat(mat, quality)
}

func encodeMat(m gocv.Mat, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, m, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("imaging: encode jpeg: %w", err)
	}
	defer buf.Close()

	// GetBytes is backed by native memory released by Close.
	native := buf.GetBytes()
	out := make([]byte, len(native))
	copy(out, native)
	return out, nil
}
