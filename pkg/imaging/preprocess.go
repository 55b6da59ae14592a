package imaging

import (
	"fmt"
	"image"
	"strings"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-annotator/pkg/annotate"
)

// Algorithm selects the binarization applied before text detection.
type Algorithm int

const (
	// Otsu blurs with a 5x5 Gaussian and picks a global threshold by Otsu's
	// criterion.
	Otsu Algorithm = iota
	// Adaptive median-blurs with kernel 5 and applies a Gaussian-weighted
	// adaptive threshold (block 11, offset 2).
	Adaptive
)

// Threshold parameters.
const (
	gaussianKernel    = 5
	medianKernel      = 5
	adaptiveBlockSize = 11
	adaptiveOffset    = 2
	maxValue          = 255
)

// String returns the algorithm name.
func (a Algorithm) String() string {
	switch a {
	case Otsu:
		return "otsu"
	case Adaptive:
		return "adaptive"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}

// ParseAlgorithm accepts "otsu" or "adaptive" in any case.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "otsu":
		return Otsu, nil
	case "adaptive":
		return Adaptive, nil
	default:
		return Otsu, fmt.Errorf("imaging: unknown threshold algorithm %q", s)
	}
}

// Preprocessor prepares images for submission. It holds no mutable state and
// is safe for concurrent use.
type Preprocessor struct {
	Algorithm Algorithm
	Quality   int
}

// NewPreprocessor creates a preprocessor. A quality outside 1-100 uses
// DefaultQuality.
func NewPreprocessor(alg Algorithm, quality int) *Preprocessor {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &Preprocessor{Algorithm: alg, Quality: quality}
}

// Prepare produces the encoded bytes to submit for kind. Text images are
// converted to grayscale and binarized first; face images are re-encoded as
// they are, since thresholding destroys the shading face detection needs.
// The input is never modified.
func (p *Preprocessor) Prepare(img annotate.RawImage, kind annotate.DetectionKind) ([]byte, error) {
	if kind == annotate.Face {
		return EncodeJPEG(img, p.Quality)
	}

	bin, err := p.binarize(img)
	if err != nil {
		return nil, err
	}
	defer bin.Close()
	return encodeMat(bin, p.Quality)
}

// Binarize returns the single-channel black and white image derived from img.
func (p *Preprocessor) Binarize(img annotate.RawImage) (annotate.RawImage, error) {
	bin, err := p.binarize(img)
	if err != nil {
		return annotate.RawImage{}, err
	}
	defer bin.Close()

	out, err := FromMat(bin)
	if err != nil {
		return annotate.RawImage{}, err
	}
	out.ID = img.ID
	out.CapturedAt = img.CapturedAt
	return out, nil
}

// binarize returns a new Mat the caller must Close unless err is set.
func (p *Preprocessor) binarize(img annotate.RawImage) (gocv.Mat, error) {
	src, err := ToMat(img)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	switch img.Channels {
	case 1:
		src.CopyTo(&gray)
	case 4:
		err = gocv.CvtColor(src, &gray, gocv.ColorBGRAToGray)
	default:
		err = gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	}
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("imaging: grayscale: %w", err)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	dst := gocv.NewMat()

	switch p.Algorithm {
	case Adaptive:
		if err = gocv.MedianBlur(gray, &blurred, medianKernel); err == nil {
			err = gocv.AdaptiveThreshold(blurred, &dst, maxValue,
				gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinary,
				adaptiveBlockSize, adaptiveOffset)
		}
	default:
		if err = gocv.GaussianBlur(gray, &blurred, image.Pt(gaussianKernel, gaussianKernel), 0, 0, gocv.BorderDefault); err == nil {
			gocv.Threshold(blurred, &dst, 0, maxValue, gocv.ThresholdBinary|gocv.ThresholdOtsu)
		}
	}
	if err != nil {
		dst.Close()
		return gocv.Mat{}, fmt.Errorf("imaging: %s threshold: %w", p.Algorithm, err)
	}

	if dst.Empty() {
		dst.Close()
		return gocv.Mat{}, fmt.Errorf("imaging: %s threshold produced no output", p.Algorithm)
	}
	return dst, nil
}
