package capture

import (
	"errors"
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-annotator/pkg/annotate"
	"github.com/teslashibe/go-annotator/pkg/imaging"
)

var (
	// ErrDeviceRead is returned when the device yields no frame.
	ErrDeviceRead = errors.New("capture: device read failed")

	// ErrDeviceClosed is returned after Close.
	ErrDeviceClosed = errors.New("capture: device closed")
)

// Device is a frame source. Implementations need not be safe for concurrent
// use; the presentation loop is their only caller.
type Device interface {
	NextFrame() (annotate.RawImage, error)
	Close() error
}

// Webcam reads frames through OpenCV.
type Webcam struct {
	cap    *gocv.VideoCapture
	frame  gocv.Mat
	closed bool
}

var _ Device = (*Webcam)(nil)

// OpenWebcam opens the device named in cfg.
func OpenWebcam(cfg Config) (*Webcam, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("capture: invalid config: %v", errs)
	}

	vc, err := gocv.OpenVideoCapture(cfg.source())
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", cfg.Device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("capture: open %s: device not available", cfg.Device)
	}

	if cfg.Width > 0 && cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}

	return &Webcam{cap: vc, frame: gocv.NewMat()}, nil
}

// NextFrame grabs one frame as a 3-channel BGR image.
func (w *Webcam) NextFrame() (annotate.RawImage, error) {
	if w.closed {
		return annotate.RawImage{}, ErrDeviceClosed
	}
	if ok := w.cap.Read(&w.frame); !ok || w.frame.Empty() {
		return annotate.RawImage{}, ErrDeviceRead
	}

	img, err := imaging.FromMat(w.frame)
	if err != nil {
		return annotate.RawImage{}, fmt.Errorf("%w: %v", ErrDeviceRead, err)
	}
	img.CapturedAt = time.Now()
	return img, nil
}

// Close releases the device.
func (w *Webcam) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.frame.Close()
	return w.cap.Close()
}
