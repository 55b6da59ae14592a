package display

import (
	"fmt"
	"log/slog"
	"os"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-annotator/pkg/annotate"
	"github.com/teslashibe/go-annotator/pkg/imaging"
)

// Window shows images in an OpenCV window. All methods must be called from
// the goroutine that created it, on a locked OS thread.
type Window struct {
	win   *gocv.Window
	delay int
}

// NewWindow opens a window titled name. delay is the WaitKey delay in
// milliseconds used after every Show.
func NewWindow(name string, delay int) *Window {
	if delay <= 0 {
		delay = 1
	}
	return &Window{win: gocv.NewWindow(name), delay: delay}
}

// Show displays img and pumps the window event loop.
func (w *Window) Show(img annotate.RawImage) error {
	m, err := imaging.ToMat(img)
	if err != nil {
		return fmt.Errorf("display: %w", err)
	}
	defer m.Close()

	w.win.IMShow(m)
	w.win.WaitKey(w.delay)
	return nil
}

// Close destroys the window.
func (w *Window) Close() error {
	return w.win.Close()
}

// Headless replaces the window when no display is available. It logs every
// image and, when Path is set, keeps the latest one there as a JPEG.
type Headless struct {
	Path    string
	Quality int
	Logger  *slog.Logger
	shown   int
}

// Show records img.
func (h *Headless) Show(img annotate.RawImage) error {
	h.shown++
	if h.Logger != nil {
		h.Logger.Debug("rendered image", "image_id", img.ID, "width", img.Width, "height", img.Height)
	}
	if h.Path == "" {
		return nil
	}

	data, err := imaging.EncodeJPEG(img, h.Quality)
	if err != nil {
		return fmt.Errorf("display: %w", err)
	}
	tmp := h.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("display: write %s: %w", tmp, err)
	}
	return os.Rename(tmp, h.Path)
}

// Shown returns how many images were shown.
func (h *Headless) Shown() int {
	return h.shown
}

// Close is a no-op.
func (h *Headless) Close() error {
	return nil
}
