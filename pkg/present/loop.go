// Package present runs the presentation loop: it captures frames when polling
// a local device, drains annotation results and shows them with overlays.
// Device and display are owned by the goroutine calling Run.
package present

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-annotator/internal/log"
	"github.com/teslashibe/go-annotator/pkg/annotate"
	"github.com/teslashibe/go-annotator/pkg/channel"
)

// Source yields captured frames at its own pace. *capture.Poller satisfies it.
type Source interface {
	Next(ctx context.Context) (annotate.RawImage, error)
}

// Renderer draws a result's overlay onto a copy of its image.
type Renderer interface {
	Render(resp annotate.Response) (annotate.RawImage, error)
}

// Display shows rendered images.
type Display interface {
	Show(img annotate.RawImage) error
	Close() error
}

// DefaultIdle is the pause between iterations when there is no source.
const DefaultIdle = 20 * time.Millisecond

// Loop is the presentation loop.
type Loop struct {
	Source   Source // nil in upload mode
	Raw      *channel.Channel[annotate.RawImage]
	Results  *channel.Channel[annotate.Response]
	Renderer Renderer
	Display  Display
	Idle     time.Duration
	Logger   *slog.Logger

	shown   int
	skipped int
}

// Run iterates until ctx is done, or, without a Source, until Results is
// closed and drained. A capture failure ends the loop with an
// error; render and display failures are logged and skipped.
func (l *Loop) Run(ctx context.Context) error {
	logger := log.Or(l.Logger).With("component", "present")

	idle := l.Idle
	if idle <= 0 {
		idle = DefaultIdle
	}

	logger.Info("presentation loop started", "polling", l.Source != nil)
	defer logger.Info("presentation loop stopped", "shown", l.shown, "skipped", l.skipped)

	for {
		if ctx.Err() != nil {
			return nil
		}

		if l.Source != nil {
			if err := l.capture(ctx, logger); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}

		if resp, ok := l.Results.Poll(); ok {
			l.present(resp, logger)
			continue
		}

		if l.Source == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-l.Results.Done():
				resp, err := l.Results.Take(ctx)
				if err != nil {
					// Closed and drained, or ctx ended.
					return nil
				}
				l.present(resp, logger)
			case <-time.After(idle):
			}
		}
	}
}

func (l *Loop) capture(ctx context.Context, logger *slog.Logger) error {
	img, err := l.Source.Next(ctx)
	if err != nil {
		return fmt.Errorf("present: capture: %w", err)
	}
	if err := l.Raw.Put(ctx, img); err != nil {
		return fmt.Errorf("present: enqueue: %w", err)
	}
	logger.Debug("captured frame", "image_id", img.ID, "backlog", l.Raw.Len())
	return nil
}

func (l *Loop) present(resp annotate.Response, logger *slog.Logger) {
	if resp.Result.Empty() {
		l.skipped++
		logger.Debug("skipped empty result", "image_id", resp.Image.ID)
		return
	}

	img, err := l.Renderer.Render(resp)
	if err != nil {
		logger.Warn("render failed", "image_id", resp.Image.ID, "error", err)
		return
	}
	if err := l.Display.Show(img); err != nil {
		logger.Warn("display failed", "image_id", resp.Image.ID, "error", err)
		return
	}
	l.shown++
	logger.Debug("presented result", "image_id", resp.Image.ID, "detections", resp.Result.Detections())
}

// Shown returns how many results were displayed. Only valid after Run
// returns.
func (l *Loop) Shown() int {
	return l.shown
}

// Skipped returns how many empty results were skipped. Only valid after Run
// returns.
func (l *Loop) Skipped() int {
	return l.skipped
}
