// Package worker runs the annotation loop: it takes raw images off a channel,
// prepares them, sends them to the annotation service one at a time and
// publishes each result together with its source image.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-annotator/pkg/annotate"
	"github.com/teslashibe/go-annotator/pkg/channel"
)

// Preparer turns a raw image into the bytes submitted for a detection kind.
// *imaging.Preprocessor satisfies it.
type Preparer interface {
	Prepare(img annotate.RawImage, kind annotate.DetectionKind) ([]byte, error)
}

// State is a step of the worker cycle.
type State string

// Cycle states, in order.
const (
	StateIdle       State = "idle"
	StateDequeue    State = "dequeue"
	StatePreprocess State = "preprocess"
	StateSend       State = "send"
	StatePublish    State = "publish"
)

// Drop causes, logged with every abandoned image.
const (
	CausePreprocess = "preprocess"
	CauseNetwork    = "network"
	CauseTimeout    = "timeout"
	CauseService    = "service"
	CausePublish    = "publish"
	CausePanic      = "panic"
	CauseShutdown   = "shutdown"
)

// Config holds the per-worker settings. The detection kind is fixed for the
// worker's lifetime.
type Config struct {
	Kind          annotate.DetectionKind
	MaxResults    int
	Timeout       time.Duration // per annotation call
	LanguageHints []string
}

// DefaultConfig returns text detection with four results and a 10s call
// timeout.
func DefaultConfig() Config {
	return Config{
		Kind:          annotate.Text,
		MaxResults:    4,
		Timeout:       10 * time.Second,
		LanguageHints: []string{"en"},
	}
}

// Metrics contains health counters for a worker.
type Metrics struct {
	Processed    uint64    `json:"processed"`
	Published    uint64    `json:"published"`
	Dropped      uint64    `json:"dropped"`
	AvgLatencyMS float64   `json:"avg_latency_ms"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// Worker processes exactly one image per cycle and keeps at most one
// annotation call outstanding.
type Worker struct {
	config  Config
	prep    Preparer
	svc     annotate.Annotator
	in      *channel.Channel[annotate.RawImage]
	out     *channel.Channel[annotate.Response]
	logger  *slog.Logger
	onState func(State)

	mu      sync.Mutex
	metrics Metrics
	latency time.Duration
}

// New creates a worker reading from in and publishing to out.
func New(cfg Config, prep Preparer, svc annotate.Annotator,
	in *channel.Channel[annotate.RawImage], out *channel.Channel[annotate.Response],
	logger *slog.Logger) *Worker {

	def := DefaultConfig()
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if len(cfg.LanguageHints) == 0 {
		cfg.LanguageHints = def.LanguageHints
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		config: cfg,
		prep:   prep,
		svc:    svc,
		in:     in,
		out:    out,
		logger: logger.With("component", "worker", "kind", cfg.Kind.String()),
	}
}

// OnState registers a hook called on every state transition. It must be set
// before Run.
func (w *Worker) OnState(fn func(State)) {
	w.onState = fn
}

// Run loops until ctx is cancelled or the input channel is closed and
// drained. Per-image failures are logged and counted; they never stop the
// loop.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "max_results", w.config.MaxResults, "timeout", w.config.Timeout)
	defer w.logger.Info("worker stopped")

	for {
		w.setState(StateIdle)
		w.setState(StateDequeue)

		img, err := w.in.Take(ctx)
		if errors.Is(err, channel.ErrClosed) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				w.drain()
				return nil
			}
			return fmt.Errorf("worker: dequeue: %w", err)
		}

		w.logger.Debug("dequeued image", "image_id", img.ID, "backlog", w.in.Len())
		w.cycle(ctx, img)
	}
}

// cycle takes one image to a terminal outcome: published or dropped.
func (w *Worker) cycle(ctx context.Context, img annotate.RawImage) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.drop(img, CausePanic, fmt.Errorf("%v", r))
		}
	}()

	resp, cause, err := w.Process(ctx, img)
	if err != nil {
		w.drop(img, cause, err)
		return
	}

	w.setState(StatePublish)
	if err := w.out.Put(ctx, resp); err != nil {
		w.drop(img, CausePublish, err)
		return
	}

	elapsed := time.Since(start)
	w.mu.Lock()
	w.metrics.Processed++
	w.metrics.Published++
	w.latency += elapsed
	w.metrics.AvgLatencyMS = float64(w.latency.Milliseconds()) / float64(w.metrics.Published)
	w.metrics.LastSeenAt = time.Now()
	w.mu.Unlock()

	w.logger.Info("published result",
		"image_id", img.ID,
		"detections", resp.Result.Detections(),
		"latency_ms", elapsed.Milliseconds(),
	)
}

// Process prepares img and annotates it. On failure it also returns the drop
// cause. It does not publish.
func (w *Worker) Process(ctx context.Context, img annotate.RawImage) (annotate.Response, string, error) {
	w.setState(StatePreprocess)
	data, err := w.prep.Prepare(img, w.config.Kind)
	if err != nil {
		return annotate.Response{}, CausePreprocess, err
	}

	w.setState(StateSend)
	callCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	result, err := w.svc.Annotate(callCtx, &annotate.Request{
		Kind:          w.config.Kind,
		Image:         data,
		MaxResults:    w.config.MaxResults,
		LanguageHints: w.config.LanguageHints,
	})
	if err != nil {
		return annotate.Response{}, causeOf(err), err
	}
	if result == nil {
		result = &annotate.Result{Kind: w.config.Kind}
	}

	return annotate.Response{Result: result, Image: img}, "", nil
}

// drain accounts for images still queued when the worker is stopped.
func (w *Worker) drain() {
	for {
		img, ok := w.in.Poll()
		if !ok {
			return
		}
		w.drop(img, CauseShutdown, context.Canceled)
	}
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() Metrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics
}

func (w *Worker) drop(img annotate.RawImage, cause string, err error) {
	w.mu.Lock()
	w.metrics.Processed++
	w.metrics.Dropped++
	w.metrics.LastSeenAt = time.Now()
	w.mu.Unlock()

	w.logger.Warn("dropped image",
		"image_id", img.ID,
		"cause", cause,
		"error", err,
	)
}

func (w *Worker) setState(s State) {
	if w.onState != nil {
		w.onState(s)
	}
}

func causeOf(err error) string {
	var apiErr *annotate.APIError
	switch {
	case errors.Is(err, annotate.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CauseTimeout
	case errors.Is(err, context.Canceled):
		return CauseShutdown
	case errors.As(err, &apiErr):
		return CauseService
	default:
		return CauseNetwork
	}
}
