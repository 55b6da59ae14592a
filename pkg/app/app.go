package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-annotator/internal/log"
	"github.com/teslashibe/go-annotator/pkg/annotate"
	"github.com/teslashibe/go-annotator/pkg/capture"
	"github.com/teslashibe/go-annotator/pkg/channel"
	"github.com/teslashibe/go-annotator/pkg/display"
	"github.com/teslashibe/go-annotator/pkg/imaging"
	"github.com/teslashibe/go-annotator/pkg/present"
	"github.com/teslashibe/go-annotator/pkg/server"
	"github.com/teslashibe/go-annotator/pkg/worker"
)

// Option customizes how the App builds its collaborators.
type Option func(*App)

// WithAnnotatorFactory replaces the Vision client constructor. The factory
// is called once, for the worker in poll mode or the upload server in http
// mode.
func WithAnnotatorFactory(fn func(ctx context.Context) (annotate.Annotator, error)) Option {
	return func(a *App) { a.newAnnotator = fn }
}

// WithDevice uses dev instead of opening a webcam in poll mode.
func WithDevice(dev capture.Device) Option {
	return func(a *App) { a.device = dev }
}

// WithDisplay uses d instead of a window or the headless display.
func WithDisplay(d present.Display) Option {
	return func(a *App) { a.display = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// App is the annotator orchestrator.
// It manages all components and their lifecycle.
type App struct {
	config Config
	logger *slog.Logger

	kind   annotate.DetectionKind
	prep   *imaging.Preprocessor
	raw    *channel.Channel[annotate.RawImage]
	result *channel.Channel[annotate.Response]

	// Annotation
	newAnnotator func(ctx context.Context) (annotate.Annotator, error)
	workerSvc    annotate.Annotator
	worker       *worker.Worker

	// Ingestion: device polling or uploads, never both
	device    capture.Device
	poller    *capture.Poller
	serverSvc annotate.Annotator
	server    *server.Server

	// Presentation
	display present.Display
	loop    *present.Loop

	shutdownOnce sync.Once
}

// New creates an App from cfg.
func New(cfg Config, opts ...Option) (*App, error) {
	cfg.Ingestion = strings.ToLower(strings.TrimSpace(cfg.Ingestion))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	kind, _ := annotate.ParseDetectionKind(cfg.DetectionMode)
	alg, _ := imaging.ParseAlgorithm(cfg.ThresholdAlgorithm)

	a := &App{
		config: cfg,
		kind:   kind,
		prep:   imaging.NewPreprocessor(alg, cfg.JPEGQuality),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = log.Component("app")
	} else {
		a.logger = a.logger.With("component", "app")
	}

	if a.newAnnotator == nil {
		a.newAnnotator = a.visionClient
	}
	return a, nil
}

// visionClient builds a Vision client from the config. Each caller gets its
// own client and connection pool.
func (a *App) visionClient(ctx context.Context) (annotate.Annotator, error) {
	return annotate.NewVisionClient(ctx,
		annotate.WithAPIKey(a.config.ServiceKey),
		annotate.WithEndpoint(a.config.Endpoint),
		annotate.WithTimeout(a.config.RequestTimeout),
		annotate.WithLogger(a.logger),
	)
}

// Init creates the channels, the ingestion stage (worker and poller, or the
// upload server) and the display. Call it on the goroutine that will call
// Run.
func (a *App) Init(ctx context.Context) error {
	a.raw = channel.New[annotate.RawImage](a.config.ChannelCapacity)
	a.result = channel.New[annotate.Response](a.config.ChannelCapacity)

	// Uploads are annotated by the server itself; the worker only serves
	// polled frames.
	var source present.Source
	switch a.config.Ingestion {
	case IngestHTTP:
		if err := a.initServer(ctx); err != nil {
			return err
		}
	default:
		if err := a.initWorker(ctx); err != nil {
			return err
		}
		if err := a.initPoller(); err != nil {
			return err
		}
		source = a.poller
	}

	if a.display == nil {
		if a.config.Headless {
			a.display = &display.Headless{
				Path:    a.config.OutputPath,
				Quality: a.config.JPEGQuality,
				Logger:  a.logger,
			}
		} else {
			a.display = display.NewWindow(DefaultWindowName, 1)
		}
	}

	a.loop = &present.Loop{
		Source:   source,
		Raw:      a.raw,
		Results:  a.result,
		Renderer: display.NewRenderer(),
		Display:  a.display,
		Logger:   a.logger,
	}

	attrs := []any{
		"ingestion", a.config.Ingestion,
		"detection", a.kind.String(),
		"threshold", a.prep.Algorithm.String(),
		"max_results", a.config.MaxResults,
		"capacity", a.config.ChannelCapacity,
	}
	if a.poller != nil {
		attrs = append(attrs, "interval", a.poller.Interval())
	}
	a.logger.Info("annotator initialized", attrs...)
	return nil
}

func (a *App) initWorker(ctx context.Context) error {
	svc, err := a.newAnnotator(ctx)
	if err != nil {
		return fmt.Errorf("annotation client: %w", err)
	}
	a.workerSvc = svc
	a.worker = worker.New(worker.Config{
		Kind:       a.kind,
		MaxResults: a.config.MaxResults,
		Timeout:    a.config.RequestTimeout,
	}, a.prep, svc, a.raw, a.result, a.logger)
	return nil
}

func (a *App) initServer(ctx context.Context) error {
	svc, err := a.newAnnotator(ctx)
	if err != nil {
		return fmt.Errorf("upload annotation client: %w", err)
	}
	a.serverSvc = svc

	cfg := server.DefaultConfig()
	cfg.Addr = a.config.ListenAddr
	cfg.MaxResults = a.config.MaxResults
	cfg.Timeout = a.config.RequestTimeout
	if a.config.ShutdownGrace > 0 {
		cfg.ShutdownGrace = a.config.ShutdownGrace
	}
	a.server = server.New(cfg, a.prep, svc, a.result, a.logger)
	return nil
}

func (a *App) initPoller() error {
	if a.device == nil {
		capCfg := capture.DefaultConfig()
		capCfg.Device = a.config.DeviceID
		capCfg.Interval = a.config.PollInterval
		cam, err := capture.OpenWebcam(capCfg)
		if err != nil {
			return err
		}
		a.device = cam
	}
	a.poller = capture.NewPoller(a.device, a.config.PollInterval)
	return nil
}

// Run starts the ingestion stage (the worker, or the upload server), then
// runs the presentation loop on the calling goroutine until ctx is cancelled
// or ingestion fails.
func (a *App) Run(ctx context.Context) error {
	if a.loop == nil {
		return errors.New("app: Run called before Init")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	workerDone := make(chan error, 1)
	if a.worker != nil {
		go func() { workerDone <- a.worker.Run(workerCtx) }()
	} else {
		workerDone <- nil
	}

	var (
		serveErr error
		serveMu  sync.Mutex
	)
	if a.server != nil {
		errCh := a.server.StartAsync()
		go func() {
			if err, ok := <-errCh; ok && err != nil {
				serveMu.Lock()
				serveErr = err
				serveMu.Unlock()
				cancel()
			}
		}()
	}

	loopErr := a.loop.Run(runCtx)

	// Stop ingestion, then let the worker finish what is already queued.
	if a.server != nil {
		if err := a.server.Shutdown(); err != nil {
			a.logger.Warn("upload server shutdown", "error", err)
		}
	}
	a.raw.Close()

	select {
	case err := <-workerDone:
		if err != nil {
			a.logger.Warn("worker stopped with error", "error", err)
		}
	case <-time.After(a.grace()):
		a.logger.Warn("worker did not drain in time", "backlog", a.raw.Len())
		stopWorker()
		<-workerDone
	}

	stats := a.Stats()
	a.logger.Info("pipeline stopped",
		"processed", stats.Processed,
		"published", stats.Published,
		"dropped", stats.Dropped,
		"shown", a.loop.Shown(),
	)

	serveMu.Lock()
	defer serveMu.Unlock()
	if serveErr != nil {
		return fmt.Errorf("upload server: %w", serveErr)
	}
	return loopErr
}

// grace bounds how long Run waits for the worker to drain. Results cannot be
// shown once the loop has stopped, so it only needs to cover one call.
func (a *App) grace() time.Duration {
	g := a.config.RequestTimeout + time.Second
	if a.config.ShutdownGrace > 0 && a.config.ShutdownGrace < g {
		g = a.config.ShutdownGrace
	}
	return g
}

// Shutdown releases every component. Safe to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		if a.server != nil {
			a.server.Shutdown()
		}
		if a.raw != nil {
			a.raw.Close()
		}
		if a.result != nil {
			a.result.Close()
		}
		if a.workerSvc != nil {
			a.workerSvc.Close()
		}
		if a.serverSvc != nil {
			a.serverSvc.Close()
		}
		if a.poller != nil {
			a.poller.Close()
		} else if a.device != nil {
			a.device.Close()
		}
		if a.display != nil {
			a.display.Close()
		}
		a.logger.Info("annotator shut down")
	})
}

// Stats returns the worker counters.
func (a *App) Stats() worker.Metrics {
	if a.worker == nil {
		return worker.Metrics{}
	}
	return a.worker.Stats()
}
