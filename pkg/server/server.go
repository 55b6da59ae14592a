// Package server accepts image uploads over HTTP, runs text detection on them
// and hands every annotated image to the presentation stage.
package server

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-annotator/internal/log"
	"github.com/teslashibe/go-annotator/pkg/annotate"
	"github.com/teslashibe/go-annotator/pkg/channel"
)

// FormField is the multipart field carrying the uploaded image.
const FormField = "img"

// Route is the single upload endpoint.
const Route = "/detecttext"

var errShuttingDown = errors.New("server: shutting down")

// Preparer turns a decoded image into the bytes submitted for detection.
type Preparer interface {
	Prepare(img annotate.RawImage, kind annotate.DetectionKind) ([]byte, error)
}

// Config holds server settings.
type Config struct {
	Addr          string
	BodyLimit     int           // bytes
	ShutdownGrace time.Duration // wait for in-flight requests and publications
	Workers       int           // executor size for decode and threshold work
	MaxResults    int
	Timeout       time.Duration // per annotation call
	LanguageHints []string
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		Addr:          ":8080",
		BodyLimit:     16 * 1024 * 1024,
		ShutdownGrace: 60 * time.Second,
		Workers:       runtime.NumCPU(),
		MaxResults:    4,
		Timeout:       10 * time.Second,
		LanguageHints: []string{"en"},
	}
}

// Server is the upload server.
type Server struct {
	app     *fiber.App
	config  Config
	prep    Preparer
	svc     annotate.Annotator
	results *channel.Channel[annotate.Response]
	exec    *executor
	logger  *slog.Logger

	// ctx bounds every request and publication; Shutdown cancels it once the
	// grace period is over.
	ctx    context.Context
	cancel context.CancelFunc

	// active counts in-flight handlers and the publications they start.
	mu           sync.Mutex
	shuttingDown bool
	active       sync.WaitGroup

	shutdownOnce sync.Once
}

// New creates a server publishing onto results. Zero config fields take
// their defaults.
func New(cfg Config, prep Preparer, svc annotate.Annotator,
	results *channel.Channel[annotate.Response], logger *slog.Logger) *Server {

	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = def.BodyLimit
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = def.ShutdownGrace
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if len(cfg.LanguageHints) == 0 {
		cfg.LanguageHints = def.LanguageHints
	}
	logger = log.Or(logger)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:  cfg,
		prep:    prep,
		svc:     svc,
		results: results,
		exec:    newExecutor(cfg.Workers),
		logger:  logger.With("component", "server"),
		ctx:     ctx,
		cancel:  cancel,
	}

	app := fiber.New(fiber.Config{
		AppName:               "Annotator",
		DisableStartupMessage: true,
		BodyLimit:             cfg.BodyLimit,
	})
	app.Use(recover.New())
	app.Use(cors.New())
	app.Post(Route, s.handleDetectText)

	s.app = app
	return s
}

// App exposes the fiber app, mainly for app.Test in tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address and blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("upload server listening", "addr", s.config.Addr, "route", Route)
	return s.app.Listen(s.config.Addr)
}

// StartAsync starts the server in a goroutine. Listen errors are sent on the
// returned channel.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("upload server error", "error", err)
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown stops accepting connections and waits up to ShutdownGrace for
// in-flight requests and pending publications. Requests arriving after
// Shutdown starts get 503. Once the grace period is over, annotation calls
// still running are cancelled and publications still blocked on a full
// result channel are dropped.
func (s *Server) Shutdown() error {
	var err error
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.shuttingDown = true
		s.mu.Unlock()

		deadline := time.Now().Add(s.config.ShutdownGrace)
		err = s.app.ShutdownWithTimeout(s.config.ShutdownGrace)

		done := make(chan struct{})
		go func() {
			s.active.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Until(deadline)):
			s.logger.Warn("shutdown grace elapsed, aborting in-flight uploads")
			s.cancel()
			<-done
		}
		s.cancel()
		// No handler is left to submit work.
		s.exec.Stop()
		s.logger.Info("upload server stopped")
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// enter registers a request with Shutdown. It returns false once Shutdown
// has started; otherwise the caller must call s.active.Done when finished.
func (s *Server) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown {
		return false
	}
	s.active.Add(1)
	return true
}

// publish hands resp to the result channel without holding up the reply.
// Call it from a handler that has entered, so the count is never zero here.
func (s *Server) publish(resp annotate.Response) {
	s.active.Add(1)
	go func() {
		defer s.active.Done()
		if err := s.results.Put(s.ctx, resp); err != nil {
			s.logger.Warn("dropped image",
				"image_id", resp.Image.ID,
				"cause", "publish",
				"error", err,
			)
			return
		}
		s.logger.Debug("published upload result", "image_id", resp.Image.ID)
	}()
}
