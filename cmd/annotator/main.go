// Annotator captures or receives images, sends them to Google Cloud Vision
// for text or face detection and shows the results with overlays.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/teslashibe/go-annotator/internal/log"
	"github.com/teslashibe/go-annotator/pkg/app"
)

func init() {
	// OpenCV windows and capture devices must stay on the main thread.
	runtime.LockOSThread()
}

func main() {
	cfg := parseFlags()
	log.Init(cfg.LogLevel)

	a, err := app.New(cfg, app.WithLogger(log.L()))
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(2)
	}

	log.Info("starting annotator",
		"ingestion", cfg.Ingestion,
		"mode", cfg.DetectionMode,
		"headless", cfg.Headless,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Init(ctx); err != nil {
		log.Error("initialization failed", "error", err)
		a.Shutdown()
		os.Exit(1)
	}
	defer a.Shutdown()

	if err := a.Run(ctx); err != nil {
		log.Error("runtime error", "error", err)
		a.Shutdown()
		os.Exit(1)
	}
}

// parseFlags parses command line flags on top of environment configuration.
func parseFlags() app.Config {
	cfg := app.DefaultConfig()
	cfg.LoadEnvConfig()

	flag.StringVar(&cfg.ServiceKey, "key", cfg.ServiceKey, "Vision API key (default from VISION_API_KEY; empty uses application default credentials)")
	flag.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "Vision API base URL")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "Timeout per annotation call")
	flag.StringVar(&cfg.DetectionMode, "mode", cfg.DetectionMode, "Detection mode: text or face")
	flag.StringVar(&cfg.ThresholdAlgorithm, "threshold", cfg.ThresholdAlgorithm, "Binarization before text detection: otsu or adaptive")
	flag.IntVar(&cfg.MaxResults, "max-results", cfg.MaxResults, "Maximum annotations per image")
	flag.IntVar(&cfg.JPEGQuality, "quality", cfg.JPEGQuality, "JPEG quality for submitted images")
	flag.IntVar(&cfg.ChannelCapacity, "capacity", cfg.ChannelCapacity, "Capacity of the image and result channels")
	flag.StringVar(&cfg.Ingestion, "ingest", cfg.Ingestion, "Ingestion: poll (local camera) or http (uploads)")
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "Upload server address in http mode")
	flag.StringVar(&cfg.DeviceID, "device", cfg.DeviceID, "Camera index or video path in poll mode")
	flag.DurationVar(&cfg.PollInterval, "interval", cfg.PollInterval, "Pause between captures in poll mode")
	flag.DurationVar(&cfg.ShutdownGrace, "grace", cfg.ShutdownGrace, "Wait for in-flight uploads on shutdown")
	flag.BoolVar(&cfg.Headless, "headless", cfg.Headless, "Do not open a window")
	flag.StringVar(&cfg.OutputPath, "output", cfg.OutputPath, "In headless mode, write the latest rendered image here")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	debug := flag.Bool("debug", false, "Shorthand for -log-level debug")
	flag.Parse()

	if *debug {
		cfg.LogLevel = "debug"
	}
	return cfg
}
