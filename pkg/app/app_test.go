package app

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	vision "google.golang.org/api/vision/v1"

	"github.com/teslashibe/go-annotator/internal/log"
	"github.com/teslashibe/go-annotator/pkg/annotate"
	"github.com/teslashibe/go-annotator/pkg/imaging"
	"github.com/teslashibe/go-annotator/pkg/server"
)

type fakeDevice struct {
	mu     sync.Mutex
	frames int
	closed bool
}

func (d *fakeDevice) NextFrame() (annotate.RawImage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames++

	const w, h = 32, 24
	pix := make([]byte, w*h*3)
	for i := range pix {
		pix[i] = byte(100 + i%50)
	}
	return annotate.NewRawImage(w, h, 3, pix), nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

type recordingDisplay struct {
	mu     sync.Mutex
	shown  []annotate.RawImage
	closed bool
}

func (d *recordingDisplay) Show(img annotate.RawImage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown = append(d.shown, img)
	return nil
}

func (d *recordingDisplay) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *recordingDisplay) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.shown)
}

func TestAppPollPipeline(t *testing.T) {
	mock := annotate.WithResult(&annotate.Result{
		Kind: annotate.Text,
		Texts: []*vision.EntityAnnotation{{
			Description: "HELLO",
			BoundingPoly: &vision.BoundingPoly{Vertices: []*vision.Vertex{
				{X: 2, Y: 2}, {X: 20, Y: 2}, {X: 20, Y: 12}, {X: 2, Y: 12},
			}},
		}},
	})

	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ChannelCapacity = 2
	cfg.ShutdownGrace = time.Second

	dev := &fakeDevice{}
	disp := &recordingDisplay{}
	a, err := New(cfg,
		WithAnnotatorFactory(func(ctx context.Context) (annotate.Annotator, error) { return mock, nil }),
		WithDevice(dev),
		WithDisplay(disp),
		WithLogger(log.Discard()),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for disp.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	a.Shutdown()

	if disp.count() < 2 {
		t.Fatalf("Expected at least 2 shown results, got %d", disp.count())
	}
	for _, call := range mock.Calls() {
		if call.Kind != annotate.Text || call.MaxResults != 4 {
			t.Errorf("Unexpected call %+v", call)
		}
	}
	stats := a.Stats()
	if stats.Published == 0 {
		t.Errorf("Expected published results, got %+v", stats)
	}
	if !dev.closed || !disp.closed {
		t.Error("Shutdown should close device and display")
	}
}

func uploadRequest(t *testing.T) *http.Request {
	t.Helper()
	const w, h = 40, 30
	pix := make([]byte, w*h*3)
	for i := range pix {
		pix[i] = byte(60 + i%120)
	}
	data, err := imaging.EncodeJPEG(annotate.NewRawImage(w, h, 3, pix), 90)
	if err != nil {
		t.Fatalf("EncodeJPEG failed: %v", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(server.FormField, "frame.jpg")
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	fw.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, server.Route, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAppUploadPipeline(t *testing.T) {
	mock := annotate.WithResult(&annotate.Result{
		Kind: annotate.Text,
		Texts: []*vision.EntityAnnotation{{
			Description: "UPLOADED",
			BoundingPoly: &vision.BoundingPoly{Vertices: []*vision.Vertex{
				{X: 4, Y: 4}, {X: 30, Y: 4}, {X: 30, Y: 20}, {X: 4, Y: 20},
			}},
		}},
	})

	cfg := DefaultConfig()
	cfg.Ingestion = IngestHTTP
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.ShutdownGrace = time.Second

	disp := &recordingDisplay{}
	a, err := New(cfg,
		WithAnnotatorFactory(func(ctx context.Context) (annotate.Annotator, error) { return mock, nil }),
		WithDisplay(disp),
		WithLogger(log.Discard()),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if a.worker != nil || a.poller != nil {
		t.Fatal("Upload mode should not start the worker or the poller")
	}

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	resp, err := a.server.App().Test(uploadRequest(t), 5000)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var reply map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if reply["description"] != "UPLOADED" {
		t.Errorf("Unexpected reply %v", reply)
	}

	deadline := time.Now().Add(5 * time.Second)
	for disp.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	a.Shutdown()

	if disp.count() != 1 {
		t.Fatalf("Expected the upload to be shown once, got %d", disp.count())
	}
	disp.mu.Lock()
	shown := disp.shown[0]
	disp.mu.Unlock()
	if shown.Width != 40 || shown.Height != 30 {
		t.Errorf("Expected the uploaded 40x30 image, got %dx%d", shown.Width, shown.Height)
	}
	if mock.CallCount() != 1 {
		t.Errorf("Expected one service call, got %d", mock.CallCount())
	}
}

func TestRunBeforeInit(t *testing.T) {
	a, err := New(DefaultConfig(), WithLogger(log.Discard()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := a.Run(context.Background()); err == nil {
		t.Error("Expected error when Run is called before Init")
	}
}
