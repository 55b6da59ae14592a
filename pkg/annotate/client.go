package annotate

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"

	"github.com/teslashibe/go-annotator/internal/httpc"
)

// VisionClient calls the Google Vision images:annotate REST method.
// Each VisionClient owns its own HTTP client, so the worker and the upload
// server never share connection state.
type VisionClient struct {
	svc    *vision.Service
	http   *http.Client
	config *Config
	logger *slog.Logger
	closed atomic.Bool
}

var _ Annotator = (*VisionClient)(nil)

// NewVisionClient creates a client. With an API key every request carries
// ?key=<API_KEY>; without one, Application Default Credentials are used.
func NewVisionClient(ctx context.Context, opts ...Option) (*VisionClient, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}

	hc, err := buildHTTPClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc, err := vision.NewService(ctx,
		option.WithHTTPClient(hc),
		option.WithEndpoint(endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("annotate: create vision service: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &VisionClient{
		svc:    svc,
		http:   hc,
		config: cfg,
		logger: logger.With("component", "annotate.vision"),
	}, nil
}

// buildHTTPClient layers authentication over the shared transport defaults.
func buildHTTPClient(ctx context.Context, cfg *Config) (*http.Client, error) {
	base := cfg.HTTPClient
	if base == nil {
		base = httpc.NewClient(nil, cfg.Timeout)
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}

	if cfg.APIKey != "" {
		return &http.Client{
			Timeout:   base.Timeout,
			Transport: &transport.APIKey{Key: cfg.APIKey, Transport: rt},
		}, nil
	}

	creds, err := google.FindDefaultCredentials(ctx, vision.CloudVisionScope)
	if err != nil {
		return nil, fmt.Errorf("annotate: no API key and no default credentials: %w", err)
	}
	return &http.Client{
		Timeout:   base.Timeout,
		Transport: &oauth2.Transport{Source: creds.TokenSource, Base: rt},
	}, nil
}

// Annotate sends one image for detection. Non-2xx answers come back as
// *APIError and deadline expiry as ErrTimeout. A 2xx body that cannot be
// decoded, a payload missing the per-image response, or one carrying a
// per-image error status yields an empty Result rather than an error.
func (c *VisionClient) Annotate(ctx context.Context, req *Request) (*Result, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if req == nil || len(req.Image) == 0 {
		return nil, ErrEmptyImage
	}

	start := time.Now()
	batch := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{BuildRequest(req)},
	}

	result := &Result{Kind: req.Kind}

	resp, err := c.svc.Images.Annotate(batch).Context(ctx).Do()
	if err != nil {
		if ctx.Err() == nil && malformedPayload(err) {
			c.logger.Warn("undecodable response body", "kind", req.Kind.String(), "error", err)
			return result, nil
		}
		return nil, classify(err)
	}

	if len(resp.Responses) == 0 || resp.Responses[0] == nil {
		c.logger.Warn("response carried no per-image result", "kind", req.Kind.String())
		return result, nil
	}

	r := resp.Responses[0]
	if r.Error != nil && r.Error.Code != 0 {
		c.logger.Warn("service reported per-image error",
			"kind", req.Kind.String(),
			"code", r.Error.Code,
			"message", r.Error.Message,
		)
		return result, nil
	}

	switch req.Kind {
	case Face:
		result.Faces = compactFaces(r.FaceAnnotations)
	default:
		result.Texts = compactEntities(r.TextAnnotations)
	}

	c.logger.Debug("annotate complete",
		"kind", req.Kind.String(),
		"detections", result.Detections(),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// Close releases idle connections. Further Annotate calls fail with ErrClosed.
func (c *VisionClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.http.CloseIdleConnections()
	return nil
}

// BuildRequest converts a Request into the wire shape:
//
//	{image:{content}, features:[{type, maxResults}], imageContext:{languageHints}}
//
// imageContext is only set for Text requests.
func BuildRequest(req *Request) *vision.AnnotateImageRequest {
	out := &vision.AnnotateImageRequest{
		Image: &vision.Image{
			Content: base64.StdEncoding.EncodeToString(req.Image),
		},
		Features: []*vision.Feature{{
			Type:       req.Kind.String(),
			MaxResults: int64(req.MaxResults),
		}},
	}
	if req.Kind == Text {
		hints := req.LanguageHints
		if len(hints) == 0 {
			hints = []string{"en"}
		}
		out.ImageContext = &vision.ImageContext{LanguageHints: hints}
	}
	return out
}

// compactEntities drops nil entries a malformed payload may contain.
func compactEntities(in []*vision.EntityAnnotation) []*vision.EntityAnnotation {
	out := make([]*vision.EntityAnnotation, 0, len(in))
	for _, e := range in {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

func compactFaces(in []*vision.FaceAnnotation) []*vision.FaceAnnotation {
	out := make([]*vision.FaceAnnotation, 0, len(in))
	for _, f := range in {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}
