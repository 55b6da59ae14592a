package annotate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/teslashibe/go-annotator/internal/log"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *VisionClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]Option{
		WithEndpoint(server.URL),
		WithAPIKey("test-key"),
		WithLogger(log.Discard()),
	}, opts...)

	client, err := NewVisionClient(context.Background(), opts...)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestVisionClientTextRequest(t *testing.T) {
	image := []byte{0xff, 0xd8, 0x01, 0x02}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images:annotate" {
			t.Errorf("Expected /v1/images:annotate, got %s", r.URL.Path)
		}
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if key := r.URL.Query().Get("key"); key != "test-key" {
			t.Errorf("Expected key=test-key, got %q", key)
		}

		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
			return
		}
		reqs := body["requests"].([]interface{})
		if len(reqs) != 1 {
			t.Errorf("Expected 1 request, got %d", len(reqs))
			return
		}
		req := reqs[0].(map[string]interface{})

		content := req["image"].(map[string]interface{})["content"].(string)
		if content != base64.StdEncoding.EncodeToString(image) {
			t.Errorf("Unexpected image content %q", content)
		}
		feature := req["features"].([]interface{})[0].(map[string]interface{})
		if feature["type"] != "TEXT_DETECTION" {
			t.Errorf("Expected TEXT_DETECTION, got %v", feature["type"])
		}
		if feature["maxResults"] != float64(4) {
			t.Errorf("Expected maxResults 4, got %v", feature["maxResults"])
		}
		hints := req["imageContext"].(map[string]interface{})["languageHints"].([]interface{})
		if len(hints) != 1 || hints[0] != "en" {
			t.Errorf("Expected languageHints [en], got %v", hints)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"responses":[{"textAnnotations":[
			{"description":"HELLO","boundingPoly":{"vertices":[{"x":10,"y":10},{"x":50,"y":10},{"x":50,"y":30},{"x":10,"y":30}]}}
		]}]}`))
	})

	result, err := client.Annotate(context.Background(), &Request{
		Kind:       Text,
		Image:      image,
		MaxResults: 4,
	})
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if result.Empty() {
		t.Fatal("Expected detections")
	}
	first := result.FirstText()
	if first.Description != "HELLO" {
		t.Errorf("Expected HELLO, got %q", first.Description)
	}
	if v := first.BoundingPoly.Vertices[2]; v.X != 50 || v.Y != 30 {
		t.Errorf("Unexpected vertex %+v", v)
	}
}

func TestVisionClientFaceRequestOmitsImageContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		req := body["requests"].([]interface{})[0].(map[string]interface{})
		if _, ok := req["imageContext"]; ok {
			t.Error("Face requests should not carry imageContext")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"responses":[{"faceAnnotations":[
			{"fdBoundingPoly":{"vertices":[{},{"x":100},{"x":100},{"y":100}]},"joyLikelihood":"VERY_LIKELY"}
		]}]}`))
	})

	result, err := client.Annotate(context.Background(), &Request{
		Kind:       Face,
		Image:      []byte{1},
		MaxResults: 4,
	})
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if len(result.Faces) != 1 {
		t.Fatalf("Expected 1 face, got %d", len(result.Faces))
	}
	if result.Faces[0].JoyLikelihood != "VERY_LIKELY" {
		t.Errorf("Unexpected joy likelihood %q", result.Faces[0].JoyLikelihood)
	}
}

func TestVisionClientEmptyResponse(t *testing.T) {
	for name, body := range map[string]string{
		"no responses":     `{}`,
		"empty response":   `{"responses":[{}]}`,
		"per-image error":  `{"responses":[{"error":{"code":3,"message":"bad image data"}}]}`,
		"empty annotation": `{"responses":[{"textAnnotations":[]}]}`,
		"malformed body":   `{"responses":[{`,
		"not json":         `<html>upstream proxy</html>`,
		"empty body":       ``,
	} {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(body))
			})

			result, err := client.Annotate(context.Background(), &Request{Kind: Text, Image: []byte{1}})
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if !result.Empty() {
				t.Errorf("Expected empty result, got %d detections", result.Detections())
			}
			if result.FirstText() != nil {
				t.Error("FirstText should be nil")
			}
		})
	}
}

func TestVisionClientAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":403,"message":"API key not valid"}}`))
	})

	_, err := client.Annotate(context.Background(), &Request{Kind: Text, Image: []byte{1}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", apiErr.StatusCode)
	}
}

func TestVisionClientTimeout(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Annotate(ctx, &Request{Kind: Text, Image: []byte{1}})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
}

func TestVisionClientRejectsEmptyImage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("No request should be sent for an empty image")
	})

	if _, err := client.Annotate(context.Background(), &Request{Kind: Text}); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("Expected ErrEmptyImage, got %v", err)
	}
}

func TestVisionClientClosed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	client.Close()

	if _, err := client.Annotate(context.Background(), &Request{Kind: Text, Image: []byte{1}}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestBuildRequest(t *testing.T) {
	req := BuildRequest(&Request{Kind: Text, Image: []byte("abc"), MaxResults: 2, LanguageHints: []string{"de"}})
	if req.Image.Content != "YWJj" {
		t.Errorf("Expected base64 content YWJj, got %q", req.Image.Content)
	}
	if req.Features[0].Type != "TEXT_DETECTION" || req.Features[0].MaxResults != 2 {
		t.Errorf("Unexpected feature %+v", req.Features[0])
	}
	if req.ImageContext.LanguageHints[0] != "de" {
		t.Errorf("Expected hint de, got %v", req.ImageContext.LanguageHints)
	}

	face := BuildRequest(&Request{Kind: Face, Image: []byte("abc"), MaxResults: 4})
	if face.ImageContext != nil {
		t.Error("Face request should not carry an image context")
	}
	if face.Features[0].Type != "FACE_DETECTION" {
		t.Errorf("Expected FACE_DETECTION, got %s", face.Features[0].Type)
	}
}
