package annotate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"

	"google.golang.org/api/googleapi"
)

// Sentinel errors for common conditions.
var (
	// ErrEmptyImage is returned when a request carries no image bytes.
	ErrEmptyImage = errors.New("annotate: empty image")

	// ErrTimeout is returned when a call exceeds its deadline.
	ErrTimeout = errors.New("annotate: request timed out")

	// ErrClosed is returned by a client after Close.
	ErrClosed = errors.New("annotate: client closed")
)

// APIError is a non-2xx answer from the annotation service.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the error message from the API.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("annotate: API error %d: %s", e.StatusCode, e.Message)
}

// IsRateLimited returns true if this is a rate limit error (HTTP 429).
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsServerError returns true if this is a server-side error (HTTP 5xx).
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// classify maps transport and googleapi errors onto this package's errors.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		msg := gerr.Message
		if msg == "" {
			msg = gerr.Body
		}
		return &APIError{StatusCode: gerr.Code, Message: msg}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("annotate: %w", err)
}

// malformedPayload reports whether err came from decoding a 2xx body rather
// than from the transport. Transport failures reach us wrapped in *url.Error.
func malformedPayload(err error) bool {
	var uerr *url.Error
	if err == nil || errors.As(err, &uerr) {
		return false
	}
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	return errors.As(err, &syntaxErr) ||
		errors.As(err, &typeErr) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}
