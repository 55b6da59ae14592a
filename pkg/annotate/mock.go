package annotate

import (
	"context"
	"sync"
	"time"
)

// Mock implements Annotator for testing.
type Mock struct {
	// AnnotateFunc is called when Annotate is invoked.
	AnnotateFunc func(ctx context.Context, req *Request) (*Result, error)

	// CloseFunc is called when Close is invoked.
	CloseFunc func() error

	mu    sync.Mutex
	calls []MockCall
}

var _ Annotator = (*Mock)(nil)

// MockCall records an Annotate invocation.
type MockCall struct {
	Kind       DetectionKind
	ImageSize  int
	MaxResults int
	Time       time.Time
}

// NewMock returns a mock that answers every call with an empty result.
func NewMock() *Mock {
	return &Mock{
		AnnotateFunc: func(ctx context.Context, req *Request) (*Result, error) {
			return &Result{Kind: req.Kind}, nil
		},
	}
}

// WithResult returns a mock that always answers with res.
func WithResult(res *Result) *Mock {
	return &Mock{
		AnnotateFunc: func(ctx context.Context, req *Request) (*Result, error) {
			return res, nil
		},
	}
}

// WithError returns a mock that always returns the given error.
func WithError(err error) *Mock {
	return &Mock{
		AnnotateFunc: func(ctx context.Context, req *Request) (*Result, error) {
			return nil, err
		},
	}
}

// Annotate calls AnnotateFunc and records the call.
func (m *Mock) Annotate(ctx context.Context, req *Request) (*Result, error) {
	m.record(req)
	if m.AnnotateFunc != nil {
		return m.AnnotateFunc(ctx, req)
	}
	return &Result{Kind: req.Kind}, nil
}

// Close calls CloseFunc.
func (m *Mock) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *Mock) record(req *Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := MockCall{Time: time.Now()}
	if req != nil {
		call.Kind = req.Kind
		call.ImageSize = len(req.Image)
		call.MaxResults = req.MaxResults
	}
	m.calls = append(m.calls, call)
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of Annotate calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
