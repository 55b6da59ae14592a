// Package channel provides the bounded FIFO used for every cross-goroutine
// handoff in the pipeline.
//
// A Channel blocks producers while it is full, lets consumers poll without
// blocking, and supports Close so consumers can drain what is left and exit
// instead of spinning forever.
package channel

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 16

// ErrClosed is returned by Put on a closed channel, and by Take once a closed
// channel has been drained.
var ErrClosed = errors.New("channel: closed")

// Channel is a bounded multi-producer/multi-consumer FIFO.
// The zero value is not usable; create one with New.
type Channel[T any] struct {
	items chan T

	// done is closed when Close starts. sealed is closed once no Put can
	// land any more, so the buffer contents are final.
	done   chan struct{}
	sealed chan struct{}

	// Puts hold the read lock for their whole attempt; Close takes the write
	// lock to wait them out before sealing.
	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// New creates a channel holding at most capacity items.
func New[T any](capacity int) *Channel[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel[T]{
		items:  make(chan T, capacity),
		done:   make(chan struct{}),
		sealed: make(chan struct{}),
	}
}

// Put appends item, blocking while the channel is at capacity.
// It returns ErrClosed if the channel is (or becomes) closed before the item
// is accepted, or ctx.Err() if ctx ends first.
func (c *Channel[T]) Put(ctx context.Context, item T) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}

	// Fast path so a free slot always wins over a concurrent Close.
	select {
	case c.items <- item:
		return nil
	default:
	}

	select {
	case c.items <- item:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPut is the timed variant of Put. It reports whether the item was
// accepted within timeout. A zero timeout never blocks.
func (c *Channel[T]) TryPut(item T, timeout time.Duration) bool {
	if timeout <= 0 {
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.closed {
			return false
		}
		select {
		case c.items <- item:
			return true
		default:
			return false
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Put(ctx, item) == nil
}

// Poll returns the head item if one is present. It never blocks.
func (c *Channel[T]) Poll() (T, bool) {
	select {
	case item := <-c.items:
		return item, true
	default:
		var zero T
		return zero, false
	}
}

// Take removes and returns the head item, blocking until one is available.
// After Close it keeps returning buffered items and then ErrClosed.
func (c *Channel[T]) Take(ctx context.Context) (T, error) {
	var zero T

	select {
	case item := <-c.items:
		return item, nil
	case <-c.done:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	// Closing: wait until in-flight puts have settled, then drain.
	select {
	case <-c.sealed:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	if item, ok := c.Poll(); ok {
		return item, nil
	}
	return zero, ErrClosed
}

// Len returns the number of buffered items.
func (c *Channel[T]) Len() int {
	return len(c.items)
}

// Cap returns the channel capacity.
func (c *Channel[T]) Cap() int {
	return cap(c.items)
}

// Close stops the channel accepting new items. Buffered items stay available
// to Poll and Take. Close is idempotent and safe to call concurrently.
func (c *Channel[T]) Close() {
	c.once.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.sealed)
	})
}

// Done is closed when Close is called.
func (c *Channel[T]) Done() <-chan struct{} {
	return c.done
}
