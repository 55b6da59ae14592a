package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	errExecutorStopped = errors.New("server: executor stopped")
	errJobPanicked     = errors.New("server: job panicked")
)

// executor runs CPU-bound work (decode, threshold, encode) on a fixed set of
// goroutines so request handlers never run it inline.
type executor struct {
	jobs    chan func()
	stopped chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func newExecutor(workers int) *executor {
	if workers <= 0 {
		workers = 1
	}
	e := &executor{
		jobs:    make(chan func()),
		stopped: make(chan struct{}),
	}
	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go e.loop()
	}
	return e
}

func (e *executor) loop() {
	defer e.wg.Done()
	for {
		select {
		case job := <-e.jobs:
			job()
		case <-e.stopped:
			return
		}
	}
}

// Do runs fn on the pool and waits for it. If ctx ends first Do returns
// ctx.Err(); fn may still run to completion in the background, so it must
// not share state the caller reads after an error. A panic in fn is
// returned as errJobPanicked and the pool goroutine survives.
func (e *executor) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	var panicErr error
	task := func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				panicErr = fmt.Errorf("%w: %v", errJobPanicked, r)
			}
		}()
		fn()
	}

	select {
	case e.jobs <- task:
	case <-e.stopped:
		return errExecutorStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return panicErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop waits for running jobs and releases the pool goroutines.
func (e *executor) Stop() {
	e.once.Do(func() { close(e.stopped) })
	e.wg.Wait()
}
