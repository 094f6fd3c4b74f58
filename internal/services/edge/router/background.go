package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrWriterClosed reports a task submitted after Close.
var ErrWriterClosed = errors.New("background writer is closed")

// BackgroundWriter runs fire-and-forget cache work detached from the request
// that triggered it. Failures are reported, never returned.
type BackgroundWriter struct {
	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	timeout time.Duration
	report  func(ctx context.Context, event, tier, key string, err error)
}

// NewBackgroundWriter builds a writer whose tasks each run under timeout.
func NewBackgroundWriter(timeout time.Duration, report func(ctx context.Context, event, tier, key string, err error)) *BackgroundWriter {
	return &BackgroundWriter{timeout: timeout, report: report}
}

// Go runs fn on its own goroutine with a context that keeps parent's values
// but not its cancellation. A failure or panic is reported as event. After
// Close the task is dropped and reported with ErrWriterClosed.
func (w *BackgroundWriter) Go(parent context.Context, event, tier, key string, fn func(ctx context.Context) error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		if w.report != nil {
			w.report(context.WithoutCancel(parent), event, tier, key, ErrWriterClosed)
		}
		return
	}
	w.wg.Add(1)
	w.mu.Unlock()
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), w.timeout)
		defer cancel()

		if err := runRecovered(ctx, fn); err != nil && w.report != nil {
			w.report(ctx, event, tier, key, err)
		}
	}()
}

// Wait blocks until all started tasks return. Callers must not submit
// tasks concurrently with Wait; use Close while requests may still arrive.
func (w *BackgroundWriter) Wait() {
	w.wg.Wait()
}

// Close stops accepting tasks and waits for the started ones to return.
func (w *BackgroundWriter) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.wg.Wait()
}

func runRecovered(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()
	return fn(ctx)
}
