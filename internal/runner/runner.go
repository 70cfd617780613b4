// Package runner executes independent targets under a concurrency limit,
// tracking per-target progress and timing.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kebairia/pgsafe/internal/logger"
)

// ErrPanic wraps a panic recovered from a target's Execute.
var ErrPanic = errors.New("task panicked")

// Progress is handed to Execute for reporting.
type Progress interface {
	// Report sets the completion percentage. Values are clamped to [0,100];
	// values lower than the last accepted one are ignored.
	Report(percent float64)
	// SetStage names the step currently running.
	SetStage(label string)
}

// Bar displays the progress of one target.
type Bar interface {
	Set(percent float64)
	SetStage(label string)
	Done(err error)
}

// Sink creates a Bar for every admitted target. A new Bar starts at 0.
type Sink interface {
	Start(label string) Bar
}

// Task describes how to run one kind of target.
type Task[T any] struct {
	Label     func(target T) string
	Execute   func(ctx context.Context, target T, progress Progress) error
	OnSuccess func(target T, elapsed time.Duration)
	OnFailure func(target T, err error, elapsed time.Duration)
}

type options struct {
	sink Sink
	log  logger.Logger
}

// Option configures Run.
type Option func(*options)

// WithSink forwards accepted progress to sink.
func WithSink(sink Sink) Option {
	return func(o *options) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// WithLogger sets the logger used for per-target debug messages.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// Run executes every target in its own goroutine, admitting at most
// maxParallel at a time, and blocks until all of them completed.
// Errors and panics raised by Execute become OnFailure calls for that target
// only. OnSuccess and OnFailure never run concurrently with each other.
// A target still waiting for admission when ctx is done is reported as a
// failure without being executed; targets already running are not interrupted.
// Run returns the wall-clock duration of the whole run.
func Run[T any](ctx context.Context, targets []T, task Task[T], maxParallel int, opts ...Option) time.Duration {
	o := options{sink: nopSink{}, log: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if maxParallel < 1 {
		maxParallel = 1
	}

	var (
		gate     = semaphore.NewWeighted(int64(maxParallel))
		resultMu sync.Mutex
		wg       sync.WaitGroup
		start    = time.Now()
	)

	for _, target := range targets {
		wg.Add(1)
		go func(target T) {
			defer wg.Done()
			label := labelOf(task, target)

			if err := admit(ctx, gate); err != nil {
				o.log.Warn("target not started", "target", label, "error", err)
				resultMu.Lock()
				defer resultMu.Unlock()
				task.OnFailure(target, fmt.Errorf("not started: %w", err), 0)
				return
			}
			defer gate.Release(1)

			bar := o.sink.Start(label)
			tracker := &tracker{bar: bar}

			o.log.Debug("target started", "target", label)
			began := time.Now()
			err := execute(ctx, task, target, tracker, o.log.With("target", label))
			elapsed := time.Since(began)
			if err == nil {
				tracker.Report(100)
			}
			bar.Done(err)
			o.log.Debug("target finished", "target", label, "duration", elapsed.String(), "ok", err == nil)

			resultMu.Lock()
			defer resultMu.Unlock()
			if err != nil {
				task.OnFailure(target, err, elapsed)
				return
			}
			task.OnSuccess(target, elapsed)
		}(target)
	}

	wg.Wait()
	return time.Since(start)
}

func admit(ctx context.Context, gate *semaphore.Weighted) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return gate.Acquire(ctx, 1)
}

func execute[T any](ctx context.Context, task Task[T], target T, progress Progress, log logger.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("recovered panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return task.Execute(ctx, target, progress)
}

func labelOf[T any](task Task[T], target T) string {
	if task.Label == nil {
		return fmt.Sprint(target)
	}
	return task.Label(target)
}

// tracker enforces clamped, non-decreasing progress for one target.
type tracker struct {
	mu   sync.Mutex
	last float64
	bar  Bar
}

func (t *tracker) Report(percent float64) {
	if math.IsNaN(percent) {
		return
	}
	switch {
	case percent < 0:
		percent = 0
	case percent > 100:
		percent = 100
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if percent <= t.last {
		return
	}
	t.last = percent
	t.bar.Set(percent)
}

func (t *tracker) SetStage(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bar.SetStage(label)
}

type nopSink struct{}

func (nopSink) Start(string) Bar { return nopBar{} }

type nopBar struct{}

func (nopBar) Set(float64)     {}
func (nopBar) SetStage(string) {}
func (nopBar) Done(error)      {}
