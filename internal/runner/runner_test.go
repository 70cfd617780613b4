package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type results struct {
	successes []int
	failures  map[int]error
}

func collect() (*results, func(int, time.Duration), func(int, error, time.Duration)) {
	r := &results{failures: map[int]error{}}
	return r,
		func(target int, _ time.Duration) { r.successes = append(r.successes, target) },
		func(target int, err error, _ time.Duration) { r.failures[target] = err }
}

func targets(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

type recordingSink struct {
	mu   sync.Mutex
	bars map[string]*recordingBar
}

func (s *recordingSink) Start(label string) Bar {
	s.mu.Lock()
	defer s.mu.Unlock()
	bar := &recordingBar{values: []float64{0}}
	if s.bars == nil {
		s.bars = map[string]*recordingBar{}
	}
	s.bars[label] = bar
	return bar
}

type recordingBar struct {
	mu     sync.Mutex
	values []float64
	stages []string
	done   bool
}

func (b *recordingBar) Set(p float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values = append(b.values, p)
}

func (b *recordingBar) SetStage(label string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stages = append(b.stages, label)
}

func (b *recordingBar) Done(error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done = true
}

func TestRun_RespectsMaxParallel(t *testing.T) {
	for _, limit := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			var running, peak atomic.Int32
			res, onSuccess, onFailure := collect()

			Run(context.Background(), targets(12), Task[int]{
				Execute: func(context.Context, int, Progress) error {
					n := running.Add(1)
					for {
						p := peak.Load()
						if n <= p || peak.CompareAndSwap(p, n) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					running.Add(-1)
					return nil
				},
				OnSuccess: onSuccess,
				OnFailure: onFailure,
			}, limit)

			want := int32(limit)
			if want < 1 {
				want = 1
			}
			assert.LessOrEqual(t, peak.Load(), want)
			assert.Len(t, res.successes, 12)
			assert.Empty(t, res.failures)
		})
	}
}

func TestRun_ProgressClampedAndMonotonic(t *testing.T) {
	sink := &recordingSink{}
	res, onSuccess, onFailure := collect()

	Run(context.Background(), []int{7}, Task[int]{
		Label: func(target int) string { return fmt.Sprintf("target-%d", target) },
		Execute: func(_ context.Context, _ int, p Progress) error {
			p.SetStage("Backup")
			p.Report(10)
			p.Report(5)
			p.Report(-3)
			p.Report(math.NaN())
			p.Report(40)
			p.Report(math.Inf(-1))
			p.Report(20)
			p.Report(250)
			p.Report(50)
			return nil
		},
		OnSuccess: onSuccess,
		OnFailure: onFailure,
	}, 1, WithSink(sink))

	require.Len(t, res.successes, 1)
	bar := sink.bars["target-7"]
	require.NotNil(t, bar)
	assert.Equal(t, []float64{0, 10, 40, 100}, bar.values)
	assert.Equal(t, []string{"Backup"}, bar.stages)
	assert.True(t, bar.done)
}

func TestRun_CompletionReportsHundred(t *testing.T) {
	sink := &recordingSink{}
	res, onSuccess, onFailure := collect()

	Run(context.Background(), []int{1}, Task[int]{
		Label:     func(int) string { return "quiet" },
		Execute:   func(context.Context, int, Progress) error { return nil },
		OnSuccess: onSuccess,
		OnFailure: onFailure,
	}, 1, WithSink(sink))

	require.Len(t, res.successes, 1)
	assert.Equal(t, []float64{0, 100}, sink.bars["quiet"].values)
}

func TestRun_FailureIsolation(t *testing.T) {
	res, onSuccess, onFailure := collect()
	boom := errors.New("pg_dump: error: connection refused")

	Run(context.Background(), targets(6), Task[int]{
		Execute: func(_ context.Context, target int, _ Progress) error {
			if target%2 == 0 {
				return boom
			}
			return nil
		},
		OnSuccess: onSuccess,
		OnFailure: onFailure,
	}, 2)

	assert.ElementsMatch(t, []int{1, 3, 5}, res.successes)
	require.Len(t, res.failures, 3)
	for _, target := range []int{0, 2, 4} {
		assert.ErrorIs(t, res.failures[target], boom)
	}
	assert.Equal(t, 6, len(res.successes)+len(res.failures))
}

func TestRun_RecoversPanics(t *testing.T) {
	res, onSuccess, onFailure := collect()

	Run(context.Background(), targets(3), Task[int]{
		Execute: func(_ context.Context, target int, _ Progress) error {
			if target == 1 {
				panic("nil map write")
			}
			return nil
		},
		OnSuccess: onSuccess,
		OnFailure: onFailure,
	}, 3)

	assert.ElementsMatch(t, []int{0, 2}, res.successes)
	require.Contains(t, res.failures, 1)
	assert.ErrorIs(t, res.failures[1], ErrPanic)
	assert.Contains(t, res.failures[1].Error(), "nil map write")
}

func TestRun_DoneContextSkipsWaitingTargets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var executed atomic.Int32
	res, onSuccess, onFailure := collect()

	Run(ctx, targets(4), Task[int]{
		Execute: func(context.Context, int, Progress) error {
			executed.Add(1)
			return nil
		},
		OnSuccess: onSuccess,
		OnFailure: onFailure,
	}, 2)

	assert.Zero(t, executed.Load())
	assert.Empty(t, res.successes)
	require.Len(t, res.failures, 4)
	for _, err := range res.failures {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestRun_ResultWritersSerialised(t *testing.T) {
	var inside atomic.Int32
	var overlap atomic.Bool
	count := 0

	write := func() {
		if inside.Add(1) > 1 {
			overlap.Store(true)
		}
		count++
		time.Sleep(time.Millisecond)
		inside.Add(-1)
	}

	Run(context.Background(), targets(20), Task[int]{
		Execute: func(_ context.Context, target int, _ Progress) error {
			if target%3 == 0 {
				return errors.New("fail")
			}
			return nil
		},
		OnSuccess: func(int, time.Duration) { write() },
		OnFailure: func(int, error, time.Duration) { write() },
	}, 8)

	assert.False(t, overlap.Load())
	assert.Equal(t, 20, count)
}

func TestRun_TotalDurationCoversTargets(t *testing.T) {
	var longest time.Duration
	total := Run(context.Background(), targets(3), Task[int]{
		Execute: func(context.Context, int, Progress) error {
			time.Sleep(10 * time.Millisecond)
			return nil
		},
		OnSuccess: func(_ int, elapsed time.Duration) {
			if elapsed > longest {
				longest = elapsed
			}
		},
		OnFailure: func(int, error, time.Duration) {},
	}, 1)

	assert.GreaterOrEqual(t, longest, 10*time.Millisecond)
	assert.GreaterOrEqual(t, total, 30*time.Millisecond)
}
