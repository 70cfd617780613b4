package report

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/kebairia/pgsafe/internal/runner"
)

// LineSink prints one line per accepted progress step. Targets run
// concurrently, so writes are serialised.
type LineSink struct {
	mu   sync.Mutex
	w    io.Writer
	fail *color.Color
}

var _ runner.Sink = (*LineSink)(nil)

// NewLineSink returns a sink writing to w.
func NewLineSink(w io.Writer, colored bool) *LineSink {
	fail := color.New(color.FgRed)
	if !colored {
		fail.DisableColor()
	}
	return &LineSink{w: w, fail: fail}
}

// Start implements runner.Sink.
func (s *LineSink) Start(label string) runner.Bar {
	s.printf("%-40s   0%% started\n", label)
	return &lineBar{sink: s, label: label}
}

func (s *LineSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}

type lineBar struct {
	sink  *LineSink
	label string

	mu    sync.Mutex
	stage string
}

func (b *lineBar) Set(percent float64) {
	b.mu.Lock()
	stage := b.stage
	b.mu.Unlock()
	b.sink.printf("%-40s %3.0f%% %s\n", b.label, percent, stage)
}

func (b *lineBar) SetStage(label string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stage = label
}

func (b *lineBar) Done(err error) {
	if err != nil {
		b.sink.printf("%-40s %s\n", b.label, b.sink.fail.Sprint("failed"))
	}
}
