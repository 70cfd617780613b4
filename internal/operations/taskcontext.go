package operations

import (
	"time"

	"github.com/kebairia/pgsafe/internal/catalog"
	"github.com/kebairia/pgsafe/internal/runner"
)

// TaskContext is the mutable state of one target's pipeline. Each target
// owns its own TaskContext; it is never shared.
type TaskContext struct {
	Durations map[StageKey]time.Duration
	Skipped   []StageKey
	// Artifact is the backup produced by the backup stage, if any.
	Artifact *catalog.BackupSet
	// FilePath is the artifact file the outcome refers to.
	FilePath  string
	SizeBytes int64

	progress float64
	failure  *Failure
}

func newTaskContext() *TaskContext {
	return &TaskContext{Durations: make(map[StageKey]time.Duration)}
}

func (tc *TaskContext) markSkipped(key StageKey) {
	for _, k := range tc.Skipped {
		if k == key {
			return
		}
	}
	tc.Skipped = append(tc.Skipped, key)
}

// IsSkipped reports whether key was skipped.
func (tc *TaskContext) IsSkipped(key StageKey) bool {
	for _, k := range tc.Skipped {
		if k == key {
			return true
		}
	}
	return false
}

func (tc *TaskContext) advance(stage Stage, progress runner.Progress) {
	tc.progress += stage.Weight
	progress.Report(tc.progress)
}

func (tc *TaskContext) durations() map[StageKey]time.Duration {
	out := make(map[StageKey]time.Duration, len(tc.Durations))
	for k, v := range tc.Durations {
		out[k] = v
	}
	return out
}
