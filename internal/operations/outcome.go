package operations

import (
	"errors"
	"time"
)

// Failure describes why a target did not complete.
type Failure struct {
	Message string
	// Details is the long-form diagnostic text, if any.
	Details string
	// LogFilePath points at the persisted diagnostics; empty when none were written.
	LogFilePath string
}

// Outcome is the result of one target: a success when Failure is nil.
type Outcome struct {
	Kind     Kind
	Label    string
	Instance string
	Database string
	// FilePath and SizeBytes reference the artifact, when the pipeline has one.
	FilePath       string
	SizeBytes      int64
	Duration       time.Duration
	StageDurations map[StageKey]time.Duration
	Skipped        []StageKey
	Failure        *Failure
}

// OK reports whether the target succeeded.
func (o Outcome) OK() bool {
	return o.Failure == nil
}

// ErrorMessage returns the failure message, or "" on success.
func (o Outcome) ErrorMessage() string {
	if o.Failure == nil {
		return ""
	}
	return o.Failure.Message
}

// IsSkipped reports whether stage was skipped.
func (o Outcome) IsSkipped(stage StageKey) bool {
	for _, s := range o.Skipped {
		if s == stage {
			return true
		}
	}
	return false
}

// RunResult aggregates the outcomes of one run in completion order.
type RunResult struct {
	Kind          Kind
	Successes     []Outcome
	Failures      []Outcome
	TotalDuration time.Duration
}

// HasFailures reports whether any target failed.
func (r *RunResult) HasFailures() bool {
	return len(r.Failures) > 0
}

func (r *RunResult) add(o Outcome) {
	if o.OK() {
		r.Successes = append(r.Successes, o)
		return
	}
	r.Failures = append(r.Failures, o)
}

// failureFrom builds the Failure record for err without touching the filesystem.
func failureFrom(err error) *Failure {
	f := &Failure{Message: err.Error()}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		f.Details = stageErr.Diagnostics
	}
	return f
}
