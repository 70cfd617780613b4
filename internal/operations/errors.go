package operations

import (
	"errors"
	"fmt"

	"github.com/kebairia/pgsafe/internal/database"
)

// ErrorKind classifies stage failures.
type ErrorKind string

const (
	ErrorTool         ErrorKind = "tool"
	ErrorPrecondition ErrorKind = "precondition"
	ErrorIO           ErrorKind = "io"
	ErrorDatabase     ErrorKind = "database"
)

// StageError is the error returned by a failing stage.
type StageError struct {
	Kind  ErrorKind
	Stage StageKey
	// Message is the compact, one-line description shown in summaries.
	Message string
	// Diagnostics holds the full tool output, if any.
	Diagnostics string
	ExitCode    int
	Err         error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s stage failed", e.Stage)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(kind ErrorKind, stage StageKey, err error, format string, args ...any) *StageError {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		msg += ": " + err.Error()
	}
	return &StageError{Kind: kind, Stage: stage, Message: msg, Err: err}
}

// toolFailure converts a dump or restore error into a StageError whose message
// is the first non-blank line of the tool's stderr.
func toolFailure(stage StageKey, err error) *StageError {
	var toolErr *database.ToolError
	if !errors.As(err, &toolErr) {
		return &StageError{Kind: ErrorTool, Stage: stage, Message: err.Error(), ExitCode: -1, Err: err}
	}
	msg := toolErr.FirstLine()
	if msg == "" {
		msg = toolErr.Error()
	}
	return &StageError{
		Kind:        ErrorTool,
		Stage:       stage,
		Message:     msg,
		Diagnostics: toolErr.Stderr,
		ExitCode:    toolErr.ExitCode,
		Err:         err,
	}
}
