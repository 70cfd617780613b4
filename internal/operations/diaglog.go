package operations

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	diagTimeLayout = "20060102-150405"
	// diagAttempts bounds the numbered variants tried when a log name is taken.
	diagAttempts = 100
)

// DiagnosticLog persists the full output of failed tool runs.
type DiagnosticLog struct {
	Dir string
	now func() time.Time
}

// FileName returns the log file name for a failed target.
func (d DiagnosticLog) FileName(kind Kind, instance, database string, at time.Time) string {
	return fmt.Sprintf("%s-failed-%s-%s-%s.log",
		kind, safeName(instance), safeName(database), at.Format(diagTimeLayout))
}

// Write stores the failure details and returns the file path, or "" when
// there was nothing to write or the write failed.
func (d DiagnosticLog) Write(kind Kind, instance, database string, failure *Failure) string {
	if d.Dir == "" || failure == nil || strings.TrimSpace(failure.Details) == "" {
		return ""
	}
	now := time.Now
	if d.now != nil {
		now = d.now
	}
	at := now()
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return ""
	}
	name := d.FileName(kind, instance, database, at)

	var b strings.Builder
	fmt.Fprintf(&b, "kind: %s\n", kind)
	fmt.Fprintf(&b, "instance: %s\n", instance)
	fmt.Fprintf(&b, "database: %s\n", database)
	fmt.Fprintf(&b, "time: %s\n", at.Format(time.RFC3339))
	fmt.Fprintf(&b, "error: %s\n\n", failure.Message)
	b.WriteString(failure.Details)
	if !strings.HasSuffix(failure.Details, "\n") {
		b.WriteByte('\n')
	}

	f, path, err := d.create(name)
	if err != nil {
		return ""
	}
	_, err = f.WriteString(b.String())
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return ""
	}
	return path
}

// create opens name exclusively. A taken name gets a -2, -3, ... suffix so
// failures landing on the same name never overwrite each other.
func (d DiagnosticLog) create(name string) (*os.File, string, error) {
	base := strings.TrimSuffix(name, ".log")
	var err error
	for i := 1; i <= diagAttempts; i++ {
		candidate := name
		if i > 1 {
			candidate = fmt.Sprintf("%s-%d.log", base, i)
		}
		path := filepath.Join(d.Dir, candidate)
		var f *os.File
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", err
}

// safeName replaces characters that are not safe in file names.
func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
