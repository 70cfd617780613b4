package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrTimeout is the cause attached to tool runs that exceed their timeout.
var ErrTimeout = errors.New("operation timed out")

// Conn holds what is needed to reach one PostgreSQL instance.
type Conn struct {
	Host            string
	Port            int
	Username        string
	Password        string
	SSLMode         string
	RootCertificate string
}

// Dumper produces custom-format dump files.
type Dumper interface {
	Dump(ctx context.Context, conn Conn, database, destPath string) error
	Versioner
}

// Versioner reports the version of the dump tool.
type Versioner interface {
	Version(ctx context.Context) (string, error)
}

// Restorer applies a dump file to a database.
type Restorer interface {
	Restore(ctx context.Context, conn Conn, database, dumpPath string, clean bool) error
}

// Provisioner checks for, lists and creates databases on an instance.
// CreateDatabase is not idempotent: call it only after DatabaseExists returned false.
type Provisioner interface {
	DatabaseExists(ctx context.Context, conn Conn, name string) (bool, error)
	CreateDatabase(ctx context.Context, conn Conn, name string) error
	ListDatabases(ctx context.Context, conn Conn) ([]string, error)
}

// Stats summarises a database for backup metadata.
type Stats struct {
	Tables int
	Rows   int64
}

// StatsProvider reads table and approximate live row counts.
type StatsProvider interface {
	Stats(ctx context.Context, conn Conn, database string) (Stats, error)
}

// ToolError is returned when pg_dump or pg_restore exits non-zero.
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s failed (exit code %d)", e.Tool, e.ExitCode)
	if line := e.FirstLine(); line != "" {
		msg += ": " + line
	}
	return msg
}

// Unwrap returns the underlying process error.
func (e *ToolError) Unwrap() error {
	return e.Err
}

// FirstLine returns the first non-blank line of the tool's stderr.
func (e *ToolError) FirstLine() string {
	return FirstNonBlankLine(e.Stderr)
}

// FirstNonBlankLine returns the first line of text that is not only whitespace, trimmed.
func FirstNonBlankLine(text string) string {
	for _, line := range strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' }) {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// env returns the libpq environment for non-interactive authentication.
func (c Conn) env() []string {
	env := []string{"PGPASSWORD=" + c.Password}
	if c.SSLMode != "" {
		env = append(env, "PGSSLMODE="+c.SSLMode)
	}
	if c.RootCertificate != "" {
		env = append(env, "PGSSLROOTCERT="+c.RootCertificate)
	}
	return env
}

func (c Conn) portString() string {
	return strconv.Itoa(c.Port)
}
