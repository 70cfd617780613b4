package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kebairia/pgsafe/internal/logger"
)

// FormatCustom is the pg_dump archive format pgsafe writes.
const FormatCustom = "custom"

// PostgresOption lets you override default settings on a Postgres.
type PostgresOption func(*Postgres)

var (
	_ Dumper   = (*Postgres)(nil)
	_ Restorer = (*Postgres)(nil)
)

// Postgres drives the pg_dump and pg_restore client binaries.
type Postgres struct {
	DumpBinary    string
	RestoreBinary string
	// Timeout bounds one tool invocation; zero disables it.
	Timeout time.Duration
	Logger  logger.Logger
}

// NewPostgres returns a Postgres using the binaries on PATH plus any overrides.
func NewPostgres(opts ...PostgresOption) *Postgres {
	p := &Postgres{
		DumpBinary:    "pg_dump",
		RestoreBinary: "pg_restore",
		Logger:        logger.Global(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithDumpBinary overrides the pg_dump executable.
func WithDumpBinary(path string) PostgresOption {
	return func(p *Postgres) {
		if path != "" {
			p.DumpBinary = path
		}
	}
}

// WithRestoreBinary overrides the pg_restore executable.
func WithRestoreBinary(path string) PostgresOption {
	return func(p *Postgres) {
		if path != "" {
			p.RestoreBinary = path
		}
	}
}

// WithTimeout bounds each tool invocation.
func WithTimeout(d time.Duration) PostgresOption {
	return func(p *Postgres) {
		p.Timeout = d
	}
}

// WithLogger overrides the logger.
func WithLogger(log logger.Logger) PostgresOption {
	return func(p *Postgres) {
		if log != nil {
			p.Logger = log
		}
	}
}

// Dump runs `pg_dump -F c` writing database into destPath.
func (p *Postgres) Dump(ctx context.Context, conn Conn, database, destPath string) error {
	args := []string{
		"-h", conn.Host,
		"-p", conn.portString(),
		"-U", conn.Username,
		"-F", "c",
		"-f", destPath,
		database,
	}

	p.Logger.Debug("pg_dump started",
		"database", database,
		"host", conn.Host,
		"path", destPath,
	)
	startTime := time.Now()
	if err := p.run(ctx, p.DumpBinary, conn, args); err != nil {
		return err
	}
	p.Logger.Debug("pg_dump completed",
		"database", database,
		"path", destPath,
		"duration", time.Since(startTime).String(),
	)
	return nil
}

// Restore runs `pg_restore` against database from dumpPath.
// With clean set, existing objects are dropped first.
func (p *Postgres) Restore(ctx context.Context, conn Conn, database, dumpPath string, clean bool) error {
	// Check if the backup source file exists
	if _, err := os.Stat(dumpPath); err != nil {
		return fmt.Errorf("backup file %q not found: %w", dumpPath, err)
	}

	args := []string{
		"-h", conn.Host,
		"-p", conn.portString(),
		"-U", conn.Username,
		"-d", database,
	}
	if clean {
		args = append(args, "--clean", "--if-exists")
	}
	args = append(args, dumpPath)

	p.Logger.Debug("pg_restore started",
		"database", database,
		"host", conn.Host,
		"source", dumpPath,
	)
	startTime := time.Now()
	if err := p.run(ctx, p.RestoreBinary, conn, args); err != nil {
		return err
	}
	p.Logger.Debug("pg_restore completed",
		"database", database,
		"source", dumpPath,
		"duration", time.Since(startTime).String(),
	)
	return nil
}

// Version returns the pg_dump version string, e.g. "pg_dump (PostgreSQL) 16.2".
func (p *Postgres) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, p.DumpBinary, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("%s --version: %w", p.DumpBinary, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (p *Postgres) run(ctx context.Context, binary string, conn Conn, args []string) error {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, p.Timeout, ErrTimeout)
		defer cancel()
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	// Handle non interactive authorization
	cmd.Env = append(os.Environ(), conn.env()...)
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	toolErr := &ToolError{Tool: binary, ExitCode: -1, Stderr: stderr.String(), Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		toolErr.ExitCode = exitErr.ExitCode()
	}
	if errors.Is(context.Cause(ctx), ErrTimeout) {
		toolErr.Err = fmt.Errorf("%w after %s: %v", ErrTimeout, p.Timeout, err)
	}
	return toolErr
}
