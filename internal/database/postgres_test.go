package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/pgsafe/internal/logger"
)

// fakeTool writes an executable shell script standing in for a PostgreSQL client binary.
func fakeTool(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "tool.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestDump_WritesDestination(t *testing.T) {
	bin := fakeTool(t, `
[ "$PGPASSWORD" = "secret" ] || { echo "no password" >&2; exit 3; }
while [ $# -gt 0 ]; do
  if [ "$1" = "-f" ]; then shift; printf 'PGDMP-fake' > "$1"; fi
  shift
done
`)
	p := NewPostgres(WithDumpBinary(bin), WithLogger(logger.Nop()))
	dest := filepath.Join(t.TempDir(), "orders.dump")

	require.NoError(t, p.Dump(context.Background(), testConn, "orders", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "PGDMP-fake", string(data))
}

func TestRestore_FailureKeepsDiagnostics(t *testing.T) {
	bin := fakeTool(t, `
echo "" >&2
echo "  pg_restore: error: could not connect to database \"orders\"" >&2
echo "pg_restore: detail: role does not exist" >&2
exit 1
`)
	dump := filepath.Join(t.TempDir(), "orders.dump")
	require.NoError(t, os.WriteFile(dump, []byte("x"), 0o644))

	p := NewPostgres(WithRestoreBinary(bin), WithLogger(logger.Nop()))
	err := p.Restore(context.Background(), testConn, "orders", dump, true)

	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, 1, toolErr.ExitCode)
	assert.Equal(t, `pg_restore: error: could not connect to database "orders"`, toolErr.FirstLine())
	assert.Contains(t, toolErr.Stderr, "role does not exist")
}

func TestRestore_MissingDump(t *testing.T) {
	p := NewPostgres(WithLogger(logger.Nop()))
	err := p.Restore(context.Background(), testConn, "orders", filepath.Join(t.TempDir(), "missing.dump"), true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRun_Timeout(t *testing.T) {
	bin := fakeTool(t, "exec sleep 5\n")
	p := NewPostgres(WithDumpBinary(bin), WithTimeout(50*time.Millisecond), WithLogger(logger.Nop()))

	err := p.Dump(context.Background(), testConn, "orders", filepath.Join(t.TempDir(), "x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestVersion(t *testing.T) {
	bin := fakeTool(t, `echo "pg_dump (PostgreSQL) 16.2"`+"\n")
	p := NewPostgres(WithDumpBinary(bin))
	v, err := p.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pg_dump (PostgreSQL) 16.2", v)
}

func TestFirstNonBlankLine(t *testing.T) {
	assert.Equal(t, "", FirstNonBlankLine(" \r\n\t\n"))
	assert.Equal(t, "second", FirstNonBlankLine("\r\n   \r\n second \nthird"))
}
