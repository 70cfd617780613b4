package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	stderr = &buf
	t.Cleanup(func() { stderr = os.Stderr })

	log, err := Init(Options{Level: "warn", Format: "json"})
	require.NoError(t, err)

	log.Info("hidden", "database", "orders")
	log.Warn("visible", "database", "orders")
	Cleanup()

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, `"database":"orders"`)
}

func TestInit_RejectsUnknownLevel(t *testing.T) {
	_, err := Init(Options{Level: "chatty"})
	assert.Error(t, err)
}

func TestInit_WritesRotatingFile(t *testing.T) {
	var buf bytes.Buffer
	stderr = &buf
	t.Cleanup(func() { stderr = os.Stderr })

	file := filepath.Join(t.TempDir(), "pgsafe.log")
	log, err := Init(Options{Level: "debug", File: file})
	require.NoError(t, err)

	log.With("run_id", "abc").Debug("backup started")
	Cleanup()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "backup started")
	assert.Contains(t, string(data), `"run_id":"abc"`)
}

func TestNop_DiscardsEverything(t *testing.T) {
	log := Nop()
	log.Error("nothing to see")
	log.With("k", "v").Info("still nothing")
}
