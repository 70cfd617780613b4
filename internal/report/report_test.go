package report

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kebairia/pgsafe/internal/catalog"
	"github.com/kebairia/pgsafe/internal/operations"
)

func TestSummary_SkippedAndFailedTargets(t *testing.T) {
	var buf bytes.Buffer
	result := operations.RunResult{
		Kind: operations.KindMigration,
		Successes: []operations.Outcome{{
			Label:     "db1/orders -> db2/orders_copy",
			SizeBytes: 2_500_000,
			Duration:  1500 * time.Millisecond,
			StageDurations: map[operations.StageKey]time.Duration{
				operations.StageBackup:  700 * time.Millisecond,
				operations.StageRestore: 800 * time.Millisecond,
			},
			Skipped: []operations.StageKey{operations.StageEnsureDB},
		}},
		Failures: []operations.Outcome{{
			Label:    "db1/sales -> db2/sales",
			Duration: 300 * time.Millisecond,
			StageDurations: map[operations.StageKey]time.Duration{
				operations.StageEnsureDB: 10 * time.Millisecond,
				operations.StageBackup:   290 * time.Millisecond,
			},
			Failure: &operations.Failure{
				Message:     "pg_dump: error: connection refused",
				Details:     "pg_dump: error: connection refused\nIs the server running?",
				LogFilePath: "/var/log/pgsafe/migration-failed-db2-sales-20240501-100000.log",
			},
		}},
		TotalDuration: 2 * time.Second,
	}

	NewPrinter(&buf, false).Summary(result)
	out := buf.String()

	assert.Contains(t, out, "Migration summary")
	assert.Contains(t, out, "✓ db1/orders -> db2/orders_copy  2.5 MB  1.5s")
	assert.Contains(t, out, "Ensure DB skipped, Backup 700ms, Restore 800ms")
	assert.Contains(t, out, "✗ db1/sales -> db2/sales  300ms")
	assert.Contains(t, out, "Ensure DB 10ms, Backup 290ms")
	assert.Contains(t, out, "pg_dump: error: connection refused")
	assert.NotContains(t, out, "Is the server running?")
	assert.Contains(t, out, "full output: /var/log/pgsafe/migration-failed-db2-sales-20240501-100000.log")
	assert.Contains(t, out, "1 succeeded, 1 failed in 2s")
}

func TestBackups_Table(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, false).Backups([]catalog.BackupSet{{
		ID: "2024-05-01_10-00-00.000",
		Metadata: catalog.BackupMetadata{
			SizeBytes:   10_000,
			TableCount:  4,
			RowCount:    1234567,
			PgVersion:   "pg_dump (PostgreSQL) 16.2",
			Compression: "zstd",
		},
	}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "2024-05-01_10-00-00.000")
	assert.Contains(t, lines[1], "10 kB")
	assert.Contains(t, lines[1], "1,234,567")
	assert.Contains(t, lines[1], "zstd")

	buf.Reset()
	NewPrinter(&buf, false).Backups(nil)
	assert.Equal(t, "no backups found\n", buf.String())
}

func TestLineSink_ConcurrentBars(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLineSink(&buf, false)

	var wg sync.WaitGroup
	for _, label := range []string{"db1/orders", "db1/sales", "db2/users"} {
		wg.Add(1)
		go func(label string) {
			defer wg.Done()
			bar := sink.Start(label)
			bar.SetStage("Backup")
			bar.Set(100)
			bar.Done(nil)
		}(label)
	}
	wg.Wait()

	bar := sink.Start("db9/ghost")
	bar.Done(errors.New("boom"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 8)
	assert.Contains(t, buf.String(), "100% Backup")
	assert.Contains(t, lines[len(lines)-1], "failed")
}
