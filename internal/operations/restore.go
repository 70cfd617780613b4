package operations

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kebairia/pgsafe/internal/catalog"
	"github.com/kebairia/pgsafe/internal/runner"
)

// RestoreTarget restores one dump file into a database.
type RestoreTarget struct {
	Instance string
	Database string
	DumpPath string
}

func (t RestoreTarget) String() string {
	if t.DumpPath == "" {
		return fmt.Sprintf("%s/%s <- (no backup)", t.Instance, t.Database)
	}
	return fmt.Sprintf("%s/%s <- %s", t.Instance, t.Database, filepath.Base(t.DumpPath))
}

// Restore runs the restore pipeline for every target.
func (o *Operator) Restore(ctx context.Context, targets []RestoreTarget) RunResult {
	o.log.Info("starting restores", "targets", len(targets), "parallelism", o.parallelism, "dry_run", o.dryRun)
	return runPipeline(ctx, o, pipeline[RestoreTarget]{
		kind:     KindRestore,
		label:    RestoreTarget.String,
		location: func(t RestoreTarget) (string, string) { return t.Instance, t.Database },
		execute: func(ctx context.Context, t RestoreTarget, tc *TaskContext, progress runner.Progress) error {
			return runStage(ctx, tc, restoreStages[0], progress, o.dryRun, func(ctx context.Context) (bool, error) {
				if err := o.applyRestore(ctx, t.Instance, t.Database, t.DumpPath); err != nil {
					return false, err
				}
				tc.FilePath = t.DumpPath
				return false, nil
			})
		},
	}, targets)
}

// RestoreWithSafetyBackup backs up every existing destination database first
// and only restores the targets whose safety backup succeeded. It returns the
// safety backup run and the restore run.
func (o *Operator) RestoreWithSafetyBackup(ctx context.Context, targets []RestoreTarget) (RunResult, RunResult) {
	var backups []BackupTarget
	for _, t := range targets {
		if t.DumpPath != "" && o.destinationExists(ctx, t.Instance, t.Database) {
			backups = append(backups, BackupTarget{Instance: t.Instance, Database: t.Database})
		}
	}
	safety := o.Backup(ctx, backups)

	failed := make(map[BackupTarget]string, len(safety.Failures))
	for _, f := range safety.Failures {
		failed[BackupTarget{Instance: f.Instance, Database: f.Database}] = f.ErrorMessage()
	}

	var (
		runnable []RestoreTarget
		blocked  []Outcome
	)
	for _, t := range targets {
		reason, ok := failed[BackupTarget{Instance: t.Instance, Database: t.Database}]
		if !ok {
			runnable = append(runnable, t)
			continue
		}
		blocked = append(blocked, Outcome{
			Kind:           KindRestore,
			Label:          t.String(),
			Instance:       t.Instance,
			Database:       t.Database,
			StageDurations: map[StageKey]time.Duration{},
			Failure:        &Failure{Message: "safety backup failed: " + reason},
		})
	}

	restored := o.Restore(ctx, runnable)
	for _, out := range blocked {
		restored.add(out)
	}
	return safety, restored
}

func (o *Operator) destinationExists(ctx context.Context, instance, db string) bool {
	if o.provisioner == nil {
		return true
	}
	conn, err := o.conn(instance)
	if err != nil {
		// The restore itself reports the unknown instance.
		return false
	}
	exists, err := o.provisioner.DatabaseExists(ctx, conn, db)
	if err != nil {
		o.log.Warn("could not check destination database, backing it up anyway", "instance", instance, "database", db, "error", err)
		return true
	}
	return exists
}

// applyRestore restores dumpPath into db with existing objects dropped first.
// Compressed dumps are expanded into a temporary file for the duration of the restore.
func (o *Operator) applyRestore(ctx context.Context, instance, db, dumpPath string) error {
	conn, err := o.conn(instance)
	if err != nil {
		return stageError(ErrorPrecondition, StageRestore, nil, "%v", err)
	}
	if dumpPath == "" {
		return stageError(ErrorPrecondition, StageRestore, nil, "no backup available for %s/%s", instance, db)
	}
	if _, err := os.Stat(dumpPath); err != nil {
		return stageError(ErrorPrecondition, StageRestore, nil, "dump file %q not found", dumpPath)
	}

	source := dumpPath
	if filepath.Ext(dumpPath) == catalog.ZstdExt {
		tmp, err := DecompressZstd(dumpPath, os.TempDir())
		if err != nil {
			return stageError(ErrorIO, StageRestore, err, "decompress dump")
		}
		defer os.Remove(tmp)
		source = tmp
	}

	if err := o.restorer.Restore(ctx, conn, db, source, true); err != nil {
		return toolFailure(StageRestore, err)
	}
	o.log.Info("restore completed", "instance", instance, "database", db, "source", dumpPath)
	return nil
}
