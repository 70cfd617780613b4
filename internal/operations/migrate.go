package operations

import (
	"context"
	"fmt"

	"github.com/kebairia/pgsafe/internal/runner"
)

// Endpoint names one database on one instance.
type Endpoint struct {
	Instance string
	Database string
}

func (e Endpoint) String() string {
	return e.Instance + "/" + e.Database
}

// MigrationTarget copies Source into Target.
type MigrationTarget struct {
	Source Endpoint
	Target Endpoint
}

func (t MigrationTarget) String() string {
	return fmt.Sprintf("%s -> %s", t.Source, t.Target)
}

// Migrate runs the migration pipeline for every target: ensure the target
// database exists, back up the source, restore that backup into the target.
// A failure aborts the target without undoing earlier stages: a created
// database and a completed backup are left in place.
func (o *Operator) Migrate(ctx context.Context, targets []MigrationTarget) RunResult {
	o.log.Info("starting migrations", "targets", len(targets), "parallelism", o.parallelism, "dry_run", o.dryRun)
	return runPipeline(ctx, o, pipeline[MigrationTarget]{
		kind:     KindMigration,
		label:    MigrationTarget.String,
		location: func(t MigrationTarget) (string, string) { return t.Target.Instance, t.Target.Database },
		execute: func(ctx context.Context, t MigrationTarget, tc *TaskContext, progress runner.Progress) error {
			return o.migrate(ctx, t, tc, progress)
		},
	}, targets)
}

func (o *Operator) migrate(ctx context.Context, t MigrationTarget, tc *TaskContext, progress runner.Progress) error {
	ensure, backup, restore := migrationStages[0], migrationStages[1], migrationStages[2]

	err := runStage(ctx, tc, ensure, progress, o.dryRun, func(ctx context.Context) (bool, error) {
		return o.ensureDatabase(ctx, t.Target)
	})
	if err != nil {
		return err
	}

	err = runStage(ctx, tc, backup, progress, o.dryRun, func(ctx context.Context) (bool, error) {
		set, err := o.createBackup(ctx, t.Source.Instance, t.Source.Database)
		if err != nil {
			return false, err
		}
		tc.setArtifact(set)
		return false, nil
	})
	if err != nil {
		return err
	}

	return runStage(ctx, tc, restore, progress, o.dryRun, func(ctx context.Context) (bool, error) {
		return false, o.applyRestore(ctx, t.Target.Instance, t.Target.Database, tc.Artifact.DumpPath)
	})
}

// ensureDatabase creates the target database unless it already exists,
// in which case the stage counts as skipped.
func (o *Operator) ensureDatabase(ctx context.Context, target Endpoint) (bool, error) {
	conn, err := o.conn(target.Instance)
	if err != nil {
		return false, stageError(ErrorPrecondition, StageEnsureDB, nil, "%v", err)
	}
	if o.provisioner == nil {
		return false, stageError(ErrorPrecondition, StageEnsureDB, nil, "no database provisioner configured")
	}
	exists, err := o.provisioner.DatabaseExists(ctx, conn, target.Database)
	if err != nil {
		return false, stageError(ErrorDatabase, StageEnsureDB, err, "check database %s", target)
	}
	if exists {
		return true, nil
	}
	if err := o.provisioner.CreateDatabase(ctx, conn, target.Database); err != nil {
		return false, stageError(ErrorDatabase, StageEnsureDB, err, "create database %s", target)
	}
	o.log.Info("database created", "instance", target.Instance, "database", target.Database)
	return false, nil
}
