package operations

import (
	"context"
	"time"

	"github.com/kebairia/pgsafe/internal/runner"
)

// Kind names a pipeline.
type Kind string

const (
	KindBackup    Kind = "backup"
	KindRestore   Kind = "restore"
	KindMigration Kind = "migration"
)

// StageKey identifies a pipeline step.
type StageKey string

const (
	StageEnsureDB StageKey = "ensure-db"
	StageBackup   StageKey = "backup"
	StageRestore  StageKey = "restore"
)

// Stage is one weighted step of a pipeline.
type Stage struct {
	Key    StageKey
	Label  string
	Weight float64
}

// Weights of one pipeline sum to 100.
var (
	backupStages = []Stage{
		{Key: StageBackup, Label: "Backup", Weight: 100},
	}
	restoreStages = []Stage{
		{Key: StageRestore, Label: "Restore", Weight: 100},
	}
	migrationStages = []Stage{
		{Key: StageEnsureDB, Label: "Ensure DB", Weight: 5},
		{Key: StageBackup, Label: "Backup", Weight: 35},
		{Key: StageRestore, Label: "Restore", Weight: 60},
	}
)

// Stages returns the ordered stages of a pipeline kind.
func Stages(kind Kind) []Stage {
	var stages []Stage
	switch kind {
	case KindBackup:
		stages = backupStages
	case KindRestore:
		stages = restoreStages
	case KindMigration:
		stages = migrationStages
	}
	return append([]Stage(nil), stages...)
}

// Label returns the human label of a stage key.
func (k StageKey) Label() string {
	for _, stage := range migrationStages {
		if stage.Key == k {
			return stage.Label
		}
	}
	return string(k)
}

// stageFunc performs one stage. It reports skipped when its precondition
// made it a no-op.
type stageFunc func(ctx context.Context) (skipped bool, err error)

// runStage executes one stage for the target owning tc and advances its
// cumulative progress. In dry-run mode fn is not called and the stage is
// marked skipped. A failing stage keeps the time it ran before the error.
func runStage(ctx context.Context, tc *TaskContext, stage Stage, progress runner.Progress, dryRun bool, fn stageFunc) error {
	progress.SetStage(stage.Label)
	if dryRun {
		tc.markSkipped(stage.Key)
		tc.advance(stage, progress)
		return nil
	}

	start := time.Now()
	skipped, err := fn(ctx)
	elapsed := time.Since(start)
	if err != nil {
		tc.Durations[stage.Key] = elapsed
		return err
	}
	if skipped {
		tc.markSkipped(stage.Key)
	} else {
		tc.Durations[stage.Key] = elapsed
	}
	tc.advance(stage, progress)
	return nil
}
