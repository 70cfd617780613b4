package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kebairia/pgsafe/internal/config"
	"github.com/kebairia/pgsafe/internal/operations"
	"github.com/kebairia/pgsafe/internal/report"
)

var restoreFlags struct {
	instance     string
	database     string
	file         string
	fromInstance string
	fromDatabase string
	safetyBackup bool
	dryRun       bool
	parallel     int
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore databases from their latest backup or a dump file",
	Long: `Restore the selected databases. Without --file every selected database
is restored from its latest cataloged backup; --from-instance and
--from-database pick the backup of another database instead.
With --safety-backup the current state of each existing destination is
backed up first, and destinations whose safety backup failed are left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		op, err := s.operator(ctx, runOptions(cmd, restoreFlags.dryRun, restoreFlags.parallel)...)
		if err != nil {
			return err
		}
		targets, err := restoreTargets(ctx, op, s.cfg)
		if err != nil {
			return err
		}

		if !restoreFlags.safetyBackup {
			return finish(op.Restore(ctx, targets))
		}
		safety, restored := op.RestoreWithSafetyBackup(ctx, targets)
		report.NewPrinter(os.Stdout, report.IsTerminal(os.Stdout)).Summary(safety)
		return finish(restored)
	},
}

func restoreTargets(ctx context.Context, op *operations.Operator, cfg config.Config) ([]operations.RestoreTarget, error) {
	if restoreFlags.file != "" {
		if restoreFlags.instance == "" || restoreFlags.database == "" {
			return nil, fmt.Errorf("--file needs --instance and --database")
		}
		return []operations.RestoreTarget{{
			Instance: restoreFlags.instance,
			Database: restoreFlags.database,
			DumpPath: restoreFlags.file,
		}}, nil
	}

	planned, err := op.PlanBackups(ctx, cfg, restoreFlags.instance, restoreFlags.database)
	if err != nil {
		return nil, err
	}
	if len(planned) == 0 {
		return nil, fmt.Errorf("nothing to restore")
	}
	if len(planned) > 1 && (restoreFlags.fromInstance != "" || restoreFlags.fromDatabase != "") {
		return nil, fmt.Errorf("--from-instance and --from-database need a single destination database")
	}

	targets := make([]operations.RestoreTarget, 0, len(planned))
	for _, p := range planned {
		srcInstance, srcDatabase := p.Instance, p.Database
		if restoreFlags.fromInstance != "" {
			srcInstance = restoreFlags.fromInstance
		}
		if restoreFlags.fromDatabase != "" {
			srcDatabase = restoreFlags.fromDatabase
		}
		latest, err := op.Catalog().GetLatest(srcInstance, srcDatabase)
		if err != nil {
			return nil, err
		}
		target := operations.RestoreTarget{Instance: p.Instance, Database: p.Database}
		// A database without backups stays in the run and fails on its own.
		if latest != nil {
			target.DumpPath = latest.DumpPath
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func init() {
	flags := restoreCmd.Flags()
	flags.StringVarP(&restoreFlags.instance, "instance", "i", "", "destination instance")
	flags.StringVarP(&restoreFlags.database, "database", "d", "", "destination database")
	flags.StringVarP(&restoreFlags.file, "file", "f", "", "dump file to restore instead of the latest backup")
	flags.StringVar(&restoreFlags.fromInstance, "from-instance", "", "restore the latest backup of this instance")
	flags.StringVar(&restoreFlags.fromDatabase, "from-database", "", "restore the latest backup of this database")
	flags.BoolVar(&restoreFlags.safetyBackup, "safety-backup", false, "back up each existing destination before restoring it")
	flags.BoolVar(&restoreFlags.dryRun, "dry-run", false, "walk through the stages without touching any database")
	flags.IntVarP(&restoreFlags.parallel, "parallel", "p", 0, "number of databases processed at once (default from config)")
}
