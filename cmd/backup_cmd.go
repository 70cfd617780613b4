package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var backupFlags struct {
	instance string
	database string
	dryRun   bool
	parallel int
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up the configured databases",
	Long: `Back up every database with backups enabled, or only those selected
with --instance and --database. Each backup is stored as
<output_dir>/<instance>/<database>/<id>/ with a meta.json sidecar.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		op, err := s.operator(ctx, runOptions(cmd, backupFlags.dryRun, backupFlags.parallel)...)
		if err != nil {
			return err
		}
		targets, err := op.PlanBackups(ctx, s.cfg, backupFlags.instance, backupFlags.database)
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			return fmt.Errorf("nothing to back up")
		}
		return finish(op.Backup(ctx, targets))
	},
}

func init() {
	flags := backupCmd.Flags()
	flags.StringVarP(&backupFlags.instance, "instance", "i", "", "only back up this instance")
	flags.StringVarP(&backupFlags.database, "database", "d", "", "only back up this database")
	flags.BoolVar(&backupFlags.dryRun, "dry-run", false, "walk through the stages without touching any database")
	flags.IntVarP(&backupFlags.parallel, "parallel", "p", 0, "number of databases processed at once (default from config)")
}
