package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kebairia/pgsafe/internal/operations"
)

var migrateFlags struct {
	from     []string
	to       []string
	dryRun   bool
	parallel int
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy databases between instances",
	Long: `Copy each --from database into the matching --to database: the
destination is created when missing, the source is backed up and that
backup is restored into the destination. Nothing is rolled back when a
step fails; a created database or a completed backup stays in place.`,
	Example: `  pgsafe migrate --from db1/orders --to db2/orders_copy
  pgsafe migrate --from db1/a --to db2/a --from db1/b --to db2/b --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := migrationTargets(migrateFlags.from, migrateFlags.to)
		if err != nil {
			return err
		}
		s, err := newSession()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		op, err := s.operator(ctx, runOptions(cmd, migrateFlags.dryRun, migrateFlags.parallel)...)
		if err != nil {
			return err
		}
		return finish(op.Migrate(ctx, targets))
	},
}

func migrationTargets(from, to []string) ([]operations.MigrationTarget, error) {
	if len(from) == 0 || len(from) != len(to) {
		return nil, fmt.Errorf("every --from needs a matching --to")
	}
	targets := make([]operations.MigrationTarget, 0, len(from))
	for i := range from {
		src, err := parseEndpoint(from[i])
		if err != nil {
			return nil, err
		}
		dst, err := parseEndpoint(to[i])
		if err != nil {
			return nil, err
		}
		if src == dst {
			return nil, fmt.Errorf("source and destination are both %s", src)
		}
		targets = append(targets, operations.MigrationTarget{Source: src, Target: dst})
	}
	return targets, nil
}

// parseEndpoint parses "instance/database". Instance names are matched
// case-insensitively, like the keys of the config file.
func parseEndpoint(s string) (operations.Endpoint, error) {
	instance, db, ok := strings.Cut(s, "/")
	if !ok || instance == "" || db == "" || strings.Contains(db, "/") {
		return operations.Endpoint{}, fmt.Errorf("invalid endpoint %q, want instance/database", s)
	}
	return operations.Endpoint{Instance: strings.ToLower(instance), Database: db}, nil
}

func init() {
	flags := migrateCmd.Flags()
	flags.StringArrayVar(&migrateFlags.from, "from", nil, "source as instance/database (repeatable)")
	flags.StringArrayVar(&migrateFlags.to, "to", nil, "destination as instance/database (repeatable)")
	flags.BoolVar(&migrateFlags.dryRun, "dry-run", false, "walk through the stages without touching any database")
	flags.IntVarP(&migrateFlags.parallel, "parallel", "p", 0, "number of migrations run at once (default from config)")
}
