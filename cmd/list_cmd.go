package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kebairia/pgsafe/internal/catalog"
	"github.com/kebairia/pgsafe/internal/report"
)

var listFlags struct {
	instance string
	database string
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cataloged backups, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		cat := catalog.New(s.cfg.OutputDir, s.log)
		printer := report.NewPrinter(cmd.OutOrStdout(), report.IsTerminal(os.Stdout))

		databases := []string{listFlags.database}
		if listFlags.database == "" {
			if databases, err = cat.ListDatabases(listFlags.instance); err != nil {
				return err
			}
		}
		for _, db := range databases {
			sets, err := cat.ListBackups(listFlags.instance, db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s/%s\n", listFlags.instance, db)
			printer.Backups(sets)
		}
		return nil
	},
}

func init() {
	flags := listCmd.Flags()
	flags.StringVarP(&listFlags.instance, "instance", "i", "", "instance whose backups are listed")
	flags.StringVarP(&listFlags.database, "database", "d", "", "only list this database")
	_ = listCmd.MarkFlagRequired("instance")
}
