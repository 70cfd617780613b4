package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kebairia/pgsafe/internal/catalog"
)

var deleteFlags struct {
	instance string
	database string
	id       string
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete one cataloged backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		cat := catalog.New(s.cfg.OutputDir, s.log)

		set, err := cat.Get(deleteFlags.instance, deleteFlags.database, deleteFlags.id)
		if err != nil {
			return err
		}
		deleted, err := cat.Delete(*set)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("backup %s was already removed", set.Dir)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", set.Dir)
		return nil
	},
}

func init() {
	flags := deleteCmd.Flags()
	flags.StringVarP(&deleteFlags.instance, "instance", "i", "", "instance of the backup")
	flags.StringVarP(&deleteFlags.database, "database", "d", "", "database of the backup")
	flags.StringVar(&deleteFlags.id, "id", "", "backup id, as shown by list")
	for _, name := range []string{"instance", "database", "id"} {
		_ = deleteCmd.MarkFlagRequired(name)
	}
}
