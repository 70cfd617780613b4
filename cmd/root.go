package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kebairia/pgsafe/internal/config"
	"github.com/kebairia/pgsafe/internal/database"
	"github.com/kebairia/pgsafe/internal/logger"
	"github.com/kebairia/pgsafe/internal/operations"
	"github.com/kebairia/pgsafe/internal/report"
	"github.com/kebairia/pgsafe/internal/vault"
)

// errRunFailed is returned when a run completed with failed targets; the
// summary already explains them.
var errRunFailed = errors.New("one or more targets failed")

var (
	// ConfigFile is the path to the YAML configuration.
	ConfigFile string
	verbose    bool

	// rootCmd is the base command for pgsafe.
	rootCmd = &cobra.Command{
		Use:   "pgsafe",
		Short: "PostgreSQL backup, restore and migration tool",
		Long: `pgsafe backs up, restores and migrates PostgreSQL databases
described in a YAML configuration file, running several databases in parallel.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command and exits non-zero on failure.
// An interrupt stops admitting new targets; running ones finish.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer logger.Cleanup()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		}
		stop()
		logger.Cleanup()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&ConfigFile, "config", "c", config.DefaultFile, "path to YAML config file")
	rootCmd.PersistentFlags().
		BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
}

// session is the state shared by every command of one invocation.
type session struct {
	cfg   config.Config
	log   logger.Logger
	runID string
}

func newSession() (*session, error) {
	var cfg config.Config
	if err := cfg.Load(ConfigFile); err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	log, err := logger.Init(logger.Options{
		Level:      level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	runID := uuid.NewString()
	return &session{cfg: cfg, log: log.With("run_id", runID), runID: runID}, nil
}

// operator connects to Vault when configured and wires an Operator to every instance.
func (s *session) operator(ctx context.Context, opts ...operations.Option) (*operations.Operator, error) {
	var creds database.CredentialSource
	if s.cfg.Vault.Address != "" {
		client, err := vault.NewClient(ctx,
			vault.WithAddress(s.cfg.Vault.Address),
			vault.WithAppRole(s.cfg.Vault.RoleID, s.cfg.Vault.ApproleName),
		)
		if err != nil {
			return nil, fmt.Errorf("vault client init: %w", err)
		}
		creds = client
	}

	base := []operations.Option{
		operations.WithSink(report.NewLineSink(os.Stderr, report.IsTerminal(os.Stderr))),
	}
	return operations.FromConfig(ctx, s.cfg, creds, s.log, append(base, opts...)...)
}

// finish prints the summary of result and turns failures into errRunFailed.
func finish(result operations.RunResult) error {
	report.NewPrinter(os.Stdout, report.IsTerminal(os.Stdout)).Summary(result)
	if result.HasFailures() {
		return errRunFailed
	}
	return nil
}

// runOptions collects the overrides shared by the pipeline commands.
func runOptions(cmd *cobra.Command, dryRun bool, parallel int) []operations.Option {
	var opts []operations.Option
	if cmd.Flags().Changed("dry-run") {
		opts = append(opts, operations.WithDryRun(dryRun))
	}
	if parallel > 0 {
		opts = append(opts, operations.WithParallelism(parallel))
	}
	return opts
}
