package operations

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kebairia/pgsafe/internal/catalog"
	"github.com/kebairia/pgsafe/internal/config"
	"github.com/kebairia/pgsafe/internal/database"
	"github.com/kebairia/pgsafe/internal/logger"
	"github.com/kebairia/pgsafe/internal/runner"
)

const unknownVersion = "unknown"

// Operator runs backup, restore and migration pipelines.
type Operator struct {
	catalog     *catalog.Catalog
	dumper      database.Dumper
	restorer    database.Restorer
	provisioner database.Provisioner
	stats       database.StatsProvider
	conns       map[string]database.Conn
	log         logger.Logger
	diag        DiagnosticLog
	sink        runner.Sink
	parallelism int
	compress    bool
	dryRun      bool
	now         func() time.Time

	versionOnce sync.Once
	version     string
}

// Option configures an Operator.
type Option func(*Operator)

func WithCatalog(c *catalog.Catalog) Option { return func(o *Operator) { o.catalog = c } }

func WithDumper(d database.Dumper) Option { return func(o *Operator) { o.dumper = d } }

func WithRestorer(r database.Restorer) Option { return func(o *Operator) { o.restorer = r } }

func WithProvisioner(p database.Provisioner) Option { return func(o *Operator) { o.provisioner = p } }

func WithStats(s database.StatsProvider) Option { return func(o *Operator) { o.stats = s } }

// WithConns sets the connection of every instance, keyed by instance name.
func WithConns(conns map[string]database.Conn) Option {
	return func(o *Operator) { o.conns = conns }
}

func WithLogger(log logger.Logger) Option {
	return func(o *Operator) {
		if log != nil {
			o.log = log
		}
	}
}

// WithLogDir sets where diagnostic logs of failed targets are written.
func WithLogDir(dir string) Option { return func(o *Operator) { o.diag.Dir = dir } }

// WithSink forwards per-target progress to sink.
func WithSink(sink runner.Sink) Option { return func(o *Operator) { o.sink = sink } }

func WithParallelism(n int) Option { return func(o *Operator) { o.parallelism = n } }

// WithCompression makes backups zstd-compressed.
func WithCompression(enabled bool) Option { return func(o *Operator) { o.compress = enabled } }

// WithDryRun skips every stage while still reporting progress.
func WithDryRun(enabled bool) Option { return func(o *Operator) { o.dryRun = enabled } }

// WithClock overrides the time source used for backup ids and log names.
func WithClock(now func() time.Time) Option {
	return func(o *Operator) {
		o.now = now
		o.diag.now = now
	}
}

// NewOperator returns an Operator with the given collaborators.
func NewOperator(opts ...Option) *Operator {
	o := &Operator{
		log:         logger.Global(),
		parallelism: 1,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.catalog == nil {
		o.catalog = catalog.New(".", o.log)
	}
	return o
}

// FromConfig wires an Operator to the PostgreSQL tools and instances of cfg.
// Instances with a vault_path get their credentials from creds.
func FromConfig(ctx context.Context, cfg config.Config, creds database.CredentialSource, log logger.Logger, opts ...Option) (*Operator, error) {
	conns, err := database.InitConns(ctx, cfg, creds)
	if err != nil {
		return nil, fmt.Errorf("initialize instances: %w", err)
	}

	pg := database.NewPostgres(
		database.WithDumpBinary(cfg.Tools.PgDump),
		database.WithRestoreBinary(cfg.Tools.PgRestore),
		database.WithTimeout(cfg.Tools.Timeout),
		database.WithLogger(log),
	)
	client := database.NewSQLClient()

	base := []Option{
		WithCatalog(catalog.New(cfg.OutputDir, log)),
		WithDumper(pg),
		WithRestorer(pg),
		WithProvisioner(client),
		WithStats(client),
		WithConns(conns),
		WithLogger(log),
		WithLogDir(cfg.LogDir),
		WithParallelism(cfg.Parallelism),
		WithCompression(cfg.Backup.Compress),
		WithDryRun(cfg.DryRun),
	}
	return NewOperator(append(base, opts...)...), nil
}

// Catalog returns the backup catalog the operator writes to.
func (o *Operator) Catalog() *catalog.Catalog {
	return o.catalog
}

// DryRun reports whether pipelines skip their side effects.
func (o *Operator) DryRun() bool {
	return o.dryRun
}

// PlanBackups lists the backup targets of cfg, optionally narrowed to one
// instance and one database.
func (o *Operator) PlanBackups(ctx context.Context, cfg config.Config, instance, db string) ([]BackupTarget, error) {
	var targets []BackupTarget
	for _, name := range cfg.InstanceNames() {
		if instance != "" && name != instance {
			continue
		}
		conn, err := o.conn(name)
		if err != nil {
			return nil, err
		}
		names, err := database.DiscoverDatabases(ctx, cfg.Instances[name], conn, o.provisioner)
		if err != nil {
			return nil, err
		}
		for _, dbName := range names {
			if db != "" && dbName != db {
				continue
			}
			targets = append(targets, BackupTarget{Instance: name, Database: dbName})
		}
	}
	if instance != "" && len(targets) == 0 {
		return nil, fmt.Errorf("no databases to back up on instance %q", instance)
	}
	return targets, nil
}

func (o *Operator) conn(instance string) (database.Conn, error) {
	conn, ok := o.conns[instance]
	if !ok {
		return database.Conn{}, fmt.Errorf("unknown instance %q", instance)
	}
	return conn, nil
}

func (o *Operator) toolVersion(ctx context.Context) string {
	o.versionOnce.Do(func() {
		o.version = unknownVersion
		v, err := o.dumper.Version(ctx)
		if err != nil {
			o.log.Warn("could not read pg_dump version", "error", err)
			return
		}
		if v != "" {
			o.version = v
		}
	})
	return o.version
}

// pipeline describes how to run one kind of target.
type pipeline[T any] struct {
	kind     Kind
	label    func(T) string
	location func(T) (instance, database string)
	execute  func(ctx context.Context, target T, tc *TaskContext, progress runner.Progress) error
}

type job[T any] struct {
	target T
	tc     *TaskContext
}

// runPipeline executes p for every target under the configured parallelism
// and collects one Outcome per target.
func runPipeline[T any](ctx context.Context, o *Operator, p pipeline[T], targets []T) RunResult {
	result := RunResult{Kind: p.kind}
	jobs := make([]*job[T], len(targets))
	for i, t := range targets {
		jobs[i] = &job[T]{target: t, tc: newTaskContext()}
	}

	outcome := func(j *job[T], elapsed time.Duration) Outcome {
		instance, db := p.location(j.target)
		return Outcome{
			Kind:           p.kind,
			Label:          p.label(j.target),
			Instance:       instance,
			Database:       db,
			FilePath:       j.tc.FilePath,
			SizeBytes:      j.tc.SizeBytes,
			Duration:       elapsed,
			StageDurations: j.tc.durations(),
			Skipped:        append([]StageKey(nil), j.tc.Skipped...),
		}
	}

	result.TotalDuration = runner.Run(ctx, jobs, runner.Task[*job[T]]{
		Label: func(j *job[T]) string { return p.label(j.target) },
		Execute: func(ctx context.Context, j *job[T], progress runner.Progress) error {
			err := p.execute(ctx, j.target, j.tc, progress)
			if err != nil {
				// Diagnostics are persisted here, outside the result lock.
				instance, db := p.location(j.target)
				failure := failureFrom(err)
				failure.LogFilePath = o.diag.Write(p.kind, instance, db, failure)
				j.tc.failure = failure
				o.log.Error(fmt.Sprintf("%s failed", p.kind),
					"target", p.label(j.target),
					"error", failure.Message,
					"log_file", failure.LogFilePath,
				)
			}
			return err
		},
		OnSuccess: func(j *job[T], elapsed time.Duration) {
			result.add(outcome(j, elapsed))
		},
		OnFailure: func(j *job[T], err error, elapsed time.Duration) {
			out := outcome(j, elapsed)
			out.FilePath, out.SizeBytes = "", 0
			out.Failure = j.tc.failure
			if out.Failure == nil {
				out.Failure = failureFrom(err)
			}
			result.add(out)
		},
	}, o.parallelism, runner.WithSink(o.sink), runner.WithLogger(o.log))

	return result
}
