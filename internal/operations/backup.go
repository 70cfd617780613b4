package operations

import (
	"context"
	"os"

	"github.com/kebairia/pgsafe/internal/catalog"
	"github.com/kebairia/pgsafe/internal/database"
	"github.com/kebairia/pgsafe/internal/runner"
)

// BackupTarget is one database to back up.
type BackupTarget struct {
	Instance string
	Database string
}

func (t BackupTarget) String() string {
	return t.Instance + "/" + t.Database
}

// Backup runs the backup pipeline for every target.
func (o *Operator) Backup(ctx context.Context, targets []BackupTarget) RunResult {
	o.log.Info("starting backups", "targets", len(targets), "parallelism", o.parallelism, "dry_run", o.dryRun)
	return runPipeline(ctx, o, pipeline[BackupTarget]{
		kind:     KindBackup,
		label:    BackupTarget.String,
		location: func(t BackupTarget) (string, string) { return t.Instance, t.Database },
		execute: func(ctx context.Context, t BackupTarget, tc *TaskContext, progress runner.Progress) error {
			return runStage(ctx, tc, backupStages[0], progress, o.dryRun, func(ctx context.Context) (bool, error) {
				set, err := o.createBackup(ctx, t.Instance, t.Database)
				if err != nil {
					return false, err
				}
				tc.setArtifact(set)
				return false, nil
			})
		},
	}, targets)
}

// createBackup dumps one database into a new catalog directory and writes
// its metadata. On any failure the new directory is removed.
func (o *Operator) createBackup(ctx context.Context, instance, db string) (*catalog.BackupSet, error) {
	conn, err := o.conn(instance)
	if err != nil {
		return nil, stageError(ErrorPrecondition, StageBackup, nil, "%v", err)
	}

	createdAt := o.now().UTC()
	id, dir, err := o.catalog.Allocate(instance, db, createdAt)
	if err != nil {
		return nil, stageError(ErrorIO, StageBackup, err, "allocate backup directory")
	}
	log := o.log.With("instance", instance, "database", db, "backup_id", id)

	tmpPath := catalog.DumpPath(dir, db, false) + ".tmp"
	if err := o.dumper.Dump(ctx, conn, db, tmpPath); err != nil {
		o.discard(dir)
		return nil, toolFailure(StageBackup, err)
	}

	dumpPath := catalog.DumpPath(dir, db, o.compress)
	compression := ""
	if o.compress {
		if err := CompressZstd(tmpPath, dumpPath); err != nil {
			o.discard(dir)
			return nil, stageError(ErrorIO, StageBackup, err, "compress dump")
		}
		os.Remove(tmpPath)
		compression = catalog.Compression
	} else if err := os.Rename(tmpPath, dumpPath); err != nil {
		o.discard(dir)
		return nil, stageError(ErrorIO, StageBackup, err, "finalize dump")
	}

	info, err := os.Stat(dumpPath)
	if err != nil {
		o.discard(dir)
		return nil, stageError(ErrorIO, StageBackup, err, "stat dump")
	}

	stats := o.collectStats(ctx, conn, db)
	meta := catalog.BackupMetadata{
		Instance:    instance,
		Database:    db,
		BackupID:    id,
		CreatedAt:   createdAt,
		SizeBytes:   info.Size(),
		Format:      database.FormatCustom,
		PgVersion:   o.toolVersion(ctx),
		TableCount:  stats.Tables,
		RowCount:    stats.Rows,
		Compression: compression,
	}
	metaPath := catalog.MetaPath(dir)
	if err := catalog.WriteMetadata(metaPath, meta); err != nil {
		o.discard(dir)
		return nil, stageError(ErrorIO, StageBackup, err, "write backup metadata")
	}

	log.Info("backup created", "path", dumpPath, "size_bytes", info.Size())
	return &catalog.BackupSet{
		Instance: instance,
		Database: db,
		ID:       id,
		Dir:      dir,
		DumpPath: dumpPath,
		MetaPath: metaPath,
		Metadata: meta,
	}, nil
}

// collectStats is best-effort: failures yield zero counts.
func (o *Operator) collectStats(ctx context.Context, conn database.Conn, db string) database.Stats {
	if o.stats == nil {
		return database.Stats{}
	}
	stats, err := o.stats.Stats(ctx, conn, db)
	if err != nil {
		o.log.Warn("could not read database statistics", "database", db, "error", err)
		return database.Stats{}
	}
	return stats
}

func (o *Operator) discard(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		o.log.Warn("could not remove incomplete backup", "dir", dir, "error", err)
	}
}

func (tc *TaskContext) setArtifact(set *catalog.BackupSet) {
	tc.Artifact = set
	tc.FilePath = set.DumpPath
	tc.SizeBytes = set.Metadata.SizeBytes
}
