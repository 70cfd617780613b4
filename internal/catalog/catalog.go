package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kebairia/pgsafe/internal/logger"
)

const (
	// IDLayout formats backup ids; ids sort lexically in creation order.
	IDLayout = "2006-01-02_15-04-05.000"
	// idLayoutSeconds is accepted when reading older, second-precision ids.
	idLayoutSeconds = "2006-01-02_15-04-05"

	DumpExt     = ".dump"
	ZstdExt     = ".zst"
	Compression = "zstd"

	// allocateAttempts bounds id collisions when two backups start in the same millisecond.
	allocateAttempts = 50
)

// BackupSet is one cataloged backup: a dump plus its metadata sidecar.
type BackupSet struct {
	Instance string
	Database string
	ID       string
	Dir      string
	DumpPath string
	MetaPath string
	Metadata BackupMetadata
}

// Compressed reports whether the dump is zstd-compressed.
func (b BackupSet) Compressed() bool {
	return filepath.Ext(b.DumpPath) == ZstdExt
}

// Catalog indexes backups stored as <root>/<instance>/<database>/<id>/.
type Catalog struct {
	Root string
	log  logger.Logger
}

// New returns a catalog rooted at root.
func New(root string, log logger.Logger) *Catalog {
	if log == nil {
		log = logger.Nop()
	}
	return &Catalog{Root: root, log: log}
}

// NewID returns the backup id for a backup created at t.
func NewID(t time.Time) string {
	return t.UTC().Format(IDLayout)
}

// ParseID returns the creation time encoded in id.
func ParseID(id string) (time.Time, bool) {
	for _, layout := range []string{IDLayout, idLayoutSeconds} {
		if t, err := time.Parse(layout, id); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var nameEscaper = strings.NewReplacer("%", "%25", "/", "%2F", "\\", "%5C")

// pathName turns an instance or database name into a single path element.
// Separators and dot-only names are percent-escaped so every name stays a
// direct child of its parent directory.
func pathName(name string) string {
	switch name {
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return nameEscaper.Replace(name)
}

// nameFromPath reverses pathName.
func nameFromPath(elem string) string {
	name, err := url.PathUnescape(elem)
	if err != nil {
		return elem
	}
	return name
}

// InstanceRoot is the directory holding every database of an instance.
func (c *Catalog) InstanceRoot(instance string) string {
	return filepath.Join(c.Root, pathName(instance))
}

// DatabaseRoot is the directory holding every backup of one database.
func (c *Catalog) DatabaseRoot(instance, database string) string {
	return filepath.Join(c.InstanceRoot(instance), pathName(database))
}

// BackupDir is the directory of one backup.
func (c *Catalog) BackupDir(instance, database, id string) string {
	return filepath.Join(c.DatabaseRoot(instance, database), id)
}

// DumpPath is the dump file of database inside dir.
func DumpPath(dir, database string, compressed bool) string {
	name := pathName(database) + DumpExt
	if compressed {
		name += ZstdExt
	}
	return filepath.Join(dir, name)
}

// MetaPath is the metadata sidecar inside dir.
func MetaPath(dir string) string {
	return filepath.Join(dir, MetaFileName)
}

// Allocate creates a fresh, empty backup directory for a backup started at now.
// Only the leaf is created exclusively, so concurrent backups never share a directory.
func (c *Catalog) Allocate(instance, database string, now time.Time) (id, dir string, err error) {
	root := c.DatabaseRoot(instance, database)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", "", fmt.Errorf("create backup root %q: %w", root, err)
	}
	for i := 0; i < allocateAttempts; i++ {
		id = NewID(now.Add(time.Duration(i) * time.Millisecond))
		dir = filepath.Join(root, id)
		err = os.Mkdir(dir, 0o755)
		if err == nil {
			return id, dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", fmt.Errorf("create backup directory %q: %w", dir, err)
		}
	}
	return "", "", fmt.Errorf("allocate backup directory under %q: %w", root, err)
}

// ListBackups returns the complete backups of a database, newest first.
// Entries whose id does not parse sort after all others. Directories missing
// the dump or the sidecar are skipped.
func (c *Catalog) ListBackups(instance, database string) ([]BackupSet, error) {
	root := c.DatabaseRoot(instance, database)
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup directory %q: %w", root, err)
	}

	var sets []BackupSet
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		set, ok := c.load(instance, database, entry.Name())
		if !ok {
			continue
		}
		sets = append(sets, set)
	}

	sort.SliceStable(sets, func(i, j int) bool {
		ti, okI := ParseID(sets[i].ID)
		tj, okJ := ParseID(sets[j].ID)
		switch {
		case okI && okJ:
			if !ti.Equal(tj) {
				return ti.After(tj)
			}
			return sets[i].ID > sets[j].ID
		case okI != okJ:
			return okI
		default:
			return sets[i].ID > sets[j].ID
		}
	})
	return sets, nil
}

func (c *Catalog) load(instance, database, id string) (BackupSet, bool) {
	dir := c.BackupDir(instance, database, id)
	metaPath := MetaPath(dir)

	dumpPath := ""
	for _, candidate := range []string{DumpPath(dir, database, false), DumpPath(dir, database, true)} {
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			dumpPath = candidate
			break
		}
	}
	if dumpPath == "" {
		c.log.Debug("skipping backup without dump", "dir", dir)
		return BackupSet{}, false
	}

	meta, err := ReadMetadata(metaPath)
	if err != nil {
		c.log.Debug("skipping backup without readable metadata", "dir", dir, "error", err)
		return BackupSet{}, false
	}

	return BackupSet{
		Instance: instance,
		Database: database,
		ID:       id,
		Dir:      dir,
		DumpPath: dumpPath,
		MetaPath: metaPath,
		Metadata: meta,
	}, true
}

// GetLatest returns the newest complete backup, or nil when there is none.
func (c *Catalog) GetLatest(instance, database string) (*BackupSet, error) {
	sets, err := c.ListBackups(instance, database)
	if err != nil || len(sets) == 0 {
		return nil, err
	}
	latest := sets[0]
	return &latest, nil
}

// Get returns the backup with the given id.
func (c *Catalog) Get(instance, database, id string) (*BackupSet, error) {
	set, ok := c.load(instance, database, id)
	if !ok {
		return nil, fmt.Errorf("backup %s/%s/%s: %w", instance, database, id, fs.ErrNotExist)
	}
	return &set, nil
}

// Delete removes the whole directory of set. It reports false when the
// directory was already gone.
func (c *Catalog) Delete(set BackupSet) (bool, error) {
	if _, err := os.Stat(set.Dir); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("stat backup directory %q: %w", set.Dir, err)
	}
	if err := os.RemoveAll(set.Dir); err != nil {
		return false, fmt.Errorf("delete backup %q: %w", set.Dir, err)
	}
	c.log.Info("backup deleted", "instance", set.Instance, "database", set.Database, "id", set.ID)
	return true, nil
}

// ListDatabases returns the database directories recorded for an instance, sorted.
func (c *Catalog) ListDatabases(instance string) ([]string, error) {
	root := c.InstanceRoot(instance)
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read instance directory %q: %w", root, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, nameFromPath(entry.Name()))
		}
	}
	sort.Strings(names)
	return names, nil
}
