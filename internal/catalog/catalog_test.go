package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSet(t *testing.T, c *Catalog, instance, database, id string, withDump, withMeta bool) string {
	t.Helper()
	dir := c.BackupDir(instance, database, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if withDump {
		require.NoError(t, os.WriteFile(DumpPath(dir, database, false), []byte("PGDMP"), 0o644))
	}
	if withMeta {
		require.NoError(t, WriteMetadata(MetaPath(dir), BackupMetadata{
			Instance:  instance,
			Database:  database,
			BackupID:  id,
			SizeBytes: 5,
			Format:    "custom",
		}))
	}
	return dir
}

func TestListBackups_SkipsIncompleteSets(t *testing.T) {
	c := New(t.TempDir(), nil)
	writeSet(t, c, "db1", "orders", "2024-05-01_10-00-00.000", true, true)
	writeSet(t, c, "db1", "orders", "2024-05-02_10-00-00.000", false, true)
	writeSet(t, c, "db1", "orders", "2024-05-03_10-00-00.000", true, false)

	sets, err := c.ListBackups("db1", "orders")
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, "2024-05-01_10-00-00.000", sets[0].ID)
	assert.Equal(t, int64(5), sets[0].Metadata.SizeBytes)
	assert.Equal(t, filepath.Join(sets[0].Dir, "orders.dump"), sets[0].DumpPath)
}

func TestListBackups_NewestFirstUnparsableLast(t *testing.T) {
	c := New(t.TempDir(), nil)
	for _, id := range []string{
		"2024-05-01_10-00-00.000",
		"manual-a",
		"2024-05-03_09-00-00",
		"manual-b",
		"2024-05-02_10-00-00.500",
	} {
		writeSet(t, c, "db1", "orders", id, true, true)
	}

	sets, err := c.ListBackups("db1", "orders")
	require.NoError(t, err)

	var ids []string
	for _, set := range sets {
		ids = append(ids, set.ID)
	}
	assert.Equal(t, []string{
		"2024-05-03_09-00-00",
		"2024-05-02_10-00-00.500",
		"2024-05-01_10-00-00.000",
		"manual-b",
		"manual-a",
	}, ids)
}

func TestListBackups_MissingDirectory(t *testing.T) {
	c := New(t.TempDir(), nil)
	sets, err := c.ListBackups("db1", "orders")
	require.NoError(t, err)
	assert.Empty(t, sets)

	latest, err := c.GetLatest("db1", "orders")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestListBackups_CompressedDump(t *testing.T) {
	c := New(t.TempDir(), nil)
	dir := writeSet(t, c, "db1", "orders", "2024-05-01_10-00-00.000", false, true)
	require.NoError(t, os.WriteFile(DumpPath(dir, "orders", true), []byte("zst"), 0o644))

	latest, err := c.GetLatest("db1", "orders")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Compressed())
}

func TestDelete(t *testing.T) {
	c := New(t.TempDir(), nil)
	writeSet(t, c, "db1", "orders", "2024-05-01_10-00-00.000", true, true)

	latest, err := c.GetLatest("db1", "orders")
	require.NoError(t, err)
	require.NotNil(t, latest)

	deleted, err := c.Delete(*latest)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.NoDirExists(t, latest.Dir)

	deleted, err = c.Delete(*latest)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestAllocate_DistinctDirectories(t *testing.T) {
	c := New(t.TempDir(), nil)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	id1, dir1, err := c.Allocate("db1", "orders", now)
	require.NoError(t, err)
	id2, dir2, err := c.Allocate("db1", "orders", now)
	require.NoError(t, err)

	assert.Equal(t, "2024-05-01_10-00-00.000", id1)
	assert.Equal(t, "2024-05-01_10-00-00.001", id2)
	assert.NotEqual(t, dir1, dir2)
	assert.DirExists(t, dir2)
}

func TestWriteMetadata_NoTempLeftBehind(t *testing.T) {
	dir := t.TempDir()
	meta := BackupMetadata{Instance: "db1", Database: "orders", PgVersion: "pg_dump (PostgreSQL) 16.2", TableCount: 3, RowCount: 42}
	require.NoError(t, WriteMetadata(MetaPath(dir), meta))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, MetaFileName, entries[0].Name())

	got, err := ReadMetadata(MetaPath(dir))
	require.NoError(t, err)
	assert.Equal(t, meta, got)
}

func TestListDatabases(t *testing.T) {
	c := New(t.TempDir(), nil)
	writeSet(t, c, "db1", "sales", "2024-05-01_10-00-00.000", true, true)
	writeSet(t, c, "db1", "orders", "2024-05-01_10-00-00.000", true, true)

	names, err := c.ListDatabases("db1")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "sales"}, names)
}

func TestListDatabases_NamesWithSeparators(t *testing.T) {
	c := New(t.TempDir(), nil)
	writeSet(t, c, "db1", "a/b", "2024-05-01_10-00-00.000", true, true)
	writeSet(t, c, "db1", "..", "2024-05-01_10-00-00.000", true, true)
	writeSet(t, c, "db1", `c\d`, "2024-05-01_10-00-00.000", true, true)
	writeSet(t, c, "db1", "50%", "2024-05-01_10-00-00.000", true, true)

	entries, err := os.ReadDir(c.InstanceRoot("db1"))
	require.NoError(t, err)
	require.Len(t, entries, 4)
	_, err = os.Stat(filepath.Join(c.Root, "db1", "a"))
	assert.True(t, os.IsNotExist(err))

	names, err := c.ListDatabases("db1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a/b", "..", `c\d`, "50%"}, names)

	sets, err := c.ListBackups("db1", "a/b")
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, "a/b", sets[0].Database)
	assert.Equal(t, c.DatabaseRoot("db1", "a/b"), filepath.Dir(sets[0].Dir))
	assert.Equal(t, "a%2Fb.dump", filepath.Base(sets[0].DumpPath))
}
