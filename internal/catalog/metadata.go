package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MetaFileName is the sidecar written next to every dump.
const MetaFileName = "meta.json"

// BackupMetadata describes one completed dump.
type BackupMetadata struct {
	Instance    string    `json:"instance"`
	Database    string    `json:"database"`
	BackupID    string    `json:"backup_id"`
	CreatedAt   time.Time `json:"created_at"`
	SizeBytes   int64     `json:"size_bytes"`
	Format      string    `json:"format"`
	PgVersion   string    `json:"pg_version"`
	TableCount  int       `json:"table_count"`
	RowCount    int64     `json:"row_count"`
	Compression string    `json:"compression,omitempty"`
}

// ReadMetadata decodes the sidecar at path.
func ReadMetadata(path string) (BackupMetadata, error) {
	var meta BackupMetadata
	file, err := os.Open(path)
	if err != nil {
		return meta, fmt.Errorf("open metadata file %q: %w", path, err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&meta); err != nil {
		return meta, fmt.Errorf("decode metadata %q: %w", path, err)
	}
	return meta, nil
}

// WriteMetadata writes meta to path through a temporary file and a rename,
// so readers never observe a half-written sidecar.
func WriteMetadata(path string, meta BackupMetadata) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".meta-*.tmp")
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}
	tmpPath := tmp.Name()

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(meta); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata JSON: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename metadata file: %w", err)
	}
	return nil
}
