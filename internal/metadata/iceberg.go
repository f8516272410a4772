package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DataFile describes one parquet file the writer produced. Partition carries
// the hive key=value pairs the file was laid out under (index, expiry, date)
// so query engines can prune without listing objects.
type DataFile struct {
	Path        string         `json:"path"`
	FileSize    int64          `json:"file_size_in_bytes"`
	RecordCount int64          `json:"record_count"`
	Partition   map[string]any `json:"partition"`
	Timestamp   time.Time      `json:"-"`
}

// ManifestEntry mirrors the information kept in an Iceberg manifest file.
type ManifestEntry struct {
	Status   int      `json:"status"`
	DataFile DataFile `json:"data_file"`
}

// Snapshot holds the minimum needed for time-travel over a table.
type Snapshot struct {
	SnapshotID  int64  `json:"snapshot-id"`
	TimestampMs int64  `json:"timestamp-ms"`
	Manifest    string `json:"manifest-list"`
}

// TableMetadata is the top level Iceberg table metadata file.
type TableMetadata struct {
	FormatVersion     int        `json:"format-version"`
	TableUUID         string     `json:"table-uuid"`
	Location          string     `json:"location"`
	LastUpdatedMs     int64      `json:"last-updated-ms"`
	CurrentSnapshotID int64      `json:"current-snapshot-id"`
	Snapshots         []Snapshot `json:"snapshots"`
}

// Generator incrementally builds Iceberg metadata for one table. The writer
// flushes partitions from several goroutines, so AddFile is safe to call
// concurrently.
type Generator struct {
	mu        sync.Mutex
	basePath  string
	tableName string
	tableUUID string
	snapshots []Snapshot
}

// NewGenerator returns a metadata generator rooted at basePath.
func NewGenerator(basePath, tableName string) *Generator {
	return &Generator{
		basePath:  basePath,
		tableName: tableName,
		tableUUID: uuid.NewString(),
	}
}

// AddFile records a newly written parquet file and updates table metadata.
func (g *Generator) AddFile(df DataFile) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	snapID := df.Timestamp.UnixNano()
	manifestFile := fmt.Sprintf("manifest-%d.json", snapID)
	manifestPath := filepath.Join(g.basePath, "metadata", manifestFile)
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0o755); err != nil {
		return err
	}
	entry := ManifestEntry{Status: 1, DataFile: df}
	b, err := json.Marshal([]ManifestEntry{entry})
	if err != nil {
		return err
	}
	if err := os.WriteFile(manifestPath, b, 0o644); err != nil {
		return err
	}
	snapshot := Snapshot{
		SnapshotID:  snapID,
		TimestampMs: df.Timestamp.UnixMilli(),
		Manifest:    manifestFile,
	}
	g.snapshots = append(g.snapshots, snapshot)
	return g.writeTableMetadata()
}

func (g *Generator) writeTableMetadata() error {
	if len(g.snapshots) == 0 {
		return nil
	}
	latest := g.snapshots[len(g.snapshots)-1]
	tm := TableMetadata{
		FormatVersion:     2,
		TableUUID:         g.tableUUID,
		Location:          g.basePath,
		LastUpdatedMs:     latest.TimestampMs,
		CurrentSnapshotID: latest.SnapshotID,
		Snapshots:         g.snapshots,
	}
	metaPath := filepath.Join(g.basePath, "metadata", "metadata.json")
	b, err := json.MarshalIndent(tm, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(metaPath, b, 0o644)
}

// WriteCatalogEntry creates a catalog entry pointing at the table metadata.
// The writer registers its chain and spot tables here on startup so external
// tools can discover them by name.
func (g *Generator) WriteCatalogEntry(catalogDir string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	metaLoc := filepath.Join(g.basePath, "metadata", "metadata.json")
	entry := map[string]string{
		"name":              g.tableName,
		"metadata_location": metaLoc,
	}
	if err := os.MkdirAll(catalogDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(catalogDir, fmt.Sprintf("%s.json", g.tableName))
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
