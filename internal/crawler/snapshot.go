package crawler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Snapshot captures one full crawl run for audit/replay independent of the
// persistent store.
type Snapshot struct {
	Metadata SnapshotMetadata `json:"metadata"`
	Threads  []ThreadRecord   `json:"threads"`
}

// SnapshotMetadata describes the run the snapshot belongs to.
type SnapshotMetadata struct {
	ThemeName    string    `json:"theme_name"`
	FID          string    `json:"fid"`
	CrawlTime    time.Time `json:"crawl_time"`
	TotalThreads int       `json:"total_threads"`
}

// SnapshotWriter saves one JSON document per crawl run to the results
// directory, named by theme, forum id, and a second-precision timestamp.
type SnapshotWriter struct {
	root   string
	logger *zap.Logger
}

// NewSnapshotWriter returns a writer rooted at dir.
func NewSnapshotWriter(root string, logger *zap.Logger) (*SnapshotWriter, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create results dir %s: %w", root, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotWriter{root: root, logger: logger}, nil
}

// Write persists the run snapshot and returns the file path.
func (w *SnapshotWriter) Write(themeName, fid string, crawlTime time.Time, records []ThreadRecord) (string, error) {
	if records == nil {
		records = []ThreadRecord{}
	}
	snapshot := Snapshot{
		Metadata: SnapshotMetadata{
			ThemeName:    themeName,
			FID:          fid,
			CrawlTime:    crawlTime,
			TotalThreads: len(records),
		},
		Threads: records,
	}
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	name := fmt.Sprintf("%s_%s_%s.json", themeName, fid, crawlTime.Format("20060102_150405"))
	target := filepath.Join(w.root, name)
	if err := os.WriteFile(target, payload, 0o600); err != nil {
		return "", fmt.Errorf("write snapshot %s: %w", target, err)
	}
	w.logger.Info("run snapshot written",
		zap.String("path", target),
		zap.Int("threads", len(records)),
	)
	return target, nil
}

// ReadSnapshot parses a snapshot file back into memory.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return snapshot, nil
}
