package coldstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"obscatalog/internal/errs"
	"obscatalog/pkg/models"
)

// LocalArchive implements Archive on the local filesystem. Primarily
// used for testing and development; publish is an atomic rename.
type LocalArchive struct {
	basePath string
	now      func() time.Time
}

// NewLocalArchive creates a filesystem-backed archive rooted at
// basePath.
func NewLocalArchive(basePath string) (*LocalArchive, error) {
	if err := os.MkdirAll(filepath.Join(basePath, "markers"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &LocalArchive{basePath: basePath, now: time.Now}, nil
}

func (a *LocalArchive) snapshotPath() string {
	return filepath.Join(a.basePath, "master.json")
}

func (a *LocalArchive) markerPath(day string) string {
	return filepath.Join(a.basePath, "markers", day)
}

// LoadSnapshot reads the published snapshot; a missing file is an
// empty archive.
func (a *LocalArchive) LoadSnapshot(ctx context.Context) (models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(a.snapshotPath())
	if os.IsNotExist(err) {
		return models.Snapshot{}, nil
	}
	if err != nil {
		return nil, errs.StorageUnavailable("load archive snapshot", err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, errs.StorageUnavailable("decode archive snapshot", err)
	}
	return snap, nil
}

// SaveSnapshot writes to a temp file in the same directory and renames
// it over the published path, plus a dated mirror.
func (a *LocalArchive) SaveSnapshot(ctx context.Context, snap models.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errs.StorageUnavailable("encode archive snapshot", err)
	}

	day := DayKey(a.now())
	datedDir := filepath.Join(a.basePath, "date="+day)
	if err := os.MkdirAll(datedDir, 0755); err != nil {
		return errs.StorageUnavailable("create dated snapshot directory", err)
	}
	if err := os.WriteFile(filepath.Join(datedDir, "master.json"), payload, 0644); err != nil {
		return errs.StorageUnavailable("stage dated snapshot", err)
	}

	tmp, err := os.CreateTemp(a.basePath, ".master-*.json")
	if err != nil {
		return errs.StorageUnavailable("stage archive snapshot", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errs.StorageUnavailable("stage archive snapshot", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errs.StorageUnavailable("stage archive snapshot", err)
	}
	if err := os.Rename(tmpName, a.snapshotPath()); err != nil {
		os.Remove(tmpName)
		return errs.StorageUnavailable("publish archive snapshot", err)
	}
	return nil
}

// HasMarker reports whether the day's marker file exists.
func (a *LocalArchive) HasMarker(ctx context.Context, day string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(a.markerPath(day))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errs.StorageUnavailable("check reconciliation marker", err)
	}
	return true, nil
}

// WriteMarker records a completed reconciliation for a day.
func (a *LocalArchive) WriteMarker(ctx context.Context, day string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body := fmt.Sprintf(`{"reconciled_at":%q}`, a.now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(a.markerPath(day), []byte(body), 0644); err != nil {
		return errs.StorageUnavailable("write reconciliation marker", err)
	}
	return nil
}
