package bundle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// requiredFiles must all exist before a bundle can be promoted.
var requiredFiles = []string{
	ManifestName,
	"raw/seed.json",
	"raw/youcom.jsonl",
	"raw/tavily.jsonl",
}

// LatestFile describes one bundle file in the latest pointer.
type LatestFile struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// LatestPayload is the latest.json document pointing consumers at the most
// recently promoted bundle.
type LatestPayload struct {
	SchemaVersion int          `json:"schema_version"`
	BundleID      string       `json:"bundle_id"`
	BundlePrefix  string       `json:"bundle_prefix"`
	GeneratedAt   string       `json:"generated_at"`
	Manifest      string       `json:"manifest"`
	Files         []LatestFile `json:"files"`
}

// Promote validates a completed bundle and writes the latest pointer
// atomically. With dryRun the payload is built and logged but not written.
func Promote(bundleDir, latestPath string, dryRun bool, now time.Time) (*LatestPayload, error) {
	for _, rel := range requiredFiles {
		if _, err := os.Stat(filepath.Join(bundleDir, filepath.FromSlash(rel))); err != nil {
			return nil, eris.Errorf("bundle: required file missing: %s", rel)
		}
	}

	m, err := LoadManifest(filepath.Join(bundleDir, ManifestName))
	if err != nil {
		return nil, err
	}

	files := make([]LatestFile, 0, len(m.Files))
	for _, entry := range m.Files {
		files = append(files, LatestFile{Path: entry.Path, Size: entry.Size})
	}

	payload := &LatestPayload{
		SchemaVersion: SchemaVersion,
		BundleID:      m.BundleID,
		BundlePrefix:  filepath.ToSlash(bundleDir),
		GeneratedAt:   now.UTC().Format("2006-01-02T15:04:05Z"),
		Manifest:      filepath.ToSlash(filepath.Join(bundleDir, ManifestName)),
		Files:         files,
	}

	if dryRun {
		zap.L().Info("dry run, latest pointer not written",
			zap.String("bundle_id", payload.BundleID),
			zap.String("latest_path", latestPath),
			zap.Int("files", len(payload.Files)))
		return payload, nil
	}

	if err := writeAtomic(latestPath, payload); err != nil {
		return nil, err
	}
	zap.L().Info("bundle promoted",
		zap.String("bundle_id", payload.BundleID),
		zap.String("latest_path", latestPath))
	return payload, nil
}

// writeAtomic writes JSON to a temp file in the target directory and
// renames it into place so readers never observe a partial pointer.
func writeAtomic(path string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return eris.Wrap(err, "bundle: marshal latest payload")
	}
	data = append(data, '\n')

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "bundle: create %s", dir)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "bundle: write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return eris.Wrapf(err, "bundle: rename %s", path)
	}
	return nil
}
