// Package layout maps acquisition targets onto the output directory tree and
// owns the completion marker that makes runs resumable.
package layout

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/robert-malhotra/fieldscenes/internal/region"
)

const (
	// MarkerName is the completion marker written after all bands of a
	// target are in place.
	MarkerName = ".complete"

	// StagingDirName holds per-request scratch directories under the output root.
	StagingDirName = ".staging"

	// FileExt is the extension of every band file.
	FileExt = ".tif"
)

// Naming selects how band files are named.
type Naming string

const (
	// NamingScene names files {scene-id}-{band}.tif.
	NamingScene Naming = "scene"
	// NamingOperator names files {operator}-{region-id}-{YYYYMMDD}-{band}.tif.
	NamingOperator Naming = "operator"
)

// Layout resolves output paths below Root.
type Layout struct {
	Root   string
	Naming Naming
}

// New returns a layout rooted at root.
func New(root string, naming Naming) *Layout {
	if naming == "" {
		naming = NamingScene
	}
	return &Layout{Root: root, Naming: naming}
}

// RegionDir returns {root}/{relative dir}/{region name}.
func (l *Layout) RegionDir(r *region.Region) string {
	return filepath.Join(l.Root, r.RelDir(), r.Name)
}

// DateDir returns the directory holding the bands of one (region, date) target.
// date is YYYY-MM-DD.
func (l *Layout) DateDir(r *region.Region, date string) string {
	return filepath.Join(l.RegionDir(r), date)
}

// FileName returns the canonical band file name. Names depend only on the
// inputs, so repeated runs produce the same files.
func (l *Layout) FileName(r *region.Region, sceneID, date, band string) string {
	if l.Naming == NamingOperator {
		compact := strings.ReplaceAll(date, "-", "")
		return fmt.Sprintf("%s-%s-%s-%s%s", r.Operator, r.ID, compact, band, FileExt)
	}
	return fmt.Sprintf("%s-%s%s", sceneID, band, FileExt)
}

// BandPaths returns the band -> absolute path mapping for a target.
func (l *Layout) BandPaths(r *region.Region, sceneID, date string, bands []string) map[string]string {
	dir := l.DateDir(r, date)
	paths := make(map[string]string, len(bands))
	for _, b := range bands {
		paths[b] = filepath.Join(dir, l.FileName(r, sceneID, date, b))
	}
	return paths
}

// StagingRoot returns {root}/.staging.
func (l *Layout) StagingRoot() string {
	return filepath.Join(l.Root, StagingDirName)
}

// NewStaging creates a directory exclusive to one request.
func (l *Layout) NewStaging() (string, error) {
	dir := filepath.Join(l.StagingRoot(), uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	return dir, nil
}

// Marker is the content of the completion marker.
type Marker struct {
	SceneID  string    `json:"scene_id"`
	Date     string    `json:"date"`
	Bands    []string  `json:"bands"`
	Files    []string  `json:"files"`
	Complete time.Time `json:"completed_at"`
}

// WriteMarker writes the completion marker into dir through a temporary file
// and rename, so a partially written marker is never observed.
func WriteMarker(dir string, m Marker) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode completion marker: %w", err)
	}

	tmp, err := os.CreateTemp(dir, MarkerName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create completion marker: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write completion marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write completion marker: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, MarkerName)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to commit completion marker: %w", err)
	}
	return nil
}

// ReadMarker reads the completion marker in dir.
func ReadMarker(dir string) (*Marker, error) {
	data, err := os.ReadFile(filepath.Join(dir, MarkerName))
	if err != nil {
		return nil, err
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid completion marker in %s: %w", dir, err)
	}
	return &m, nil
}

// IsComplete reports whether a target directory holds finished output: the
// marker exists, or every expected file is present and non-empty. A bare or
// partially filled directory is not complete.
func IsComplete(dir string, expected []string) bool {
	if _, err := os.Stat(filepath.Join(dir, MarkerName)); err == nil {
		return true
	}
	if len(expected) == 0 {
		return false
	}
	for _, path := range expected {
		info, err := os.Stat(path)
		if err != nil || info.Size() == 0 {
			return false
		}
	}
	return true
}

// TargetComplete is IsComplete for a (region, scene, date) target.
func (l *Layout) TargetComplete(r *region.Region, sceneID, date string, bands []string) bool {
	paths := l.BandPaths(r, sceneID, date, bands)
	expected := make([]string, 0, len(paths))
	for _, b := range bands {
		expected = append(expected, paths[b])
	}
	return IsComplete(l.DateDir(r, date), expected)
}

// CleanStaging removes leftover staging directories from interrupted runs.
func (l *Layout) CleanStaging() error {
	err := os.RemoveAll(l.StagingRoot())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to clean staging root: %w", err)
	}
	return nil
}
