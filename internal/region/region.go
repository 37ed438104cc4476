// Package region discovers field boundary files under an input root and loads
// each one as a single-feature Region.
package region

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"

	"github.com/robert-malhotra/fieldscenes/internal/geom"
)

var (
	// ErrInvalidGeometry is the geometry sentinel shared with the normalizer.
	ErrInvalidGeometry = geom.ErrInvalidGeometry

	// ErrDuplicateRegion is returned for sources that would write to the same
	// output directory, such as Field.shp next to Field.geojson.
	ErrDuplicateRegion = errors.New("duplicate region")
)

// DefaultExtensions are the vector formats Discover picks up. Plain .json is
// left out so sidecar files in a region directory are not mistaken for regions.
var DefaultExtensions = []string{".shp", ".geojson"}

// idAttributes are checked in order for a per-feature region identifier.
var idAttributes = []string{"fid", "FeldID", "ID"}

// Source is one discovered geometry file.
type Source struct {
	// Path is the file path as found during the walk.
	Path string
	// RelPath is Path relative to the input root, slash separated.
	RelPath string
	// Operator is the top-level directory under the root, or the stem for
	// files that sit directly in the root.
	Operator string
	// Name is the file name without extension.
	Name string
	// Conflicts lists the other sources sharing this source's directory and
	// stem. Load refuses a source with conflicts.
	Conflicts []string
}

// RelDir returns the directory part of RelPath, or "" at the root.
func (s Source) RelDir() string {
	dir := filepath.Dir(filepath.FromSlash(s.RelPath))
	if dir == "." {
		return ""
	}
	return dir
}

// Region is a single field boundary ready for normalization.
type Region struct {
	Source
	// ID comes from a feature attribute, falling back to the file stem.
	ID       string
	Geometry orb.Geometry
	CRS      geom.CRS
}

// Key identifies the region in logs: its relative source path.
func (r *Region) Key() string {
	return r.RelPath
}

// Discover walks root recursively and returns every file whose extension is
// in exts, in lexical path order.
func Discover(root string, exts []string) ([]Source, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to access input root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input root %q is not a directory", root)
	}

	want := make(map[string]bool, len(exts))
	for _, ext := range exts {
		want[strings.ToLower(ext)] = true
	}

	var sources []Source
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !want[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		sources = append(sources, newSource(path, rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan input root %q: %w", root, err)
	}

	markConflicts(sources)
	return sources, nil
}

func markConflicts(sources []Source) {
	byStem := make(map[string][]int)
	for i, s := range sources {
		key := strings.ToLower(filepath.ToSlash(filepath.Join(s.RelDir(), s.Name)))
		byStem[key] = append(byStem[key], i)
	}

	for _, idx := range byStem {
		if len(idx) < 2 {
			continue
		}
		for _, i := range idx {
			for _, j := range idx {
				if i != j {
					sources[i].Conflicts = append(sources[i].Conflicts, sources[j].RelPath)
				}
			}
		}
	}
}

func newSource(path, rel string) Source {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	parts := strings.Split(filepath.ToSlash(rel), "/")
	operator := name
	if len(parts) > 1 {
		operator = parts[0]
	}

	return Source{
		Path:     path,
		RelPath:  filepath.ToSlash(rel),
		Operator: sanitize(operator),
		Name:     name,
	}
}

// Load reads the source file and returns its single region.
func Load(src Source) (*Region, error) {
	if len(src.Conflicts) > 0 {
		return nil, fmt.Errorf("%w: %s shares its output directory with %s",
			ErrDuplicateRegion, src.RelPath, strings.Join(src.Conflicts, ", "))
	}

	var (
		feat *feature
		err  error
	)

	switch strings.ToLower(filepath.Ext(src.Path)) {
	case ".shp":
		feat, err = readShapefile(src.Path)
	case ".geojson", ".json":
		feat, err = readGeoJSON(src.Path)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrInvalidGeometry, filepath.Ext(src.Path))
	}
	if err != nil {
		return nil, err
	}

	if err := geom.ValidateArea(feat.geometry); err != nil {
		return nil, err
	}

	id := src.Name
	for _, key := range idAttributes {
		if v, ok := feat.attributes[key]; ok && strings.TrimSpace(v) != "" {
			id = strings.TrimSpace(v)
			break
		}
	}

	return &Region{
		Source:   src,
		ID:       sanitize(id),
		Geometry: feat.geometry,
		CRS:      feat.crs,
	}, nil
}

// feature is the format-independent result of reading one file.
type feature struct {
	geometry   orb.Geometry
	attributes map[string]string
	crs        geom.CRS
}

func featureCountError(path string, n int) error {
	return fmt.Errorf("%w: %s contains %d features, expected 1", ErrInvalidGeometry, filepath.Base(path), n)
}

func sanitize(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), " ", "_")
}
