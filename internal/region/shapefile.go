package region

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/robert-malhotra/fieldscenes/internal/geom"
)

func readShapefile(path string) (*feature, error) {
	crs, err := readPrj(strings.TrimSuffix(path, filepath.Ext(path)) + ".prj")
	if err != nil {
		return nil, err
	}

	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open shapefile %s: %v", ErrInvalidGeometry, path, err)
	}
	defer r.Close()

	fields := r.Fields()

	var (
		count int
		g     orb.Geometry
		attrs map[string]string
	)
	for r.Next() {
		n, shape := r.Shape()
		count++
		if count > 1 {
			continue
		}

		g, err = shapeToOrb(shape)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		attrs = make(map[string]string, len(fields))
		for k, f := range fields {
			attrs[f.String()] = strings.TrimSpace(r.ReadAttribute(n, k))
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read shapefile %s: %v", ErrInvalidGeometry, path, err)
	}
	if count != 1 {
		return nil, featureCountError(path, count)
	}

	return &feature{geometry: g, attributes: attrs, crs: crs}, nil
}

// shapeToOrb converts polygon shapes. Clockwise rings are exteriors and
// counter-clockwise rings are holes of the exterior that contains them.
func shapeToOrb(shape shp.Shape) (orb.Geometry, error) {
	var (
		parts  []int32
		points []shp.Point
	)
	switch p := shape.(type) {
	case *shp.Polygon:
		parts, points = p.Parts, p.Points
	case *shp.PolygonZ:
		parts, points = p.Parts, p.Points
	case *shp.PolygonM:
		parts, points = p.Parts, p.Points
	default:
		return nil, fmt.Errorf("%w: unsupported shape type %T", ErrInvalidGeometry, shape)
	}

	var (
		outers orb.MultiPolygon
		holes  []orb.Ring
	)
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || end > int32(len(points)) || start >= end {
			return nil, fmt.Errorf("%w: malformed ring %d", ErrInvalidGeometry, i)
		}

		ring := make(orb.Ring, 0, end-start)
		for _, pt := range points[start:end] {
			ring = append(ring, orb.Point{pt.X, pt.Y})
		}
		if ring.Orientation() == orb.CW {
			outers = append(outers, orb.Polygon{ring})
		} else {
			holes = append(holes, ring)
		}
	}

	if len(outers) == 0 {
		return nil, fmt.Errorf("%w: polygon has no exterior ring", ErrInvalidGeometry)
	}

	for _, hole := range holes {
		placed := false
		for i := range outers {
			if planar.RingContains(outers[i][0], hole[0]) {
				outers[i] = append(outers[i], hole)
				placed = true
				break
			}
		}
		if !placed {
			outers[0] = append(outers[0], hole)
		}
	}

	if len(outers) == 1 {
		return outers[0], nil
	}
	return outers, nil
}

var (
	authorityPattern = regexp.MustCompile(`AUTHORITY\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)
	idPattern        = regexp.MustCompile(`ID\[\s*"EPSG"\s*,\s*(\d+)\s*\]`)
	utmZonePattern   = regexp.MustCompile(`(?i)UTM[_ ]zone[_ ](\d{1,2})\s*([NS])?`)
	gaussZonePattern = regexp.MustCompile(`(?i)DHDN.*Gauss[_ -]?(?:Kr(?:u|ue|ü)ger[_ ])?zone[_ ](\d)`)
)

// namedSystems maps ESRI projection names without an AUTHORITY clause to EPSG codes.
var namedSystems = []struct {
	pattern *regexp.Regexp
	crs     geom.CRS
}{
	{regexp.MustCompile(`(?i)MGI[_ /]+Austria[_ ]Lambert`), 31287},
	{regexp.MustCompile(`(?i)MGI[_ /]+Austria[_ ]GK[_ ]West`), 31254},
	{regexp.MustCompile(`(?i)MGI[_ /]+Austria[_ ]GK[_ ]Central`), 31255},
	{regexp.MustCompile(`(?i)MGI[_ /]+Austria[_ ]GK[_ ]East`), 31256},
	{regexp.MustCompile(`(?i)ETRS(?:_19)?89[_ /]+LAEA`), 3035},
}

// readPrj derives the CRS from the WKT in a .prj file. ESRI WKT usually has no
// AUTHORITY clause, so common projection names are recognised as well.
func readPrj(path string) (geom.CRS, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("%w: no .prj next to %s, CRS cannot be determined", ErrInvalidGeometry, filepath.Base(path))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ParseWKT(string(data))
}

// ParseWKT maps a WKT coordinate system to a supported CRS.
func ParseWKT(wkt string) (geom.CRS, error) {
	wkt = strings.TrimSpace(wkt)
	upper := strings.ToUpper(wkt)
	if wkt == "" {
		return 0, fmt.Errorf("%w: empty .prj", ErrInvalidGeometry)
	}

	// The outermost authority is the last one in WKT1 and in WKT2.
	for _, p := range []*regexp.Regexp{authorityPattern, idPattern} {
		if m := p.FindAllStringSubmatch(wkt, -1); len(m) > 0 {
			if code, err := strconv.Atoi(m[len(m)-1][1]); err == nil && geom.CRS(code).Supported() {
				return geom.CRS(code), nil
			}
		}
	}

	if !strings.HasPrefix(upper, "PROJCS") && !strings.HasPrefix(upper, "PROJCRS") {
		if strings.HasPrefix(upper, "GEOGCS") || strings.HasPrefix(upper, "GEOGCRS") {
			return geographicWKT(upper)
		}
		return 0, fmt.Errorf("%w: unsupported coordinate system in .prj", ErrInvalidGeometry)
	}

	if m := utmZonePattern.FindStringSubmatch(wkt); m != nil {
		zone, _ := strconv.Atoi(m[1])
		if zone < 1 || zone > 60 {
			return 0, fmt.Errorf("%w: invalid UTM zone %d", ErrInvalidGeometry, zone)
		}
		north := !strings.EqualFold(m[2], "S")

		if strings.Contains(upper, "ETRS") && north {
			return geom.CRS(25800 + zone), nil
		}
		return geom.UTM(zone, north), nil
	}

	if m := gaussZonePattern.FindStringSubmatch(wkt); m != nil {
		zone, _ := strconv.Atoi(m[1])
		if c := geom.CRS(31464 + zone); zone >= 2 && zone <= 5 && c.Supported() {
			return c, nil
		}
		return 0, fmt.Errorf("%w: invalid Gauss-Krüger zone %d", ErrInvalidGeometry, zone)
	}

	for _, n := range namedSystems {
		if n.pattern.MatchString(wkt) && n.crs.Supported() {
			return n.crs, nil
		}
	}

	return 0, fmt.Errorf("%w: unrecognised projection in .prj", ErrInvalidGeometry)
}

func geographicWKT(upper string) (geom.CRS, error) {
	var c geom.CRS
	// TOWGS84 clauses mention WGS, so the specific datums are checked first.
	switch {
	case strings.Contains(upper, "ETRS"):
		c = geom.ETRS89
	case strings.Contains(upper, "DHDN") || strings.Contains(upper, "DEUTSCHES_HAUPTDREIECKSNETZ"):
		c = geom.DHDN
	case strings.Contains(upper, "MGI"):
		c = geom.MGI
	case strings.Contains(upper, "WGS"):
		c = geom.WGS84
	}
	if !c.Supported() {
		return 0, fmt.Errorf("%w: unsupported geographic datum in .prj", ErrInvalidGeometry)
	}
	return c, nil
}
