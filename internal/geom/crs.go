// Package geom normalizes region geometries into catalog query geometries and
// pixel-aligned projected bounding boxes.
package geom

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// CRS is a coordinate reference system identified by its EPSG code.
type CRS int

// WGS84 is the geographic lon/lat reference used by catalog queries.
const WGS84 CRS = 4326

// Other geographic systems field boundaries are commonly delivered in.
const (
	ETRS89 CRS = 4258
	DHDN   CRS = 4314
	MGI    CRS = 4312
)

const (
	utmNorthBase  = 32600
	utmSouthBase  = 32700
	etrs89UTMBase = 25800
)

// UTM returns the WGS84 UTM zone CRS for the given zone and hemisphere.
func UTM(zone int, north bool) CRS {
	if north {
		return CRS(utmNorthBase + zone)
	}
	return CRS(utmSouthBase + zone)
}

// String returns the "EPSG:nnnn" form.
func (c CRS) String() string {
	return "EPSG:" + strconv.Itoa(int(c))
}

// URL returns the OGC definition URL used by the processing API.
func (c CRS) URL() string {
	return fmt.Sprintf("http://www.opengis.net/def/crs/EPSG/0/%d", int(c))
}

// IsGeographic reports whether coordinates are lon/lat degrees.
func (c CRS) IsGeographic() bool {
	switch c {
	case WGS84, ETRS89, DHDN, MGI:
		return true
	}
	return false
}

// UTMZone returns the zone and hemisphere of a supported UTM CRS.
func (c CRS) UTMZone() (zone int, north bool, ok bool) {
	code := int(c)
	switch {
	case code > utmNorthBase && code <= utmNorthBase+60:
		return code - utmNorthBase, true, true
	case code > utmSouthBase && code <= utmSouthBase+60:
		return code - utmSouthBase, false, true
	case code > etrs89UTMBase && code <= etrs89UTMBase+60:
		return code - etrs89UTMBase, true, true
	}
	return 0, false, false
}

// Supported reports whether a transformation to and from WGS84 is known for
// the CRS.
func (c CRS) Supported() bool {
	if c <= 0 {
		return false
	}
	return c == WGS84 || registry.Code(int(c)) != nil
}

// ParseCRS accepts "EPSG:32632", "32632", "urn:ogc:def:crs:EPSG::32632",
// OGC definition URLs and the CRS84 URN.
func ParseCRS(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty CRS", ErrInvalidGeometry)
	}

	upper := strings.ToUpper(s)
	if strings.HasSuffix(upper, "CRS84") {
		return WGS84, nil
	}

	idx := strings.LastIndexAny(s, ":/")
	code, err := strconv.Atoi(s[idx+1:])
	if err != nil || code <= 0 {
		return 0, fmt.Errorf("%w: cannot parse CRS %q", ErrInvalidGeometry, s)
	}

	c := CRS(code)
	if !c.Supported() {
		return 0, fmt.Errorf("%w: unsupported CRS %s", ErrInvalidGeometry, c)
	}
	return c, nil
}

// EstimateUTM picks the UTM zone containing the centre of a geographic geometry.
func EstimateUTM(g orb.Geometry) CRS {
	center := g.Bound().Center()
	lon, lat := center.X(), center.Y()

	zone := int(math.Floor((lon+180)/6)) + 1
	if zone < 1 {
		zone = 1
	}
	if zone > 60 {
		zone = 60
	}
	return UTM(zone, lat >= 0)
}
