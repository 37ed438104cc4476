package geom

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// BoundingBox is an axis-aligned box in a projected CRS, in meters.
type BoundingBox struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
	CRS  CRS
}

// Width returns the east-west extent.
func (b BoundingBox) Width() float64 { return b.MaxX - b.MinX }

// Height returns the north-south extent.
func (b BoundingBox) Height() float64 { return b.MaxY - b.MinY }

// Slice returns [minx, miny, maxx, maxy].
func (b BoundingBox) Slice() []float64 {
	return []float64{b.MinX, b.MinY, b.MaxX, b.MaxY}
}

// Dimensions returns the pixel width and height at the given resolution.
// It fails when either side is not an integer number of pixels.
func (b BoundingBox) Dimensions(resolution float64) (int, int, error) {
	if resolution <= 0 {
		return 0, 0, fmt.Errorf("resolution must be positive, got %g", resolution)
	}

	w, h := b.Width()/resolution, b.Height()/resolution
	wi, hi := math.Round(w), math.Round(h)
	if math.Abs(w-wi) > 1e-6 || math.Abs(h-hi) > 1e-6 {
		return 0, 0, fmt.Errorf("bbox %gx%g is not a multiple of resolution %g", b.Width(), b.Height(), resolution)
	}
	return int(wi), int(hi), nil
}

// Footprint is the normalized form of one region geometry.
type Footprint struct {
	// Geographic is the geometry in WGS84 lon/lat, used for intersect queries.
	Geographic orb.Geometry
	// GeographicBound is the lon/lat bound of the padded, rounded bounding box.
	GeographicBound orb.Bound
	// Projected is the geometry in the target projected CRS, used for clipping.
	Projected orb.Geometry
	BBox      BoundingBox
	Width     int
	Height    int
}

// Normalizer converts region geometries into pixel-aligned bounding boxes.
type Normalizer struct {
	// Resolution is the ground sample distance in meters per pixel.
	Resolution float64
	// Buffer is a symmetric margin in meters added on every side before rounding.
	Buffer float64
	// RoundStep is the multiple every edge is rounded to. Zero means Resolution.
	RoundStep float64
	// MaxPixels is the per-side pixel limit. Zero disables the check.
	MaxPixels int
}

// ToGeographic reprojects a geometry into WGS84.
func ToGeographic(g orb.Geometry, from CRS) (orb.Geometry, error) {
	return Reproject(g, from, WGS84)
}

// Reproject converts a geometry between two supported CRSs. The input is not modified.
func Reproject(g orb.Geometry, from, to CRS) (orb.Geometry, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: geometry is nil", ErrInvalidGeometry)
	}
	if !from.Supported() {
		return nil, fmt.Errorf("%w: unsupported source CRS %s", ErrInvalidGeometry, from)
	}
	if !to.Supported() {
		return nil, fmt.Errorf("%w: unsupported target CRS %s", ErrInvalidGeometry, to)
	}
	if from == to {
		return orb.Clone(g), nil
	}

	return transform(g, from, to), nil
}

// BoundingBox computes the buffered, rounded bounding box of g in target.
// When target is zero a projected CRS is chosen: the source CRS if it is a
// UTM zone, otherwise the UTM zone of the geometry centre.
func (n Normalizer) BoundingBox(g orb.Geometry, from, target CRS) (BoundingBox, error) {
	_, bbox, err := n.project(g, from, target)
	return bbox, err
}

// Normalize validates g and produces its full footprint.
func (n Normalizer) Normalize(g orb.Geometry, from, target CRS) (*Footprint, error) {
	if err := ValidateArea(g); err != nil {
		return nil, err
	}

	projected, bbox, err := n.project(g, from, target)
	if err != nil {
		return nil, err
	}

	w, h, err := bbox.Dimensions(n.Resolution)
	if err != nil {
		return nil, err
	}
	if n.MaxPixels > 0 && (w > n.MaxPixels || h > n.MaxPixels) {
		return nil, fmt.Errorf("%w: %dx%d px exceeds %d px per side at %gm, split the region",
			ErrExtentTooLarge, w, h, n.MaxPixels, n.Resolution)
	}

	geographic, err := ToGeographic(g, from)
	if err != nil {
		return nil, err
	}

	corners := orb.MultiPoint{
		{bbox.MinX, bbox.MinY}, {bbox.MaxX, bbox.MinY},
		{bbox.MaxX, bbox.MaxY}, {bbox.MinX, bbox.MaxY},
	}
	geoCorners, err := Reproject(corners, bbox.CRS, WGS84)
	if err != nil {
		return nil, err
	}

	return &Footprint{
		Geographic:      geographic,
		GeographicBound: geoCorners.Bound(),
		Projected:       projected,
		BBox:            bbox,
		Width:           w,
		Height:          h,
	}, nil
}

func (n Normalizer) project(g orb.Geometry, from, target CRS) (orb.Geometry, BoundingBox, error) {
	if from == 0 {
		return nil, BoundingBox{}, fmt.Errorf("%w: no CRS could be determined", ErrInvalidGeometry)
	}
	if g == nil {
		return nil, BoundingBox{}, fmt.Errorf("%w: geometry is nil", ErrInvalidGeometry)
	}

	if target == 0 {
		if _, _, ok := from.UTMZone(); ok {
			target = from
		} else {
			geographic, err := ToGeographic(g, from)
			if err != nil {
				return nil, BoundingBox{}, err
			}
			target = EstimateUTM(geographic)
		}
	}
	if target.IsGeographic() {
		return nil, BoundingBox{}, fmt.Errorf("%w: target CRS %s is not projected", ErrInvalidGeometry, target)
	}

	projected, err := Reproject(g, from, target)
	if err != nil {
		return nil, BoundingBox{}, err
	}

	bound := projected.Bound()
	step := n.RoundStep
	if step <= 0 {
		step = n.Resolution
	}
	if step <= 0 {
		return nil, BoundingBox{}, fmt.Errorf("rounding step must be positive")
	}

	bbox := BoundingBox{
		MinX: roundTo(bound.Min.X()-n.Buffer, step),
		MinY: roundTo(bound.Min.Y()-n.Buffer, step),
		MaxX: roundTo(bound.Max.X()+n.Buffer, step),
		MaxY: roundTo(bound.Max.Y()+n.Buffer, step),
		CRS:  target,
	}

	// Sub-step geometries can round to a zero-width box.
	if bbox.MaxX <= bbox.MinX {
		bbox.MaxX = bbox.MinX + step
	}
	if bbox.MaxY <= bbox.MinY {
		bbox.MaxY = bbox.MinY + step
	}

	return projected, bbox, nil
}

// ValidateArea checks that g is a non-empty Polygon or MultiPolygon.
func ValidateArea(g orb.Geometry) error {
	switch v := g.(type) {
	case orb.Polygon:
		if len(v) == 0 || len(v[0]) < 4 {
			return fmt.Errorf("%w: polygon has no exterior ring", ErrInvalidGeometry)
		}
	case orb.MultiPolygon:
		if len(v) == 0 {
			return fmt.Errorf("%w: empty multipolygon", ErrInvalidGeometry)
		}
		for _, p := range v {
			if len(p) == 0 || len(p[0]) < 4 {
				return fmt.Errorf("%w: multipolygon member has no exterior ring", ErrInvalidGeometry)
			}
		}
	case nil:
		return fmt.Errorf("%w: geometry is nil", ErrInvalidGeometry)
	default:
		return fmt.Errorf("%w: unsupported geometry type %s", ErrInvalidGeometry, g.GeoJSONType())
	}
	return nil
}

func roundTo(v, step float64) float64 {
	return math.Round(v/step) * step
}
