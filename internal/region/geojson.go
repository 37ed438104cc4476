package region

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/paulmach/orb/geojson"

	"github.com/robert-malhotra/fieldscenes/internal/geom"
)

// envelope captures the members orb/geojson does not model: the top-level type
// and the pre-RFC 7946 named CRS.
type envelope struct {
	Type string `json:"type"`
	CRS  *struct {
		Type       string `json:"type"`
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	} `json:"crs"`
}

func readGeoJSON(path string) (*feature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %s is not valid GeoJSON: %v", ErrInvalidGeometry, path, err)
	}

	crs := geom.WGS84
	if env.CRS != nil && env.CRS.Properties.Name != "" {
		crs, err = geom.ParseCRS(env.CRS.Properties.Name)
		if err != nil {
			return nil, err
		}
	}

	var f *geojson.Feature
	switch env.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidGeometry, path, err)
		}
		if len(fc.Features) != 1 {
			return nil, featureCountError(path, len(fc.Features))
		}
		f = fc.Features[0]
	case "Feature":
		f, err = geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidGeometry, path, err)
		}
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidGeometry, path, err)
		}
		f = geojson.NewFeature(g.Geometry())
	}

	attrs := make(map[string]string, len(f.Properties))
	for k, v := range f.Properties {
		if v == nil {
			continue
		}
		if n, ok := v.(float64); ok && n == math.Trunc(n) {
			attrs[k] = strconv.FormatInt(int64(n), 10)
			continue
		}
		attrs[k] = fmt.Sprint(v)
	}
	if _, ok := attrs["fid"]; !ok && f.ID != nil {
		attrs["fid"] = fmt.Sprint(f.ID)
	}

	return &feature{geometry: f.Geometry, attributes: attrs, crs: crs}, nil
}
