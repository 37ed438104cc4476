package catalog

import (
	"github.com/planetlabs/go-ogc/filter"
)

// CloudCoverFilter builds the CQL2 expression eo:cloud_cover <= max.
func CloudCoverFilter(max float64) filter.BooleanExpression {
	return &filter.Comparison{
		Name:  "<=",
		Left:  &filter.Property{Name: CloudCoverProperty},
		Right: &filter.Number{Value: max},
	}
}

// FilterScenes applies the cloud cover limit client side, for providers that
// do not accept filter expressions. Scenes without cloud cover are kept.
func FilterScenes(scenes []Scene, max *float64) []Scene {
	if max == nil {
		return scenes
	}
	out := make([]Scene, 0, len(scenes))
	for _, s := range scenes {
		if s.CloudCover == nil || *s.CloudCover <= *max {
			out = append(out, s)
		}
	}
	return out
}
