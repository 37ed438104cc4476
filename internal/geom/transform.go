package geom

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/wroge/wgs84"
)

// registry holds the EPSG definitions coordinates can be transformed between.
var registry = wgs84.EPSG()

// transformer returns the point transform between two supported CRSs.
func transformer(from, to CRS) orb.Projection {
	f := registry.Transform(int(from), int(to))
	return func(p orb.Point) orb.Point {
		x, y, _ := f(p.X(), p.Y(), 0)
		return orb.Point{x, y}
	}
}

func transform(g orb.Geometry, from, to CRS) orb.Geometry {
	return project.Geometry(orb.Clone(g), transformer(from, to))
}
