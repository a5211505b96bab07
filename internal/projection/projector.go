package projection

import (
	"fmt"
	"math"

	"github.com/ctessum/geom/proj"
)

// HRRRProj is the HRRR Lambert Conformal Conic grid: a sphere of radius
// 6371229 m, standard and central parallel 38.5°, central meridian 262.5°.
const HRRRProj = "+proj=lcc +lat_1=38.5 +lat_2=38.5 +lat_0=38.5 +lon_0=262.5 +a=6371229 +b=6371229 +x_0=0 +y_0=0 +units=m +no_defs"

// geographicProj is longitude/latitude on the same sphere, so projecting
// involves no datum shift.
const geographicProj = "+proj=longlat +a=6371229 +b=6371229 +no_defs"

// Projector converts geographic coordinates to planar grid coordinates.
type Projector struct {
	forward proj.Transformer
}

// NewProjector builds a projector from geographic coordinates on the HRRR
// sphere to the projection defined by the proj4 string def.
func NewProjector(def string) (*Projector, error) {
	src, err := proj.Parse(geographicProj)
	if err != nil {
		return nil, fmt.Errorf("parse geographic projection: %w", err)
	}
	dst, err := proj.Parse(def)
	if err != nil {
		return nil, fmt.Errorf("parse grid projection %q: %w", def, err)
	}
	forward, err := src.NewTransform(dst)
	if err != nil {
		return nil, fmt.Errorf("create projection transform: %w", err)
	}
	return &Projector{forward: forward}, nil
}

// NewHRRRProjector returns a projector for the HRRR grid.
func NewHRRRProjector() (*Projector, error) {
	return NewProjector(HRRRProj)
}

// Project returns the planar (x, y) in meters for lat/lon in degrees. Any
// longitude convention works: 262.0 and -98.0 project to the same point.
func (p *Projector) Project(lat, lon float64) (x, y float64, err error) {
	x, y, err = p.forward(lon, lat)
	if err != nil {
		return 0, 0, fmt.Errorf("project (%v, %v): %w", lat, lon, err)
	}
	if math.IsNaN(x) || math.IsNaN(y) {
		return 0, 0, fmt.Errorf("project (%v, %v): no planar solution", lat, lon)
	}
	return x, y, nil
}
