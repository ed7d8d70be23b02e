package geo

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/aerolab/flighttrials/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// GEO POINTS
// The lab frame is a local east/north/up frame in meters. An Origin pins its
// (0,0) to a WGS84 position so tracks can be exported with geodetic or
// EPSG:3857 coordinates.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Origin is the WGS84 position of the lab frame's (0,0).
type Origin struct {
	Longitude float64
	Latitude  float64
}

// ParseOrigin parses a "long,lat" string.
func ParseOrigin(coords string) (Origin, error) {
	parts := strings.Split(coords, ",")
	if len(parts) != 2 {
		return Origin{}, ErrInvalidCoordinates
	}
	long, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Origin{}, ErrInvalidCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Origin{}, ErrInvalidCoordinates
	}
	if long < -180 || long > 180 || lat < -85 || lat > 85 {
		return Origin{}, ErrInvalidCoordinates
	}
	return Origin{Longitude: long, Latitude: lat}, nil
}

// To3857 returns the EPSG:3857 position of a lab-frame point. Web Mercator
// stretches ground distances by sec(latitude), so lab meters are scaled by
// the origin's factor; over a lab-sized area the error is negligible.
func (o Origin) To3857(p core.Vec3) (x, y float64) {
	x0, y0, _ := wgs84.EPSG().Transform(4326, 3857)(o.Longitude, o.Latitude, 0)
	k := 1 / math.Cos(o.Latitude*math.Pi/180)
	return x0 + p.X*k, y0 + p.Y*k
}

// ToLonLat returns the WGS84 longitude and latitude of a lab-frame point.
func (o Origin) ToLonLat(p core.Vec3) (long, lat float64) {
	x, y := o.To3857(p)
	long, lat, _ = wgs84.EPSG().Transform(3857, 4326)(x, y, 0)
	return long, lat
}

// Point3857 returns a lab-frame point as an EPSG:3857 point with its height.
func (o Origin) Point3857(p core.Vec3) geom.Point {
	x, y := o.To3857(p)
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: x, Y: y},
		Z:    p.Z,
		Type: geom.DimXYZ,
	})
}
