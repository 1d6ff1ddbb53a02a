package models

import (
	"errors"
	"math"
	"time"
)

// MaxDistanceMeters caps reported distances so an unknown or antipodal
// position never yields an unbounded number.
const MaxDistanceMeters = 999_999.0

const earthRadiusMeters = 6_371_000.0

// GroundSample is a single accelerometer reading taken during a field check.
type GroundSample struct {
	AX float64   `json:"ax"`
	AY float64   `json:"ay"`
	AZ float64   `json:"az"`
	At time.Time `json:"at"`
}

// Magnitude is the combined absolute acceleration across the three axes.
func (g GroundSample) Magnitude() float64 {
	return math.Abs(g.AX) + math.Abs(g.AY) + math.Abs(g.AZ)
}

// GeoPoint is a WGS84 position.
type GeoPoint struct {
	Lat float64   `json:"lat" mapstructure:"latitude"`
	Lon float64   `json:"lon" mapstructure:"longitude"`
	At  time.Time `json:"at,omitempty" mapstructure:"-"`
}

// Validate checks the coordinate ranges.
func (p GeoPoint) Validate() error {
	if p.Lat < -90 || p.Lat > 90 || math.IsNaN(p.Lat) {
		return errors.New("latitude must be between -90 and 90")
	}
	if p.Lon < -180 || p.Lon > 180 || math.IsNaN(p.Lon) {
		return errors.New("longitude must be between -180 and 180")
	}
	return nil
}

// DistanceTo returns the great-circle distance in metres using the haversine
// formula, clamped to [0, MaxDistanceMeters].
func (p GeoPoint) DistanceTo(q GeoPoint) float64 {
	lat1 := p.Lat * math.Pi / 180
	lat2 := q.Lat * math.Pi / 180
	dLat := (q.Lat - p.Lat) * math.Pi / 180
	dLon := (q.Lon - p.Lon) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	d := 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	if math.IsNaN(d) || d > MaxDistanceMeters {
		return MaxDistanceMeters
	}
	return math.Max(0, d)
}
