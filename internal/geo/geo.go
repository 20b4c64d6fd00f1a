// Package geo holds the coordinate helpers shared by the routing and display code.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// Point is a WGS84 coordinate in (lat, lon) order.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// keyScale is the 6-decimal rounding used for cache keys (~0.11 m of latitude).
const keyScale = 1e6

// Micro returns v rounded to 6 decimal places, expressed in micro-degrees.
func Micro(v float64) int64 {
	return int64(math.Round(v * keyScale))
}

// Round6 rounds v to 6 decimal places.
func Round6(v float64) float64 {
	return float64(Micro(v)) / keyScale
}

// Rounded returns p with both components rounded to 6 decimal places.
func (p Point) Rounded() Point {
	return Point{Lat: Round6(p.Lat), Lon: Round6(p.Lon)}
}

// Orb converts to orb's (lon, lat) ordering.
func (p Point) Orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// FromOrb converts an orb (lon, lat) point back to (lat, lon).
func FromOrb(p orb.Point) Point {
	return Point{Lat: p.Lat(), Lon: p.Lon()}
}

// DistanceMeters is the haversine distance between a and b.
func DistanceMeters(a, b Point) float64 {
	return orbgeo.DistanceHaversine(a.Orb(), b.Orb())
}

// StraightLine is the two-point segment drawn when no routed path is available.
func StraightLine(origin, destination Point) []Point {
	return []Point{origin, destination}
}
