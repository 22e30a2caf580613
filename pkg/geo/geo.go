// Package geo holds the coordinate validation and bounding-box math shared
// by the ingestion pipeline, the basemap selector, and the HTTP layer.
//
// Everything here is pure: the same inputs always produce the same bounds,
// so callers can recompute instead of caching.
package geo

import (
	"fmt"
	"math"
)

// Point is a single WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Bounds is a min/max latitude/longitude rectangle.
type Bounds struct {
	MinLat float64 `json:"minLat"`
	MinLon float64 `json:"minLon"`
	MaxLat float64 `json:"maxLat"`
	MaxLon float64 `json:"maxLon"`
}

// DefaultBufferFeet is the margin applied around dataset bounds before the
// map view is fitted, so markers never sit flush against the viewport edge.
const DefaultBufferFeet = 2000.0

const (
	feetPerMeter    = 0.3048
	metersPerDegree = 111320.0
	// cosFloor keeps the longitude conversion finite near the poles where
	// cos(lat) approaches zero.
	cosFloor = 0.01
)

// Validate checks a raw coordinate pair. Both values must be finite and
// within |lat| <= 90, |lon| <= 180. Zero/zero is a valid location.
func Validate(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return fmt.Errorf("invalid coordinates: lat=%v lon=%v", lat, lon)
	}
	if math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return fmt.Errorf("invalid coordinates: lat=%v lon=%v", lat, lon)
	}
	return nil
}

// ComputeBounds returns the tight rectangle spanning every point.
// The second return is false when the slice is empty.
func ComputeBounds(points []Point) (Bounds, bool) {
	if len(points) == 0 {
		return Bounds{}, false
	}
	b := Bounds{MinLat: 90, MinLon: 180, MaxLat: -90, MaxLon: -180}
	for _, p := range points {
		if p.Lat < b.MinLat {
			b.MinLat = p.Lat
		}
		if p.Lat > b.MaxLat {
			b.MaxLat = p.Lat
		}
		if p.Lon < b.MinLon {
			b.MinLon = p.Lon
		}
		if p.Lon > b.MaxLon {
			b.MaxLon = p.Lon
		}
	}
	return b, true
}

// Buffered expands the rectangle by a real-world distance on all four sides.
// A non-positive buffer returns the input unchanged. The longitude delta is
// scaled by the cosine of the center latitude, floored at cosFloor.
func Buffered(b Bounds, bufferFeet float64) Bounds {
	if bufferFeet <= 0 {
		return b
	}
	meters := bufferFeet * feetPerMeter
	latDelta := meters / metersPerDegree
	centerLat := (b.MinLat + b.MaxLat) / 2 * (math.Pi / 180)
	latFactor := math.Max(math.Cos(centerLat), cosFloor)
	lonDelta := meters / (metersPerDegree * latFactor)
	return Bounds{
		MinLat: b.MinLat - latDelta,
		MinLon: b.MinLon - lonDelta,
		MaxLat: b.MaxLat + latDelta,
		MaxLon: b.MaxLon + lonDelta,
	}
}

// Contains reports whether the point lies on or inside the rectangle.
func (b Bounds) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}
