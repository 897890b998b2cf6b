// Package geo provides the spherical geometry used to place and test
// capture zones. All functions are pure: the same inputs always produce
// bit-identical outputs, so the server and any client running the same
// math agree on zone layout without exchanging extra coordinates.
//
// Distances are meters on a sphere of radius EarthRadius, coordinates
// are WGS84 degrees, bearings are compass degrees clockwise from north.
package geo

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sort"
)

// EarthRadius is the mean earth radius in meters used by all
// great-circle math in this package.
const EarthRadius = 6371000.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether p is inside the WGS84 coordinate domain.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// Distance returns the great-circle distance between a and b in meters,
// computed with the haversine formula.
func Distance(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	return 2 * EarthRadius * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Bearing returns the initial compass bearing from a to b in degrees,
// normalized to [0, 360).
func Bearing(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLng := radians(b.Lng - a.Lng)

	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	return math.Mod(degrees(math.Atan2(y, x))+360, 360)
}

// Destination returns the point reached by traveling distance meters
// from origin along the given initial bearing in degrees.
func Destination(origin Point, bearing, distance float64) Point {
	ang := distance / EarthRadius
	brg := radians(bearing)
	lat1 := radians(origin.Lat)
	lng1 := radians(origin.Lng)

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(ang) + math.Cos(lat1)*math.Sin(ang)*math.Cos(brg))
	lng2 := lng1 + math.Atan2(
		math.Sin(brg)*math.Sin(ang)*math.Cos(lat1),
		math.Cos(ang)-math.Sin(lat1)*math.Sin(lat2),
	)
	// Normalize longitude to [-180, 180).
	lng2 = math.Mod(lng2+3*math.Pi, 2*math.Pi) - math.Pi
	return Point{Lat: degrees(lat2), Lng: degrees(lng2)}
}

// stepBearing derives the offset direction used when growing a zone of
// radius inner into one of radius outer around the given anchor. The
// bearing is an FNV-1a hash over the exact float bits of the inputs,
// scaled to [0, 360) with millidegree resolution. Hashing the raw bits
// keeps the result reproducible across machines and runs.
func stepBearing(anchor Point, inner, outer float64) float64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, f := range [...]float64{anchor.Lat, anchor.Lng, inner, outer} {
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(f))
		h.Write(buf[:])
	}
	return float64(h.Sum64()%360000) / 1000
}

// NestedZonePositions returns the center of each capture zone for the
// given radii, which must be sorted ascending. The smallest zone is
// centered on the anchor; every following zone is internally tangent to
// the one before it, its center pushed out from the previous center by
// the difference of the two radii along a deterministic bearing. The
// layout therefore never reveals the anchor as the centroid of the
// visible circles, and two parties computing it independently get the
// same centers.
//
// The returned slice is index-aligned with radii.
func NestedZonePositions(anchor Point, radii []float64) []Point {
	centers := make([]Point, len(radii))
	if len(radii) == 0 {
		return centers
	}
	centers[0] = anchor
	for i := 1; i < len(radii); i++ {
		gap := radii[i] - radii[i-1]
		brg := stepBearing(anchor, radii[i-1], radii[i])
		centers[i] = Destination(centers[i-1], brg, gap)
	}
	return centers
}

// InNestedArea reports whether p lies inside the union of the zones at
// or below the current radius level. levels may be passed in any order;
// entries larger than current are ignored. A point exactly on a zone
// boundary counts as inside.
func InNestedArea(p, anchor Point, current float64, levels []float64) bool {
	active := make([]float64, 0, len(levels))
	for _, r := range levels {
		if r <= current {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return false
	}
	sort.Float64s(active)
	centers := NestedZonePositions(anchor, active)
	for i, c := range centers {
		if Distance(p, c) <= active[i] {
			return true
		}
	}
	return false
}
