// Package geo provides great-circle math for flight track analysis.
package geo

import "math"

const (
	// EarthRadiusKm is the Earth's radius in kilometers (WGS84 mean radius)
	EarthRadiusKm = 6371.0

	// KmPerNauticalMile converts kilometers to nautical miles
	KmPerNauticalMile = 1.852

	// DegreesToRadians converts degrees to radians
	DegreesToRadians = math.Pi / 180.0
)

// Point is a position on Earth's surface in decimal degrees (WGS84).
type Point struct {
	Latitude  float64
	Longitude float64
}

// DistanceNauticalMiles calculates the great circle distance between
// two points using the Haversine formula.
func DistanceNauticalMiles(from, to Point) float64 {
	lat1Rad := from.Latitude * DegreesToRadians
	lon1Rad := from.Longitude * DegreesToRadians
	lat2Rad := to.Latitude * DegreesToRadians
	lon2Rad := to.Longitude * DegreesToRadians

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c / KmPerNauticalMile
}

// TrackDistanceNauticalMiles sums the leg distances of an ordered track.
// Tracks with fewer than two points have zero length.
func TrackDistanceNauticalMiles(points []Point) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += DistanceNauticalMiles(points[i-1], points[i])
	}
	return total
}
