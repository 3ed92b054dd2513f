// Package geo computes great-circle distances between stores.
//
// Distances are used as a logistics-cost proxy by the transfer matcher and
// to pick the nearest same-tier proxy store for cold-start forecasting.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used by Distance.
const EarthRadiusKm = 6371.0

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Distance returns the haversine distance between a and b in kilometres:
//
//	a = sin²(Δlat/2) + cos(lat1)·cos(lat2)·sin²(Δlon/2)
//	c = 2·atan2(√a, √(1−a))
//	d = R·c
func Distance(a, b Point) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*sinLon*sinLon

	// Rounding can push h a hair outside [0, 1] for antipodal points.
	h = math.Min(1, math.Max(0, h))

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// Nearest returns the index of the candidate closest to origin, or -1 when
// candidates is empty. The first candidate wins ties.
func Nearest(origin Point, candidates []Point) int {
	best := -1
	bestDist := math.Inf(1)
	for i, c := range candidates {
		if d := Distance(origin, c); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
