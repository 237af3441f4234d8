// Package geo estimates great-circle distances between trip endpoints.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used by the haversine formula.
const EarthRadiusKm = float64(6371)

const degToRad = math.Pi / 180

// Distance returns the great-circle distance in kilometres between two points
// given in degrees. Identical points give 0 and NaN inputs give NaN.
func Distance(latFrom, lonFrom, latTo, lonTo float64) float64 {
	deltaLat := (latTo - latFrom) * degToRad
	deltaLon := (lonTo - lonFrom) * degToRad

	sinLat := math.Sin(deltaLat / 2)
	sinLon := math.Sin(deltaLon / 2)
	a := sinLat*sinLat +
		math.Cos(latFrom*degToRad)*math.Cos(latTo*degToRad)*sinLon*sinLon
	// rounding can push a just past 1 for near-antipodal points
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// Distances applies Distance element-wise over whole coordinate columns. All
// columns must have the same length.
func Distances(latFrom, lonFrom, latTo, lonTo []float64) []float64 {
	out := make([]float64, len(latFrom))
	for i := range out {
		out[i] = Distance(latFrom[i], lonFrom[i], latTo[i], lonTo[i])
	}
	return out
}
