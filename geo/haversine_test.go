package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name      string
		latlons   []float64
		distance  float64
		tolerance float64
	}{
		{
			name:      "identical points",
			latlons:   []float64{40.7580, -73.9855, 40.7580, -73.9855},
			distance:  0,
			tolerance: 1e-9,
		},
		{
			name:      "one micro degree of latitude",
			latlons:   []float64{37.967349, 23.730235, 37.967348, 23.730235},
			distance:  0.00011119492636381855,
			tolerance: 1e-12,
		},
		{
			name:      "antipodal on the equator",
			latlons:   []float64{0, 0, 0, 180},
			distance:  20015,
			tolerance: 1,
		},
		{
			name:      "antipodal through the poles",
			latlons:   []float64{90, 0, -90, 0},
			distance:  20015,
			tolerance: 1,
		},
		{
			name:      "antipodal mid latitude",
			latlons:   []float64{40.7128, -74.0060, -40.7128, 105.9940},
			distance:  20015,
			tolerance: 1,
		},
		{
			name:      "times square to jfk",
			latlons:   []float64{40.7580, -73.9855, 40.6413, -73.7781},
			distance:  21.8,
			tolerance: 0.5,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			d := Distance(test.latlons[0], test.latlons[1], test.latlons[2], test.latlons[3])
			assert.InDelta(t, test.distance, d, test.tolerance)
		})
	}
}

func TestDistanceNaNPropagates(t *testing.T) {
	assert.True(t, math.IsNaN(Distance(math.NaN(), 0, 1, 1)))
	assert.True(t, math.IsNaN(Distance(0, 0, 1, math.NaN())))
}

func TestDistancesMatchesScalar(t *testing.T) {
	latFrom := []float64{40.7580, 0, 51.5074, math.NaN()}
	lonFrom := []float64{-73.9855, 0, -0.1278, 0}
	latTo := []float64{40.6413, 0, 48.8566, 1}
	lonTo := []float64{-73.7781, 180, 2.3522, 1}

	got := Distances(latFrom, lonFrom, latTo, lonTo)
	assert.Len(t, got, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, Distance(latFrom[i], lonFrom[i], latTo[i], lonTo[i]), got[i])
	}
	assert.True(t, math.IsNaN(got[3]))
}

func BenchmarkDistances(b *testing.B) {
	const n = 10000
	latFrom, lonFrom := make([]float64, n), make([]float64, n)
	latTo, lonTo := make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		latFrom[i], lonFrom[i] = 40.7+float64(i)*1e-5, -73.9
		latTo[i], lonTo[i] = 40.6, -73.8-float64(i)*1e-5
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Distances(latFrom, lonFrom, latTo, lonTo)
	}
}
