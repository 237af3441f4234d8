package services

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trip-pipeline/models"
	"trip-pipeline/utils"
)

func sampleTrips() []*models.CleanedTrip {
	at := func(h int) time.Time { return time.Date(2016, 3, 14, h, 5, 0, 0, time.UTC) }
	return []*models.CleanedTrip{
		{PickupDatetime: at(8), PickupLatitude: 40.7580, PickupLongitude: -73.9855, DropoffLatitude: 40.7484, DropoffLongitude: -73.9857,
			TripDistanceKm: 2, FareAmount: 10, TripSpeedKmh: 20, PickupHour: 8},
		{PickupDatetime: at(8), PickupLatitude: 40.7581, PickupLongitude: -73.9854, DropoffLatitude: 40.7484, DropoffLongitude: -73.9857,
			TripDistanceKm: 4, FareAmount: 20, TripSpeedKmh: 40, PickupHour: 8},
		{PickupDatetime: at(17), PickupLatitude: 40.6413, PickupLongitude: -73.7781, DropoffLatitude: 40.7580, DropoffLongitude: -73.9855,
			TripDistanceKm: 21, FareAmount: 61, TripSpeedKmh: 95, PickupHour: 17, SpeedOutlier: true},
		{PickupDatetime: at(23), PickupLatitude: math.NaN(), PickupLongitude: math.NaN(), DropoffLatitude: math.NaN(), DropoffLongitude: math.NaN(),
			TripDistanceKm: 1, FareAmount: 5.5, TripSpeedKmh: 12, PickupHour: 23},
	}
}

func TestSummarize(t *testing.T) {
	sum := Summarize(sampleTrips())
	assert.Equal(t, 4, sum.TotalTrips)
	assert.Equal(t, 1, sum.TotalOutliers)
	assert.Equal(t, 7.0, sum.AvgDistanceKm)
	assert.Equal(t, 24.13, sum.AvgFare)
}

func TestSummarizeEmpty(t *testing.T) {
	assert.Equal(t, models.TripSummary{}, Summarize(nil))
}

func TestHourlyMetrics(t *testing.T) {
	metrics := HourlyMetrics(sampleTrips())
	require.Len(t, metrics, 3)

	assert.Equal(t, models.HourlyMetric{Hour: 8, Trips: 2, AvgSpeed: 30, AvgFare: 15}, metrics[0])
	assert.Equal(t, 17, metrics[1].Hour)
	assert.Equal(t, 23, metrics[2].Hour)
}

func TestPickupCells(t *testing.T) {
	cells := PickupCells(sampleTrips(), 5, 0)
	require.Len(t, cells, 2, "trips without coordinates are skipped")

	assert.Equal(t, 2, cells[0].Trips)
	assert.Len(t, cells[0].Geohash, 5)
	assert.Equal(t, 1, cells[1].Trips)

	limited := PickupCells(sampleTrips(), 5, 1)
	assert.Len(t, limited, 1)
}

func TestInsightGenerate(t *testing.T) {
	svc := NewInsightService(utils.Discard(), TopKPeaks{K: 1})
	r := svc.Generate(sampleTrips())

	assert.Equal(t, 4, r.Summary.TotalTrips)
	assert.Equal(t, []int{8}, r.PeakHours)
	assert.Equal(t, PeakPolicyTopK, r.PeakPolicy)
	require.NotNil(t, r.FastestTrip)
	assert.Equal(t, 95.0, r.FastestTrip.TripSpeedKmh)
	assert.NotEmpty(t, r.TopCells)
}

func TestInsightGenerateEmpty(t *testing.T) {
	svc := NewInsightService(utils.Discard(), StatisticalPeaks{StdDevs: 1})
	r := svc.Generate(nil)

	assert.Zero(t, r.Summary.TotalTrips)
	assert.Empty(t, r.Hourly)
	assert.Empty(t, r.PeakHours)
	assert.Nil(t, r.FastestTrip)
}
