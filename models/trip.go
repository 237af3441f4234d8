package models

import (
	"math"
	"time"
)

// DatetimeLayout is the timestamp format written to the cleaned dataset.
// Fractional seconds are only printed when present.
const DatetimeLayout = "2006-01-02 15:04:05.999999999"

// CleanedColumns is the fixed column order of the cleaned dataset. The CSV
// and Parquet sinks and the database loader all rely on it.
var CleanedColumns = []string{
	"pickup_datetime",
	"pickup_longitude",
	"pickup_latitude",
	"dropoff_longitude",
	"dropoff_latitude",
	"trip_duration_sec",
	"passenger_count",
	"trip_distance_km",
	"fare_amount",
	"trip_speed_kmh",
	"fare_per_km",
	"pickup_hour",
	"speed_outlier",
}

// CleanedTrip is one validated, enriched trip. Coordinates are NaN when the
// source supplied a distance instead of coordinates.
type CleanedTrip struct {
	ID               int64     `json:"id,omitempty"`
	PickupDatetime   time.Time `json:"pickup_datetime"`
	PickupLongitude  float64   `json:"pickup_longitude"`
	PickupLatitude   float64   `json:"pickup_latitude"`
	DropoffLongitude float64   `json:"dropoff_longitude"`
	DropoffLatitude  float64   `json:"dropoff_latitude"`
	TripDurationSec  float64   `json:"trip_duration_sec"`
	PassengerCount   int       `json:"passenger_count"`
	TripDistanceKm   float64   `json:"trip_distance_km"`
	FareAmount       float64   `json:"fare_amount"`
	TripSpeedKmh     float64   `json:"trip_speed_kmh"`
	FarePerKm        float64   `json:"fare_per_km"`
	PickupHour       int       `json:"pickup_hour"`
	SpeedOutlier     bool      `json:"speed_outlier"`
}

// HasCoordinates reports whether the pickup and dropoff points are known.
func (t *CleanedTrip) HasCoordinates() bool {
	return !math.IsNaN(t.PickupLatitude) && !math.IsNaN(t.PickupLongitude) &&
		!math.IsNaN(t.DropoffLatitude) && !math.IsNaN(t.DropoffLongitude)
}

// TripFrame is a column-oriented batch of trips. Every slice has the same
// length. Pipeline stages never modify a frame they are given; they build a
// new one.
type TripFrame struct {
	PickupDatetime   []time.Time
	PickupLongitude  []float64
	PickupLatitude   []float64
	DropoffLongitude []float64
	DropoffLatitude  []float64
	TripDurationSec  []float64
	PassengerCount   []int
	TripDistanceKm   []float64
	FareAmount       []float64
	TripSpeedKmh     []float64
	FarePerKm        []float64
	PickupHour       []int
	SpeedOutlier     []bool
}

// Len returns the number of rows.
func (f *TripFrame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.PickupDatetime)
}

// Take returns a new frame holding the rows at idx, in that order.
func (f *TripFrame) Take(idx []int) *TripFrame {
	return &TripFrame{
		PickupDatetime:   take(f.PickupDatetime, idx),
		PickupLongitude:  take(f.PickupLongitude, idx),
		PickupLatitude:   take(f.PickupLatitude, idx),
		DropoffLongitude: take(f.DropoffLongitude, idx),
		DropoffLatitude:  take(f.DropoffLatitude, idx),
		TripDurationSec:  take(f.TripDurationSec, idx),
		PassengerCount:   take(f.PassengerCount, idx),
		TripDistanceKm:   take(f.TripDistanceKm, idx),
		FareAmount:       take(f.FareAmount, idx),
		TripSpeedKmh:     take(f.TripSpeedKmh, idx),
		FarePerKm:        take(f.FarePerKm, idx),
		PickupHour:       take(f.PickupHour, idx),
		SpeedOutlier:     take(f.SpeedOutlier, idx),
	}
}

// Clone returns a copy whose slices do not alias f.
func (f *TripFrame) Clone() *TripFrame {
	idx := make([]int, f.Len())
	for i := range idx {
		idx[i] = i
	}
	return f.Take(idx)
}

// Row materialises row i as a CleanedTrip.
func (f *TripFrame) Row(i int) *CleanedTrip {
	return &CleanedTrip{
		PickupDatetime:   f.PickupDatetime[i],
		PickupLongitude:  f.PickupLongitude[i],
		PickupLatitude:   f.PickupLatitude[i],
		DropoffLongitude: f.DropoffLongitude[i],
		DropoffLatitude:  f.DropoffLatitude[i],
		TripDurationSec:  f.TripDurationSec[i],
		PassengerCount:   f.PassengerCount[i],
		TripDistanceKm:   f.TripDistanceKm[i],
		FareAmount:       f.FareAmount[i],
		TripSpeedKmh:     f.TripSpeedKmh[i],
		FarePerKm:        f.FarePerKm[i],
		PickupHour:       f.PickupHour[i],
		SpeedOutlier:     f.SpeedOutlier[i],
	}
}

// Rows materialises every row.
func (f *TripFrame) Rows() []*CleanedTrip {
	out := make([]*CleanedTrip, f.Len())
	for i := range out {
		out[i] = f.Row(i)
	}
	return out
}

// take returns a new slice with src's elements at idx. A nil src (a column
// not yet computed) stays nil.
func take[T any](src []T, idx []int) []T {
	if src == nil {
		return nil
	}
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = src[j]
	}
	return out
}
