package ingest

import (
	"fmt"
	"strings"
)

// Input column names. The *_sec / *_km spellings are the cleaned dataset's
// own names, accepted so the pipeline can re-read its output.
const (
	ColPickupDatetime   = "pickup_datetime"
	ColPickupLongitude  = "pickup_longitude"
	ColPickupLatitude   = "pickup_latitude"
	ColDropoffLongitude = "dropoff_longitude"
	ColDropoffLatitude  = "dropoff_latitude"
	ColTripDuration     = "trip_duration"
	ColTripDurationSec  = "trip_duration_sec"
	ColPassengerCount   = "passenger_count"
	ColTripDistance     = "trip_distance"
	ColTripDistanceKm   = "trip_distance_km"
	ColFareAmount       = "fare_amount"
)

var coordinateColumns = []string{ColPickupLongitude, ColPickupLatitude, ColDropoffLongitude, ColDropoffLatitude}

// SchemaError reports required input columns that are absent. It is fatal:
// no rows are processed.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: missing required column(s): %s", strings.Join(e.Missing, ", "))
}

// Schema records which input columns a source provides. Empty names mean the
// column is absent.
type Schema struct {
	Datetime   string
	Duration   string
	Passengers string
	Distance   string
	Fare       string

	// DurationInSeconds is true when Duration is trip_duration_sec, which is
	// seconds regardless of the configured input unit.
	DurationInSeconds bool
	HasCoordinates    bool
}

// Columns lists the input columns the pipeline reads, in a stable order.
func (s Schema) Columns() []string {
	cols := []string{s.Datetime}
	if s.HasCoordinates {
		cols = append(cols, coordinateColumns...)
	}
	cols = append(cols, s.Duration, s.Passengers)
	if s.Distance != "" {
		cols = append(cols, s.Distance)
	}
	if s.Fare != "" {
		cols = append(cols, s.Fare)
	}
	return cols
}

// ResolveSchema checks header for the required columns. A source must carry
// a pickup timestamp, a duration, a passenger count, and either a distance
// or all four coordinates.
func ResolveSchema(header []string) (Schema, error) {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[strings.ToLower(strings.TrimSpace(h))] = true
	}
	first := func(names ...string) string {
		for _, n := range names {
			if present[n] {
				return n
			}
		}
		return ""
	}

	var s Schema
	var missing []string

	if s.Datetime = first(ColPickupDatetime); s.Datetime == "" {
		missing = append(missing, ColPickupDatetime)
	}
	if s.Duration = first(ColTripDurationSec, ColTripDuration); s.Duration == "" {
		missing = append(missing, ColTripDuration)
	}
	s.DurationInSeconds = s.Duration == ColTripDurationSec
	if s.Passengers = first(ColPassengerCount); s.Passengers == "" {
		missing = append(missing, ColPassengerCount)
	}

	s.Distance = first(ColTripDistanceKm, ColTripDistance)
	s.Fare = first(ColFareAmount)

	var absentCoords []string
	for _, c := range coordinateColumns {
		if !present[c] {
			absentCoords = append(absentCoords, c)
		}
	}
	s.HasCoordinates = len(absentCoords) == 0
	if s.Distance == "" && !s.HasCoordinates {
		missing = append(missing, absentCoords...)
		missing = append(missing, ColTripDistance)
	}

	if len(missing) > 0 {
		return Schema{}, &SchemaError{Missing: missing}
	}
	return s, nil
}
