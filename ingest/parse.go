package ingest

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"trip-pipeline/models"
)

// DurationUnit is the unit of the trip_duration input column.
type DurationUnit string

const (
	Seconds DurationUnit = "seconds"
	Minutes DurationUnit = "minutes"
)

var datetimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
}

// TimestampError reports a pickup timestamp that is present but cannot be
// parsed. Unlike a missing value it aborts the run.
type TimestampError struct {
	Row   int
	Value string
}

func (e *TimestampError) Error() string {
	return fmt.Sprintf("ingest: row %d: unparseable pickup_datetime %q", e.Row, e.Value)
}

// Batch is a parsed chunk. Frame carries the input columns; of the derived
// columns only TripDistanceKm and FareAmount may be set, and only when the
// source supplied them.
type Batch struct {
	Frame *models.TripFrame
	// SourceRows holds the 1-based data row number of each row.
	SourceRows []int
	// Keys is a hash of each row's canonical input values, used to detect
	// exact duplicates.
	Keys []uint64
	// Missing marks rows lacking a required value.
	Missing []bool

	DistanceSupplied bool
	FareSupplied     bool
}

// Len returns the number of rows in the batch.
func (b *Batch) Len() int {
	return len(b.Keys)
}

// Parse converts a chunk into typed columns. Unparseable numbers become NaN
// and mark the row as missing; an unparseable timestamp is an error.
func Parse(chunk *Chunk, schema Schema, unit DurationUnit) (*Batch, error) {
	df := chunk.Frame
	n := df.Nrow()

	pickup, err := parseDatetimes(df.Col(schema.Datetime).Records(), chunk.FirstRow)
	if err != nil {
		return nil, err
	}

	nanColumn := func() []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	pickupLon, pickupLat, dropoffLon, dropoffLat := nanColumn(), nanColumn(), nanColumn(), nanColumn()
	if schema.HasCoordinates {
		pickupLon = df.Col(ColPickupLongitude).Float()
		pickupLat = df.Col(ColPickupLatitude).Float()
		dropoffLon = df.Col(ColDropoffLongitude).Float()
		dropoffLat = df.Col(ColDropoffLatitude).Float()
	}

	duration := df.Col(schema.Duration).Float()
	if unit == Minutes && !schema.DurationInSeconds {
		scaled := make([]float64, n)
		for i, d := range duration {
			scaled[i] = d * 60
		}
		duration = scaled
	}

	rawPassengers := df.Col(schema.Passengers).Float()
	passengers := make([]int, n)
	badPassengers := make([]bool, n)
	for i, p := range rawPassengers {
		if math.IsNaN(p) || math.IsInf(p, 0) || p != math.Trunc(p) {
			badPassengers[i] = true
			continue
		}
		passengers[i] = int(p)
	}

	frame := &models.TripFrame{
		PickupDatetime:   pickup,
		PickupLongitude:  pickupLon,
		PickupLatitude:   pickupLat,
		DropoffLongitude: dropoffLon,
		DropoffLatitude:  dropoffLat,
		TripDurationSec:  duration,
		PassengerCount:   passengers,
	}
	batch := &Batch{
		Frame:            frame,
		SourceRows:       make([]int, n),
		Keys:             make([]uint64, n),
		Missing:          make([]bool, n),
		DistanceSupplied: schema.Distance != "",
		FareSupplied:     schema.Fare != "",
	}
	if batch.DistanceSupplied {
		frame.TripDistanceKm = df.Col(schema.Distance).Float()
	}
	if batch.FareSupplied {
		frame.FareAmount = df.Col(schema.Fare).Float()
	}

	for i := 0; i < n; i++ {
		batch.SourceRows[i] = chunk.FirstRow + i
		batch.Missing[i] = pickup[i].IsZero() || badPassengers[i] || math.IsNaN(duration[i])
		if schema.HasCoordinates && !batch.DistanceSupplied {
			batch.Missing[i] = batch.Missing[i] ||
				math.IsNaN(pickupLon[i]) || math.IsNaN(pickupLat[i]) ||
				math.IsNaN(dropoffLon[i]) || math.IsNaN(dropoffLat[i])
		}
		if batch.DistanceSupplied {
			batch.Missing[i] = batch.Missing[i] || math.IsNaN(frame.TripDistanceKm[i])
		}
		if batch.FareSupplied {
			batch.Missing[i] = batch.Missing[i] || math.IsNaN(frame.FareAmount[i])
		}
		batch.Keys[i] = rowKey(batch, i, rawPassengers[i])
	}

	return batch, nil
}

func parseDatetimes(values []string, firstRow int) ([]time.Time, error) {
	out := make([]time.Time, len(values))
	for i, v := range values {
		if v == "" || v == "NaN" {
			continue
		}
		ts, err := parseDatetime(v)
		if err != nil {
			return nil, &TimestampError{Row: firstRow + i, Value: v}
		}
		out[i] = ts
	}
	return out, nil
}

func parseDatetime(v string) (time.Time, error) {
	var lastErr error
	for _, layout := range datetimeLayouts {
		ts, err := time.Parse(layout, v)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// rowKey hashes the canonical form of row i's input values. Two rows with
// the same key are exact duplicates. Only the columns in Schema.Columns take
// part, so rows differing only in id or vendor_id share a key. Timestamps
// are compared as instants.
func rowKey(b *Batch, i int, passengers float64) uint64 {
	f := b.Frame
	d := xxhash.New()
	write := func(s string) {
		_, _ = d.WriteString(s)
		_, _ = d.WriteString("\x1f")
	}
	num := func(v float64) string {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}

	if ts := f.PickupDatetime[i]; !ts.IsZero() {
		write(ts.UTC().Format(time.RFC3339Nano))
	} else {
		write("")
	}
	write(num(f.PickupLongitude[i]))
	write(num(f.PickupLatitude[i]))
	write(num(f.DropoffLongitude[i]))
	write(num(f.DropoffLatitude[i]))
	write(num(f.TripDurationSec[i]))
	write(num(passengers))
	if b.DistanceSupplied {
		write(num(f.TripDistanceKm[i]))
	}
	if b.FareSupplied {
		write(num(f.FareAmount[i]))
	}
	return d.Sum64()
}
