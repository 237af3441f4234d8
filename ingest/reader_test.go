package ingest

import (
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const coordCSV = `id,pickup_datetime,pickup_longitude,pickup_latitude,dropoff_longitude,dropoff_latitude,passenger_count,trip_duration
a,2016-03-14 17:24:55,-73.982155,40.767937,-73.964630,40.765602,1,455
b,2016-06-12 00:43:35,-73.980415,40.738564,-73.999481,40.731152,1,663
c,2016-01-19 11:35:24,-73.979027,40.763939,-74.005333,40.710087,1,2124
d,2016-04-06 19:32:31,-74.010040,40.719971,-74.012268,40.706718,1,429
e,2016-03-26 13:30:55,-73.973053,40.793209,-73.972923,40.782520,1,435
`

func TestResolveSchema(t *testing.T) {
	tests := []struct {
		name    string
		header  []string
		check   func(s Schema)
		missing []string
	}{
		{
			name:   "coordinates only",
			header: strings.Split("pickup_datetime,pickup_longitude,pickup_latitude,dropoff_longitude,dropoff_latitude,trip_duration,passenger_count", ","),
			check: func(s Schema) {
				assert.True(t, s.HasCoordinates)
				assert.Empty(t, s.Distance)
				assert.Empty(t, s.Fare)
				assert.False(t, s.DurationInSeconds)
			},
		},
		{
			name:   "distance and fare supplied",
			header: []string{"fare_amount", "trip_distance", "trip_duration", "Pickup_Datetime", "passenger_count"},
			check: func(s Schema) {
				assert.False(t, s.HasCoordinates)
				assert.Equal(t, ColTripDistance, s.Distance)
				assert.Equal(t, ColFareAmount, s.Fare)
			},
		},
		{
			name:   "cleaned dataset columns",
			header: []string{"pickup_datetime", "trip_duration_sec", "passenger_count", "trip_distance_km", "fare_amount", "trip_speed_kmh"},
			check: func(s Schema) {
				assert.Equal(t, ColTripDurationSec, s.Duration)
				assert.True(t, s.DurationInSeconds)
				assert.Equal(t, ColTripDistanceKm, s.Distance)
			},
		},
		{
			name:    "no distance and partial coordinates",
			header:  []string{"pickup_datetime", "pickup_longitude", "pickup_latitude", "trip_duration", "passenger_count"},
			missing: []string{ColDropoffLongitude, ColDropoffLatitude, ColTripDistance},
		},
		{
			name:    "missing duration and passengers",
			header:  []string{"pickup_datetime", "trip_distance"},
			missing: []string{ColTripDuration, ColPassengerCount},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s, err := ResolveSchema(test.header)
			if test.missing != nil {
				var schemaErr *SchemaError
				require.True(t, errors.As(err, &schemaErr))
				assert.Equal(t, test.missing, schemaErr.Missing)
				return
			}
			require.NoError(t, err)
			test.check(s)
		})
	}
}

func TestReaderChunks(t *testing.T) {
	r, err := NewReader(strings.NewReader(coordCSV), 2)
	require.NoError(t, err)

	var sizes, firstRows []int
	for {
		chunk, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, chunk.Len())
		firstRows = append(firstRows, chunk.FirstRow)
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []int{1, 3, 5}, firstRows)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderWholeFile(t *testing.T) {
	r, err := NewReader(strings.NewReader(coordCSV), 0)
	require.NoError(t, err)

	chunk, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, 5, chunk.Len())
	assert.Equal(t, r.Schema().Columns(), chunk.Frame.Names())
}

func TestReaderSchemaError(t *testing.T) {
	_, err := NewReader(strings.NewReader("pickup_datetime,passenger_count\n2016-01-01 00:00:00,1\n"), 10)
	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Contains(t, schemaErr.Missing, ColTripDuration)

	_, err = NewReader(strings.NewReader(""), 10)
	require.True(t, errors.As(err, &schemaErr))
}

func TestParse(t *testing.T) {
	data := `pickup_datetime,trip_distance,trip_duration,passenger_count,fare_amount
2016-03-14 17:24:55,2.5,10,1,12.5
,3.0,12,2,14.0
2016-03-14T18:00:00,NA,7,1,9.0
2016-03-14 19:00:00,1.2,4,1.5,6.0
2016-03-14 17:24:55,2.5,10,1,12.5
2016-03-14 20:00:00,oops,4,1,6.0
`
	r, err := NewReader(strings.NewReader(data), 0)
	require.NoError(t, err)
	chunk, err := r.Next()
	require.NoError(t, err)

	batch, err := Parse(chunk, r.Schema(), Minutes)
	require.NoError(t, err)
	require.Equal(t, 6, batch.Len())

	assert.True(t, batch.DistanceSupplied)
	assert.True(t, batch.FareSupplied)
	assert.Equal(t, []bool{false, true, true, true, false, true}, batch.Missing)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, batch.SourceRows)

	f := batch.Frame
	assert.Equal(t, 600.0, f.TripDurationSec[0])
	assert.Equal(t, 17, f.PickupDatetime[0].Hour())
	assert.True(t, time.Date(2016, 3, 14, 18, 0, 0, 0, time.UTC).Equal(f.PickupDatetime[2]))
	assert.True(t, math.IsNaN(f.TripDistanceKm[2]))
	assert.True(t, math.IsNaN(f.PickupLatitude[0]))

	assert.Equal(t, batch.Keys[0], batch.Keys[4])
	assert.NotEqual(t, batch.Keys[0], batch.Keys[1])
}

func TestParseDurationSecondsColumnIgnoresUnit(t *testing.T) {
	data := "pickup_datetime,trip_distance_km,trip_duration_sec,passenger_count\n2016-03-14 17:24:55,2.5,600,1\n"
	r, err := NewReader(strings.NewReader(data), 0)
	require.NoError(t, err)
	chunk, err := r.Next()
	require.NoError(t, err)

	batch, err := Parse(chunk, r.Schema(), Minutes)
	require.NoError(t, err)
	assert.Equal(t, 600.0, batch.Frame.TripDurationSec[0])
}

func TestParseBadTimestamp(t *testing.T) {
	data := "pickup_datetime,trip_distance,trip_duration,passenger_count\n2016-03-14 17:24:55,2.5,600,1\nyesterday,1,600,1\n"
	r, err := NewReader(strings.NewReader(data), 0)
	require.NoError(t, err)
	chunk, err := r.Next()
	require.NoError(t, err)

	_, err = Parse(chunk, r.Schema(), Seconds)
	var tsErr *TimestampError
	require.True(t, errors.As(err, &tsErr))
	assert.Equal(t, 2, tsErr.Row)
	assert.Equal(t, "yesterday", tsErr.Value)
}

func TestParseZonedTimestamps(t *testing.T) {
	data := `pickup_datetime,trip_distance,trip_duration,passenger_count
2009-06-15 17:26:21 UTC,2.5,600,1
2009-06-15 17:26:21 +0000,2.5,600,1
2009-06-15 22:26:21 +0500,2.5,600,1
2009-06-15 17:26:21+00:00,2.5,600,1
2009-06-15 22:26:21+05:00,2.5,600,1
`
	r, err := NewReader(strings.NewReader(data), 0)
	require.NoError(t, err)
	chunk, err := r.Next()
	require.NoError(t, err)

	batch, err := Parse(chunk, r.Schema(), Seconds)
	require.NoError(t, err)
	require.Equal(t, 5, batch.Len())

	want := time.Date(2009, 6, 15, 17, 26, 21, 0, time.UTC)
	for i, ts := range batch.Frame.PickupDatetime {
		assert.True(t, want.Equal(ts), "row %d", i+1)
		assert.False(t, batch.Missing[i])
	}
	assert.Equal(t, 17, batch.Frame.PickupDatetime[0].Hour())

	// The same instant written with different offsets is one trip.
	for i := 1; i < batch.Len(); i++ {
		assert.Equal(t, batch.Keys[0], batch.Keys[i], "row %d", i+1)
	}
}

func TestRowKeyDistinguishesOffsets(t *testing.T) {
	data := `pickup_datetime,trip_distance,trip_duration,passenger_count
2016-03-14 09:00:00+00:00,2.5,600,1
2016-03-14 09:00:00+05:00,2.5,600,1
`
	r, err := NewReader(strings.NewReader(data), 0)
	require.NoError(t, err)
	chunk, err := r.Next()
	require.NoError(t, err)

	batch, err := Parse(chunk, r.Schema(), Seconds)
	require.NoError(t, err)
	assert.NotEqual(t, batch.Keys[0], batch.Keys[1])
}

func TestRowKeyIgnoresIDColumns(t *testing.T) {
	data := `id,vendor_id,pickup_datetime,trip_distance,trip_duration,passenger_count
A,1,2016-03-14 09:00:00,2.5,600,1
B,2,2016-03-14 09:00:00,2.5,600,1
`
	r, err := NewReader(strings.NewReader(data), 0)
	require.NoError(t, err)
	chunk, err := r.Next()
	require.NoError(t, err)

	batch, err := Parse(chunk, r.Schema(), Seconds)
	require.NoError(t, err)
	assert.Equal(t, batch.Keys[0], batch.Keys[1])
}
