package storage

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"trip-pipeline/models"
)

// tripParquetRow mirrors models.CleanedColumns. Missing coordinates are
// stored as NaN.
type tripParquetRow struct {
	PickupDatetime   string  `parquet:"name=pickup_datetime, type=BYTE_ARRAY, convertedtype=UTF8"`
	PickupLongitude  float64 `parquet:"name=pickup_longitude, type=DOUBLE"`
	PickupLatitude   float64 `parquet:"name=pickup_latitude, type=DOUBLE"`
	DropoffLongitude float64 `parquet:"name=dropoff_longitude, type=DOUBLE"`
	DropoffLatitude  float64 `parquet:"name=dropoff_latitude, type=DOUBLE"`
	TripDurationSec  float64 `parquet:"name=trip_duration_sec, type=DOUBLE"`
	PassengerCount   int32   `parquet:"name=passenger_count, type=INT32"`
	TripDistanceKm   float64 `parquet:"name=trip_distance_km, type=DOUBLE"`
	FareAmount       float64 `parquet:"name=fare_amount, type=DOUBLE"`
	TripSpeedKmh     float64 `parquet:"name=trip_speed_kmh, type=DOUBLE"`
	FarePerKm        float64 `parquet:"name=fare_per_km, type=DOUBLE"`
	PickupHour       int32   `parquet:"name=pickup_hour, type=INT32"`
	SpeedOutlier     bool    `parquet:"name=speed_outlier, type=BOOLEAN"`
}

func newTripParquetRow(t *models.CleanedTrip) tripParquetRow {
	return tripParquetRow{
		PickupDatetime:   t.PickupDatetime.Format(models.DatetimeLayout),
		PickupLongitude:  t.PickupLongitude,
		PickupLatitude:   t.PickupLatitude,
		DropoffLongitude: t.DropoffLongitude,
		DropoffLatitude:  t.DropoffLatitude,
		TripDurationSec:  t.TripDurationSec,
		PassengerCount:   int32(t.PassengerCount),
		TripDistanceKm:   t.TripDistanceKm,
		FareAmount:       t.FareAmount,
		TripSpeedKmh:     t.TripSpeedKmh,
		FarePerKm:        t.FarePerKm,
		PickupHour:       int32(t.PickupHour),
		SpeedOutlier:     t.SpeedOutlier,
	}
}

// ParquetWriter writes the cleaned dataset as a Snappy-compressed Parquet
// file. Like CSVWriter it writes to a temporary file renamed on Commit.
type ParquetWriter struct {
	mu     sync.Mutex
	path   string
	tmp    string
	file   source.ParquetFile
	writer *writer.ParquetWriter
	rows   int
	closed bool
}

// NewParquetWriter prepares a Parquet file for path.
func NewParquetWriter(path string) (*ParquetWriter, error) {
	f, err := createTemp(path)
	if err != nil {
		return nil, fmt.Errorf("parquet: %w", err)
	}
	tmp := f.Name()
	_ = f.Close()

	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("parquet: open %q: %w", tmp, err)
	}
	pw, err := writer.NewParquetWriter(fw, new(tripParquetRow), 4)
	if err != nil {
		_ = fw.Close()
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("parquet: create writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	return &ParquetWriter{path: path, tmp: tmp, file: fw, writer: pw}, nil
}

// WriteChunk appends every row of frame.
func (p *ParquetWriter) WriteChunk(frame *models.TripFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("parquet: write after commit or abort")
	}
	for i := 0; i < frame.Len(); i++ {
		if err := p.writer.Write(newTripParquetRow(frame.Row(i))); err != nil {
			return fmt.Errorf("parquet: write row: %w", err)
		}
		p.rows++
	}
	return nil
}

// Commit writes the footer and moves the file to the destination path.
func (p *ParquetWriter) Commit() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("parquet: already closed")
	}
	p.closed = true

	if err := p.writer.WriteStop(); err != nil {
		_ = p.file.Close()
		_ = os.Remove(p.tmp)
		return fmt.Errorf("parquet: write footer: %w", err)
	}
	if err := p.file.Close(); err != nil {
		_ = os.Remove(p.tmp)
		return fmt.Errorf("parquet: close: %w", err)
	}
	if err := os.Chmod(p.tmp, 0644); err != nil {
		_ = os.Remove(p.tmp)
		return fmt.Errorf("parquet: chmod: %w", err)
	}
	if err := os.Rename(p.tmp, p.path); err != nil {
		_ = os.Remove(p.tmp)
		return fmt.Errorf("parquet: rename to %q: %w", p.path, err)
	}
	return nil
}

// Abort discards the temporary file.
func (p *ParquetWriter) Abort() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	_ = p.file.Close()
	if err := os.Remove(p.tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("parquet: remove temp file: %w", err)
	}
	return nil
}

// Rows returns the number of rows written so far.
func (p *ParquetWriter) Rows() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rows
}
