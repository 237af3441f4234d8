package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"trip-pipeline/models"
)

// CSVWriter writes the cleaned dataset as CSV. Rows go to a temporary file
// next to the destination, which is renamed into place on Commit.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	writer *csv.Writer
	rows   int
	closed bool
}

// NewCSVWriter creates the temporary file for path and writes the header
// row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	f, err := createTemp(path)
	if err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(models.CleanedColumns); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("csv: write header: %w", err)
	}

	return &CSVWriter{path: path, file: f, writer: w}, nil
}

// WriteChunk appends every row of frame.
func (c *CSVWriter) WriteChunk(frame *models.TripFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("csv: write after commit or abort")
	}
	for i := 0; i < frame.Len(); i++ {
		if err := c.writer.Write(tripRecord(frame.Row(i))); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
		c.rows++
	}
	c.writer.Flush()
	return c.writer.Error()
}

// Commit flushes the temporary file and moves it to the destination path.
func (c *CSVWriter) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("csv: already closed")
	}
	c.closed = true

	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		_ = c.file.Close()
		_ = os.Remove(c.file.Name())
		return fmt.Errorf("csv: flush: %w", err)
	}
	if err := commitTemp(c.file, c.path); err != nil {
		return fmt.Errorf("csv: commit: %w", err)
	}
	return nil
}

// Abort removes the temporary file. The destination is left untouched.
func (c *CSVWriter) Abort() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.file.Close()
	if err := os.Remove(c.file.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("csv: remove temp file: %w", err)
	}
	return nil
}

// Rows returns the number of data rows written so far.
func (c *CSVWriter) Rows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows
}

// CSVSource reads a cleaned dataset written by CSVWriter.
type CSVSource struct {
	Path string
}

func (s CSVSource) FetchAll(ctx context.Context) ([]*models.CleanedTrip, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("csv: open %q: %w", s.Path, err)
	}
	defer f.Close()
	return ReadCleanedCSV(ctx, f)
}

// ReadCleanedCSV parses a cleaned dataset. Columns are matched by name.
func ReadCleanedCSV(ctx context.Context, r io.Reader) ([]*models.CleanedTrip, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("csv: read header: %w", err)
	}

	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(h)] = i
	}
	for _, c := range models.CleanedColumns {
		if _, ok := pos[c]; !ok {
			return nil, fmt.Errorf("csv: cleaned dataset lacks column %q", c)
		}
	}

	var trips []*models.CleanedTrip
	for line := 2; ; line++ {
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: read line %d: %w", line, err)
		}
		t, err := parseTripRecord(rec, pos)
		if err != nil {
			return nil, fmt.Errorf("csv: line %d: %w", line, err)
		}
		trips = append(trips, t)
	}
	return trips, nil
}

// tripRecord formats t in models.CleanedColumns order. NaN coordinates are
// written as empty fields.
func tripRecord(t *models.CleanedTrip) []string {
	return []string{
		t.PickupDatetime.Format(models.DatetimeLayout),
		formatFloat(t.PickupLongitude),
		formatFloat(t.PickupLatitude),
		formatFloat(t.DropoffLongitude),
		formatFloat(t.DropoffLatitude),
		formatFloat(t.TripDurationSec),
		strconv.Itoa(t.PassengerCount),
		formatFloat(t.TripDistanceKm),
		formatFloat(t.FareAmount),
		formatFloat(t.TripSpeedKmh),
		formatFloat(t.FarePerKm),
		strconv.Itoa(t.PickupHour),
		strconv.FormatBool(t.SpeedOutlier),
	}
}

func parseTripRecord(rec []string, pos map[string]int) (*models.CleanedTrip, error) {
	field := func(name string) string {
		if i := pos[name]; i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var firstErr error
	num := func(name string) float64 {
		v := field(name)
		if v == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", name, err)
		}
		return f
	}
	integer := func(name string) int {
		n, err := strconv.Atoi(field(name))
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", name, err)
		}
		return n
	}

	pickup, err := time.Parse(models.DatetimeLayout, field("pickup_datetime"))
	if err != nil {
		return nil, fmt.Errorf("pickup_datetime: %w", err)
	}
	outlier, err := strconv.ParseBool(field("speed_outlier"))
	if err != nil {
		return nil, fmt.Errorf("speed_outlier: %w", err)
	}

	t := &models.CleanedTrip{
		PickupDatetime:   pickup,
		PickupLongitude:  num("pickup_longitude"),
		PickupLatitude:   num("pickup_latitude"),
		DropoffLongitude: num("dropoff_longitude"),
		DropoffLatitude:  num("dropoff_latitude"),
		TripDurationSec:  num("trip_duration_sec"),
		PassengerCount:   integer("passenger_count"),
		TripDistanceKm:   num("trip_distance_km"),
		FareAmount:       num("fare_amount"),
		TripSpeedKmh:     num("trip_speed_kmh"),
		FarePerKm:        num("fare_per_km"),
		PickupHour:       integer("pickup_hour"),
		SpeedOutlier:     outlier,
	}
	return t, firstErr
}

func formatFloat(f float64) string {
	if math.IsNaN(f) {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// createTemp opens a temporary file in the destination's directory so the
// final rename stays on one filesystem.
func createTemp(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file for %q: %w", path, err)
	}
	return f, nil
}

func commitTemp(f *os.File, path string) error {
	if err := f.Chmod(0644); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return fmt.Errorf("chmod %q: %w", f.Name(), err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return fmt.Errorf("sync %q: %w", f.Name(), err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return fmt.Errorf("close %q: %w", f.Name(), err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		_ = os.Remove(f.Name())
		return fmt.Errorf("rename to %q: %w", path, err)
	}
	return nil
}
