package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"trip-pipeline/models"
	"trip-pipeline/utils"
)

//go:embed migrations/*.sql
var migrations embed.FS

const insertColumns = 14

// PostgresOptions tunes the loader.
type PostgresOptions struct {
	BatchSize      int
	MaxConcurrency int
	Retry          utils.RetryConfig
}

// PostgresStore persists cleaned trips to the taxi_trips table and reads
// them back for the API.
type PostgresStore struct {
	db     *sql.DB
	opts   PostgresOptions
	logger *utils.Logger
}

// NewPostgresStore connects to PostgreSQL, waits for it to accept
// connections and applies the embedded migrations.
func NewPostgresStore(ctx context.Context, dsn, databaseURL string, opts PostgresOptions, logger *utils.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	if err := opts.Retry.Do(ctx, "postgres ping", func() error { return db.PingContext(ctx) }); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	if err := runMigrations(databaseURL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	if opts.BatchSize < 1 {
		opts.BatchSize = 500
	}
	logger.Info("[postgres] Connected, schema is up to date")
	return &PostgresStore{db: db, opts: opts, logger: logger}, nil
}

func runMigrations(databaseURL string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Write inserts trips in batches on a bounded worker pool. Rows already
// present (same row hash) are skipped, so loading the same file twice is
// harmless. It returns the number of rows actually inserted.
func (ps *PostgresStore) Write(ctx context.Context, trips []*models.CleanedTrip) (int64, error) {
	if len(trips) == 0 {
		return 0, nil
	}

	var inserted int64
	pool := utils.NewWorkerPool(ps.opts.MaxConcurrency, 0)
	batches := 0
	for i := 0; i < len(trips); i += ps.opts.BatchSize {
		if ctx.Err() != nil {
			break
		}
		end := i + ps.opts.BatchSize
		if end > len(trips) {
			end = len(trips)
		}
		batch := trips[i:end]
		first := i
		batches++

		pool.Submit(func() error {
			op := fmt.Sprintf("insert rows %d-%d", first+1, first+len(batch))
			return ps.opts.Retry.Do(ctx, op, func() error {
				n, err := ps.insertBatch(ctx, batch)
				if err != nil {
					return err
				}
				atomic.AddInt64(&inserted, n)
				return nil
			})
		})
	}

	if err := pool.Wait(); err != nil {
		return atomic.LoadInt64(&inserted), fmt.Errorf("postgres: write: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return atomic.LoadInt64(&inserted), fmt.Errorf("postgres: write: %w", err)
	}

	ps.logger.Info("[postgres] Inserted %d of %d trips in %d batch(es)", inserted, len(trips), batches)
	return inserted, nil
}

func (ps *PostgresStore) insertBatch(ctx context.Context, batch []*models.CleanedTrip) (int64, error) {
	query, args := buildInsert(batch)
	res, err := ps.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func buildInsert(batch []*models.CleanedTrip) (string, []any) {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]any, 0, len(batch)*insertColumns)

	for idx, t := range batch {
		base := idx * insertColumns
		ph := make([]string, insertColumns)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(ph, ",")+")")
		valueArgs = append(valueArgs,
			RowHash(t), t.PickupDatetime,
			nullable(t.PickupLongitude), nullable(t.PickupLatitude),
			nullable(t.DropoffLongitude), nullable(t.DropoffLatitude),
			t.TripDurationSec, t.PassengerCount, t.TripDistanceKm, t.FareAmount,
			t.TripSpeedKmh, t.FarePerKm, t.PickupHour, t.SpeedOutlier)
	}

	query := fmt.Sprintf(`
		INSERT INTO taxi_trips (row_hash, pickup_datetime, pickup_longitude, pickup_latitude,
			dropoff_longitude, dropoff_latitude, trip_duration_sec, passenger_count,
			trip_distance_km, fare_amount, trip_speed_kmh, fare_per_km, pickup_hour, speed_outlier)
		VALUES %s
		ON CONFLICT (row_hash) DO NOTHING
	`, strings.Join(valueStrings, ","))
	return query, valueArgs
}

// FetchAll retrieves all stored trips in insertion order.
func (ps *PostgresStore) FetchAll(ctx context.Context) ([]*models.CleanedTrip, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT id, pickup_datetime, pickup_longitude, pickup_latitude, dropoff_longitude,
			dropoff_latitude, trip_duration_sec, passenger_count, trip_distance_km, fare_amount,
			trip_speed_kmh, fare_per_km, pickup_hour, speed_outlier
		FROM taxi_trips
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch all: %w", err)
	}
	defer rows.Close()

	var trips []*models.CleanedTrip
	for rows.Next() {
		t := &models.CleanedTrip{}
		var pickupLon, pickupLat, dropoffLon, dropoffLat sql.NullFloat64
		if err := rows.Scan(
			&t.ID, &t.PickupDatetime, &pickupLon, &pickupLat, &dropoffLon, &dropoffLat,
			&t.TripDurationSec, &t.PassengerCount, &t.TripDistanceKm, &t.FareAmount,
			&t.TripSpeedKmh, &t.FarePerKm, &t.PickupHour, &t.SpeedOutlier,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		t.PickupLongitude = orNaN(pickupLon)
		t.PickupLatitude = orNaN(pickupLat)
		t.DropoffLongitude = orNaN(dropoffLon)
		t.DropoffLatitude = orNaN(dropoffLat)
		t.PickupDatetime = t.PickupDatetime.UTC()
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: fetch all: %w", err)
	}
	return trips, nil
}

func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

// RowHash identifies a cleaned trip by its input-derived values. It is the
// uniqueness key of taxi_trips.
func RowHash(t *models.CleanedTrip) string {
	d := xxhash.New()
	for _, field := range tripRecord(t)[:9] {
		_, _ = d.WriteString(field)
		_, _ = d.WriteString("\x1f")
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

func nullable(f float64) sql.NullFloat64 {
	if math.IsNaN(f) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
