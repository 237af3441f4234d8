package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trip-pipeline/models"
	"trip-pipeline/services"
	"trip-pipeline/utils"
)

type fakeSource struct {
	trips []*models.CleanedTrip
	err   error
	calls int
}

func (f *fakeSource) FetchAll(context.Context) ([]*models.CleanedTrip, error) {
	f.calls++
	return f.trips, f.err
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	return b, ok
}

func (c *mapCache) Set(_ context.Context, key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = body
}

func trip(hour int, lon, lat, dist, fare, speed float64, outlier bool) *models.CleanedTrip {
	return &models.CleanedTrip{
		PickupDatetime:   time.Date(2016, 3, 14, hour, 0, 0, 0, time.UTC),
		PickupLongitude:  lon,
		PickupLatitude:   lat,
		DropoffLongitude: lon,
		DropoffLatitude:  lat,
		TripDurationSec:  600,
		PassengerCount:   1,
		TripDistanceKm:   dist,
		FareAmount:       fare,
		TripSpeedKmh:     speed,
		FarePerKm:        fare / dist,
		PickupHour:       hour,
		SpeedOutlier:     outlier,
	}
}

func testTrips() []*models.CleanedTrip {
	nan := math.NaN()
	return []*models.CleanedTrip{
		trip(8, -73.9855, 40.7580, 2, 10, 12, false),
		trip(8, -73.9850, 40.7585, 4, 20, 24, false),
		trip(17, -73.7781, 40.6413, 21, 60, 95, true),
		trip(18, -73.9857, 40.7484, 3, 12, 18, false),
		trip(23, nan, nan, 5, 15, 30, false),
	}
}

func newTestServer(t *testing.T, src *fakeSource, cache ResponseCache) (*Server, http.Handler) {
	t.Helper()
	ds := NewDataset(src, utils.Discard())
	require.NoError(t, ds.Reload(context.Background()))
	s := NewServer(ds, cache, ServerOptions{
		Peaks:       services.StatisticalPeaks{StdDevs: 1},
		PeakStdDevs: 1,
		PageSize:    2,
	}, utils.Discard())
	return s, NewRouter(s, nil)
}

func get(t *testing.T, h http.Handler, target string, out any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func TestTripSummary(t *testing.T) {
	_, h := newTestServer(t, &fakeSource{trips: testTrips()}, nil)

	var sum models.TripSummary
	rec := get(t, h, "/api/trip_summary", &sum)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, models.TripSummary{TotalTrips: 5, AvgDistanceKm: 7, AvgFare: 23.4, TotalOutliers: 1}, sum)
}

func TestHourlyMetrics(t *testing.T) {
	_, h := newTestServer(t, &fakeSource{trips: testTrips()}, nil)

	var metrics []models.HourlyMetric
	rec := get(t, h, "/api/hourly_metrics", &metrics)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, metrics, 4)
	assert.Equal(t, models.HourlyMetric{Hour: 8, Trips: 2, AvgSpeed: 18, AvgFare: 15}, metrics[0])
}

func TestTripsPaging(t *testing.T) {
	_, h := newTestServer(t, &fakeSource{trips: testTrips()}, nil)

	var page tripPage
	get(t, h, "/api/trips?page=3", &page)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 2, page.PageSize)
	require.Len(t, page.Trips, 1)
	assert.Nil(t, page.Trips[0].PickupLatitude, "unknown coordinates are null")
	assert.Equal(t, 23, page.Trips[0].PickupHour)

	get(t, h, "/api/trips?page=9", &page)
	assert.Empty(t, page.Trips)

	rec := get(t, h, "/api/trips?page=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTripsFilters(t *testing.T) {
	_, h := newTestServer(t, &fakeSource{trips: testTrips()}, nil)

	var page tripPage
	get(t, h, "/api/trips?hour=8", &page)
	assert.Equal(t, 2, page.Total)

	get(t, h, "/api/trips?outlier=true", &page)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, 17, page.Trips[0].PickupHour)

	get(t, h, "/api/trips?bbox=-74.0,40.74,-73.98,40.76", &page)
	assert.Equal(t, 3, page.Total, "midtown pickups only")

	get(t, h, "/api/trips?bbox=-74.0,40.74,-73.98,40.76&hour=18", &page)
	assert.Equal(t, 1, page.Total)

	get(t, h, "/api/trips?bbox=-73.9855,40.7580,-73.9855,40.7580", &page)
	assert.Equal(t, 1, page.Total, "a degenerate box matches the exact point")

	for _, bad := range []string{"hour=24", "outlier=maybe", "bbox=1,2,3", "bbox=-73,40,-74,41", "bbox=a,b,c,d"} {
		rec := get(t, h, "/api/trips?"+bad, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestOutliers(t *testing.T) {
	_, h := newTestServer(t, &fakeSource{trips: testTrips()}, nil)

	var page tripPage
	get(t, h, "/api/outliers", &page)
	require.Equal(t, 1, page.Total)
	assert.True(t, page.Trips[0].SpeedOutlier)
}

func TestPeakHours(t *testing.T) {
	_, h := newTestServer(t, &fakeSource{trips: testTrips()}, nil)

	var resp peakResponse
	get(t, h, "/api/peak_hours", &resp)
	assert.Equal(t, services.PeakPolicyStatistical, resp.Policy)
	assert.Equal(t, 2, resp.HourCounts[8])
	assert.Equal(t, []int{8, 17, 18, 23}, resp.PeakHours, "every busy hour stands out from the empty ones")

	get(t, h, "/api/peak_hours?policy=topk&k=2", &resp)
	assert.Equal(t, services.PeakPolicyTopK, resp.Policy)
	assert.Equal(t, []int{8, 17}, resp.PeakHours)

	rec := get(t, h, "/api/peak_hours?policy=busiest", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = get(t, h, "/api/peak_hours?policy=topk&k=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPickupCells(t *testing.T) {
	_, h := newTestServer(t, &fakeSource{trips: testTrips()}, nil)

	var cells []models.PickupCell
	get(t, h, "/api/pickup_cells?precision=4", &cells)
	require.NotEmpty(t, cells)
	total := 0
	for _, c := range cells {
		assert.Len(t, c.Geohash, 4)
		total += c.Trips
	}
	assert.Equal(t, 4, total, "trips without coordinates are skipped")

	rec := get(t, h, "/api/pickup_cells?precision=13", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResponseCache(t *testing.T) {
	cache := newMapCache()
	src := &fakeSource{trips: testTrips()}
	_, h := newTestServer(t, src, cache)

	rec := get(t, h, "/api/trip_summary", nil)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	rec = get(t, h, "/api/trip_summary", nil)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))

	src.trips = testTrips()[:2]
	reload := httptest.NewRecorder()
	h.ServeHTTP(reload, httptest.NewRequest(http.MethodPost, "/api/reload", nil))
	require.Equal(t, http.StatusOK, reload.Code)

	var sum models.TripSummary
	rec = get(t, h, "/api/trip_summary", &sum)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"), "reload changes the cache key")
	assert.Equal(t, 2, sum.TotalTrips)
}

func TestReloadFailureKeepsSnapshot(t *testing.T) {
	src := &fakeSource{trips: testTrips()}
	s, h := newTestServer(t, src, nil)
	version := s.dataset.Version()

	src.err = errors.New("connection refused")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reload", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, version, s.dataset.Version())

	var sum models.TripSummary
	get(t, h, "/api/trip_summary", &sum)
	assert.Equal(t, 5, sum.TotalTrips)
}

func TestHealth(t *testing.T) {
	ds := NewDataset(&fakeSource{trips: testTrips()}, utils.Discard())
	h := NewRouter(NewServer(ds, nil, ServerOptions{Peaks: services.TopKPeaks{K: 2}}, utils.Discard()), nil)

	rec := get(t, h, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = get(t, h, "/api/trip_summary", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, ds.Reload(context.Background()))
	var health healthResponse
	rec = get(t, h, "/healthz", &health)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 5, health.Trips)
	assert.Equal(t, ds.Version(), health.Version)
}

func TestMethodNotAllowed(t *testing.T) {
	_, h := newTestServer(t, &fakeSource{trips: testTrips()}, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/trip_summary", strings.NewReader("{}")))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestParseBBox(t *testing.T) {
	b, err := parseBBox(" -74.1, 40.5,-73.7,40.9")
	require.NoError(t, err)
	assert.Equal(t, BBox{MinLon: -74.1, MinLat: 40.5, MaxLon: -73.7, MaxLat: 40.9}, b)
}
