package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"trip-pipeline/models"
	"trip-pipeline/services"
	"trip-pipeline/utils"
)

const maxCellPrecision = 12

// Server implements the HTTP endpoints over a Dataset.
type Server struct {
	dataset  *Dataset
	cache    ResponseCache
	peaks    services.PeakSelector
	stdDevs  float64
	pageSize int
	logger   *utils.Logger
}

// ServerOptions configures a Server. Peaks is the policy used when a
// request does not name one.
type ServerOptions struct {
	Peaks       services.PeakSelector
	PeakStdDevs float64
	PageSize    int
}

func NewServer(dataset *Dataset, cache ResponseCache, opts ServerOptions, logger *utils.Logger) *Server {
	if cache == nil {
		cache = NoCache{}
	}
	if opts.PageSize < 1 {
		opts.PageSize = 100
	}
	return &Server{
		dataset:  dataset,
		cache:    cache,
		peaks:    opts.Peaks,
		stdDevs:  opts.PeakStdDevs,
		pageSize: opts.PageSize,
		logger:   logger,
	}
}

// tripView is the JSON form of a trip. Unknown coordinates are null.
type tripView struct {
	ID               int64    `json:"id,omitempty"`
	PickupDatetime   string   `json:"pickup_datetime"`
	PickupLongitude  *float64 `json:"pickup_longitude"`
	PickupLatitude   *float64 `json:"pickup_latitude"`
	DropoffLongitude *float64 `json:"dropoff_longitude"`
	DropoffLatitude  *float64 `json:"dropoff_latitude"`
	TripDurationSec  float64  `json:"trip_duration_sec"`
	PassengerCount   int      `json:"passenger_count"`
	TripDistanceKm   float64  `json:"trip_distance_km"`
	FareAmount       float64  `json:"fare_amount"`
	TripSpeedKmh     float64  `json:"trip_speed_kmh"`
	FarePerKm        float64  `json:"fare_per_km"`
	PickupHour       int      `json:"pickup_hour"`
	SpeedOutlier     bool     `json:"speed_outlier"`
}

func newTripView(t *models.CleanedTrip) tripView {
	coord := func(v float64) *float64 {
		if math.IsNaN(v) {
			return nil
		}
		return &v
	}
	return tripView{
		ID:               t.ID,
		PickupDatetime:   t.PickupDatetime.Format(models.DatetimeLayout),
		PickupLongitude:  coord(t.PickupLongitude),
		PickupLatitude:   coord(t.PickupLatitude),
		DropoffLongitude: coord(t.DropoffLongitude),
		DropoffLatitude:  coord(t.DropoffLatitude),
		TripDurationSec:  t.TripDurationSec,
		PassengerCount:   t.PassengerCount,
		TripDistanceKm:   t.TripDistanceKm,
		FareAmount:       t.FareAmount,
		TripSpeedKmh:     t.TripSpeedKmh,
		FarePerKm:        t.FarePerKm,
		PickupHour:       t.PickupHour,
		SpeedOutlier:     t.SpeedOutlier,
	}
}

type tripPage struct {
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	Total    int        `json:"total"`
	Trips    []tripView `json:"trips"`
}

type peakResponse struct {
	Policy     string  `json:"policy"`
	PeakHours  []int   `json:"peak_hours"`
	HourCounts [24]int `json:"hour_counts"`
}

type reloadResponse struct {
	Version string `json:"version"`
	Trips   int    `json:"trips"`
}

type healthResponse struct {
	Status   string     `json:"status"`
	Version  string     `json:"version,omitempty"`
	Trips    int        `json:"trips"`
	LoadedAt *time.Time `json:"loaded_at,omitempty"`
}

// badRequest marks errors caused by the client's query.
type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return &badRequest{msg: fmt.Sprintf(format, args...)}
}

// queryFunc computes a response from one dataset snapshot.
type queryFunc func(snap *snapshot, q url.Values) (any, error)

// cached serves fn's result from the response cache when possible.
func (s *Server) cached(name string, fn queryFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := s.dataset.snapshot()
		if snap == nil {
			writeError(w, http.StatusServiceUnavailable, "dataset not loaded")
			return
		}

		key := cacheKey(snap.version, name, r.URL.Query())
		if body, ok := s.cache.Get(r.Context(), key); ok {
			writeBody(w, http.StatusOK, body, "HIT")
			return
		}

		v, err := fn(snap, r.URL.Query())
		if err != nil {
			var br *badRequest
			if errors.As(err, &br) {
				writeError(w, http.StatusBadRequest, br.msg)
				return
			}
			s.logger.Error("[api] %s: %v", name, err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		body, err := json.Marshal(v)
		if err != nil {
			s.logger.Error("[api] %s: encode response: %v", name, err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		s.cache.Set(r.Context(), key, body)
		writeBody(w, http.StatusOK, body, "MISS")
	}
}

// cacheKey is stable for equal queries regardless of parameter order.
func cacheKey(version, name string, q url.Values) string {
	return fmt.Sprintf("trips:%s:%s?%s", version, name, q.Encode())
}

func (s *Server) tripSummary(snap *snapshot, _ url.Values) (any, error) {
	return services.Summarize(snap.trips), nil
}

func (s *Server) hourlyMetrics(snap *snapshot, _ url.Values) (any, error) {
	return services.HourlyMetrics(snap.trips), nil
}

// trips lists trips filtered by hour, outlier flag and pickup bbox.
func (s *Server) trips(snap *snapshot, q url.Values) (any, error) {
	page, err := pageParam(q)
	if err != nil {
		return nil, err
	}

	hour := -1
	if v := q.Get("hour"); v != "" {
		hour, err = strconv.Atoi(v)
		if err != nil || hour < 0 || hour > 23 {
			return nil, badRequestf("hour must be an integer between 0 and 23")
		}
	}

	var outlier *bool
	if v := q.Get("outlier"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, badRequestf("outlier must be true or false")
		}
		outlier = &b
	}

	var candidates []int
	if v := q.Get("bbox"); v != "" {
		box, err := parseBBox(v)
		if err != nil {
			return nil, err
		}
		candidates, err = snap.withinBBox(box)
		if err != nil {
			return nil, badRequestf("bbox: %v", err)
		}
	} else {
		candidates = make([]int, len(snap.trips))
		for i := range candidates {
			candidates[i] = i
		}
	}

	matched := make([]int, 0, len(candidates))
	for _, i := range candidates {
		t := snap.trips[i]
		if hour >= 0 && t.PickupHour != hour {
			continue
		}
		if outlier != nil && t.SpeedOutlier != *outlier {
			continue
		}
		matched = append(matched, i)
	}
	return s.page(snap, matched, page), nil
}

func (s *Server) outliers(snap *snapshot, q url.Values) (any, error) {
	page, err := pageParam(q)
	if err != nil {
		return nil, err
	}
	return s.page(snap, snap.outliers, page), nil
}

// peakHours recomputes peaks, optionally under another policy.
func (s *Server) peakHours(snap *snapshot, q url.Values) (any, error) {
	selector := s.peaks
	if name := q.Get("policy"); name != "" || q.Get("k") != "" {
		if name == "" {
			name = selector.Name()
		}
		k := 2
		if tk, ok := selector.(services.TopKPeaks); ok {
			k = tk.K
		}
		if v := q.Get("k"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, badRequestf("k must be an integer")
			}
			k = n
		}
		var err error
		selector, err = services.NewPeakSelector(strings.ToLower(name), k, s.stdDevs)
		if err != nil {
			return nil, badRequestf("%v", err)
		}
	}

	hist := services.HourCounts(snap.trips)
	return peakResponse{
		Policy:     selector.Name(),
		PeakHours:  selector.Select(hist),
		HourCounts: hist,
	}, nil
}

func (s *Server) pickupCells(snap *snapshot, q url.Values) (any, error) {
	precision := services.DefaultCellPrecision
	if v := q.Get("precision"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxCellPrecision {
			return nil, badRequestf("precision must be an integer between 1 and %d", maxCellPrecision)
		}
		precision = uint(n)
	}
	limit := 20
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, badRequestf("limit must be a positive integer")
		}
		limit = n
	}
	return services.PickupCells(snap.trips, precision, limit), nil
}

// reload refreshes the dataset from its source.
func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	if err := s.dataset.Reload(r.Context()); err != nil {
		s.logger.Error("[api] %v", err)
		writeError(w, http.StatusBadGateway, "reload failed")
		return
	}
	snap := s.dataset.snapshot()
	writeJSON(w, http.StatusOK, reloadResponse{Version: snap.version, Trips: len(snap.trips)})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	snap := s.dataset.snapshot()
	if snap == nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "loading"})
		return
	}
	loaded := snap.loadedAt
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Version:  snap.version,
		Trips:    len(snap.trips),
		LoadedAt: &loaded,
	})
}

func (s *Server) page(snap *snapshot, idx []int, page int) tripPage {
	out := tripPage{Page: page, PageSize: s.pageSize, Total: len(idx), Trips: []tripView{}}
	start := (page - 1) * s.pageSize
	if start >= len(idx) {
		return out
	}
	end := start + s.pageSize
	if end > len(idx) {
		end = len(idx)
	}
	for _, i := range idx[start:end] {
		out.Trips = append(out.Trips, newTripView(snap.trips[i]))
	}
	return out
}

func pageParam(q url.Values) (int, error) {
	v := q.Get("page")
	if v == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(v)
	if err != nil || page < 1 {
		return 0, badRequestf("page must be a positive integer")
	}
	return page, nil
}

// parseBBox reads "minLon,minLat,maxLon,maxLat".
func parseBBox(v string) (BBox, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return BBox{}, badRequestf("bbox must be minLon,minLat,maxLon,maxLat")
	}
	var f [4]float64
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return BBox{}, badRequestf("bbox value %q is not a number", p)
		}
		f[i] = n
	}
	b := BBox{MinLon: f[0], MinLat: f[1], MaxLon: f[2], MaxLat: f[3]}
	if b.MinLon > b.MaxLon || b.MinLat > b.MaxLat {
		return BBox{}, badRequestf("bbox minimum exceeds maximum")
	}
	return b, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeBody(w, status, body, "")
}

func writeBody(w http.ResponseWriter, status int, body []byte, cacheStatus string) {
	w.Header().Set("Content-Type", "application/json")
	if cacheStatus != "" {
		w.Header().Set("X-Cache", cacheStatus)
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
