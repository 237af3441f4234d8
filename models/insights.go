package models

// TripSummary is the dataset-wide aggregate served by /api/trip_summary.
type TripSummary struct {
	TotalTrips    int     `json:"total_trips"`
	AvgDistanceKm float64 `json:"avg_distance_km"`
	AvgFare       float64 `json:"avg_fare"`
	TotalOutliers int     `json:"total_outliers"`
}

// HourlyMetric aggregates the trips picked up in one hour of the day.
type HourlyMetric struct {
	Hour     int     `json:"hour"`
	Trips    int     `json:"trips"`
	AvgSpeed float64 `json:"avg_speed"`
	AvgFare  float64 `json:"avg_fare"`
}

// PickupCell counts pickups inside one geohash cell.
type PickupCell struct {
	Geohash string `json:"geohash"`
	Trips   int    `json:"trips"`
}

// InsightReport holds the computed analytics over the cleaned dataset.
type InsightReport struct {
	Summary     TripSummary    `json:"summary"`
	Hourly      []HourlyMetric `json:"hourly"`
	PeakHours   []int          `json:"peak_hours"`
	PeakPolicy  string         `json:"peak_policy"`
	FastestTrip *CleanedTrip   `json:"fastest_trip,omitempty"`
	TopCells    []PickupCell   `json:"top_cells,omitempty"`
}
