package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mmcloughlin/geohash"

	"trip-pipeline/models"
	"trip-pipeline/utils"
)

// DefaultCellPrecision is the geohash length used for pickup hotspots
// (about 1.2 km x 0.6 km cells).
const DefaultCellPrecision uint = 6

type InsightService struct {
	logger *utils.Logger
	peaks  PeakSelector
}

func NewInsightService(logger *utils.Logger, peaks PeakSelector) *InsightService {
	return &InsightService{logger: logger, peaks: peaks}
}

// Generate computes the analytics printed after a cleaning run.
func (s *InsightService) Generate(trips []*models.CleanedTrip) *models.InsightReport {
	report := &models.InsightReport{
		Summary:    Summarize(trips),
		Hourly:     HourlyMetrics(trips),
		PeakPolicy: s.peaks.Name(),
		PeakHours:  s.peaks.Select(HourCounts(trips)),
		TopCells:   PickupCells(trips, DefaultCellPrecision, 5),
	}

	for _, t := range trips {
		if report.FastestTrip == nil || t.TripSpeedKmh > report.FastestTrip.TripSpeedKmh {
			report.FastestTrip = t
		}
	}

	s.logger.Debug("[insights] Generated insights over %d trips", len(trips))
	return report
}

// Summarize aggregates the whole dataset. Averages are rounded to cents.
func Summarize(trips []*models.CleanedTrip) models.TripSummary {
	sum := models.TripSummary{TotalTrips: len(trips)}
	if len(trips) == 0 {
		return sum
	}

	var dist, fare float64
	for _, t := range trips {
		dist += t.TripDistanceKm
		fare += t.FareAmount
		if t.SpeedOutlier {
			sum.TotalOutliers++
		}
	}
	sum.AvgDistanceKm = round2(dist / float64(len(trips)))
	sum.AvgFare = round2(fare / float64(len(trips)))
	return sum
}

// HourlyMetrics groups trips by pickup hour. Only hours with trips are
// returned, in ascending order.
func HourlyMetrics(trips []*models.CleanedTrip) []models.HourlyMetric {
	var count [24]int
	var speed, fare [24]float64
	for _, t := range trips {
		h := t.PickupHour
		if h < 0 || h > 23 {
			continue
		}
		count[h]++
		speed[h] += t.TripSpeedKmh
		fare[h] += t.FareAmount
	}

	metrics := []models.HourlyMetric{}
	for h := 0; h < 24; h++ {
		if count[h] == 0 {
			continue
		}
		n := float64(count[h])
		metrics = append(metrics, models.HourlyMetric{
			Hour:     h,
			Trips:    count[h],
			AvgSpeed: round2(speed[h] / n),
			AvgFare:  round2(fare[h] / n),
		})
	}
	return metrics
}

// HourCounts builds the pickup-hour histogram of trips.
func HourCounts(trips []*models.CleanedTrip) HourHistogram {
	var h HourHistogram
	for _, t := range trips {
		if t.PickupHour >= 0 && t.PickupHour < 24 {
			h[t.PickupHour]++
		}
	}
	return h
}

// PickupCells counts pickups per geohash cell, busiest first. Trips without
// coordinates are skipped. limit <= 0 returns every cell.
func PickupCells(trips []*models.CleanedTrip, precision uint, limit int) []models.PickupCell {
	counts := make(map[string]int)
	for _, t := range trips {
		if !t.HasCoordinates() {
			continue
		}
		counts[geohash.EncodeWithPrecision(t.PickupLatitude, t.PickupLongitude, precision)]++
	}

	cells := make([]models.PickupCell, 0, len(counts))
	for hash, n := range counts {
		cells = append(cells, models.PickupCell{Geohash: hash, Trips: n})
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Trips != cells[j].Trips {
			return cells[i].Trips > cells[j].Trips
		}
		return cells[i].Geohash < cells[j].Geohash
	})

	if limit > 0 && len(cells) > limit {
		cells = cells[:limit]
	}
	return cells
}

func (s *InsightService) Print(r *models.InsightReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  🚕 TRIP DATASET INSIGHTS\033[0m\n")
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)

	fmt.Printf("\033[1;33m  Overview\033[0m\n")
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  Total trips       : \033[1m%d\033[0m\n", r.Summary.TotalTrips)
	fmt.Printf("  Speed outliers    : \033[1m%d\033[0m\n", r.Summary.TotalOutliers)
	fmt.Printf("  Average distance  : \033[1;32m%.2f km\033[0m\n", r.Summary.AvgDistanceKm)
	fmt.Printf("  Average fare      : \033[1;32m$%.2f\033[0m\n", r.Summary.AvgFare)
	fmt.Println()

	fmt.Printf("\033[1;33m  Peak Hours (%s)\033[0m\n", r.PeakPolicy)
	fmt.Printf("  %s\n", thin)
	if len(r.PeakHours) == 0 {
		fmt.Printf("  No peak hours\n")
	} else {
		labels := make([]string, len(r.PeakHours))
		for i, h := range r.PeakHours {
			labels[i] = fmt.Sprintf("%02d:00", h)
		}
		fmt.Printf("  %s\n", strings.Join(labels, ", "))
	}
	fmt.Println()

	if r.FastestTrip != nil {
		fmt.Printf("\033[1;33m  Fastest Trip\033[0m\n")
		fmt.Printf("  %s\n", thin)
		fmt.Printf("  Pickup   : %s\n", r.FastestTrip.PickupDatetime.Format(models.DatetimeLayout))
		fmt.Printf("  Distance : %.2f km in %.0f s\n", r.FastestTrip.TripDistanceKm, r.FastestTrip.TripDurationSec)
		fmt.Printf("  Speed    : \033[1;31m%.1f km/h\033[0m\n", r.FastestTrip.TripSpeedKmh)
		fmt.Println()
	}

	fmt.Printf("\033[1;33m  Trips by Hour\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if len(r.Hourly) == 0 {
		fmt.Printf("  No trips\n")
	} else {
		busiest := 0
		for _, m := range r.Hourly {
			if m.Trips > busiest {
				busiest = m.Trips
			}
		}
		for _, m := range r.Hourly {
			bar := strings.Repeat("█", scaleBar(m.Trips, busiest, 30))
			fmt.Printf("  %02d:00 %-30s %6d  %5.1f km/h  $%.2f\n", m.Hour, bar, m.Trips, m.AvgSpeed, m.AvgFare)
		}
	}
	fmt.Println()

	if len(r.TopCells) > 0 {
		fmt.Printf("\033[1;33m  Busiest Pickup Cells\033[0m\n")
		fmt.Printf("  %s\n", thin)
		for i, c := range r.TopCells {
			fmt.Printf("  \033[1m%d.\033[0m %-12s %d trips\n", i+1, c.Geohash, c.Trips)
		}
	}

	fmt.Printf("\n\033[1;35m%s\033[0m\n\n", sep)
}

func scaleBar(n, busiest, width int) int {
	if busiest == 0 {
		return 0
	}
	w := n * width / busiest
	if w == 0 && n > 0 {
		w = 1
	}
	return w
}
