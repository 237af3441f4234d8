// Package api serves read-only analytics over the cleaned trip dataset.
package api

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dhconnelly/rtreego"
	"github.com/google/uuid"

	"trip-pipeline/models"
	"trip-pipeline/storage"
	"trip-pipeline/utils"
)

// pickupTolerance is the side of the box indexed for each pickup point.
const pickupTolerance = 1e-9

// pickupPoint is a trip's pickup location in the R-tree, as (lon, lat).
type pickupPoint struct {
	index int
	rect  rtreego.Rect
}

func (p *pickupPoint) Bounds() rtreego.Rect { return p.rect }

// snapshot is an immutable view of one loaded dataset. Handlers read it
// without locking.
type snapshot struct {
	version  string
	loadedAt time.Time
	trips    []*models.CleanedTrip
	outliers []int
	pickups  *rtreego.Rtree
}

// Dataset holds the cleaned trips served by the API. Reload swaps in a new
// snapshot; requests in flight keep the one they started with.
type Dataset struct {
	source storage.TripSource
	logger *utils.Logger

	mu      sync.RWMutex
	current *snapshot
}

// NewDataset creates an empty Dataset backed by source. Call Reload before
// serving.
func NewDataset(source storage.TripSource, logger *utils.Logger) *Dataset {
	return &Dataset{source: source, logger: logger}
}

// Reload fetches the dataset from the source and rebuilds the indexes. On
// error the previous snapshot stays in place.
func (d *Dataset) Reload(ctx context.Context) error {
	start := time.Now()
	trips, err := d.source.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("dataset: reload: %w", err)
	}

	snap := buildSnapshot(trips)

	d.mu.Lock()
	d.current = snap
	d.mu.Unlock()

	d.logger.Info("[api] Loaded %d trips (version %s) in %v", len(trips), snap.version, time.Since(start).Round(time.Millisecond))
	return nil
}

// Version identifies the loaded snapshot, or "" before the first load.
func (d *Dataset) Version() string {
	if snap := d.snapshot(); snap != nil {
		return snap.version
	}
	return ""
}

func (d *Dataset) snapshot() *snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

func buildSnapshot(trips []*models.CleanedTrip) *snapshot {
	snap := &snapshot{
		version:  uuid.NewString(),
		loadedAt: time.Now().UTC(),
		trips:    trips,
		pickups:  rtreego.NewTree(2, 25, 50),
	}
	for i, t := range trips {
		if t.SpeedOutlier {
			snap.outliers = append(snap.outliers, i)
		}
		if t.HasCoordinates() {
			p := rtreego.Point{t.PickupLongitude, t.PickupLatitude}
			snap.pickups.Insert(&pickupPoint{index: i, rect: p.ToRect(pickupTolerance)})
		}
	}
	return snap
}

// BBox is a longitude/latitude rectangle.
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

func (b BBox) contains(lon, lat float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// withinBBox returns the indexes of trips picked up inside b, ascending.
func (s *snapshot) withinBBox(b BBox) ([]int, error) {
	// Pad the query so pickups exactly on the edge intersect it.
	pad := 2 * pickupTolerance
	rect, err := rtreego.NewRect(
		rtreego.Point{b.MinLon - pad, b.MinLat - pad},
		[]float64{b.MaxLon - b.MinLon + 2*pad, b.MaxLat - b.MinLat + 2*pad},
	)
	if err != nil {
		return nil, err
	}

	var idx []int
	for _, hit := range s.pickups.SearchIntersect(rect) {
		p := hit.(*pickupPoint)
		t := s.trips[p.index]
		if b.contains(t.PickupLongitude, t.PickupLatitude) {
			idx = append(idx, p.index)
		}
	}
	sort.Ints(idx)
	return idx, nil
}
