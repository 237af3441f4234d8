package storage

import (
	"context"

	"trip-pipeline/models"
)

// TripSink receives the cleaned dataset chunk by chunk. Nothing written
// becomes visible at the destination until Commit; Abort discards it.
type TripSink interface {
	WriteChunk(frame *models.TripFrame) error
	Commit() error
	Abort() error
}

// TripSource returns the full cleaned dataset. The API reloads its
// in-memory dataset from one.
type TripSource interface {
	FetchAll(ctx context.Context) ([]*models.CleanedTrip, error)
}
