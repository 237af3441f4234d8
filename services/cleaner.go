package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/uuid"

	"trip-pipeline/geo"
	"trip-pipeline/ingest"
	"trip-pipeline/models"
	"trip-pipeline/storage"
	"trip-pipeline/utils"
)

// removalOrder fixes the order of report entries. Every entry is reported,
// including those with a zero count.
var removalOrder = []struct {
	stage  models.Stage
	reason string
}{
	{models.StageDeduplicated, models.ReasonDuplicate},
	{models.StageDeduplicated, models.ReasonMissingValue},
	{models.StageValidated, models.ReasonInvalidCoordinates},
	{models.StageValidated, models.ReasonInvalidDistance},
	{models.StageValidated, models.ReasonInvalidDuration},
	{models.StageValidated, models.ReasonNegativeFare},
	{models.StageValidated, models.ReasonInvalidPassengers},
}

// StageError wraps the failure that aborted a run with the stage and chunk
// it happened in.
type StageError struct {
	Stage models.Stage
	Chunk int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("cleaner: stage %s, chunk %d: %v", e.Stage, e.Chunk, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// CleanerOptions holds the validity thresholds and chunking parameters.
type CleanerOptions struct {
	// ChunkSize is the number of source rows per chunk; 0 reads everything
	// as one chunk.
	ChunkSize    int
	DurationUnit ingest.DurationUnit
	// MinDistanceKm drops trips shorter than this distance.
	MinDistanceKm float64
	// MinDurationSec drops trips lasting this long or less.
	MinDurationSec float64
	// SampleRows caps the source row numbers kept per removal reason.
	SampleRows int
}

// DefaultCleanerOptions returns the thresholds used when nothing is configured.
func DefaultCleanerOptions() CleanerOptions {
	return CleanerOptions{
		ChunkSize:      50000,
		DurationUnit:   ingest.Seconds,
		MinDistanceKm:  0.1,
		MinDurationSec: 60,
		SampleRows:     100,
	}
}

// Cleaner turns raw trip records into the cleaned dataset. A run is
// single-threaded; chunks are processed in order.
type Cleaner struct {
	logger *utils.Logger
	opts   CleanerOptions
	fare   FarePolicy
	speed  SpeedClassifier
	peaks  PeakSelector
}

// NewCleaner creates a Cleaner with the given policies.
func NewCleaner(logger *utils.Logger, opts CleanerOptions, fare FarePolicy, speed SpeedClassifier, peaks PeakSelector) *Cleaner {
	return &Cleaner{logger: logger, opts: opts, fare: fare, speed: speed, peaks: peaks}
}

// runState is the only state shared between chunks of one run.
type runState struct {
	seen     *utils.KeySet
	hours    HourHistogram
	removals []models.Removal
}

func newRunState() *runState {
	st := &runState{seen: utils.NewKeySet()}
	for _, r := range removalOrder {
		st.removals = append(st.removals, models.Removal{Stage: r.stage, Reason: r.reason})
	}
	return st
}

func (st *runState) remove(reason string, sourceRow, sampleCap int) {
	for i := range st.removals {
		rm := &st.removals[i]
		if rm.Reason != reason {
			continue
		}
		rm.Count++
		if len(rm.SampleRows) < sampleCap {
			rm.SampleRows = append(rm.SampleRows, sourceRow)
		}
		return
	}
}

// Run cleans the CSV read from in and writes the result to sink. The report
// is returned even when the run fails; in that case the sink has been
// aborted and nothing was published.
func (c *Cleaner) Run(ctx context.Context, source string, in io.Reader, sink storage.TripSink) (*models.CleaningReport, error) {
	report := c.newReport(source)
	state := newRunState()

	fail := func(stage models.Stage, chunk int, err error) (*models.CleaningReport, error) {
		if aerr := sink.Abort(); aerr != nil {
			c.logger.Warn("[cleaner] Abort sink: %v", aerr)
		}
		return c.failed(report, state, stage, chunk, err)
	}

	reader, err := ingest.NewReader(in, c.opts.ChunkSize)
	if err != nil {
		return fail(models.StageLoaded, 0, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(models.StageLoaded, report.Chunks, err)
		}

		chunk, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(models.StageLoaded, report.Chunks, err)
		}

		batch, err := ingest.Parse(chunk, reader.Schema(), c.opts.DurationUnit)
		if err != nil {
			return fail(models.StageLoaded, chunk.Index, err)
		}

		frame := c.cleanBatch(batch, state, report)

		if err := sink.WriteChunk(frame); err != nil {
			return fail(models.StagePersisted, chunk.Index, err)
		}
		state.hours.Add(frame.PickupHour)
		report.Chunks++

		c.logger.Debug("[cleaner] Chunk %d: %d rows in, %d rows out", chunk.Index, batch.Len(), frame.Len())
	}

	if err := sink.Commit(); err != nil {
		return fail(models.StagePersisted, report.Chunks, err)
	}

	report.Status = models.StatusSucceeded
	report.Removals = state.removals
	report.HourCounts = state.hours
	report.PeakHours = c.peaks.Select(state.hours)
	report.FinishedAt = time.Now().UTC()

	c.logger.Info("[cleaner] Cleaned %d → %d trips (dropped %d) in %d chunk(s)",
		report.RowsBefore, report.RowsOut, report.RowsBefore-report.RowsOut, report.Chunks)
	c.logger.Info("[cleaner] Identified peak hours (%s): %v", report.PeakPolicy, report.PeakHours)
	return report, nil
}

// Reject records a run that failed before any row was read, such as when
// the input or the output destination cannot be opened.
func (c *Cleaner) Reject(source string, stage models.Stage, err error) (*models.CleaningReport, error) {
	return c.failed(c.newReport(source), newRunState(), stage, 0, err)
}

func (c *Cleaner) newReport(source string) *models.CleaningReport {
	return &models.CleaningReport{
		RunID:      uuid.NewString(),
		Source:     source,
		StartedAt:  time.Now().UTC(),
		FarePolicy: c.fare.Name(),
		PeakPolicy: c.peaks.Name(),
	}
}

func (c *Cleaner) failed(report *models.CleaningReport, state *runState, stage models.Stage, chunk int, err error) (*models.CleaningReport, error) {
	serr := &StageError{Stage: stage, Chunk: chunk, Err: err}
	report.Status = models.StatusFailed
	report.Error = serr.Error()
	report.Removals = state.removals
	report.FinishedAt = time.Now().UTC()
	c.logger.Error("[cleaner] Run %s aborted: %v", report.RunID, serr)
	return report, serr
}

// cleanBatch runs one parsed chunk through deduplication, validation,
// enrichment and flagging. Each stage builds a new frame.
func (c *Cleaner) cleanBatch(batch *ingest.Batch, state *runState, report *models.CleaningReport) *models.TripFrame {
	deduped, rows := c.deduplicate(batch, state)
	validated := c.validate(deduped, rows, batch.FareSupplied, batch.DistanceSupplied, state)
	enriched := c.enrich(validated, batch.FareSupplied)
	flagged := c.flag(enriched)

	report.RowsBefore += batch.Len()
	report.RowsAfterDedup += deduped.Len()
	report.RowsAfterValidation += validated.Len()
	report.RowsOut += flagged.Len()
	for _, o := range flagged.SpeedOutlier {
		if o {
			report.Outliers++
		}
	}
	return flagged
}

// deduplicate drops exact duplicates (including those seen in earlier
// chunks) and rows with missing required values.
func (c *Cleaner) deduplicate(batch *ingest.Batch, state *runState) (*models.TripFrame, []int) {
	keep := make([]int, 0, batch.Len())
	for i := 0; i < batch.Len(); i++ {
		switch {
		case !state.seen.Add(batch.Keys[i]):
			state.remove(models.ReasonDuplicate, batch.SourceRows[i], c.opts.SampleRows)
		case batch.Missing[i]:
			state.remove(models.ReasonMissingValue, batch.SourceRows[i], c.opts.SampleRows)
		default:
			keep = append(keep, i)
		}
	}

	rows := make([]int, len(keep))
	for i, j := range keep {
		rows[i] = batch.SourceRows[j]
	}
	return batch.Frame.Take(keep), rows
}

// validate resolves the trip distance and drops physically impossible rows.
// It runs before any division by distance or duration.
func (c *Cleaner) validate(f *models.TripFrame, rows []int, fareSupplied, distanceSupplied bool, state *runState) *models.TripFrame {
	resolved := *f
	if !distanceSupplied {
		resolved.TripDistanceKm = geo.Distances(f.PickupLatitude, f.PickupLongitude, f.DropoffLatitude, f.DropoffLongitude)
	}

	keep := make([]int, 0, resolved.Len())
	for i := 0; i < resolved.Len(); i++ {
		if reason := c.invalidReason(&resolved, i, fareSupplied); reason != "" {
			state.remove(reason, rows[i], c.opts.SampleRows)
			continue
		}
		keep = append(keep, i)
	}
	return resolved.Take(keep)
}

func (c *Cleaner) invalidReason(f *models.TripFrame, i int, fareSupplied bool) string {
	dist := f.TripDistanceKm[i]
	dur := f.TripDurationSec[i]
	switch {
	case !validLatitude(f.PickupLatitude[i]) || !validLatitude(f.DropoffLatitude[i]) ||
		!validLongitude(f.PickupLongitude[i]) || !validLongitude(f.DropoffLongitude[i]):
		return models.ReasonInvalidCoordinates
	case dist <= 0 || dist < c.opts.MinDistanceKm || math.IsInf(dist, 0):
		return models.ReasonInvalidDistance
	case dur <= 0 || dur <= c.opts.MinDurationSec || math.IsInf(dur, 0):
		return models.ReasonInvalidDuration
	case fareSupplied && (f.FareAmount[i] < 0 || math.IsInf(f.FareAmount[i], 0)):
		return models.ReasonNegativeFare
	case f.PassengerCount[i] < 1:
		return models.ReasonInvalidPassengers
	}
	return ""
}

// NaN coordinates are absent, not invalid.
func validLatitude(v float64) bool  { return math.IsNaN(v) || (v >= -90 && v <= 90) }
func validLongitude(v float64) bool { return math.IsNaN(v) || (v >= -180 && v <= 180) }

// enrich computes fare, speed, fare per km and pickup hour.
func (c *Cleaner) enrich(f *models.TripFrame, fareSupplied bool) *models.TripFrame {
	out := *f
	n := f.Len()

	if !fareSupplied {
		out.FareAmount = EstimateFares(c.fare, f.TripDistanceKm, f.TripDurationSec, f.PassengerCount)
	}

	out.TripSpeedKmh = make([]float64, n)
	out.FarePerKm = make([]float64, n)
	out.PickupHour = make([]int, n)
	for i := 0; i < n; i++ {
		out.TripSpeedKmh[i] = f.TripDistanceKm[i] / (f.TripDurationSec[i] / 3600)
		out.FarePerKm[i] = out.FareAmount[i] / f.TripDistanceKm[i]
		out.PickupHour[i] = f.PickupDatetime[i].Hour()
	}
	return &out
}

// flag marks speed outliers.
func (c *Cleaner) flag(f *models.TripFrame) *models.TripFrame {
	out := *f
	out.SpeedOutlier = c.speed.Flag(f.TripSpeedKmh)
	return &out
}
