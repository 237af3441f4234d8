package models

import "time"

// Stage is a step of the cleaning state machine. A chunk moves through the
// stages in declaration order.
type Stage int

const (
	StageLoaded Stage = iota
	StageDeduplicated
	StageValidated
	StageFeatureEnriched
	StageFlagged
	StagePersisted
)

var stageNames = [...]string{"loaded", "deduplicated", "validated", "feature_enriched", "flagged", "persisted"}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// MarshalText lets reports carry stage names instead of numbers.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Removal reasons recorded in the report. ReasonDuplicate compares the trip
// columns the pipeline reads; identifier columns such as id and vendor_id do
// not take part.
const (
	ReasonDuplicate          = "duplicate"
	ReasonMissingValue       = "missing_value"
	ReasonInvalidCoordinates = "invalid_coordinates"
	ReasonInvalidDistance    = "invalid_distance"
	ReasonInvalidDuration    = "invalid_duration"
	ReasonNegativeFare       = "negative_fare"
	ReasonInvalidPassengers  = "invalid_passenger_count"
)

// Removal counts the rows one stage dropped for one reason. SampleRows holds
// the 1-based source row numbers of the first removed rows.
type Removal struct {
	Stage      Stage  `json:"stage"`
	Reason     string `json:"reason"`
	Count      int    `json:"count"`
	SampleRows []int  `json:"sample_rows,omitempty"`
}

// Run outcomes.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// CleaningReport is the audit record of one pipeline run.
type CleaningReport struct {
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Chunks     int       `json:"chunks"`

	RowsBefore          int `json:"rows_before"`
	RowsAfterDedup      int `json:"rows_after_dedup"`
	RowsAfterValidation int `json:"rows_after_validation"`
	RowsOut             int `json:"rows_out"`
	Outliers            int `json:"outliers"`

	Removals []Removal `json:"removals"`

	FarePolicy string  `json:"fare_policy"`
	PeakPolicy string  `json:"peak_policy"`
	PeakHours  []int   `json:"peak_hours"`
	HourCounts [24]int `json:"hour_counts"`
}

// Removed returns the number of rows dropped for reason, or 0.
func (r *CleaningReport) Removed(reason string) int {
	for _, rm := range r.Removals {
		if rm.Reason == reason {
			return rm.Count
		}
	}
	return 0
}

// StageRemoved returns the number of rows dropped by stage.
func (r *CleaningReport) StageRemoved(stage Stage) int {
	n := 0
	for _, rm := range r.Removals {
		if rm.Stage == stage {
			n += rm.Count
		}
	}
	return n
}
