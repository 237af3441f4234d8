package services

// DefaultSpeedThresholdKmh is the plausibility ceiling for average trip speed.
const DefaultSpeedThresholdKmh = 80.0

// SpeedClassifier flags trips whose average speed is above ThresholdKmh.
// The boundary is exclusive and NaN speeds are never flagged.
type SpeedClassifier struct {
	ThresholdKmh float64
}

// IsOutlier reports whether speedKmh exceeds the threshold.
func (c SpeedClassifier) IsOutlier(speedKmh float64) bool {
	return speedKmh > c.ThresholdKmh
}

// Flag classifies a whole speed column.
func (c SpeedClassifier) Flag(speedsKmh []float64) []bool {
	out := make([]bool, len(speedsKmh))
	for i, s := range speedsKmh {
		out[i] = s > c.ThresholdKmh
	}
	return out
}
