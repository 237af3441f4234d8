package services

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpeedClassifier(t *testing.T) {
	c := SpeedClassifier{ThresholdKmh: DefaultSpeedThresholdKmh}

	assert.False(t, c.IsOutlier(80), "threshold itself is not an outlier")
	assert.True(t, c.IsOutlier(math.Nextafter(80, 100)))
	assert.True(t, c.IsOutlier(120))
	assert.False(t, c.IsOutlier(35))
	assert.False(t, c.IsOutlier(math.NaN()))
}

func TestSpeedClassifierFlag(t *testing.T) {
	c := SpeedClassifier{ThresholdKmh: 80}
	got := c.Flag([]float64{10, 80, 80.0001, math.NaN(), 200})
	assert.Equal(t, []bool{false, false, true, false, true}, got)
}
