package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopKPeaks(t *testing.T) {
	var h HourHistogram
	for i := range h {
		h[i] = 10
	}
	h[0], h[1], h[2], h[23] = 5, 50, 3, 48

	assert.Equal(t, []int{1, 23}, TopKPeaks{K: 2}.Select(h))
}

func TestTopKPeaksTies(t *testing.T) {
	var h HourHistogram
	h[20], h[7], h[9] = 4, 4, 4

	assert.Equal(t, []int{7, 9}, TopKPeaks{K: 2}.Select(h), "ties go to the earlier hour")
	assert.Equal(t, []int{7, 9, 20}, TopKPeaks{K: 5}.Select(h), "empty hours are never peaks")
	assert.Empty(t, TopKPeaks{K: 3}.Select(HourHistogram{}))
}

func TestStatisticalPeaks(t *testing.T) {
	var h HourHistogram
	for i := range h {
		h[i] = 10
	}
	h[8], h[17] = 100, 100

	assert.Equal(t, []int{8, 17}, StatisticalPeaks{StdDevs: 1}.Select(h))
}

func TestStatisticalPeaksFlat(t *testing.T) {
	var h HourHistogram
	for i := range h {
		h[i] = 7
	}
	assert.Empty(t, StatisticalPeaks{StdDevs: 1}.Select(h), "a flat day has no peaks")
	assert.Empty(t, StatisticalPeaks{StdDevs: 1}.Select(HourHistogram{}))
}

func TestHourHistogram(t *testing.T) {
	var a, b HourHistogram
	a.Add([]int{1, 1, 23, 24, -1})
	b.Add([]int{1, 5})
	a.Merge(b)

	assert.Equal(t, 3, a[1])
	assert.Equal(t, 1, a[5])
	assert.Equal(t, 1, a[23])
	assert.Equal(t, 5, a.Total())
}

func TestNewPeakSelector(t *testing.T) {
	p, err := NewPeakSelector("", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, PeakPolicyStatistical, p.Name())

	p, err = NewPeakSelector(PeakPolicyTopK, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, TopKPeaks{K: 3}, p)

	_, err = NewPeakSelector(PeakPolicyTopK, 0, 1)
	assert.Error(t, err)

	_, err = NewPeakSelector("busiest", 2, 1)
	assert.True(t, errors.Is(err, ErrUnknownPolicy))
}
