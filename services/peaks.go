package services

import (
	"fmt"
	"math"
	"sort"
)

// Peak policy names accepted by NewPeakSelector.
const (
	PeakPolicyStatistical = "statistical"
	PeakPolicyTopK        = "topk"
)

// HourHistogram counts trips per pickup hour. It is the only state the
// cleaner carries across chunks, so peak hours can be computed after the
// last chunk without holding the dataset.
type HourHistogram [24]int

// Add counts every hour in hours. Values outside 0..23 are ignored.
func (h *HourHistogram) Add(hours []int) {
	for _, hr := range hours {
		if hr >= 0 && hr < 24 {
			h[hr]++
		}
	}
}

// Merge adds the counts of other.
func (h *HourHistogram) Merge(other HourHistogram) {
	for i := range h {
		h[i] += other[i]
	}
}

// Total returns the number of counted trips.
func (h HourHistogram) Total() int {
	n := 0
	for _, c := range h {
		n += c
	}
	return n
}

// PeakSelector picks the peak hours from a histogram. Implementations
// return hours in ascending order.
type PeakSelector interface {
	Name() string
	Select(h HourHistogram) []int
}

// StatisticalPeaks selects hours whose count exceeds the mean by more than
// StdDevs sample standard deviations, taken over all 24 buckets.
type StatisticalPeaks struct {
	StdDevs float64
}

func (p StatisticalPeaks) Name() string { return PeakPolicyStatistical }

func (p StatisticalPeaks) Select(h HourHistogram) []int {
	if h.Total() == 0 {
		return []int{}
	}
	mean := float64(h.Total()) / 24

	var ss float64
	for _, c := range h {
		d := float64(c) - mean
		ss += d * d
	}
	std := math.Sqrt(ss / 23)

	cut := mean + p.StdDevs*std
	peaks := []int{}
	for hour, c := range h {
		if float64(c) > cut {
			peaks = append(peaks, hour)
		}
	}
	return peaks
}

// TopKPeaks selects the K busiest hours, breaking ties by the earlier hour.
// Hours without trips are never selected.
type TopKPeaks struct {
	K int
}

func (p TopKPeaks) Name() string { return PeakPolicyTopK }

func (p TopKPeaks) Select(h HourHistogram) []int {
	hours := make([]int, 0, 24)
	for hour, c := range h {
		if c > 0 {
			hours = append(hours, hour)
		}
	}
	sort.SliceStable(hours, func(i, j int) bool {
		return h[hours[i]] > h[hours[j]]
	})

	k := p.K
	if k > len(hours) {
		k = len(hours)
	}
	if k < 0 {
		k = 0
	}
	peaks := append([]int{}, hours[:k]...)
	sort.Ints(peaks)
	return peaks
}

// NewPeakSelector selects a peak policy by name.
func NewPeakSelector(name string, k int, stdDevs float64) (PeakSelector, error) {
	switch name {
	case PeakPolicyStatistical, "":
		return StatisticalPeaks{StdDevs: stdDevs}, nil
	case PeakPolicyTopK:
		if k < 1 {
			return nil, fmt.Errorf("top-k peak policy needs k >= 1, got %d", k)
		}
		return TopKPeaks{K: k}, nil
	default:
		return nil, fmt.Errorf("peak policy %q: %w", name, ErrUnknownPolicy)
	}
}
