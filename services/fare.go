package services

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnknownPolicy is returned when a fare or peak policy name is not recognised.
var ErrUnknownPolicy = errors.New("unknown policy")

// Fare policy names accepted by NewFarePolicy.
const (
	FarePolicyLinear  = "linear"
	FarePolicyFloored = "floored"
)

// FareSchedule holds the pricing constants. Durations are charged per
// minute; the estimator receives seconds and converts.
type FareSchedule struct {
	Base      float64
	PerKm     float64
	PerMinute float64
	// Surcharge is charged for every passenger beyond the first.
	Surcharge float64
	// Minimum floors the base+distance+time component. Only the floored
	// policy uses it.
	Minimum float64
}

// DefaultFareSchedule is the tariff the pipeline ships with.
var DefaultFareSchedule = FareSchedule{
	Base:      2.50,
	PerKm:     2.50,
	PerMinute: 0.50,
	Surcharge: 0.50,
	Minimum:   3.50,
}

// Validate rejects negative tariff components.
func (s FareSchedule) Validate() error {
	switch {
	case s.Base < 0:
		return errors.New("fare base should not be negative")
	case s.PerKm < 0:
		return errors.New("fare per km should not be negative")
	case s.PerMinute < 0:
		return errors.New("fare per minute should not be negative")
	case s.Surcharge < 0:
		return errors.New("fare surcharge should not be negative")
	case s.Minimum < 0:
		return errors.New("fare minimum should not be negative")
	}
	return nil
}

// FarePolicy estimates the fare of one trip.
type FarePolicy interface {
	Name() string
	Estimate(distanceKm, durationSec float64, passengers int) float64
}

// LinearFare charges base + distance + time + passenger surcharge with no floor.
type LinearFare struct {
	Schedule FareSchedule
}

func (p LinearFare) Name() string { return FarePolicyLinear }

func (p LinearFare) Estimate(distanceKm, durationSec float64, passengers int) float64 {
	s := p.Schedule
	return round2(meteredFare(s, distanceKm, durationSec) + surcharge(s, passengers))
}

// FlooredFare is LinearFare with the metered part raised to Schedule.Minimum
// before the passenger surcharge is added.
type FlooredFare struct {
	Schedule FareSchedule
}

func (p FlooredFare) Name() string { return FarePolicyFloored }

func (p FlooredFare) Estimate(distanceKm, durationSec float64, passengers int) float64 {
	s := p.Schedule
	return round2(math.Max(s.Minimum, meteredFare(s, distanceKm, durationSec)) + surcharge(s, passengers))
}

// NewFarePolicy selects a pricing strategy by name.
func NewFarePolicy(name string, schedule FareSchedule) (FarePolicy, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	switch name {
	case FarePolicyLinear, "":
		return LinearFare{Schedule: schedule}, nil
	case FarePolicyFloored:
		return FlooredFare{Schedule: schedule}, nil
	default:
		return nil, fmt.Errorf("fare policy %q: %w", name, ErrUnknownPolicy)
	}
}

// EstimateFares prices whole columns at once. The columns must have equal length.
func EstimateFares(policy FarePolicy, distanceKm, durationSec []float64, passengers []int) []float64 {
	out := make([]float64, len(distanceKm))
	for i := range out {
		out[i] = policy.Estimate(distanceKm[i], durationSec[i], passengers[i])
	}
	return out
}

func meteredFare(s FareSchedule, distanceKm, durationSec float64) float64 {
	return s.Base + distanceKm*s.PerKm + (durationSec/60)*s.PerMinute
}

func surcharge(s FareSchedule, passengers int) float64 {
	extra := passengers - 1
	if extra < 0 {
		extra = 0
	}
	return float64(extra) * s.Surcharge
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
