// Package fleet holds the unit registry: per-drone specification, runtime
// status, and the concurrency-safe registry the coordinator and the unit
// process consult and mutate.
package fleet

import "math"

// UnitSpec describes a unit's fixed kinematic and suppressant
// characteristics plus its mutable fuel state.
type UnitSpec struct {
	MaxSpeed        float64 // metres/second
	Accel           float64 // metres/second^2
	Decel           float64 // metres/second^2
	NozzleOpenDelay float64 // seconds
	FlowRate        float64 // litres/second
	FullCapacity    float64 // litres
	CurrentCapacity float64 // litres
	BatteryMinutes  float64
}

// TravelTime returns the time in seconds to cover distance d at this unit's
// kinematic profile: a triangular (never reaching max speed) or trapezoidal
// (accelerate, cruise, decelerate) velocity profile.
func (s UnitSpec) TravelTime(d float64) float64 {
	if d <= 0 {
		return 0
	}
	threshold := s.MaxSpeed*s.MaxSpeed/s.Accel + s.MaxSpeed*s.MaxSpeed/(2*s.Decel)
	if d < threshold {
		return d / (s.MaxSpeed / 2)
	}
	return d/s.MaxSpeed + s.MaxSpeed/(2*s.Accel) + s.MaxSpeed/(2*s.Decel)
}

// FirefightingTime returns the time in seconds to empty the nozzle for a
// fire needing requiredLitres of suppressant: the time to flow the larger
// of current capacity or the requirement, plus the nozzle-open delay.
func (s UnitSpec) FirefightingTime(requiredLitres float64) float64 {
	volume := math.Max(s.CurrentCapacity, requiredLitres)
	return volume/s.FlowRate + s.NozzleOpenDelay
}

// DefaultUnitSpec returns a representative unit specification; individual
// fields may be overridden by configuration.
func DefaultUnitSpec() UnitSpec {
	return UnitSpec{
		MaxSpeed:        12,
		Accel:           3,
		Decel:           4,
		NozzleOpenDelay: 1.5,
		FlowRate:        5,
		FullCapacity:    40,
		CurrentCapacity: 40,
		BatteryMinutes:  25,
	}
}
