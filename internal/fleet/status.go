package fleet

import (
	"github.com/fireline/dispatch/internal/geometry"
	"github.com/fireline/dispatch/internal/wire"
)

// UnitStatus is the coordinator's and the operator view's authoritative
// record of one unit. Instances are never mutated directly by callers; all
// writes go through a Registry.
type UnitStatus struct {
	DroneID         string
	CurrentLocation geometry.Location
	TargetLocation  geometry.Location
	State           wire.State
	CurrentTask     *wire.FireEvent
	ZonesServiced   int
	LastUpdateTime  int64 // unix nanos
	Spec            UnitSpec
	ErrorKind       wire.ErrorKind
}

// Available reports whether the unit may receive a new assignment: it must
// be Idle, free of a hard fault, and not already holding a task.
func (u UnitStatus) Available() bool {
	return u.State == wire.StateIdle && !u.ErrorKind.IsHard() && u.CurrentTask == nil
}
