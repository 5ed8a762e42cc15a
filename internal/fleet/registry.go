package fleet

import (
	"sync"

	"github.com/fireline/dispatch/internal/geometry"
	"github.com/fireline/dispatch/internal/wire"
)

// Registry is the thread-safe in-memory unit registry. The coordinator and
// the operator snapshot server share one instance; all mutation is routed
// through its methods so that readers never observe a partially-updated
// UnitStatus.
type Registry struct {
	mu    sync.RWMutex
	units map[string]*UnitStatus
}

// NewRegistry creates an empty unit registry.
func NewRegistry() *Registry {
	return &Registry{units: make(map[string]*UnitStatus)}
}

// Get returns the unit's status and whether it is registered.
func (r *Registry) Get(droneID string) (UnitStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[droneID]
	if !ok {
		return UnitStatus{}, false
	}
	return *u, true
}

// Register creates a unit if it is not already tracked, at the given
// location with a default spec, in the Idle state. Telemetry from an
// unknown unit id triggers implicit registration; no error is surfaced.
func (r *Registry) Register(droneID string, loc geometry.Location) UnitStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.units[droneID]; ok {
		return *u
	}
	u := &UnitStatus{
		DroneID:         droneID,
		CurrentLocation: loc,
		TargetLocation:  loc,
		State:           wire.StateIdle,
		Spec:            DefaultUnitSpec(),
	}
	r.units[droneID] = u
	return *u
}

// Update applies fn to the unit's stored record under the write lock and
// returns the resulting status. If the unit is not yet registered it is
// created first at the zero location.
func (r *Registry) Update(droneID string, fn func(*UnitStatus)) UnitStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[droneID]
	if !ok {
		u = &UnitStatus{DroneID: droneID, State: wire.StateIdle, Spec: DefaultUnitSpec()}
		r.units[droneID] = u
	}
	fn(u)
	return *u
}

// All returns a snapshot of every registered unit's status.
func (r *Registry) All() []UnitStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]UnitStatus, 0, len(r.units))
	for _, u := range r.units {
		out = append(out, *u)
	}
	return out
}

// CountNonIdleForZone returns the number of units whose current task
// targets zoneID and whose state is not Idle — the live re-count used by
// the dispatch engine to tolerate stale bookkeeping (invariant I4).
func (r *Registry) CountNonIdleForZone(zoneID int) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, u := range r.units {
		if u.State != wire.StateIdle && u.CurrentTask != nil && u.CurrentTask.ZoneID == zoneID {
			count++
		}
	}
	return count
}

// AvailableUnits returns a snapshot of every unit for which Available()
// holds, excluding any droneID present in exclude.
func (r *Registry) AvailableUnits(exclude map[string]bool) []UnitStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []UnitStatus
	for id, u := range r.units {
		if exclude[id] {
			continue
		}
		if u.Available() {
			out = append(out, *u)
		}
	}
	return out
}
