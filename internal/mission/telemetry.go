package mission

import (
	"go.uber.org/zap"

	"github.com/fireline/dispatch/internal/geometry"
	"github.com/fireline/dispatch/internal/wire"
)

// snapshot is an internal, lock-consistent read of everything a telemetry
// datagram needs.
type snapshot struct {
	state    wire.State
	loc      geometry.Location
	task     *wire.FireEvent
	errKind  wire.ErrorKind
	capacity float64
	hasErr   bool
}

func (e *Engine) takeSnapshot() snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot{
		state:    e.state,
		loc:      e.currentLocation,
		task:     e.currentTask,
		errKind:  e.errorKind,
		capacity: e.spec.CurrentCapacity,
		hasErr:   e.errorKind != wire.ErrorNone,
	}
}

func (e *Engine) send(t wire.Telemetry) {
	line := wire.EncodeTelemetry(t)
	if err := e.sender.Send(line); err != nil {
		e.log.Debug("telemetry send failed", zap.String("drone", e.droneID), zap.Error(err))
	}
}

func (e *Engine) baseTelemetry(s snapshot) wire.Telemetry {
	t := wire.Telemetry{
		DroneID: e.droneID,
		State:   s.state,
		X:       s.loc.X,
		Y:       s.loc.Y,
	}
	if s.hasErr {
		t.HasError = true
		t.Error = s.errKind
	}
	if s.task != nil {
		t.HasTask = true
		t.TaskZoneID = s.task.ZoneID
		t.TaskSeverity = s.task.Severity
	}
	return t
}

// emitStateTelemetry reports a state transition; required at every
// transition per the cadence in spec §4.3.
func (e *Engine) emitStateTelemetry() {
	e.send(e.baseTelemetry(e.takeSnapshot()))
}

// emitMotionTelemetry reports an in-flight position update during travel.
func (e *Engine) emitMotionTelemetry() {
	s := e.takeSnapshot()
	t := e.baseTelemetry(s)
	t.HasCapacity = true
	t.Capacity = s.capacity
	e.send(t)
}

// emitDropTelemetry reports the outcome of an agent drop. DROP always
// carries the zone id so the coordinator can accumulate the cross-unit
// drop count that actually decides FIRE_OUT (internal/dispatch's
// handleDrop); FIRE_OUT here is only this unit's own best estimate of
// that outcome, included as a convenience, not as the authoritative
// signal.
func (e *Engine) emitDropTelemetry(zoneID int, fireOut bool) {
	s := e.takeSnapshot()
	t := e.baseTelemetry(s)
	t.HasCapacity = true
	t.Capacity = s.capacity
	t.HasDrop = true
	t.DropZone = zoneID
	if fireOut {
		t.HasFireOut = true
		t.FireOutZone = zoneID
	}
	e.send(t)
}

// emitRedirectTelemetry reports a mid-flight redirection: the zone
// abandoned and the zone newly targeted, in a single datagram.
func (e *Engine) emitRedirectTelemetry(oldZone, newZone int) {
	s := e.takeSnapshot()
	t := e.baseTelemetry(s)
	t.HasAbandoned = true
	t.AbandonedZone = oldZone
	t.HasNewTask = true
	t.NewTaskZone = newZone
	e.send(t)
}
