package mission

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fireline/dispatch/internal/fleet"
	"github.com/fireline/dispatch/internal/geometry"
	"github.com/fireline/dispatch/internal/wire"
)

// missionPhase tracks which leg of a mission the engine is flying.
type missionPhase int

const (
	phaseToZone missionPhase = iota
	phaseToBase
)

// travelOutcome is the result of one call to travel.
type travelOutcome int

const (
	travelArrived travelOutcome = iota
	travelRedirected
	travelFaulted
	travelCancelled
)

// Run is the unit's mission loop: while Idle it waits for an assignment;
// once assigned it drives the mission to completion (or fault) and
// returns to waiting. Run blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-e.assignCh:
			e.runMission(ctx, task)
		}
	}
}

func (e *Engine) runMission(ctx context.Context, task wire.FireEvent) {
	e.beginTask(task)
	phase := phaseToZone

	for {
		target := e.targetSnapshot()
		outcome, redirect := e.travel(ctx, target)

		switch outcome {
		case travelCancelled:
			return
		case travelFaulted:
			e.enterFault(wire.ErrorDroneStuck)
			e.limpHome(ctx)
			return
		case travelRedirected:
			e.handleRedirect(*redirect)
			phase = phaseToZone
			continue
		case travelArrived:
			// fall through to phase handling below
		}

		switch phase {
		case phaseToZone:
			task = e.snapshotTask()
			if e.zoneSatisfiedOrNoFire(task) {
				e.setTarget(e.cfg.BaseLocation)
				phase = phaseToBase
				continue
			}
			faulted := e.dropAgent(ctx, task)
			if faulted {
				e.enterFault(wire.ErrorNozzleJam)
				e.limpHome(ctx)
				return
			}
			e.setTarget(e.cfg.BaseLocation)
			phase = phaseToBase
		case phaseToBase:
			e.arriveAtBase(ctx)
			return
		}
	}
}

// limpHome flies the unit back to base after a fault. A faulted unit
// never accepts a redirect (EnqueueEvent gates on state == EnRoute or
// DroppingAgent, neither of which holds in Fault), so travel here never
// returns a redirect; a faulted leg (movement timeout or exhausted fuel)
// is retried from the current position until it arrives or is cancelled.
func (e *Engine) limpHome(ctx context.Context) {
	e.setTarget(e.cfg.BaseLocation)
	for {
		outcome, _ := e.travel(ctx, e.targetSnapshot())
		switch outcome {
		case travelCancelled:
			return
		case travelArrived:
			e.arriveAtBase(ctx)
			return
		default:
			continue
		}
	}
}

// travel interpolates position toward target at the configured motion
// cadence, emitting telemetry each tick, until arrival, a redirect signal,
// a movement-time fault, or cancellation — whichever comes first.
func (e *Engine) travel(ctx context.Context, target geometry.Location) (travelOutcome, *wire.FireEvent) {
	start := e.currentLocationSnapshot()
	distance := geometry.Distance(start, target)
	if distance == 0 {
		e.setLocation(target)
		return travelArrived, nil
	}

	spec := e.specSnapshot()
	totalSeconds := spec.TravelTime(float64(distance))
	if totalSeconds <= 0 {
		e.setLocation(target)
		return travelArrived, nil
	}

	if !e.fuel.Consume(totalSeconds / 60) {
		e.log.Debug("fuel budget exhausted mid-mission", zap.String("drone", e.droneID),
			zap.Float64("remaining_minutes", e.fuel.Remaining()))
		return travelFaulted, nil
	}

	interval := e.cfg.MotionInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadline := time.Now().Add(e.cfg.MaxMovementTime)
	missionStart := time.Now()

	for {
		select {
		case <-ctx.Done():
			return travelCancelled, nil
		case ev := <-e.assignCh:
			return travelRedirected, &ev
		case now := <-ticker.C:
			if now.After(deadline) {
				return travelFaulted, nil
			}
			elapsed := now.Sub(missionStart).Seconds()
			frac := elapsed / totalSeconds
			if frac >= 1 {
				e.setLocation(target)
				e.emitMotionTelemetry()
				return travelArrived, nil
			}
			e.setLocation(interpolate(start, target, frac))
			e.emitMotionTelemetry()
		}
	}
}

func interpolate(a, b geometry.Location, frac float64) geometry.Location {
	return geometry.Location{
		X: a.X + int(float64(b.X-a.X)*frac),
		Y: a.Y + int(float64(b.Y-a.Y)*frac),
	}
}

// dropAgent awaits the nozzle-open delay, empties capacity, and reports
// FIRE_OUT if this drop brings the zone's cumulative drop count to the
// required number of units. The cumulative count is a cross-unit query
// to the coordinator (e.zoneStatus), not a private per-engine tally: this
// unit's own drop has not yet reached the coordinator when the estimate
// is made, so the tag is this unit's best estimate of the outcome, not
// the final word — the coordinator's own handleDrop is (spec §4.3).
// Returns true if the drop procedure exceeded MaxDropAgentTime.
func (e *Engine) dropAgent(ctx context.Context, task wire.FireEvent) (faulted bool) {
	e.transition(wire.StateDroppingAgent)
	e.emitStateTelemetry()

	spec := e.specSnapshot()
	delay := time.Duration(spec.NozzleOpenDelay * float64(time.Second))
	if delay > e.cfg.MaxDropAgentTime {
		return true
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}

	e.mu.Lock()
	e.zonesServiced++
	e.spec.CurrentCapacity = 0
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.FirefightingDuration.WithLabelValues(task.Severity.String()).Observe(delay.Seconds())
	}

	status := e.zoneStatus.Status(task.ZoneID)
	fireOut := status.Drops+1 >= task.Severity.UnitsRequired()
	e.emitDropTelemetry(task.ZoneID, fireOut)
	return false
}

// arriveAtBase transitions ArrivedToBase, waits out the refill delay,
// restores capacity and fuel, auto-clears a soft fault, and returns the
// unit to Idle. A hard fault (NOZZLE_JAM) persists through this
// transition: per the Fault branch, the only permitted exit from Fault is
// ArrivedToBase→Idle, never directly to Idle, but the hard fault itself
// is not cleared here.
func (e *Engine) arriveAtBase(ctx context.Context) {
	e.transition(wire.StateArrivedToBase)
	e.emitStateTelemetry()

	timer := time.NewTimer(e.cfg.RefillDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	e.fuel.Refill()
	e.mu.Lock()
	e.spec.CurrentCapacity = e.spec.FullCapacity
	if e.errorKind == wire.ErrorDroneStuck {
		e.errorKind = wire.ErrorNone
	}
	e.currentTask = nil
	e.state = wire.StateIdle
	e.mu.Unlock()
	e.emitStateTelemetry()
}

func (e *Engine) enterFault(kind wire.ErrorKind) {
	e.mu.Lock()
	e.state = wire.StateFault
	e.errorKind = kind
	e.mu.Unlock()
	e.emitStateTelemetry()
	e.log.Warn("unit fault", zap.String("drone", e.droneID), zap.String("kind", kind.String()))
}

func (e *Engine) handleRedirect(newTask wire.FireEvent) {
	e.mu.Lock()
	oldZone := 0
	if e.currentTask != nil {
		oldZone = e.currentTask.ZoneID
	}
	e.currentTask = &newTask
	e.targetLocation = e.zones.GetOrCreate(newTask.ZoneID).Center()
	e.mu.Unlock()
	e.emitRedirectTelemetry(oldZone, newTask.ZoneID)
}

func (e *Engine) beginTask(task wire.FireEvent) {
	e.mu.Lock()
	e.currentTask = &task
	e.state = wire.StateEnRoute
	e.targetLocation = e.zones.GetOrCreate(task.ZoneID).Center()
	e.mu.Unlock()
	e.emitStateTelemetry()
}

// zoneSatisfiedOrNoFire asks the coordinator whether task's zone is still
// on fire, so a unit en route to a multi-unit zone another unit already
// finished returns to base without dropping (spec §4.3 step 3). This must
// be a live cross-unit query, not a local flag: this engine may never have
// dropped on the zone itself.
func (e *Engine) zoneSatisfiedOrNoFire(task wire.FireEvent) bool {
	return !e.zoneStatus.Status(task.ZoneID).HasFire
}

func (e *Engine) transition(s wire.State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) setTarget(loc geometry.Location) {
	e.mu.Lock()
	e.targetLocation = loc
	e.mu.Unlock()
}

func (e *Engine) setLocation(loc geometry.Location) {
	e.mu.Lock()
	e.currentLocation = loc
	e.mu.Unlock()
}

func (e *Engine) targetSnapshot() geometry.Location {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.targetLocation
}

func (e *Engine) currentLocationSnapshot() geometry.Location {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentLocation
}

func (e *Engine) specSnapshot() fleet.UnitSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spec
}

func (e *Engine) snapshotTask() wire.FireEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentTask == nil {
		return wire.FireEvent{}
	}
	return *e.currentTask
}
