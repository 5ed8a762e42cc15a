// Package mission implements a unit's mission state machine: the
// Idle→EnRoute→DroppingAgent→ArrivedToBase→Idle lifecycle, mid-flight
// redirection, and the Fault branch.
package mission

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fireline/dispatch/internal/fleet"
	"github.com/fireline/dispatch/internal/geometry"
	"github.com/fireline/dispatch/internal/observability"
	"github.com/fireline/dispatch/internal/wire"
)

// TelemetrySender delivers an encoded telemetry datagram to the
// coordinator. Implemented in production by cmd/unit's coordinatorSender,
// which wraps the unit's send endpoint, and by an in-memory double in tests.
type TelemetrySender interface {
	Send(line string) error
}

// ZoneCenterResolver resolves a zone id to its rectangle center. Satisfied
// directly by *zonestore.Registry.
type ZoneCenterResolver interface {
	GetOrCreate(id int) geometry.Zone
}

// ZoneStatus is the coordinator's authoritative, cross-unit view of a
// zone: whether it still has an active fire, how many agent drops have
// landed on it cumulatively across every unit assigned to it, and how
// many units it currently requires.
type ZoneStatus struct {
	HasFire  bool
	Drops    int
	Required int
}

// ZoneStatusResolver answers a live query for a zone's cross-unit status.
// A unit's own per-engine drop count can never reflect another unit's
// drops on the same zone (dispatch always assigns distinct drone ids per
// zone), so both the "should I still drop" short-circuit and the
// FIRE_OUT estimate are built on this instead of private state. Satisfied
// by *RemoteZoneStatusResolver in production and a stub in tests.
type ZoneStatusResolver interface {
	Status(id int) ZoneStatus
}

// Config holds the unit mission engine's timing parameters.
type Config struct {
	BaseLocation     geometry.Location
	MotionInterval   time.Duration
	MaxMovementTime  time.Duration
	MaxDropAgentTime time.Duration
	RefillDelay      time.Duration
}

// Engine drives one unit's mission lifecycle. A single goroutine calls
// Run; EnqueueEvent may be called concurrently from the unit's receive
// loop.
type Engine struct {
	droneID    string
	cfg        Config
	sender     TelemetrySender
	zones      ZoneCenterResolver
	zoneStatus ZoneStatusResolver
	fuel       *FuelBudget
	log        *zap.Logger
	metrics    *observability.Metrics

	mu              sync.Mutex
	spec            fleet.UnitSpec
	state           wire.State
	currentLocation geometry.Location
	targetLocation  geometry.Location
	currentTask     *wire.FireEvent
	zonesServiced   int
	errorKind       wire.ErrorKind

	// assignCh carries both fresh idle assignments and mid-flight
	// redirections; EnqueueEvent decides which is which before sending,
	// and only one consumer (Run's idle wait, or an in-flight travel
	// loop) ever reads it at a time.
	assignCh chan wire.FireEvent
}

// New creates an Engine for droneID, starting Idle at startLocation.
func New(droneID string, spec fleet.UnitSpec, startLocation geometry.Location, cfg Config, sender TelemetrySender, zones ZoneCenterResolver, zoneStatus ZoneStatusResolver, log *zap.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		droneID:         droneID,
		cfg:             cfg,
		sender:          sender,
		zones:           zones,
		zoneStatus:      zoneStatus,
		fuel:            NewFuelBudget(spec.BatteryMinutes),
		log:             log,
		metrics:         metrics,
		spec:            spec,
		state:           wire.StateIdle,
		currentLocation: startLocation,
		targetLocation:  startLocation,
		assignCh:        make(chan wire.FireEvent, 1),
	}
}

// CurrentStateName returns the unit's current state as its wire token.
func (e *Engine) CurrentStateName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.String()
}

// TelemetrySnapshot returns the unit's current status as a fleet.UnitStatus
// for operator-facing views; it does not itself emit a wire datagram.
func (e *Engine) TelemetrySnapshot() fleet.UnitStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fleet.UnitStatus{
		DroneID:         e.droneID,
		CurrentLocation: e.currentLocation,
		TargetLocation:  e.targetLocation,
		State:           e.state,
		CurrentTask:     e.currentTask,
		ZonesServiced:   e.zonesServiced,
		ErrorKind:       e.errorKind,
		Spec:            e.spec,
	}
}

// EnqueueEvent is the public entrypoint for a new or redirected task,
// called from the unit's receive loop whenever a fire event datagram
// arrives addressed to this unit.
func (e *Engine) EnqueueEvent(ev wire.FireEvent) {
	e.mu.Lock()
	state := e.state
	current := e.currentTask
	e.mu.Unlock()

	switch {
	case state == wire.StateIdle:
		e.trySend(ev)
	case current != nil && ev.ZoneID != current.ZoneID && (state == wire.StateEnRoute || state == wire.StateDroppingAgent):
		e.trySend(ev)
	default:
		e.log.Debug("dropping duplicate or late fire event",
			zap.String("drone", e.droneID), zap.Int("zone", ev.ZoneID), zap.String("state", state.String()))
	}
}

// trySend overwrites any stale pending assignment with the newest one,
// so a unit never acts on an assignment that has already been superseded.
func (e *Engine) trySend(ev wire.FireEvent) {
	for {
		select {
		case e.assignCh <- ev:
			return
		default:
			select {
			case <-e.assignCh:
			default:
			}
		}
	}
}
