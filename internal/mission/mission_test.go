package mission

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fireline/dispatch/internal/fleet"
	"github.com/fireline/dispatch/internal/geometry"
	"github.com/fireline/dispatch/internal/wire"
)

// recordingSender is an in-memory TelemetrySender double that records every
// decoded telemetry datagram for inspection.
type recordingSender struct {
	mu   sync.Mutex
	msgs []wire.Telemetry
}

func (r *recordingSender) Send(line string) error {
	t, err := wire.DecodeTelemetry(line)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.msgs = append(r.msgs, t)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) last() wire.Telemetry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return wire.Telemetry{}
	}
	return r.msgs[len(r.msgs)-1]
}

func (r *recordingSender) any(pred func(wire.Telemetry) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if pred(m) {
			return true
		}
	}
	return false
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

// stubZones resolves every zone id to a fixed, distinct location derived
// from the id, with no need to model a real grid.
type stubZones struct{}

func (stubZones) GetOrCreate(id int) geometry.Zone {
	return geometry.NewPointZone(id, geometry.Location{X: id * 100, Y: id * 100})
}

// stubZoneStatus answers a fixed ZoneStatus for every zone id, standing
// in for the coordinator's cross-unit drop count and fire status in
// tests that don't run a real coordinator.
type stubZoneStatus struct {
	mu       sync.Mutex
	hasFire  bool
	drops    int
	required int
}

func (s *stubZoneStatus) Status(id int) ZoneStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ZoneStatus{HasFire: s.hasFire, Drops: s.drops, Required: s.required}
}

func testConfig() Config {
	return Config{
		BaseLocation:     geometry.Location{X: 0, Y: 0},
		MotionInterval:   time.Millisecond,
		MaxMovementTime:  2 * time.Second,
		MaxDropAgentTime: 2 * time.Second,
		RefillDelay:      2 * time.Millisecond,
	}
}

func fastSpec() fleet.UnitSpec {
	return fleet.UnitSpec{
		MaxSpeed:        1000,
		Accel:           1000,
		Decel:           1000,
		NozzleOpenDelay: 0.001,
		FlowRate:        1000,
		FullCapacity:    40,
		CurrentCapacity: 40,
		BatteryMinutes:  25,
	}
}

func newTestEngine(sender *recordingSender) *Engine {
	return newTestEngineWithStatus(sender, &stubZoneStatus{hasFire: true})
}

func newTestEngineWithStatus(sender *recordingSender, status ZoneStatusResolver) *Engine {
	log := zap.NewNop()
	return New("drone-1", fastSpec(), geometry.Location{X: 0, Y: 0}, testConfig(), sender, stubZones{}, status, log, nil)
}

func TestEnqueueEventFromIdleTransitionsToEnRoute(t *testing.T) {
	sender := &recordingSender{}
	e := newTestEngine(sender)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go e.Run(ctx)

	ev := wire.FireEvent{Time: "T1", ZoneID: 1, EventType: "FIRE", Severity: geometry.SeverityLow}
	e.EnqueueEvent(ev)

	deadline := time.After(2 * time.Second)
	for {
		if e.CurrentStateName() == wire.StateEnRoute.String() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("unit never entered EnRoute")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestNominalLifecycleReachesIdleAndReportsFireOut(t *testing.T) {
	sender := &recordingSender{}
	e := newTestEngine(sender)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go e.Run(ctx)

	ev := wire.FireEvent{Time: "T1", ZoneID: 1, EventType: "FIRE", Severity: geometry.SeverityLow}
	e.EnqueueEvent(ev)

	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		if e.CurrentStateName() == wire.StateIdle.String() && sender.count() > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	if e.CurrentStateName() != wire.StateIdle.String() {
		t.Fatalf("unit never returned to Idle, last state %q", e.CurrentStateName())
	}
	if !sender.any(func(tm wire.Telemetry) bool { return tm.HasFireOut && tm.FireOutZone == 1 }) {
		t.Fatal("expected a FIRE_OUT:1 telemetry datagram for a Low severity single-unit fire")
	}
	status := e.TelemetrySnapshot()
	if status.ZonesServiced != 1 {
		t.Fatalf("ZonesServiced = %d, want 1", status.ZonesServiced)
	}
	if status.Spec.CurrentCapacity != status.Spec.FullCapacity {
		t.Fatalf("CurrentCapacity = %v, want refilled to %v", status.Spec.CurrentCapacity, status.Spec.FullCapacity)
	}
}

func TestRedirectionMidFlightChangesTarget(t *testing.T) {
	sender := &recordingSender{}
	e := newTestEngine(sender)
	// Slow the unit down so the test can redirect before arrival.
	e.spec.MaxSpeed = 1
	e.spec.Accel = 1
	e.spec.Decel = 1
	e.cfg.MaxMovementTime = 5 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go e.Run(ctx)

	first := wire.FireEvent{Time: "T1", ZoneID: 1, EventType: "FIRE", Severity: geometry.SeverityLow}
	e.EnqueueEvent(first)

	deadline := time.After(2 * time.Second)
	for e.CurrentStateName() != wire.StateEnRoute.String() {
		select {
		case <-deadline:
			t.Fatal("unit never entered EnRoute")
		case <-time.After(time.Millisecond):
		}
	}

	second := wire.FireEvent{Time: "T2", ZoneID: 2, EventType: "FIRE", Severity: geometry.SeverityHigh}
	e.EnqueueEvent(second)

	redirectDeadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(redirectDeadline) {
		if sender.any(func(tm wire.Telemetry) bool { return tm.HasAbandoned && tm.AbandonedZone == 1 }) {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !sender.any(func(tm wire.Telemetry) bool { return tm.HasAbandoned && tm.AbandonedZone == 1 }) {
		t.Fatal("expected an ABANDONED:1 telemetry datagram after redirection")
	}
	if !sender.any(func(tm wire.Telemetry) bool { return tm.HasNewTask && tm.NewTaskZone == 2 }) {
		t.Fatal("expected a NEW_TASK:2 telemetry datagram after redirection")
	}

	status := e.TelemetrySnapshot()
	if status.CurrentTask == nil || status.CurrentTask.ZoneID != 2 {
		t.Fatalf("expected current task to be zone 2, got %+v", status.CurrentTask)
	}
}

func TestEnqueueEventDropsDuplicateSameZone(t *testing.T) {
	sender := &recordingSender{}
	e := newTestEngine(sender)
	e.spec.MaxSpeed = 1
	e.spec.Accel = 1
	e.spec.Decel = 1
	e.cfg.MaxMovementTime = 5 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go e.Run(ctx)

	first := wire.FireEvent{Time: "T1", ZoneID: 1, EventType: "FIRE", Severity: geometry.SeverityLow}
	e.EnqueueEvent(first)

	deadline := time.After(2 * time.Second)
	for e.CurrentStateName() != wire.StateEnRoute.String() {
		select {
		case <-deadline:
			t.Fatal("unit never entered EnRoute")
		case <-time.After(time.Millisecond):
		}
	}

	before := e.TelemetrySnapshot()
	dup := wire.FireEvent{Time: "T2", ZoneID: 1, EventType: "FIRE", Severity: geometry.SeverityLow}
	e.EnqueueEvent(dup)
	time.Sleep(20 * time.Millisecond)

	after := e.TelemetrySnapshot()
	if after.CurrentTask == nil || before.CurrentTask == nil || after.CurrentTask.Time != before.CurrentTask.Time {
		t.Fatal("duplicate same-zone event should not have replaced the current task")
	}
}

func TestMovementFaultAutoClearsAtBase(t *testing.T) {
	sender := &recordingSender{}
	e := newTestEngine(sender)
	e.cfg.MaxMovementTime = 2 * time.Millisecond
	e.spec.MaxSpeed = 1
	e.spec.Accel = 1
	e.spec.Decel = 1

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go e.Run(ctx)

	ev := wire.FireEvent{Time: "T1", ZoneID: 1, EventType: "FIRE", Severity: geometry.SeverityLow}
	e.EnqueueEvent(ev)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status := e.TelemetrySnapshot()
		if status.State == wire.StateIdle && sender.count() > 0 {
			if status.ErrorKind != wire.ErrorNone {
				t.Fatalf("soft fault did not auto-clear, errorKind=%v", status.ErrorKind)
			}
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("unit never returned to Idle after a movement fault")
}

func TestDropTimeoutFaultPersistsAsHardFault(t *testing.T) {
	sender := &recordingSender{}
	e := newTestEngine(sender)
	e.cfg.MaxDropAgentTime = time.Microsecond
	e.spec.NozzleOpenDelay = 10

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go e.Run(ctx)

	ev := wire.FireEvent{Time: "T1", ZoneID: 1, EventType: "FIRE", Severity: geometry.SeverityLow}
	e.EnqueueEvent(ev)

	deadline := time.Now().Add(2 * time.Second)
	var status fleet.UnitStatus
	for time.Now().Before(deadline) {
		status = e.TelemetrySnapshot()
		if status.State == wire.StateIdle && sender.count() > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if status.State != wire.StateIdle {
		t.Fatalf("unit never returned to Idle after a drop-timeout fault, last state %v", status.State)
	}
	if status.ErrorKind != wire.ErrorNozzleJam {
		t.Fatalf("hard fault should persist through ArrivedToBase->Idle, got errorKind=%v", status.ErrorKind)
	}
	if status.Available() {
		t.Fatal("a unit with a persisting hard fault must never report Available")
	}
}

// A unit's own drop on a multi-unit zone must not claim FIRE_OUT by
// itself: with zero prior cross-unit drops reported by the coordinator,
// this unit's single drop on a High severity (3-unit) fire is nowhere
// near satisfying the zone.
func TestDropTelemetryDoesNotOverclaimFireOutOnMultiUnitZone(t *testing.T) {
	sender := &recordingSender{}
	status := &stubZoneStatus{hasFire: true, drops: 0, required: 3}
	e := newTestEngineWithStatus(sender, status)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go e.Run(ctx)

	ev := wire.FireEvent{Time: "T1", ZoneID: 4, EventType: "FIRE", Severity: geometry.SeverityHigh}
	e.EnqueueEvent(ev)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sender.any(func(tm wire.Telemetry) bool { return tm.HasDrop && tm.DropZone == 4 }) {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !sender.any(func(tm wire.Telemetry) bool { return tm.HasDrop && tm.DropZone == 4 }) {
		t.Fatal("expected a DROP:4 telemetry datagram")
	}
	if sender.any(func(tm wire.Telemetry) bool { return tm.HasFireOut }) {
		t.Fatal("a single unit's drop on a 3-unit fire with 0 prior cross-unit drops must not estimate FIRE_OUT")
	}
}

// Once the coordinator reports enough prior cross-unit drops, this unit's
// own drop should push the estimate over the required count.
func TestDropTelemetryEstimatesFireOutFromCrossUnitCount(t *testing.T) {
	sender := &recordingSender{}
	status := &stubZoneStatus{hasFire: true, drops: 2, required: 3}
	e := newTestEngineWithStatus(sender, status)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go e.Run(ctx)

	ev := wire.FireEvent{Time: "T1", ZoneID: 4, EventType: "FIRE", Severity: geometry.SeverityHigh}
	e.EnqueueEvent(ev)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sender.any(func(tm wire.Telemetry) bool { return tm.HasFireOut && tm.FireOutZone == 4 }) {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !sender.any(func(tm wire.Telemetry) bool { return tm.HasFireOut && tm.FireOutZone == 4 }) {
		t.Fatal("expected FIRE_OUT:4 once this unit's drop brings the cross-unit count (2 prior + this one) to the required 3")
	}
}

// A unit arriving at a zone the coordinator already reports as out must
// return to base without dropping at all (spec §4.3 step 3).
func TestZoneSatisfiedOrNoFireShortCircuitsOnCoordinatorFireOut(t *testing.T) {
	sender := &recordingSender{}
	status := &stubZoneStatus{hasFire: false}
	e := newTestEngineWithStatus(sender, status)

	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()
	go e.Run(ctx)

	ev := wire.FireEvent{Time: "T1", ZoneID: 5, EventType: "FIRE", Severity: geometry.SeverityHigh}
	e.EnqueueEvent(ev)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if e.CurrentStateName() == wire.StateIdle.String() && sender.count() > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if e.CurrentStateName() != wire.StateIdle.String() {
		t.Fatalf("unit never returned to Idle, last state %q", e.CurrentStateName())
	}
	if sender.any(func(tm wire.Telemetry) bool { return tm.HasDrop }) {
		t.Fatal("a unit arriving at a zone the coordinator already reports fire-out for must not drop")
	}
}
