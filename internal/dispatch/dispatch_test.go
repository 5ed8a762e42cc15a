package dispatch

import (
	"context"
	"net"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/fireline/dispatch/internal/config"
	"github.com/fireline/dispatch/internal/fleet"
	"github.com/fireline/dispatch/internal/geometry"
	"github.com/fireline/dispatch/internal/wire"
	"github.com/fireline/dispatch/internal/zonestore"
)

// recordingSender is an in-memory UnitSender double that records every
// fire event sent to each drone and lets a test fail a given drone's
// sends on demand.
type recordingSender struct {
	mu    sync.Mutex
	sent  map[string][]wire.FireEvent
	failFor map[string]bool
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(map[string][]wire.FireEvent), failFor: make(map[string]bool)}
}

func (s *recordingSender) SendTo(droneID, line string) error {
	if s.failFor[droneID] {
		return errSendFailed
	}
	ev, err := wire.DecodeFireEvent(line)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sent[droneID] = append(s.sent[droneID], ev)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) last(droneID string) (wire.FireEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.sent[droneID]
	if len(msgs) == 0 {
		return wire.FireEvent{}, false
	}
	return msgs[len(msgs)-1], true
}

func (s *recordingSender) countFor(droneID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent[droneID])
}

type sendFailedError struct{}

func (sendFailedError) Error() string { return "send failed" }

var errSendFailed = sendFailedError{}

func testDispatchConfig() config.DispatchConfig {
	cfg := config.Defaults().Dispatch
	return cfg
}

func newTestCoordinator() (*Coordinator, *recordingSender, *fleet.Registry, *zonestore.Registry) {
	zones := zonestore.NewRegistry(zonestore.DefaultGridParams())
	units := fleet.NewRegistry()
	sender := newRecordingSender()
	log := zap.NewNop()
	c := New(zones, units, sender, nil, testDispatchConfig(), log, nil)
	return c, sender, units, zones
}

func registerIdleUnit(units *fleet.Registry, droneID string, loc geometry.Location) {
	units.Register(droneID, loc)
}

// S1: a single Low-severity fire with one available unit dispatches
// exactly one unit, and the zone is marked fully assigned.
func TestDispatchSingleLowFire(t *testing.T) {
	c, sender, units, _ := newTestCoordinator()
	registerIdleUnit(units, "drone1", geometry.Location{X: 0, Y: 0})

	c.EnqueueFireEvent(wire.FireEvent{Time: "00:00:01", ZoneID: 1, EventType: "FIRE", Severity: geometry.SeverityLow})
	c.Tick()

	if got := sender.countFor("drone1"); got != 1 {
		t.Fatalf("drone1 sends = %d, want 1", got)
	}
	if !c.book.IsFullyAssigned(1) {
		t.Fatalf("zone 1 should be fully assigned")
	}
	u, _ := units.Get("drone1")
	if u.State != wire.StateEnRoute {
		t.Fatalf("drone1 state = %v, want EnRoute", u.State)
	}
}

// S2: a High-severity fire with three available units dispatches all
// three and marks the zone fully assigned; with only two available units
// it assigns both and leaves the zone understaffed.
func TestDispatchHighFireNeedsThree(t *testing.T) {
	c, sender, units, _ := newTestCoordinator()
	for i := 1; i <= 3; i++ {
		registerIdleUnit(units, droneName(i), geometry.Location{X: i, Y: i})
	}

	c.EnqueueFireEvent(wire.FireEvent{Time: "00:00:01", ZoneID: 5, EventType: "FIRE", Severity: geometry.SeverityHigh})
	c.Tick()

	total := 0
	for i := 1; i <= 3; i++ {
		total += sender.countFor(droneName(i))
	}
	if total != 3 {
		t.Fatalf("total dispatched = %d, want 3", total)
	}
	if !c.book.IsFullyAssigned(5) {
		t.Fatalf("zone 5 should be fully assigned with 3 of 3 units")
	}
}

func TestDispatchHighFireUnderstaffed(t *testing.T) {
	c, sender, units, _ := newTestCoordinator()
	registerIdleUnit(units, "drone1", geometry.Location{X: 0, Y: 0})
	registerIdleUnit(units, "drone2", geometry.Location{X: 1, Y: 1})

	c.EnqueueFireEvent(wire.FireEvent{Time: "00:00:01", ZoneID: 5, EventType: "FIRE", Severity: geometry.SeverityHigh})
	c.Tick()

	if got := sender.countFor("drone1") + sender.countFor("drone2"); got != 2 {
		t.Fatalf("dispatched = %d, want 2", got)
	}
	if c.book.IsFullyAssigned(5) {
		t.Fatalf("zone 5 should not be fully assigned with only 2 of 3 units")
	}
	if c.book.Assigned(5) != 2 {
		t.Fatalf("assigned[5] = %d, want 2", c.book.Assigned(5))
	}
}

// S3: a severity upgrade on an already-tracked zone raises required but
// never lowers it.
func TestSeverityUpgradeRaisesRequired(t *testing.T) {
	c, _, units, _ := newTestCoordinator()
	registerIdleUnit(units, "drone1", geometry.Location{X: 0, Y: 0})

	c.EnqueueFireEvent(wire.FireEvent{Time: "00:00:01", ZoneID: 2, EventType: "FIRE", Severity: geometry.SeverityLow})
	c.Tick()
	if got := c.book.Required(2); got != 1 {
		t.Fatalf("required[2] after Low = %d, want 1", got)
	}

	c.EnqueueFireEvent(wire.FireEvent{Time: "00:00:02", ZoneID: 2, EventType: "FIRE", Severity: geometry.SeverityHigh})
	c.Tick()
	if got := c.book.Required(2); got != 3 {
		t.Fatalf("required[2] after High = %d, want 3", got)
	}

	// A later Low event for the same zone must not lower required back down.
	c.EnqueueFireEvent(wire.FireEvent{Time: "00:00:03", ZoneID: 2, EventType: "FIRE", Severity: geometry.SeverityLow})
	c.Tick()
	if got := c.book.Required(2); got != 3 {
		t.Fatalf("required[2] after a later Low = %d, want 3 (monotonic)", got)
	}
}

// S4: reconciliation redirects a unit en route to a lower-severity zone
// once a higher-severity zone goes understaffed with no idle units left.
func TestReconcileRedirectsLowerSeverityUnit(t *testing.T) {
	c, sender, units, _ := newTestCoordinator()
	registerIdleUnit(units, "drone1", geometry.Location{X: 0, Y: 0})

	c.EnqueueFireEvent(wire.FireEvent{Time: "00:00:01", ZoneID: 1, EventType: "FIRE", Severity: geometry.SeverityLow})
	c.Tick()
	if _, ok := sender.last("drone1"); !ok {
		t.Fatalf("drone1 should have been dispatched to zone 1")
	}

	c.EnqueueFireEvent(wire.FireEvent{Time: "00:00:02", ZoneID: 2, EventType: "FIRE", Severity: geometry.SeverityHigh})
	c.Tick()

	ev, ok := sender.last("drone1")
	if !ok || ev.ZoneID != 2 {
		t.Fatalf("drone1's latest assignment = %+v, want zone 2 (redirected)", ev)
	}
	if c.book.Assigned(1) != 0 {
		t.Fatalf("assigned[1] after redirect = %d, want 0", c.book.Assigned(1))
	}
	if c.book.Assigned(2) != 1 {
		t.Fatalf("assigned[2] after redirect = %d, want 1", c.book.Assigned(2))
	}
}

// S5: a hard fault (NOZZLE_JAM) disqualifies a unit from new assignments
// even while Idle.
func TestHardFaultDisqualifiesUnit(t *testing.T) {
	c, sender, units, _ := newTestCoordinator()
	units.Update("drone1", func(u *fleet.UnitStatus) {
		u.State = wire.StateIdle
		u.ErrorKind = wire.ErrorNozzleJam
	})
	registerIdleUnit(units, "drone2", geometry.Location{X: 9, Y: 9})

	c.EnqueueFireEvent(wire.FireEvent{Time: "00:00:01", ZoneID: 1, EventType: "FIRE", Severity: geometry.SeverityLow})
	c.Tick()

	if sender.countFor("drone1") != 0 {
		t.Fatalf("faulted drone1 should never be dispatched")
	}
	if sender.countFor("drone2") != 1 {
		t.Fatalf("drone2 should have been dispatched instead")
	}
}

// S6: FIRE_OUT telemetry is idempotent — a repeat delivery does not
// double-purge or error.
func TestFireOutIsIdempotent(t *testing.T) {
	c, _, units, zones := newTestCoordinator()
	registerIdleUnit(units, "drone1", geometry.Location{X: 0, Y: 0})

	c.EnqueueFireEvent(wire.FireEvent{Time: "00:00:01", ZoneID: 3, EventType: "FIRE", Severity: geometry.SeverityLow})
	c.Tick()

	c.handleTelemetry(wire.Telemetry{DroneID: "drone1", State: wire.StateEnRoute, HasFireOut: true, FireOutZone: 3, X: 0, Y: 0})
	c.handleTelemetry(wire.Telemetry{DroneID: "drone1", State: wire.StateEnRoute, HasFireOut: true, FireOutZone: 3, X: 0, Y: 0})

	if c.book.Required(3) != 0 || c.book.Assigned(3) != 0 {
		t.Fatalf("zone 3 bookkeeping should be erased after FIRE_OUT, got required=%d assigned=%d", c.book.Required(3), c.book.Assigned(3))
	}
	z, ok := zones.Get(3)
	if !ok || z.HasFire {
		t.Fatalf("zone 3 should no longer have an active fire")
	}
}

// A unit going Idle with a prior task frees its zone's assignment slot so
// a newly-queued event for the same zone can reuse it.
func TestIdleTransitionReleasesAssignment(t *testing.T) {
	c, _, units, _ := newTestCoordinator()
	registerIdleUnit(units, "drone1", geometry.Location{X: 0, Y: 0})

	c.EnqueueFireEvent(wire.FireEvent{Time: "00:00:01", ZoneID: 1, EventType: "FIRE", Severity: geometry.SeverityLow})
	c.Tick()
	if c.book.Assigned(1) != 1 {
		t.Fatalf("assigned[1] = %d, want 1", c.book.Assigned(1))
	}

	// Saturate the idle worker pool first so the Idle-transition's
	// follow-up assignment attempt is dropped rather than racing the
	// assertions below on another goroutine.
	for i := 0; i < cap(c.idle.sem); i++ {
		c.idle.sem <- struct{}{}
	}

	c.handleTelemetry(wire.Telemetry{DroneID: "drone1", State: wire.StateIdle, X: 0, Y: 0})

	if c.book.Assigned(1) != 0 {
		t.Fatalf("assigned[1] after Idle transition = %d, want 0", c.book.Assigned(1))
	}
	if c.book.IsFullyAssigned(1) {
		t.Fatalf("zone 1 should no longer be marked fully assigned")
	}
}

// A send failure during dispatch reverts the preincrement and the unit's
// EnRoute transition.
func TestDispatchSendFailureReverts(t *testing.T) {
	c, sender, units, _ := newTestCoordinator()
	sender.failFor["drone1"] = true
	registerIdleUnit(units, "drone1", geometry.Location{X: 0, Y: 0})

	c.EnqueueFireEvent(wire.FireEvent{Time: "00:00:01", ZoneID: 1, EventType: "FIRE", Severity: geometry.SeverityLow})
	c.Tick()

	if c.book.Assigned(1) != 0 {
		t.Fatalf("assigned[1] after failed send = %d, want 0", c.book.Assigned(1))
	}
	u, _ := units.Get("drone1")
	if u.State != wire.StateIdle || u.CurrentTask != nil {
		t.Fatalf("drone1 should have reverted to Idle with no task, got state=%v task=%v", u.State, u.CurrentTask)
	}
}

// fakeReceiver is an in-memory Receiver double recording every datagram
// sent to a fixed address via SendToAddr.
type fakeReceiver struct {
	mu  sync.Mutex
	out []string
}

func (r *fakeReceiver) RecvFrom(ctx context.Context) (string, *net.UDPAddr, bool, error) {
	<-ctx.Done()
	return "", nil, false, ctx.Err()
}

func (r *fakeReceiver) SendToAddr(addr *net.UDPAddr, line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, line)
	return nil
}

func TestOnDatagramAcksFireEventToFixedPort(t *testing.T) {
	c, _, _, _ := newTestCoordinator()
	recv := &fakeReceiver{}
	c.recv = recv
	c.SetIngestionAckPort(5001)

	c.OnDatagram("09:00:00 3 FIRE Low", nil)

	recv.mu.Lock()
	defer recv.mu.Unlock()
	if len(recv.out) != 1 {
		t.Fatalf("len(recv.out) = %d, want 1", len(recv.out))
	}
	if recv.out[0] != "ACK:3:09:00:00" {
		t.Fatalf("recv.out[0] = %q, want ACK:3:09:00:00", recv.out[0])
	}
}

func TestOnDatagramNoAckWhenPortUnset(t *testing.T) {
	c, _, _, _ := newTestCoordinator()
	recv := &fakeReceiver{}
	c.recv = recv

	c.OnDatagram("09:00:00 3 FIRE Low", nil)

	recv.mu.Lock()
	defer recv.mu.Unlock()
	if len(recv.out) != 0 {
		t.Fatalf("len(recv.out) = %d, want 0 when ack port unset", len(recv.out))
	}
}

// Multi-unit fires must clear via the coordinator's own cumulative drop
// count, not any single unit's local tally: three distinct drones each
// report one DROP for the same High-severity zone, and only the third
// drop should erase bookkeeping and mark the zone's fire out.
func TestMultiUnitDropsAccumulateToFireOut(t *testing.T) {
	c, _, units, zones := newTestCoordinator()
	for i := 1; i <= 3; i++ {
		registerIdleUnit(units, droneName(i), geometry.Location{X: i, Y: i})
	}

	c.EnqueueFireEvent(wire.FireEvent{Time: "00:00:01", ZoneID: 5, EventType: "FIRE", Severity: geometry.SeverityHigh})
	c.Tick()

	c.handleTelemetry(wire.Telemetry{DroneID: "drone1", State: wire.StateDroppingAgent, HasDrop: true, DropZone: 5, X: 1, Y: 1})
	if c.book.Required(5) == 0 {
		t.Fatal("zone 5 bookkeeping erased too early after 1 of 3 drops")
	}
	if z, _ := zones.Get(5); !z.HasFire {
		t.Fatal("zone 5 fire cleared too early after 1 of 3 drops")
	}

	c.handleTelemetry(wire.Telemetry{DroneID: "drone2", State: wire.StateDroppingAgent, HasDrop: true, DropZone: 5, X: 2, Y: 2})
	if z, _ := zones.Get(5); !z.HasFire {
		t.Fatal("zone 5 fire cleared too early after 2 of 3 drops")
	}

	c.handleTelemetry(wire.Telemetry{DroneID: "drone3", State: wire.StateDroppingAgent, HasDrop: true, DropZone: 5, X: 3, Y: 3})
	if c.book.Required(5) != 0 || c.book.Assigned(5) != 0 {
		t.Fatalf("zone 5 bookkeeping should be erased after the 3rd drop, got required=%d assigned=%d", c.book.Required(5), c.book.Assigned(5))
	}
	z, ok := zones.Get(5)
	if !ok || z.HasFire {
		t.Fatal("zone 5 should no longer have an active fire after the 3rd cross-unit drop")
	}
}

// A ZONE_STATUS_REQUEST reply reflects the coordinator's accumulated
// cross-unit drop count, letting a unit's own estimate and return-to-base
// short-circuit see drops other units made.
func TestZoneStatusRequestReflectsCumulativeDrops(t *testing.T) {
	c, _, units, _ := newTestCoordinator()
	registerIdleUnit(units, "drone1", geometry.Location{X: 0, Y: 0})

	c.EnqueueFireEvent(wire.FireEvent{Time: "00:00:01", ZoneID: 5, EventType: "FIRE", Severity: geometry.SeverityHigh})
	c.Tick()
	c.handleTelemetry(wire.Telemetry{DroneID: "drone1", State: wire.StateDroppingAgent, HasDrop: true, DropZone: 5, X: 0, Y: 0})

	recv := &fakeReceiver{}
	c.recv = recv
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 7000}
	c.OnDatagram("ZONE_STATUS_REQUEST:5", addr)

	recv.mu.Lock()
	defer recv.mu.Unlock()
	if len(recv.out) != 1 {
		t.Fatalf("len(recv.out) = %d, want 1", len(recv.out))
	}
	resp, err := wire.DecodeZoneStatusResponse(recv.out[0])
	if err != nil {
		t.Fatalf("DecodeZoneStatusResponse: %v", err)
	}
	if !resp.HasFire || resp.Drops != 1 || resp.Required != 3 {
		t.Fatalf("zone status response = %+v, want {HasFire:true Drops:1 Required:3}", resp)
	}
}

func droneName(n int) string {
	switch n {
	case 1:
		return "drone1"
	case 2:
		return "drone2"
	case 3:
		return "drone3"
	default:
		return "droneN"
	}
}
