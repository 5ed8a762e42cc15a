package dispatch

import (
	"sort"

	"go.uber.org/zap"

	"github.com/fireline/dispatch/internal/fleet"
	"github.com/fireline/dispatch/internal/geometry"
	"github.com/fireline/dispatch/internal/wire"
)

// selectBest picks the best available unit for ev, excluding any droneID
// already in exclude or already assigned to ev. Ranking is ascending
// zonesServiced (fairness), then ascending distance to the zone's center,
// then droneID for a stable tie-break (spec §4.4).
func (c *Coordinator) selectBest(ev wire.FireEvent, exclude map[string]bool) (fleet.UnitStatus, bool) {
	ex := make(map[string]bool, len(exclude)+len(ev.AssignedUnits))
	for k := range exclude {
		ex[k] = true
	}
	for _, id := range ev.AssignedUnits {
		ex[id] = true
	}

	candidates := c.units.AvailableUnits(ex)
	if len(candidates) == 0 {
		return fleet.UnitStatus{}, false
	}

	center := c.zones.GetOrCreate(ev.ZoneID).Center()
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.ZonesServiced != b.ZonesServiced {
			return a.ZonesServiced < b.ZonesServiced
		}
		da, db := geometry.Distance(a.CurrentLocation, center), geometry.Distance(b.CurrentLocation, center)
		if da != db {
			return da < db
		}
		return a.DroneID < b.DroneID
	})
	return candidates[0], true
}

// dispatch assigns units to ev up to min(required, severity.UnitsRequired)
// total. It first recounts assigned from the live registry (tolerating any
// drift, spec invariant I4), then sends assignment datagrams one at a
// time, reverting bookkeeping on a send failure.
func (c *Coordinator) dispatch(ev wire.FireEvent, required int) {
	zone, _ := c.zones.Get(ev.ZoneID)
	live := c.units.CountNonIdleForZone(ev.ZoneID)
	c.book.SetAssigned(ev.ZoneID, live)

	limit := min(required, zone.Severity.UnitsRequired())

	if c.book.IsFullyAssigned(ev.ZoneID) || c.book.Assigned(ev.ZoneID) >= limit {
		c.book.MarkFullyAssigned(ev.ZoneID)
		return
	}

	picked := make(map[string]bool)
	for c.book.Assigned(ev.ZoneID) < limit {
		u, ok := c.selectBest(ev, picked)
		if !ok {
			break
		}
		picked[u.DroneID] = true
		c.assignUnit(u.DroneID, ev.ZoneID, zone.Severity, "event")
	}

	if c.book.Assigned(ev.ZoneID) >= limit {
		c.book.MarkFullyAssigned(ev.ZoneID)
	}
}

// assignUnit sends a fire event targeting zoneID to droneID, preincrementing
// assigned[zoneID] and marking the unit EnRoute before the send, reverting
// both on failure (spec §4.4's "preincrement, revert on send failure").
func (c *Coordinator) assignUnit(droneID string, zoneID int, severity geometry.Severity, reason string) bool {
	ev := wire.FireEvent{Time: nowStamp(), ZoneID: zoneID, EventType: "FIRE", Severity: severity}
	ev.AddAssignedUnit(droneID)

	c.book.IncrementAssigned(zoneID)
	c.units.Update(droneID, func(s *fleet.UnitStatus) {
		s.State = wire.StateEnRoute
		task := ev
		s.CurrentTask = &task
	})

	if err := c.sender.SendTo(droneID, wire.EncodeFireEvent(ev)); err != nil {
		c.book.DecrementAssigned(zoneID)
		c.units.Update(droneID, func(s *fleet.UnitStatus) {
			s.State = wire.StateIdle
			s.CurrentTask = nil
		})
		if c.metrics != nil {
			c.metrics.DispatchSendFailuresTotal.Inc()
		}
		c.log.Warn("dispatch send failed, reverted", zap.String("drone", droneID), zap.Int("zone", zoneID), zap.Error(err))
		return false
	}

	if c.metrics != nil {
		c.metrics.DispatchesTotal.WithLabelValues(reason).Inc()
	}
	return true
}

// findAssignmentForIdle looks for an understaffed fire for a newly-idle
// unit, run on the idle worker pool so the telemetry handler never blocks
// on a send.
func (c *Coordinator) findAssignmentForIdle(droneID string) {
	u, ok := c.units.Get(droneID)
	if !ok || !u.Available() {
		return
	}
	z, ok := c.bestZoneFor()
	if !ok {
		return
	}
	c.assignUnit(droneID, z.ID, z.Severity, "idle")
}

// bestZoneFor picks the understaffed active zone with the highest
// severity weight, breaking ties by lowest assigned/required ratio then
// by lowest zone id.
func (c *Coordinator) bestZoneFor() (geometry.Zone, bool) {
	var best geometry.Zone
	bestRatio := 0.0
	found := false

	for _, z := range c.zones.All() {
		if !z.HasFire || c.book.IsFullyAssigned(z.ID) {
			continue
		}
		required := c.book.Required(z.ID)
		if required == 0 {
			required = z.Severity.UnitsRequired()
		}
		assigned := c.book.Assigned(z.ID)
		if assigned >= required {
			continue
		}
		if c.units.CountNonIdleForZone(z.ID) >= z.Severity.UnitsRequired() {
			continue
		}

		ratio := ratioOf(assigned, required)
		if !found || zoneOutranks(z, ratio, best, bestRatio) {
			best, bestRatio, found = z, ratio, true
		}
	}
	return best, found
}

func zoneOutranks(z geometry.Zone, ratio float64, best geometry.Zone, bestRatio float64) bool {
	if z.Severity.Weight() != best.Severity.Weight() {
		return z.Severity.Weight() > best.Severity.Weight()
	}
	if ratio != bestRatio {
		return ratio < bestRatio
	}
	return z.ID < best.ID
}

func ratioOf(assigned, required int) float64 {
	if required == 0 {
		return 1
	}
	return float64(assigned) / float64(required)
}

// reconcileActiveFires recounts every active zone's assignment against the
// live registry, dispatches idle units to cover any deficit, and — if a
// deficit remains with no idle units available — redirects a lower-
// severity en-route unit (spec §4.4 step 3).
func (c *Coordinator) reconcileActiveFires() {
	zones := c.zones.All()
	active := make([]geometry.Zone, 0, len(zones))
	for _, z := range zones {
		if z.HasFire {
			active = append(active, z)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if a.Severity.Weight() != b.Severity.Weight() {
			return a.Severity.Weight() > b.Severity.Weight()
		}
		ra := ratioOf(c.book.Assigned(a.ID), c.book.Required(a.ID))
		rb := ratioOf(c.book.Assigned(b.ID), c.book.Required(b.ID))
		if ra != rb {
			return ra < rb
		}
		return a.ID < b.ID
	})

	for _, z := range active {
		c.reconcileZone(z)
	}

	if c.metrics != nil {
		c.metrics.ZonesActive.Set(float64(len(active)))
	}
}

func (c *Coordinator) reconcileZone(z geometry.Zone) {
	unitsReq := z.Severity.UnitsRequired()
	required := c.book.ClampRequired(z.ID, unitsReq)
	if required == 0 {
		required = c.book.UpgradeRequired(z.ID, unitsReq)
	}

	live := c.units.CountNonIdleForZone(z.ID)
	c.book.SetAssigned(z.ID, live)

	if c.book.Assigned(z.ID) >= required {
		c.book.MarkFullyAssigned(z.ID)
		return
	}
	c.book.UnmarkFullyAssigned(z.ID)

	ev := wire.FireEvent{Time: nowStamp(), ZoneID: z.ID, EventType: "FIRE", Severity: z.Severity}
	picked := make(map[string]bool)
	for c.book.Assigned(z.ID) < required {
		u, ok := c.selectBest(ev, picked)
		if !ok {
			break
		}
		picked[u.DroneID] = true
		c.assignUnit(u.DroneID, z.ID, z.Severity, "reconcile")
	}

	if c.book.Assigned(z.ID) >= required {
		c.book.MarkFullyAssigned(z.ID)
		return
	}

	deficit := required - c.book.Assigned(z.ID)
	candidates := c.redirectCandidates(z)
	sort.Slice(candidates, func(i, j int) bool {
		return geometry.Distance(candidates[i].CurrentLocation, z.Center()) < geometry.Distance(candidates[j].CurrentLocation, z.Center())
	})
	for i := 0; i < deficit && i < len(candidates); i++ {
		c.redirect(candidates[i], z)
	}
}

// redirectCandidates returns every en-route or dropping-agent unit whose
// current task targets a different, strictly lower-severity zone than
// target.
func (c *Coordinator) redirectCandidates(target geometry.Zone) []fleet.UnitStatus {
	var out []fleet.UnitStatus
	for _, u := range c.units.All() {
		if u.State != wire.StateEnRoute && u.State != wire.StateDroppingAgent {
			continue
		}
		if u.CurrentTask == nil || u.CurrentTask.ZoneID == target.ID {
			continue
		}
		if u.CurrentTask.Severity.Weight() >= target.Severity.Weight() {
			continue
		}
		out = append(out, u)
	}
	return out
}

// redirect sends u a new fire event targeting target. The unit's own
// mission state machine performs the abandon-and-retarget on receipt
// (spec §4.3); on send success the coordinator adjusts bookkeeping and
// points the unit's registry record at the new task, so the next
// reconciliation recount attributes it to target — there is nothing to
// revert on failure since nothing changed yet.
func (c *Coordinator) redirect(u fleet.UnitStatus, target geometry.Zone) {
	oldZone := u.CurrentTask.ZoneID
	ev := wire.FireEvent{Time: nowStamp(), ZoneID: target.ID, EventType: "FIRE", Severity: target.Severity}
	ev.AddAssignedUnit(u.DroneID)

	if err := c.sender.SendTo(u.DroneID, wire.EncodeFireEvent(ev)); err != nil {
		if c.metrics != nil {
			c.metrics.DispatchSendFailuresTotal.Inc()
		}
		c.log.Warn("redirect send failed", zap.String("drone", u.DroneID), zap.Int("from_zone", oldZone), zap.Int("to_zone", target.ID), zap.Error(err))
		return
	}

	c.book.DecrementAssigned(oldZone)
	c.book.UnmarkFullyAssigned(oldZone)
	c.book.IncrementAssigned(target.ID)
	c.units.Update(u.DroneID, func(s *fleet.UnitStatus) {
		task := ev
		s.CurrentTask = &task
	})

	if c.metrics != nil {
		c.metrics.RedirectionsTotal.Inc()
	}
	c.log.Info("redirected unit", zap.String("drone", u.DroneID), zap.Int("from_zone", oldZone), zap.Int("to_zone", target.ID))
}
