package dispatch

import (
	"go.uber.org/zap"

	"github.com/fireline/dispatch/internal/fleet"
	"github.com/fireline/dispatch/internal/geometry"
	"github.com/fireline/dispatch/internal/wire"
)

// handleTelemetry applies one telemetry datagram to the unit registry and
// bookkeeping, per spec §4.4. Steps run in a fixed order: register the
// unit if unseen, handle FIRE_OUT/ABANDONED side effects, update the
// stored record, then react to an Idle transition.
func (c *Coordinator) handleTelemetry(t wire.Telemetry) {
	loc := geometry.Location{X: t.X, Y: t.Y}
	c.units.Register(t.DroneID, loc)

	if t.HasDrop {
		c.handleDrop(t.DropZone)
	}
	if t.HasFireOut {
		c.handleFireOut(t.FireOutZone)
	}
	if t.HasAbandoned {
		c.book.DecrementAssigned(t.AbandonedZone)
		c.book.UnmarkFullyAssigned(t.AbandonedZone)
	}

	var prevState wire.State
	var prevTask *wire.FireEvent
	c.units.Update(t.DroneID, func(u *fleet.UnitStatus) {
		prevState = u.State
		prevTask = u.CurrentTask

		u.CurrentLocation = loc

		if t.HasError {
			u.ErrorKind = t.Error
		} else {
			u.ErrorKind = wire.ErrorNone
		}
		if t.HasTask {
			u.CurrentTask = &wire.FireEvent{ZoneID: t.TaskZoneID, EventType: "FIRE", Severity: t.TaskSeverity}
		}
		if t.HasCapacity {
			u.Spec.CurrentCapacity = t.Capacity
		}

		u.State = t.State
		if t.State == wire.StateIdle {
			if u.CurrentTask != nil {
				u.ZonesServiced++
			}
			u.CurrentTask = nil
		}
	})

	if c.metrics != nil {
		c.metrics.UnitStateTransitionsTotal.WithLabelValues(prevState.String(), t.State.String()).Inc()
		c.metrics.UnitsRegistered.Set(float64(len(c.units.All())))
		if t.State == wire.StateFault && prevState != wire.StateFault {
			c.metrics.UnitsFaulted.Inc()
		} else if prevState == wire.StateFault && t.State != wire.StateFault {
			c.metrics.UnitsFaulted.Dec()
		}
	}

	// A unit that just went Idle after holding a task releases its slot in
	// the zone it was working, independent of whether it also reported
	// ABANDONED or FIRE_OUT — this is the common "mission complete, back to
	// base, ready for reassignment" path.
	if t.State == wire.StateIdle && prevState != wire.StateIdle && prevTask != nil {
		z := prevTask.ZoneID
		remaining := c.book.DecrementAssigned(z)
		if remaining < c.book.Required(z) {
			c.book.UnmarkFullyAssigned(z)
		}
	}

	if t.State == wire.StateIdle {
		droneID := t.DroneID
		c.idle.Try(func() {
			c.findAssignmentForIdle(droneID)
		})
	}
}

// handleDrop is the coordinator-side, cross-unit authority for a zone's
// cumulative drop count: every unit working a zone reports its own drops
// here, and they all accumulate in the same zonestore counter regardless
// of which distinct drone id dropped it (select.go always assigns
// distinct drone ids per zone, so no single unit's own tally can ever
// reach a multi-unit zone's required count). Once the cumulative count
// reaches the zone's required unit count, the coordinator itself declares
// the fire out — a unit's own FIRE_OUT estimate on the same datagram is
// redundant with this, not a substitute for it.
func (c *Coordinator) handleDrop(zoneID int) {
	drops := c.zones.IncrementDrops(zoneID)
	required := c.book.Required(zoneID)
	if required > 0 && drops >= required {
		c.handleFireOut(zoneID)
	}
}

func (c *Coordinator) handleFireOut(zoneID int) {
	z, ok := c.zones.Get(zoneID)
	wasActive := ok && z.HasFire

	c.zones.UpdateFireStatus(zoneID, false, geometry.SeverityNone)
	c.book.Erase(zoneID)
	purged := c.queue.PurgeZone(zoneID)

	if c.metrics != nil {
		duplicate := "false"
		if !wasActive {
			duplicate = "true"
		}
		c.metrics.FireOutTotal.WithLabelValues(duplicate).Inc()
		if purged > 0 {
			c.metrics.EventsPurgedTotal.Add(float64(purged))
		}
	}
	c.log.Info("fire out", zap.Int("zone", zoneID), zap.Bool("was_duplicate", !wasActive))
}
