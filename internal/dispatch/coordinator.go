package dispatch

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fireline/dispatch/internal/config"
	"github.com/fireline/dispatch/internal/fleet"
	"github.com/fireline/dispatch/internal/observability"
	"github.com/fireline/dispatch/internal/wire"
	"github.com/fireline/dispatch/internal/zonestore"
)

// Receiver is the inbound half of the coordinator's transport: a bounded
// poll for the next datagram plus the ability to answer at the sender's
// actual source address (needed for ZONE_INFO_REQUEST replies).
type Receiver interface {
	RecvFrom(ctx context.Context) (string, *net.UDPAddr, bool, error)
	SendToAddr(addr *net.UDPAddr, line string) error
}

// Coordinator is the fleet dispatch engine: it owns the priority event
// queue, the per-zone bookkeeping, and the four concurrent loops described
// in spec §4.4 — receive, process, cleanup, proactive reconciliation.
type Coordinator struct {
	log     *zap.Logger
	metrics *observability.Metrics
	zones   *zonestore.Registry
	units   *fleet.Registry
	queue   *EventQueue
	book    *Bookkeeping
	sender  UnitSender
	recv    Receiver
	cfg     config.DispatchConfig
	idle    *idlePool

	// ingestionAckPort is the fixed port fire-event acknowledgements are
	// sent to, per spec §6 ("ingestion uses 5000/5001"): acks go to the
	// ingestion process's well-known receive port rather than to the
	// event's dynamic source address, since a unit's ZONE_INFO_REQUEST
	// reply (which does use the source address — see handleZoneInfoRequest)
	// and ingestion's fixed receive port solve different problems. Zero
	// means no ack is sent, e.g. in tests driving the coordinator directly.
	ingestionAckPort int

	wake   chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Coordinator. zones and units must already be constructed
// (the caller owns their lifetime, e.g. for sharing with a snapshot
// server); sender and recv are the coordinator's outbound and inbound
// transport.
func New(zones *zonestore.Registry, units *fleet.Registry, sender UnitSender, recv Receiver, cfg config.DispatchConfig, log *zap.Logger, metrics *observability.Metrics) *Coordinator {
	return &Coordinator{
		log:     log,
		metrics: metrics,
		zones:   zones,
		units:   units,
		queue:   NewEventQueue(),
		book:    NewBookkeeping(),
		sender:  sender,
		recv:    recv,
		cfg:     cfg,
		idle:    newIdlePool(cfg.IdleWorkerPoolSize, log),
		wake:    make(chan struct{}, 1),
	}
}

// Run starts the receive, process, cleanup, and proactive-reconciliation
// loops as goroutines, each selecting on ctx for cancellation. Call
// Shutdown to stop them and wait for exit.
func (c *Coordinator) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(4)
	go c.receiveLoop(ctx)
	go c.processLoop(ctx)
	go c.cleanupLoop(ctx)
	go c.proactiveLoop(ctx)
}

// Shutdown cancels every loop and waits up to cfg.ShutdownDrainTimeout for
// them to exit, logging and returning anyway if the deadline passes.
func (c *Coordinator) Shutdown() {
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.cfg.ShutdownDrainTimeout):
		c.log.Warn("coordinator shutdown drain timeout exceeded, proceeding anyway")
	}
}

func (c *Coordinator) receiveLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		line, addr, ok, err := c.recv.RecvFrom(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Debug("coordinator receive error", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		c.OnDatagram(line, addr)
	}
}

// OnDatagram classifies and routes a single inbound datagram. Malformed
// datagrams are discarded silently, per spec §7: no state mutation, no
// reply, just a debug log line.
func (c *Coordinator) OnDatagram(line string, from *net.UDPAddr) {
	switch wire.Classify(line) {
	case wire.KindTelemetry:
		t, err := wire.DecodeTelemetry(line)
		if err != nil {
			c.log.Debug("discarding malformed telemetry", zap.String("line", line), zap.Error(err))
			return
		}
		c.handleTelemetry(t)
	case wire.KindFireEvent:
		ev, err := wire.DecodeFireEvent(line)
		if err != nil {
			c.log.Debug("discarding malformed fire event", zap.String("line", line), zap.Error(err))
			return
		}
		c.EnqueueFireEvent(ev)
		c.sendAck(ev)
	case wire.KindZoneInfoRequest:
		req, err := wire.DecodeZoneInfoRequest(line)
		if err != nil {
			c.log.Debug("discarding malformed zone-info request", zap.String("line", line), zap.Error(err))
			return
		}
		c.handleZoneInfoRequest(req, from)
	case wire.KindZoneStatusRequest:
		req, err := wire.DecodeZoneStatusRequest(line)
		if err != nil {
			c.log.Debug("discarding malformed zone-status request", zap.String("line", line), zap.Error(err))
			return
		}
		c.handleZoneStatusRequest(req, from)
	default:
		c.log.Debug("discarding unrecognised datagram", zap.String("line", line))
	}
}

// sendAck acknowledges a received fire event to the ingestion collaborator's
// fixed receive port, if configured. A missing ingestionAckPort is not an
// error: tests and standalone coordinator use drive the queue directly with
// no ingestion process to acknowledge.
func (c *Coordinator) sendAck(ev wire.FireEvent) {
	if c.ingestionAckPort == 0 {
		return
	}
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: c.ingestionAckPort}
	ack := wire.EncodeEventAck(wire.EventAck{ZoneID: ev.ZoneID, Time: ev.Time})
	if err := c.recv.SendToAddr(addr, ack); err != nil {
		c.log.Debug("event ack send failed", zap.Int("zone", ev.ZoneID), zap.Error(err))
	}
}

func (c *Coordinator) handleZoneInfoRequest(req wire.ZoneInfoRequest, from *net.UDPAddr) {
	if from == nil {
		return
	}
	z := c.zones.GetOrCreate(req.ZoneID)
	center := z.Center()
	resp := wire.ZoneInfoResponse{ZoneID: req.ZoneID, CX: center.X, CY: center.Y}
	if err := c.recv.SendToAddr(from, wire.EncodeZoneInfoResponse(resp)); err != nil {
		c.log.Debug("zone-info response send failed", zap.Int("zone", req.ZoneID), zap.Error(err))
	}
}

// handleZoneStatusRequest answers a unit's cross-unit query for a zone's
// live fire status and cumulative drop count (spec §4.3: "the coordinator
// is the final arbiter"). A unit uses this to decide whether another unit
// already finished the zone's fire before committing to its own drop.
func (c *Coordinator) handleZoneStatusRequest(req wire.ZoneStatusRequest, from *net.UDPAddr) {
	if from == nil {
		return
	}
	z, _ := c.zones.Get(req.ZoneID)
	resp := wire.ZoneStatusResponse{
		ZoneID:   req.ZoneID,
		HasFire:  z.HasFire,
		Drops:    c.zones.Drops(req.ZoneID),
		Required: c.book.Required(req.ZoneID),
	}
	if err := c.recv.SendToAddr(from, wire.EncodeZoneStatusResponse(resp)); err != nil {
		c.log.Debug("zone-status response send failed", zap.Int("zone", req.ZoneID), zap.Error(err))
	}
}

// EnqueueFireEvent pushes ev onto the priority queue and wakes the process
// loop, bypassing its tick fallback. Exported so the ingestion path and
// tests can drive the coordinator without going through the wire codec.
func (c *Coordinator) EnqueueFireEvent(ev wire.FireEvent) {
	c.queue.Push(ev)
	if c.metrics != nil {
		c.metrics.QueueDepth.Set(float64(c.queue.Len()))
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) processLoop(ctx context.Context) {
	defer c.wg.Done()
	idleTick := time.NewTicker(50 * time.Millisecond)
	defer idleTick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
			c.Tick()
		case <-idleTick.C:
			c.Tick()
		}
	}
}

// Tick pops and processes at most one queued event, then always runs a
// reconciliation sweep (spec §4.4: "after each poll, regardless of whether
// an event was popped, call reconcileActiveFires"). Exported so tests can
// drive the coordinator synchronously.
func (c *Coordinator) Tick() {
	if ev, ok := c.queue.Pop(); ok {
		c.processEvent(ev)
	}
	c.reconcileActiveFires()
	if c.metrics != nil {
		c.metrics.QueueDepth.Set(float64(c.queue.Len()))
	}
}

func (c *Coordinator) processEvent(ev wire.FireEvent) {
	sev := ev.Severity
	if z, ok := c.zones.Get(ev.ZoneID); ok && z.HasFire && z.Severity.Weight() > sev.Weight() {
		sev = z.Severity
	}
	c.zones.UpdateFireStatus(ev.ZoneID, true, sev)
	required := c.book.UpgradeRequired(ev.ZoneID, ev.Severity.UnitsRequired())
	if c.metrics != nil {
		c.metrics.EventsIngestedTotal.WithLabelValues(ev.Severity.String()).Inc()
	}
	c.dispatch(ev, required)
}

func (c *Coordinator) cleanupLoop(ctx context.Context) {
	defer c.wg.Done()
	timer := time.NewTimer(c.cfg.CleanupInitialDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			c.cleanup()
			timer.Reset(c.cfg.CleanupPeriod)
		}
	}
}

// cleanup purges bookkeeping and queued events for any tracked zone whose
// fire has gone out, per invariant I5. A zone only reaches Erase via
// FIRE_OUT telemetry in the common case; this sweep catches zones whose
// FIRE_OUT telemetry was lost.
func (c *Coordinator) cleanup() {
	for _, snap := range c.book.Snapshot() {
		z, ok := c.zones.Get(snap.zoneID)
		if ok && z.HasFire {
			continue
		}
		c.book.Erase(snap.zoneID)
		purged := c.queue.PurgeZone(snap.zoneID)
		if purged > 0 && c.metrics != nil {
			c.metrics.EventsPurgedTotal.Add(float64(purged))
		}
	}
}

func (c *Coordinator) proactiveLoop(ctx context.Context) {
	defer c.wg.Done()
	timer := time.NewTimer(c.cfg.ProactiveInitialDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if c.queue.Len() == 0 {
				c.reconcileActiveFires()
			}
			timer.Reset(c.cfg.ProactivePeriod)
		}
	}
}

// SetIngestionAckPort configures the fixed port fire-event acknowledgements
// are sent to. Call it once before Run if the ingestion collaborator is in
// use; leaving it unset (zero) disables ack sending.
func (c *Coordinator) SetIngestionAckPort(port int) {
	c.ingestionAckPort = port
}

// Queue returns the coordinator's priority event queue, for wiring a
// SnapshotServer.
func (c *Coordinator) Queue() *EventQueue { return c.queue }

// Book returns the coordinator's bookkeeping, for wiring a SnapshotServer.
func (c *Coordinator) Book() *Bookkeeping { return c.book }

func nowStamp() string {
	return time.Now().Format("15:04:05")
}
