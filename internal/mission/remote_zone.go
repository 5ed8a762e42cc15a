package mission

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fireline/dispatch/internal/geometry"
	"github.com/fireline/dispatch/internal/wire"
)

// ZoneInfoSender delivers a ZONE_INFO_REQUEST datagram to the coordinator.
// Implemented by a transport.Endpoint bound to the unit's own send/receive
// pair in production, and by an in-memory double in tests.
type ZoneInfoSender interface {
	Send(port int, line string) error
}

// RemoteZoneResolver satisfies ZoneCenterResolver for the real unit
// process, where the coordinator's zone registry lives in a different
// process: it asks over the wire instead of consulting a shared
// *zonestore.Registry directly. Unlike a TelemetrySender, it does not own
// a socket's receive side — the unit's single demultiplexing receive loop
// decodes each inbound ZONE_INFO response and hands it to Deliver, since
// one UDP socket can have only one reader (spec §4.5: one receive port per
// unit, shared by assignments and zone-info replies alike).
type RemoteZoneResolver struct {
	sender          ZoneInfoSender
	coordinatorPort int
	requestTimeout  time.Duration
	log             *zap.Logger

	mu      sync.Mutex
	waiting map[int]chan wire.ZoneInfoResponse
}

// NewRemoteZoneResolver builds a resolver that sends ZONE_INFO_REQUEST
// datagrams to coordinatorPort via sender and waits up to requestTimeout
// for a matching ZONE_INFO reply delivered through Deliver.
func NewRemoteZoneResolver(sender ZoneInfoSender, coordinatorPort int, requestTimeout time.Duration, log *zap.Logger) *RemoteZoneResolver {
	return &RemoteZoneResolver{
		sender:          sender,
		coordinatorPort: coordinatorPort,
		requestTimeout:  requestTimeout,
		log:             log,
		waiting:         make(map[int]chan wire.ZoneInfoResponse),
	}
}

// Deliver hands a decoded ZONE_INFO response to whichever GetOrCreate call
// is waiting on that zone id, or discards it if nothing is waiting
// (a late reply after GetOrCreate already timed out and fell back).
func (r *RemoteZoneResolver) Deliver(resp wire.ZoneInfoResponse) {
	r.mu.Lock()
	ch, found := r.waiting[resp.ZoneID]
	if found {
		delete(r.waiting, resp.ZoneID)
	}
	r.mu.Unlock()
	if found {
		select {
		case ch <- resp:
		default:
		}
	}
}

// GetOrCreate requests zone id's center from the coordinator and blocks
// until the reply arrives via Deliver or requestTimeout elapses. A timeout
// falls back to a point zone at the origin and logs a warning — the
// mission engine still makes progress toward a location, just not the
// precise one, and the next redirection or retry will correct it.
func (r *RemoteZoneResolver) GetOrCreate(id int) geometry.Zone {
	ch := make(chan wire.ZoneInfoResponse, 1)
	r.mu.Lock()
	r.waiting[id] = ch
	r.mu.Unlock()

	if err := r.sender.Send(r.coordinatorPort, wire.EncodeZoneInfoRequest(wire.ZoneInfoRequest{ZoneID: id})); err != nil {
		r.log.Warn("zone-info request send failed", zap.Int("zone", id), zap.Error(err))
	}

	select {
	case resp := <-ch:
		return geometry.NewPointZone(id, geometry.Location{X: resp.CX, Y: resp.CY})
	case <-time.After(r.requestTimeout):
		r.mu.Lock()
		delete(r.waiting, id)
		r.mu.Unlock()
		r.log.Warn("zone-info request timed out, using origin fallback", zap.Int("zone", id))
		return geometry.NewPointZone(id, geometry.Location{})
	}
}

// ZoneStatusSender delivers a ZONE_STATUS_REQUEST datagram to the
// coordinator. Implemented by a transport.Endpoint bound to the unit's
// own send/receive pair in production, and by an in-memory double in
// tests.
type ZoneStatusSender interface {
	Send(port int, line string) error
}

// RemoteZoneStatusResolver satisfies ZoneStatusResolver for the real unit
// process: the coordinator is the only process that knows a zone's true
// cumulative drop count across every unit working it, so a unit asks over
// the wire instead of trusting a private per-engine tally. Like
// RemoteZoneResolver, it shares the unit's single demultiplexing receive
// loop rather than owning a socket of its own (spec §4.5).
type RemoteZoneStatusResolver struct {
	sender          ZoneStatusSender
	coordinatorPort int
	requestTimeout  time.Duration
	log             *zap.Logger

	mu      sync.Mutex
	waiting map[int]chan wire.ZoneStatusResponse
}

// NewRemoteZoneStatusResolver builds a resolver that sends
// ZONE_STATUS_REQUEST datagrams to coordinatorPort via sender and waits
// up to requestTimeout for a matching ZONE_STATUS reply delivered through
// Deliver.
func NewRemoteZoneStatusResolver(sender ZoneStatusSender, coordinatorPort int, requestTimeout time.Duration, log *zap.Logger) *RemoteZoneStatusResolver {
	return &RemoteZoneStatusResolver{
		sender:          sender,
		coordinatorPort: coordinatorPort,
		requestTimeout:  requestTimeout,
		log:             log,
		waiting:         make(map[int]chan wire.ZoneStatusResponse),
	}
}

// Deliver hands a decoded ZONE_STATUS response to whichever Status call
// is waiting on that zone id, or discards it if nothing is waiting (a
// late reply after Status already timed out and fell back).
func (r *RemoteZoneStatusResolver) Deliver(resp wire.ZoneStatusResponse) {
	r.mu.Lock()
	ch, found := r.waiting[resp.ZoneID]
	if found {
		delete(r.waiting, resp.ZoneID)
	}
	r.mu.Unlock()
	if found {
		select {
		case ch <- resp:
		default:
		}
	}
}

// Status requests zone id's live fire status and cumulative drop count
// from the coordinator and blocks until the reply arrives via Deliver or
// requestTimeout elapses. A timeout conservatively assumes the fire is
// still active with zero observed drops: wrongly short-circuiting a drop
// on an active fire is worse than one redundant trip to a zone whose fire
// has actually gone out, which the coordinator's own cleanup sweep and
// reconciliation will still correct.
func (r *RemoteZoneStatusResolver) Status(id int) ZoneStatus {
	ch := make(chan wire.ZoneStatusResponse, 1)
	r.mu.Lock()
	r.waiting[id] = ch
	r.mu.Unlock()

	if err := r.sender.Send(r.coordinatorPort, wire.EncodeZoneStatusRequest(wire.ZoneStatusRequest{ZoneID: id})); err != nil {
		r.log.Warn("zone-status request send failed", zap.Int("zone", id), zap.Error(err))
	}

	select {
	case resp := <-ch:
		return ZoneStatus{HasFire: resp.HasFire, Drops: resp.Drops, Required: resp.Required}
	case <-time.After(r.requestTimeout):
		r.mu.Lock()
		delete(r.waiting, id)
		r.mu.Unlock()
		r.log.Warn("zone-status request timed out, assuming fire still active", zap.Int("zone", id))
		return ZoneStatus{HasFire: true}
	}
}
