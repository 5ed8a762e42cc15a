package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/fireline/dispatch/internal/fleet"
	"github.com/fireline/dispatch/internal/wire"
	"github.com/fireline/dispatch/internal/zonestore"
)

const (
	snapshotConnDeadline = 5 * time.Second
	snapshotMaxConns     = 16
)

// SnapshotServer is a read-only Unix-domain-socket operator interface,
// adapted from a bounded-connection JSON request/response server pattern:
// a semaphore-limited accept loop, 0600 socket permissions, one goroutine
// per connection with a hard deadline. Unlike that pattern, this server
// exposes no mutating commands — every operation here is a pure read of
// the coordinator's registries.
type SnapshotServer struct {
	log   *zap.Logger
	zones *zonestore.Registry
	units *fleet.Registry
	book  *Bookkeeping
	queue *EventQueue
	sem   chan struct{}

	startTime time.Time
}

// NewSnapshotServer builds a snapshot server over the coordinator's live
// registries and bookkeeping.
func NewSnapshotServer(zones *zonestore.Registry, units *fleet.Registry, book *Bookkeeping, queue *EventQueue, log *zap.Logger) *SnapshotServer {
	return &SnapshotServer{
		zones:     zones,
		units:     units,
		book:      book,
		queue:     queue,
		log:       log,
		sem:       make(chan struct{}, snapshotMaxConns),
		startTime: time.Now(),
	}
}

type snapshotRequest struct {
	Cmd string `json:"cmd"`
}

type snapshotResponse struct {
	Error string `json:"error,omitempty"`
	Zones []zoneView `json:"zones,omitempty"`
	Units []unitView `json:"units,omitempty"`
	Status *statusView `json:"status,omitempty"`
}

type zoneView struct {
	ID       int    `json:"id"`
	HasFire  bool   `json:"has_fire"`
	Severity string `json:"severity"`
	Required int    `json:"required"`
	Assigned int    `json:"assigned"`
	FullyAssigned bool `json:"fully_assigned"`
	CenterX  int    `json:"center_x"`
	CenterY  int    `json:"center_y"`
	Drops    int    `json:"drops"`
}

type unitView struct {
	DroneID string `json:"drone_id"`
	State   string `json:"state"`
	ErrorKind string `json:"error_kind"`
	X int `json:"x"`
	Y int `json:"y"`
	TaskZoneID *int `json:"task_zone_id,omitempty"`
	ZonesServiced int `json:"zones_serviced"`
	Capacity float64 `json:"capacity"`
}

type statusView struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
	ZoneCount     int     `json:"zone_count"`
	ActiveFires   int     `json:"active_fires"`
	UnitCount     int     `json:"unit_count"`
	IdleUnits     int     `json:"idle_units"`
	FaultedUnits  int     `json:"faulted_units"`
	QueueDepth    int     `json:"queue_depth"`
}

// Serve listens on a Unix domain socket at socketPath until ctx is
// cancelled. Any stale socket file at that path is removed first.
func (s *SnapshotServer) Serve(ctx context.Context, socketPath string) error {
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("dispatch: listen on %q: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("dispatch: chmod %q: %w", socketPath, err)
	}
	defer os.Remove(socketPath)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("dispatch: accept on %q: %w", socketPath, err)
		}
		select {
		case s.sem <- struct{}{}:
			go s.handle(conn)
		default:
			conn.Close()
		}
	}
}

func (s *SnapshotServer) handle(conn net.Conn) {
	defer func() { <-s.sem }()
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(snapshotConnDeadline))

	var req snapshotRequest
	enc := json.NewEncoder(conn)
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		_ = enc.Encode(snapshotResponse{Error: "malformed request"})
		return
	}

	switch req.Cmd {
	case "zones":
		_ = enc.Encode(snapshotResponse{Zones: s.zoneViews()})
	case "units":
		_ = enc.Encode(snapshotResponse{Units: s.unitViews()})
	case "status":
		v := s.statusView()
		_ = enc.Encode(snapshotResponse{Status: &v})
	default:
		_ = enc.Encode(snapshotResponse{Error: fmt.Sprintf("unknown cmd %q", req.Cmd)})
	}
}

func (s *SnapshotServer) zoneViews() []zoneView {
	zones := s.zones.All()
	out := make([]zoneView, 0, len(zones))
	for _, z := range zones {
		out = append(out, zoneView{
			ID: z.ID, HasFire: z.HasFire, Severity: z.Severity.String(),
			Required: s.book.Required(z.ID), Assigned: s.book.Assigned(z.ID),
			FullyAssigned: s.book.IsFullyAssigned(z.ID),
			CenterX:       z.Center().X, CenterY: z.Center().Y,
			Drops: s.zones.Drops(z.ID),
		})
	}
	return out
}

func (s *SnapshotServer) unitViews() []unitView {
	units := s.units.All()
	out := make([]unitView, 0, len(units))
	for _, u := range units {
		v := unitView{
			DroneID: u.DroneID, State: u.State.String(), ErrorKind: u.ErrorKind.String(),
			X: u.CurrentLocation.X, Y: u.CurrentLocation.Y,
			ZonesServiced: u.ZonesServiced, Capacity: u.Spec.CurrentCapacity,
		}
		if u.CurrentTask != nil {
			zoneID := u.CurrentTask.ZoneID
			v.TaskZoneID = &zoneID
		}
		out = append(out, v)
	}
	return out
}

func (s *SnapshotServer) statusView() statusView {
	zones := s.zones.All()
	units := s.units.All()
	active, idle, faulted := 0, 0, 0
	for _, z := range zones {
		if z.HasFire {
			active++
		}
	}
	for _, u := range units {
		switch u.State {
		case wire.StateIdle:
			idle++
		case wire.StateFault:
			faulted++
		}
	}
	return statusView{
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		ZoneCount:     len(zones),
		ActiveFires:   active,
		UnitCount:     len(units),
		IdleUnits:     idle,
		FaultedUnits:  faulted,
		QueueDepth:    s.queue.Len(),
	}
}
