// Command unit runs one drone's mission engine: it receives fire
// assignments, redirections, and zone-info replies on its single fixed
// receive port, drives the mission state machine to completion, and
// streams telemetry back to the coordinator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fireline/dispatch/internal/config"
	"github.com/fireline/dispatch/internal/fleet"
	"github.com/fireline/dispatch/internal/geometry"
	"github.com/fireline/dispatch/internal/mission"
	"github.com/fireline/dispatch/internal/observability"
	"github.com/fireline/dispatch/internal/transport"
	"github.com/fireline/dispatch/internal/wire"
)

func main() {
	configPath := flag.String("config", "", "path to dispatch.yaml (defaults used if empty or missing)")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "unit: usage: unit <droneN>")
		os.Exit(1)
	}
	droneID := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unit: %v\n", err)
		os.Exit(1)
	}

	log, err := observability.BuildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unit: invalid logger config: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	n, err := transport.ParseDroneID(droneID)
	if err != nil {
		log.Fatal("invalid drone id", zap.String("drone", droneID), zap.Error(err))
	}

	log.Info("unit starting", zap.String("drone", droneID),
		zap.String("version", config.Version), zap.String("commit", config.GitCommit))

	sendPort := cfg.Ports.UnitSendBase + cfg.Ports.UnitPortStride*n
	recvPort := cfg.Ports.UnitReceiveBase + cfg.Ports.UnitPortStride*n

	recvEP, err := transport.Bind(recvPort)
	if err != nil {
		log.Fatal("bind unit receive port failed", zap.Error(err))
	}
	defer recvEP.Close()

	sendEP, err := transport.Bind(sendPort)
	if err != nil {
		log.Fatal("bind unit send port failed", zap.Error(err))
	}
	defer sendEP.Close()

	metrics := observability.NewMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := metrics.ServeMetrics(ctx, unitMetricsAddr(n)); err != nil {
			log.Error("metrics server exited", zap.Error(err))
		}
	}()

	// The request must go out on recvEP, not sendEP: the coordinator
	// replies to the request's actual source address, and receiveLoop
	// below is the only goroutine reading recvEP.
	zones := mission.NewRemoteZoneResolver(recvEP, cfg.Ports.CoordinatorReceive, 2*time.Second, log)
	zoneStatus := mission.NewRemoteZoneStatusResolver(recvEP, cfg.Ports.CoordinatorReceive, 2*time.Second, log)

	engineCfg := mission.Config{
		BaseLocation:     geometry.Location{},
		MotionInterval:   cfg.Telemetry.MotionInterval,
		MaxMovementTime:  cfg.Fault.MaxMovementTime,
		MaxDropAgentTime: cfg.Fault.MaxDropAgentTime,
		RefillDelay:      cfg.Fault.RefillDelay,
	}
	sender := &coordinatorSender{ep: sendEP, coordinatorPort: cfg.Ports.CoordinatorReceive}
	engine := mission.New(droneID, fleet.DefaultUnitSpec(), engineCfg.BaseLocation, engineCfg, sender, zones, zoneStatus, log, metrics)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		receiveLoop(ctx, recvEP, engine, zones, zoneStatus, log)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("unit shutting down", zap.String("drone", droneID), zap.String("signal", sig.String()))

	cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		log.Warn("unit shutdown drain timeout exceeded, proceeding anyway")
	}
	log.Info("unit stopped", zap.String("drone", droneID))
}

// receiveLoop is the unit's single reader of recvEP, per spec §4.5 (one
// receive port per unit). It classifies each datagram and routes fire
// events to the mission engine and zone-info replies to the resolver;
// anything else is discarded, mirroring the coordinator's own
// never-crash-on-a-malformed-datagram discipline (spec §7).
func receiveLoop(ctx context.Context, ep *transport.Endpoint, engine *mission.Engine, zones *mission.RemoteZoneResolver, zoneStatus *mission.RemoteZoneStatusResolver, log *zap.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		line, ok, err := ep.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Debug("unit receive error", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		switch wire.Classify(line) {
		case wire.KindFireEvent:
			ev, err := wire.DecodeFireEvent(line)
			if err != nil {
				log.Debug("discarding malformed fire event", zap.String("line", line), zap.Error(err))
				continue
			}
			engine.EnqueueEvent(ev)
		case wire.KindZoneInfoResponse:
			resp, err := wire.DecodeZoneInfoResponse(line)
			if err != nil {
				log.Debug("discarding malformed zone-info response", zap.String("line", line), zap.Error(err))
				continue
			}
			zones.Deliver(resp)
		case wire.KindZoneStatusResponse:
			resp, err := wire.DecodeZoneStatusResponse(line)
			if err != nil {
				log.Debug("discarding malformed zone-status response", zap.String("line", line), zap.Error(err))
				continue
			}
			zoneStatus.Deliver(resp)
		default:
			log.Debug("discarding unrecognised datagram", zap.String("line", line))
		}
	}
}

// coordinatorSender delivers telemetry to the coordinator's fixed receive
// port, satisfying mission.TelemetrySender.
type coordinatorSender struct {
	ep              *transport.Endpoint
	coordinatorPort int
}

func (s *coordinatorSender) Send(line string) error {
	return s.ep.Send(s.coordinatorPort, line)
}

// unitMetricsAddr derives a per-unit metrics bind address from its drone
// number so N units can run on one host without colliding, mirroring the
// way unit ports are derived from a base plus a stride (spec §4.5).
func unitMetricsAddr(n int) string {
	return fmt.Sprintf("127.0.0.1:%d", 9100+n)
}
