// Command coordinator runs the fleet dispatch engine: the priority event
// queue, per-zone assignment bookkeeping, and the periodic reconciliation
// loop that keeps units and active fires matched up.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fireline/dispatch/internal/config"
	"github.com/fireline/dispatch/internal/dispatch"
	"github.com/fireline/dispatch/internal/fleet"
	"github.com/fireline/dispatch/internal/observability"
	"github.com/fireline/dispatch/internal/transport"
	"github.com/fireline/dispatch/internal/zonestore"
)

func main() {
	configPath := flag.String("config", "", "path to dispatch.yaml (defaults used if empty or missing)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: %v\n", err)
		os.Exit(1)
	}

	log, err := observability.BuildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: invalid logger config: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("coordinator starting",
		zap.String("version", config.Version), zap.String("commit", config.GitCommit))

	zones := zonestore.NewRegistry(zonestore.GridParams{
		DeltaX: cfg.ZoneGrid.DeltaX, DeltaY: cfg.ZoneGrid.DeltaY,
		OriginX: cfg.ZoneGrid.OriginX, OriginY: cfg.ZoneGrid.OriginY,
		Columns: cfg.ZoneGrid.Columns, Rows: cfg.ZoneGrid.Rows,
		Spacing: cfg.ZoneGrid.Spacing,
	})
	zonestore.LoadFile(zones, cfg.ZoneGrid.ZoneFile, log)

	units := fleet.NewRegistry()

	recvEP, err := transport.Bind(cfg.Ports.CoordinatorReceive)
	if err != nil {
		log.Fatal("bind coordinator receive port failed", zap.Error(err))
	}
	defer recvEP.Close()

	sendEP, err := transport.Bind(cfg.Ports.CoordinatorSend)
	if err != nil {
		log.Fatal("bind coordinator send port failed", zap.Error(err))
	}
	defer sendEP.Close()

	metrics := observability.NewMetrics()

	coord := dispatch.New(zones, units, dispatch.NewUDPUnitSender(sendEP), recvEP, cfg.Dispatch, log, metrics)
	coord.SetIngestionAckPort(cfg.Ports.IngestionReceive)
	snapshot := dispatch.NewSnapshotServer(zones, units, coord.Book(), coord.Queue(), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord.Run(ctx)

	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server exited", zap.Error(err))
		}
	}()

	go func() {
		if err := snapshot.Serve(ctx, cfg.Observability.SnapshotSocketPath); err != nil {
			log.Error("snapshot server exited", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("coordinator shutting down", zap.String("signal", sig.String()))

	cancel()
	coord.Shutdown()
	log.Info("coordinator stopped")
}
