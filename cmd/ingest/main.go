// Command ingest reads a fire-event file and streams each event to the
// coordinator, waiting briefly for the coordinator's acknowledgement
// before moving on to the next. This is the external collaborator
// spec.md §6 describes: file parsing and pacing live here, entirely
// outside the dispatch core.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/fireline/dispatch/internal/config"
	"github.com/fireline/dispatch/internal/ingest"
	"github.com/fireline/dispatch/internal/observability"
	"github.com/fireline/dispatch/internal/transport"
	"github.com/fireline/dispatch/internal/wire"
)

// ackTimeout bounds how long ingestion waits for the coordinator's ACK of
// one event before giving up and moving to the next; a dropped ack is
// logged, not fatal — the coordinator's enqueue already happened.
const ackTimeout = 500 * time.Millisecond

func main() {
	configPath := flag.String("config", "", "path to dispatch.yaml (defaults used if empty or missing)")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "ingest: usage: ingest <event-file>")
		os.Exit(1)
	}
	eventFile := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingest: %v\n", err)
		os.Exit(1)
	}

	log, err := observability.BuildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingest: invalid logger config: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("ingestion starting", zap.String("file", eventFile),
		zap.String("version", config.Version), zap.String("commit", config.GitCommit))

	events, err := ingest.LoadFile(eventFile, log)
	if err != nil {
		log.Fatal("event file unreadable", zap.String("file", eventFile), zap.Error(err))
	}
	log.Info("event file loaded", zap.Int("count", len(events)))

	recvEP, err := transport.Bind(cfg.Ports.IngestionReceive)
	if err != nil {
		log.Fatal("bind ingestion receive port failed", zap.Error(err))
	}
	defer recvEP.Close()

	sendEP, err := transport.Bind(cfg.Ports.IngestionSend)
	if err != nil {
		log.Fatal("bind ingestion send port failed", zap.Error(err))
	}
	defer sendEP.Close()

	sent, acked := 0, 0
	for _, ev := range events {
		if err := sendEP.Send(cfg.Ports.CoordinatorReceive, wire.EncodeFireEvent(ev)); err != nil {
			log.Warn("fire event send failed", zap.Int("zone", ev.ZoneID), zap.Error(err))
			continue
		}
		sent++
		if awaitAck(recvEP, ev, log) {
			acked++
		}
	}

	log.Info("ingestion complete", zap.Int("sent", sent), zap.Int("acked", acked), zap.Int("total", len(events)))
	os.Exit(0)
}

// awaitAck blocks up to ackTimeout for the coordinator's ACK of ev,
// discarding any unrelated datagram that arrives first (stray telemetry,
// an ack for an earlier event race).
func awaitAck(ep *transport.Endpoint, ev wire.FireEvent, log *zap.Logger) bool {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()

	for ctx.Err() == nil {
		line, ok, err := ep.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Debug("ingestion receive error", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if wire.Classify(line) != wire.KindEventAck {
			continue
		}
		ack, err := wire.DecodeEventAck(line)
		if err != nil {
			continue
		}
		if ack.ZoneID == ev.ZoneID && ack.Time == ev.Time {
			return true
		}
	}
	log.Warn("no ack received for fire event", zap.Int("zone", ev.ZoneID), zap.String("time", ev.Time))
	return false
}
