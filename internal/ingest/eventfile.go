// Package ingest reads a fire-event file and turns each well-formed line
// into a wire.FireEvent ready to send to the coordinator. It is the
// external collaborator spec.md §6 describes: "reading fire events from a
// text file" is explicitly out of the dispatch core's scope, but the
// wire-format parsing itself reuses wire.DecodeFireEvent since the event
// file's line grammar and the wire fire-event literal are the same
// "<time> <zoneId> <eventType> <severity>..." shape.
package ingest

import (
	"bufio"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/fireline/dispatch/internal/wire"
)

// LoadFile reads path and returns every well-formed fire event in file
// order. A malformed line is skipped with a warning, per spec §6; a
// missing file is returned as an error since, unlike the zone file,
// ingestion has no meaningful fallback — there is nothing to dispatch.
func LoadFile(path string, log *zap.Logger) ([]wire.FireEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return loadReader(f, log), nil
}

func loadReader(r io.Reader, log *zap.Logger) []wire.FireEvent {
	scanner := bufio.NewScanner(r)
	var events []wire.FireEvent
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ev, err := wire.DecodeFireEvent(line)
		if err != nil {
			log.Warn("skipping malformed event line", zap.Int("line", lineNo), zap.String("text", line), zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	return events
}
