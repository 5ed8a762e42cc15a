// Package transport provides UDP datagram send/receive endpoints with the
// fixed port derivation the coordinator and units use to address each
// other, plus the bounded-deadline receive idiom both sides poll on so a
// cancellation signal is never more than one deadline away.
package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// CoordinatorSendPort is the port the coordinator sends assignments from.
const CoordinatorSendPort = 6000

// CoordinatorReceivePort is the port the coordinator listens on for
// telemetry, fire events, and zone-info requests.
const CoordinatorReceivePort = 6001

// IngestionSendPort is the port the fire-ingestion process sends events
// from.
const IngestionSendPort = 5000

// IngestionReceivePort is the port the fire-ingestion process listens on
// for acknowledgements.
const IngestionReceivePort = 5001

// UnitSendPort returns the send port for unit N: 7000 + 100*N.
func UnitSendPort(n int) int {
	return 7000 + 100*n
}

// UnitReceivePort returns the receive port for unit N: 7001 + 100*N.
func UnitReceivePort(n int) int {
	return 7001 + 100*n
}

// ParseDroneID extracts the numeric suffix from a "droneN" id, as used to
// derive that unit's fixed port pair.
func ParseDroneID(droneID string) (int, error) {
	rest := strings.TrimPrefix(droneID, "drone")
	if rest == droneID {
		return 0, fmt.Errorf("transport: %q is not a drone id", droneID)
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("transport: %q has a non-integer drone number: %w", droneID, err)
	}
	return n, nil
}
