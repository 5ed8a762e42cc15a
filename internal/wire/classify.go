package wire

import (
	"strconv"
	"strings"
)

// Kind identifies which datagram shape a raw line decodes as.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindTelemetry
	KindFireEvent
	KindZoneInfoRequest
	KindZoneInfoResponse
	KindEventAck
	KindZoneStatusRequest
	KindZoneStatusResponse
)

// Classify determines a datagram's kind without fully decoding it, so the
// coordinator's receive loop can route it to the right handler.
//
// A datagram is telemetry iff its first token starts with "drone" and its
// last two tokens both parse as integers. Zone-info and zone-status
// request/response are recognised by their literal prefixes. Anything
// else with at least four space-separated tokens is treated as a fire
// event.
func Classify(line string) Kind {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(trimmed, "ZONE_INFO_REQUEST:"):
		return KindZoneInfoRequest
	case strings.HasPrefix(trimmed, "ZONE_INFO:"):
		return KindZoneInfoResponse
	case strings.HasPrefix(trimmed, "ZONE_STATUS_REQUEST:"):
		return KindZoneStatusRequest
	case strings.HasPrefix(trimmed, "ZONE_STATUS:"):
		return KindZoneStatusResponse
	case strings.HasPrefix(trimmed, "ACK:"):
		return KindEventAck
	}

	tokens := strings.Fields(trimmed)
	if len(tokens) < 2 {
		return KindUnknown
	}
	if strings.HasPrefix(tokens[0], "drone") && len(tokens) >= 4 {
		_, errY := strconv.Atoi(tokens[len(tokens)-1])
		_, errX := strconv.Atoi(tokens[len(tokens)-2])
		if errX == nil && errY == nil {
			return KindTelemetry
		}
	}
	if len(tokens) >= 4 {
		return KindFireEvent
	}
	return KindUnknown
}
