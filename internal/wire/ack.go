package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// EventAck is the coordinator's acknowledgement that a fire event was
// received and enqueued (spec §2: "the coordinator acknowledges and
// enqueues them"). It carries enough of the original event to let the
// ingestion collaborator match it against what it sent, without requiring
// ordered delivery.
type EventAck struct {
	ZoneID int
	Time   string
}

// EncodeEventAck renders "ACK:<zoneId>:<time>".
func EncodeEventAck(a EventAck) string {
	return fmt.Sprintf("ACK:%d:%s", a.ZoneID, a.Time)
}

// DecodeEventAck parses "ACK:<zoneId>:<time>".
func DecodeEventAck(line string) (EventAck, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), "ACK:")
	if !ok {
		return EventAck{}, fmt.Errorf("wire: %q is not an event ack", line)
	}
	zoneStr, timeStr, found := strings.Cut(rest, ":")
	if !found {
		return EventAck{}, fmt.Errorf("wire: event ack %q is missing the time field", line)
	}
	zoneID, err := strconv.Atoi(zoneStr)
	if err != nil {
		return EventAck{}, fmt.Errorf("wire: event ack %q has non-integer zone id: %w", line, err)
	}
	return EventAck{ZoneID: zoneID, Time: timeStr}, nil
}
