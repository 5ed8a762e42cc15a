package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fireline/dispatch/internal/geometry"
)

// FireEvent is a request to extinguish a fire in a zone, optionally carrying
// an injected error kind and an ordered list of assigned unit ids.
type FireEvent struct {
	Time          string
	ZoneID        int
	EventType     string
	Severity      geometry.Severity
	ErrorKind     ErrorKind
	AssignedUnits []string

	// Seq breaks ties between events of equal weight and equal Time; it is
	// stamped by the coordinator's queue, not carried on the wire.
	Seq uint64
}

// Weight returns the event's priority weight, taken from its severity.
func (e FireEvent) Weight() int {
	return e.Severity.Weight()
}

// AddAssignedUnit appends droneID to the assignment list unless it is
// already present (invariant I6: no unit appears twice in a single event's
// assignment list).
func (e *FireEvent) AddAssignedUnit(droneID string) {
	for _, id := range e.AssignedUnits {
		if id == droneID {
			return
		}
	}
	e.AssignedUnits = append(e.AssignedUnits, droneID)
}

// EncodeFireEvent renders a fire event as its wire literal:
// "<time> <zoneId> <eventType> <severity>[ <errorKind>][ <droneId>...]".
func EncodeFireEvent(e FireEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d %s %s", e.Time, e.ZoneID, e.EventType, e.Severity)
	if e.ErrorKind != ErrorNone {
		fmt.Fprintf(&b, " %s", e.ErrorKind)
	}
	for _, id := range e.AssignedUnits {
		fmt.Fprintf(&b, " %s", id)
	}
	return b.String()
}

// DecodeFireEvent parses a fire event literal. The first four tokens
// (time, zoneId, eventType, severity) are mandatory; the first subsequent
// token matching an error-kind token sets ErrorKind; all remaining tokens
// are assigned unit ids, in order, deduplicated per AddAssignedUnit.
func DecodeFireEvent(line string) (FireEvent, error) {
	tokens := strings.Fields(line)
	if len(tokens) < 4 {
		return FireEvent{}, fmt.Errorf("wire: fire event %q has %d tokens, want at least 4", line, len(tokens))
	}
	zoneID, err := strconv.Atoi(tokens[1])
	if err != nil {
		return FireEvent{}, fmt.Errorf("wire: fire event %q has non-integer zone id: %w", line, err)
	}
	severity, ok := geometry.ParseSeverity(tokens[3])
	if !ok {
		return FireEvent{}, fmt.Errorf("wire: fire event %q has unrecognised severity %q", line, tokens[3])
	}

	e := FireEvent{
		Time:      tokens[0],
		ZoneID:    zoneID,
		EventType: tokens[2],
		Severity:  severity,
	}

	errKindSeen := false
	for _, tok := range tokens[4:] {
		if !errKindSeen {
			if kind, ok := ParseErrorKind(tok); ok {
				e.ErrorKind = kind
				errKindSeen = true
				continue
			}
		}
		e.AddAssignedUnit(tok)
	}
	return e, nil
}
