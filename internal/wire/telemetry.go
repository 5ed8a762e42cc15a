package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fireline/dispatch/internal/geometry"
)

// Telemetry is a self-sufficient status message emitted by a unit. Zero
// values of the optional fields mean "not present on the wire"; Has* flags
// distinguish an explicit zero from absence where the distinction matters.
type Telemetry struct {
	DroneID string
	State   State

	HasError bool
	Error    ErrorKind

	HasTask      bool
	TaskZoneID   int
	TaskSeverity geometry.Severity

	HasCapacity bool
	Capacity    float64

	HasFireOut bool
	FireOutZone int

	HasAbandoned bool
	AbandonedZone int

	HasNewTask bool
	NewTaskZone int

	// HasDrop reports that this datagram carries the outcome of an agent
	// drop on DropZone. The coordinator is the one that decides whether
	// this drop brings the zone's cumulative cross-unit count to its
	// required total (internal/dispatch's handleDrop); HasFireOut on the
	// same datagram is only this unit's own best-effort estimate of that
	// outcome, not the final word.
	HasDrop  bool
	DropZone int

	X, Y int
}

// EncodeTelemetry renders a telemetry datagram per the wire grammar:
// "<droneId> <state>[ ERROR:<e>][ TASK:<z>:<sev>][ CAPACITY:<l>][ DROP:<z>][ FIRE_OUT:<z>][ ABANDONED:<z>][ NEW_TASK:<z>] <x> <y>".
func EncodeTelemetry(t Telemetry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", t.DroneID, t.State)
	if t.HasError {
		fmt.Fprintf(&b, " ERROR:%s", t.Error)
	}
	if t.HasTask {
		fmt.Fprintf(&b, " TASK:%d:%s", t.TaskZoneID, t.TaskSeverity)
	}
	if t.HasCapacity {
		fmt.Fprintf(&b, " CAPACITY:%s", strconv.FormatFloat(t.Capacity, 'f', -1, 64))
	}
	if t.HasDrop {
		fmt.Fprintf(&b, " DROP:%d", t.DropZone)
	}
	if t.HasFireOut {
		fmt.Fprintf(&b, " FIRE_OUT:%d", t.FireOutZone)
	}
	if t.HasAbandoned {
		fmt.Fprintf(&b, " ABANDONED:%d", t.AbandonedZone)
	}
	if t.HasNewTask {
		fmt.Fprintf(&b, " NEW_TASK:%d", t.NewTaskZone)
	}
	fmt.Fprintf(&b, " %d %d", t.X, t.Y)
	return b.String()
}

// DecodeTelemetry parses a telemetry datagram. The last two tokens are
// always integer coordinates; the droneId and state are the first two
// tokens; everything between is a tagged token in arbitrary order.
func DecodeTelemetry(line string) (Telemetry, error) {
	tokens := strings.Fields(line)
	if len(tokens) < 4 {
		return Telemetry{}, fmt.Errorf("wire: telemetry %q has %d tokens, want at least 4", line, len(tokens))
	}

	y, err := strconv.Atoi(tokens[len(tokens)-1])
	if err != nil {
		return Telemetry{}, fmt.Errorf("wire: telemetry %q has non-integer y: %w", line, err)
	}
	x, err := strconv.Atoi(tokens[len(tokens)-2])
	if err != nil {
		return Telemetry{}, fmt.Errorf("wire: telemetry %q has non-integer x: %w", line, err)
	}

	state, ok := ParseState(tokens[1])
	if !ok {
		return Telemetry{}, fmt.Errorf("wire: telemetry %q has unrecognised state %q", line, tokens[1])
	}

	t := Telemetry{DroneID: tokens[0], State: state, X: x, Y: y}

	for _, tok := range tokens[2 : len(tokens)-2] {
		tag, rest, found := strings.Cut(tok, ":")
		if !found {
			return Telemetry{}, fmt.Errorf("wire: telemetry %q has malformed tag %q", line, tok)
		}
		switch tag {
		case "ERROR":
			kind, ok := ParseErrorKind(rest)
			if !ok {
				return Telemetry{}, fmt.Errorf("wire: telemetry %q has unrecognised error %q", line, rest)
			}
			t.HasError = true
			t.Error = kind
		case "TASK":
			zoneStr, sevStr, found := strings.Cut(rest, ":")
			if !found {
				return Telemetry{}, fmt.Errorf("wire: telemetry %q has malformed TASK tag %q", line, tok)
			}
			zoneID, err := strconv.Atoi(zoneStr)
			if err != nil {
				return Telemetry{}, fmt.Errorf("wire: telemetry %q has non-integer TASK zone: %w", line, err)
			}
			sev, ok := geometry.ParseSeverity(sevStr)
			if !ok {
				return Telemetry{}, fmt.Errorf("wire: telemetry %q has unrecognised TASK severity %q", line, sevStr)
			}
			t.HasTask = true
			t.TaskZoneID = zoneID
			t.TaskSeverity = sev
		case "CAPACITY":
			litres, err := strconv.ParseFloat(rest, 64)
			if err != nil {
				return Telemetry{}, fmt.Errorf("wire: telemetry %q has non-numeric CAPACITY: %w", line, err)
			}
			t.HasCapacity = true
			t.Capacity = litres
		case "DROP":
			zoneID, err := strconv.Atoi(rest)
			if err != nil {
				return Telemetry{}, fmt.Errorf("wire: telemetry %q has non-integer DROP zone: %w", line, err)
			}
			t.HasDrop = true
			t.DropZone = zoneID
		case "FIRE_OUT":
			zoneID, err := strconv.Atoi(rest)
			if err != nil {
				return Telemetry{}, fmt.Errorf("wire: telemetry %q has non-integer FIRE_OUT zone: %w", line, err)
			}
			t.HasFireOut = true
			t.FireOutZone = zoneID
		case "ABANDONED":
			zoneID, err := strconv.Atoi(rest)
			if err != nil {
				return Telemetry{}, fmt.Errorf("wire: telemetry %q has non-integer ABANDONED zone: %w", line, err)
			}
			t.HasAbandoned = true
			t.AbandonedZone = zoneID
		case "NEW_TASK":
			zoneID, err := strconv.Atoi(rest)
			if err != nil {
				return Telemetry{}, fmt.Errorf("wire: telemetry %q has non-integer NEW_TASK zone: %w", line, err)
			}
			t.HasNewTask = true
			t.NewTaskZone = zoneID
		default:
			return Telemetry{}, fmt.Errorf("wire: telemetry %q has unknown tag %q", line, tag)
		}
	}
	return t, nil
}
