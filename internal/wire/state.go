// Package wire encodes and decodes the line-oriented ASCII datagrams
// exchanged between the coordinator and the units: fire events, telemetry,
// and zone-info request/response pairs.
package wire

// State is a unit's position in the mission lifecycle.
type State uint8

const (
	StateIdle State = iota
	StateEnRoute
	StateDroppingAgent
	StateArrivedToBase
	StateFault
)

// String returns the wire-format state token.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateEnRoute:
		return "EnRoute"
	case StateDroppingAgent:
		return "DroppingAgent"
	case StateArrivedToBase:
		return "ArrivedToBase"
	case StateFault:
		return "Fault"
	default:
		return "Idle"
	}
}

// ParseState parses a wire-format state token.
func ParseState(tok string) (State, bool) {
	switch tok {
	case "Idle":
		return StateIdle, true
	case "EnRoute":
		return StateEnRoute, true
	case "DroppingAgent":
		return StateDroppingAgent, true
	case "ArrivedToBase":
		return StateArrivedToBase, true
	case "Fault":
		return StateFault, true
	default:
		return StateIdle, false
	}
}

// ErrorKind is a fault injected on a fire event or reported in telemetry.
type ErrorKind uint8

const (
	ErrorNone ErrorKind = iota
	ErrorNozzleJam
	ErrorDroneStuck
)

// String returns the wire-format error token.
func (e ErrorKind) String() string {
	switch e {
	case ErrorNozzleJam:
		return "NOZZLE_JAM"
	case ErrorDroneStuck:
		return "DRONE_STUCK"
	default:
		return "NONE"
	}
}

// ParseErrorKind parses a wire-format error token.
func ParseErrorKind(tok string) (ErrorKind, bool) {
	switch tok {
	case "NONE":
		return ErrorNone, true
	case "NOZZLE_JAM":
		return ErrorNozzleJam, true
	case "DRONE_STUCK":
		return ErrorDroneStuck, true
	default:
		return ErrorNone, false
	}
}

// IsHard reports whether the fault permanently disqualifies the unit from
// new assignments (NOZZLE_JAM) as opposed to clearing automatically at base
// (DRONE_STUCK).
func (e ErrorKind) IsHard() bool {
	return e == ErrorNozzleJam
}
