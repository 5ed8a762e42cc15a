package geometry

// Severity is the fire intensity classification carried by zones and fire
// events. Higher severities require more suppression units and more
// suppressant volume.
type Severity uint8

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityModerate
	SeverityHigh
)

// String returns the wire-format severity token.
func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "NONE"
	case SeverityLow:
		return "Low"
	case SeverityModerate:
		return "Moderate"
	case SeverityHigh:
		return "High"
	default:
		return "NONE"
	}
}

// ParseSeverity parses a wire-format severity token. Unrecognised tokens
// are treated as NONE per the weight table in spec §3, not as an error —
// callers that need strict validation should check the returned bool.
func ParseSeverity(tok string) (Severity, bool) {
	switch tok {
	case "Low":
		return SeverityLow, true
	case "Moderate":
		return SeverityModerate, true
	case "High":
		return SeverityHigh, true
	case "NONE", "None", "":
		return SeverityNone, true
	default:
		return SeverityNone, false
	}
}

// Weight returns the priority weight used to order fire events: High=100,
// Moderate=50, Low=10, everything else 0.
func (s Severity) Weight() int {
	switch s {
	case SeverityHigh:
		return 100
	case SeverityModerate:
		return 50
	case SeverityLow:
		return 10
	default:
		return 0
	}
}

// UnitsRequired returns the number of suppression units a fire of this
// severity requires: Low=1, Moderate=2, High=3, otherwise 0.
func (s Severity) UnitsRequired() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityModerate:
		return 2
	case SeverityHigh:
		return 3
	default:
		return 0
	}
}

// RequiredLitres returns the suppressant volume a single drop must supply
// for a fire of this severity: Low=10, Moderate=20, High=30 litres.
func (s Severity) RequiredLitres() float64 {
	switch s {
	case SeverityLow:
		return 10
	case SeverityModerate:
		return 20
	case SeverityHigh:
		return 30
	default:
		return 0
	}
}
