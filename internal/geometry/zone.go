package geometry

import "fmt"

// pointZoneRadius is the half-width of the bounding box a single-point zone
// construction wraps around its point (spec §3: "a single-point construction
// wraps a ±5 bounding box around the point").
const pointZoneRadius = 5

// Zone is an axis-aligned rectangular region keyed by an integer id.
type Zone struct {
	ID       int
	X1, Y1   int
	X2, Y2   int
	HasFire  bool
	Severity Severity
}

// NewZone constructs a zone from an explicit rectangle. Returns an error if
// the rectangle is degenerate (x1>x2 or y1>y2).
func NewZone(id, x1, y1, x2, y2 int) (Zone, error) {
	if x1 > x2 || y1 > y2 {
		return Zone{}, fmt.Errorf("geometry: zone %d has inverted rectangle (%d,%d)-(%d,%d)", id, x1, y1, x2, y2)
	}
	return Zone{ID: id, X1: x1, Y1: y1, X2: x2, Y2: y2}, nil
}

// NewPointZone builds a zone wrapping a ±5 bounding box around a single
// point, per spec §3.
func NewPointZone(id int, p Location) Zone {
	return Zone{
		ID: id,
		X1: p.X - pointZoneRadius, Y1: p.Y - pointZoneRadius,
		X2: p.X + pointZoneRadius, Y2: p.Y + pointZoneRadius,
	}
}

// Center returns the zone's rectangle center, using integer division.
func (z Zone) Center() Location {
	return Location{X: (z.X1 + z.X2) / 2, Y: (z.Y1 + z.Y2) / 2}
}

// Contains reports whether p lies within the zone's rectangle, inclusive on
// all edges.
func (z Zone) Contains(p Location) bool {
	return p.X >= z.X1 && p.X <= z.X2 && p.Y >= z.Y1 && p.Y <= z.Y2
}

// Overlaps reports whether two zones' rectangles intersect; shared edges
// count as overlap.
func (z Zone) Overlaps(other Zone) bool {
	if z.X2 < other.X1 || other.X2 < z.X1 {
		return false
	}
	if z.Y2 < other.Y1 || other.Y2 < z.Y1 {
		return false
	}
	return true
}
