// Package zonestore holds the zone registry: rectangular zones keyed by
// integer id, the deterministic fallback grid, and the zone-file loader.
package zonestore

import (
	"sync"

	"github.com/fireline/dispatch/internal/geometry"
)

// GridParams are the configuration constants used to derive a zone's
// center from a raw id that was never loaded from the zone file, and to
// build the default fallback grid. ΔX, ΔY, OX, OY are chosen so derived
// zones do not overlap file-loaded zones.
type GridParams struct {
	DeltaX, DeltaY int
	OriginX, OriginY int
	Columns, Rows    int
	Spacing          int
}

// DefaultGridParams matches the spec's default 3x4 grid at spacing 10,
// offset away from the origin so implicitly-derived zones and file-loaded
// test zones never collide.
func DefaultGridParams() GridParams {
	return GridParams{
		DeltaX: 10, DeltaY: 10,
		OriginX: 1000, OriginY: 1000,
		Columns: 3, Rows: 4,
		Spacing: 10,
	}
}

// Registry is the thread-safe in-memory zone registry.
type Registry struct {
	mu     sync.RWMutex
	zones  map[int]*geometry.Zone
	drops  map[int]int
	params GridParams
}

// NewRegistry creates an empty zone registry using params to derive
// centers for zones created implicitly from a raw id.
func NewRegistry(params GridParams) *Registry {
	return &Registry{
		zones:  make(map[int]*geometry.Zone),
		drops:  make(map[int]int),
		params: params,
	}
}

// Get returns the zone and whether it is registered.
func (r *Registry) Get(id int) (geometry.Zone, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	z, ok := r.zones[id]
	if !ok {
		return geometry.Zone{}, false
	}
	return *z, true
}

// GetOrCreate returns the zone with the given id, creating it at a
// deterministic derived center if it is not yet registered.
func (r *Registry) GetOrCreate(id int) geometry.Zone {
	r.mu.Lock()
	defer r.mu.Unlock()
	if z, ok := r.zones[id]; ok {
		return *z
	}
	center := r.derivedCenter(id)
	z := geometry.NewPointZone(id, center)
	r.zones[id] = &z
	return z
}

// derivedCenter computes "((id-1) mod 3)*ΔX + OX, ((id-1) div 3)*ΔY + OY".
func (r *Registry) derivedCenter(id int) geometry.Location {
	col := (id - 1) % r.params.Columns
	row := (id - 1) / r.params.Columns
	return geometry.Location{
		X: col*r.params.DeltaX + r.params.OriginX,
		Y: row*r.params.DeltaY + r.params.OriginY,
	}
}

// Put installs a zone verbatim (used by the zone-file loader), overwriting
// any existing entry for the same id.
func (r *Registry) Put(z geometry.Zone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	zc := z
	r.zones[z.ID] = &zc
}

// All returns a snapshot of every registered zone.
func (r *Registry) All() []geometry.Zone {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]geometry.Zone, 0, len(r.zones))
	for _, z := range r.zones {
		out = append(out, *z)
	}
	return out
}

// UpdateFireStatus sets a zone's hasFire and severity atomically. Clearing
// hasFire also resets the zone's cumulative drop counter (spec §4.2), so a
// later fire at the same zone id starts its count fresh.
func (r *Registry) UpdateFireStatus(id int, hasFire bool, severity geometry.Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	z, ok := r.zones[id]
	if !ok {
		center := r.derivedCenter(id)
		nz := geometry.NewPointZone(id, center)
		z = &nz
		r.zones[id] = z
	}
	z.HasFire = hasFire
	z.Severity = severity
	if !hasFire {
		r.drops[id] = 0
	}
}

// IncrementDrops bumps the cumulative, cross-unit drop counter for a zone
// and returns the new count. The coordinator's handleDrop is the sole
// caller in the dispatch path: it is the authoritative record of how many
// units have dropped on a zone, independent of any single unit's own
// tally, and is what lets a multi-unit fire ever reach FIRE_OUT. The
// snapshot server also reads it for the operator-facing zone view.
func (r *Registry) IncrementDrops(id int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drops[id]++
	return r.drops[id]
}

// Drops returns the current cumulative drop counter for a zone.
func (r *Registry) Drops(id int) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.drops[id]
}
