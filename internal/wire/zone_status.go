package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// ZoneStatusRequest asks the coordinator for a zone's live fire status and
// cumulative drop count, used by a unit deciding whether another unit
// already finished a multi-unit fire before it drops its own agent.
type ZoneStatusRequest struct {
	ZoneID int
}

// EncodeZoneStatusRequest renders "ZONE_STATUS_REQUEST:<zoneId>".
func EncodeZoneStatusRequest(r ZoneStatusRequest) string {
	return fmt.Sprintf("ZONE_STATUS_REQUEST:%d", r.ZoneID)
}

// DecodeZoneStatusRequest parses "ZONE_STATUS_REQUEST:<zoneId>".
func DecodeZoneStatusRequest(line string) (ZoneStatusRequest, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), "ZONE_STATUS_REQUEST:")
	if !ok {
		return ZoneStatusRequest{}, fmt.Errorf("wire: %q is not a zone-status request", line)
	}
	zoneID, err := strconv.Atoi(rest)
	if err != nil {
		return ZoneStatusRequest{}, fmt.Errorf("wire: zone-status request %q has non-integer zone id: %w", line, err)
	}
	return ZoneStatusRequest{ZoneID: zoneID}, nil
}

// ZoneStatusResponse answers a ZoneStatusRequest with the coordinator's
// authoritative view of a zone: whether it still has an active fire, how
// many drops have landed cumulatively across every unit assigned to it,
// and how many units the fire currently requires.
type ZoneStatusResponse struct {
	ZoneID   int
	HasFire  bool
	Drops    int
	Required int
}

// EncodeZoneStatusResponse renders "ZONE_STATUS:<zoneId>:<hasFire>:<drops>:<required>".
func EncodeZoneStatusResponse(r ZoneStatusResponse) string {
	fire := 0
	if r.HasFire {
		fire = 1
	}
	return fmt.Sprintf("ZONE_STATUS:%d:%d:%d:%d", r.ZoneID, fire, r.Drops, r.Required)
}

// DecodeZoneStatusResponse parses "ZONE_STATUS:<zoneId>:<hasFire>:<drops>:<required>".
func DecodeZoneStatusResponse(line string) (ZoneStatusResponse, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), "ZONE_STATUS:")
	if !ok {
		return ZoneStatusResponse{}, fmt.Errorf("wire: %q is not a zone-status response", line)
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 4 {
		return ZoneStatusResponse{}, fmt.Errorf("wire: zone-status response %q has %d fields, want 4", line, len(parts))
	}
	zoneID, err := strconv.Atoi(parts[0])
	if err != nil {
		return ZoneStatusResponse{}, fmt.Errorf("wire: zone-status response %q has non-integer zone id: %w", line, err)
	}
	fireFlag, err := strconv.Atoi(parts[1])
	if err != nil {
		return ZoneStatusResponse{}, fmt.Errorf("wire: zone-status response %q has non-integer fire flag: %w", line, err)
	}
	drops, err := strconv.Atoi(parts[2])
	if err != nil {
		return ZoneStatusResponse{}, fmt.Errorf("wire: zone-status response %q has non-integer drops: %w", line, err)
	}
	required, err := strconv.Atoi(parts[3])
	if err != nil {
		return ZoneStatusResponse{}, fmt.Errorf("wire: zone-status response %q has non-integer required: %w", line, err)
	}
	return ZoneStatusResponse{ZoneID: zoneID, HasFire: fireFlag != 0, Drops: drops, Required: required}, nil
}
