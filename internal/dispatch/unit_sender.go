package dispatch

import (
	"github.com/fireline/dispatch/internal/transport"
)

// UnitSender delivers an assignment datagram to a specific unit. Production
// code uses UDPUnitSender; tests substitute an in-memory double.
type UnitSender interface {
	SendTo(droneID, line string) error
}

// UDPUnitSender sends datagrams to a unit's receive port, derived from its
// droneID ("droneN" -> port 7001+100*N, spec §4.5).
type UDPUnitSender struct {
	ep *transport.Endpoint
}

// NewUDPUnitSender wraps ep, an endpoint bound to the coordinator's send
// port, as a UnitSender.
func NewUDPUnitSender(ep *transport.Endpoint) *UDPUnitSender {
	return &UDPUnitSender{ep: ep}
}

// SendTo writes line to droneID's receive port.
func (s *UDPUnitSender) SendTo(droneID, line string) error {
	n, err := transport.ParseDroneID(droneID)
	if err != nil {
		return err
	}
	return s.ep.Send(transport.UnitReceivePort(n), line)
}
