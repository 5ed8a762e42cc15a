package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// pollDeadline is the bounded timeout a receive socket blocks for before
// SetDeadline expires and the loop checks for cancellation, per the spec's
// "receive sockets must support a bounded timeout for cooperative polling
// (≤ 250 ms)" requirement.
const pollDeadline = 200 * time.Millisecond

const maxDatagramBytes = 512

// Endpoint is a localhost UDP send/receive pair bound to fixed ports.
// All peers in this system run on localhost; no authenticated transport is
// attempted.
type Endpoint struct {
	conn *net.UDPConn
}

// Bind opens a UDP socket on localhost:receivePort. Bind failure is fatal
// to the owning process (spec §6: exit code 1 on unrecoverable socket bind
// failure) — callers should treat a non-nil error that way.
func Bind(receivePort int) (*Endpoint, error) {
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: receivePort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind port %d: %w", receivePort, err)
	}
	return &Endpoint{conn: conn}, nil
}

// Close releases the underlying socket; any receive blocked in Recv
// returns an error immediately.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}

// LocalPort returns the port this endpoint is bound to, useful when Bind
// was called with port 0 to let the OS choose one (as in tests).
func (e *Endpoint) LocalPort() int {
	return e.conn.LocalAddr().(*net.UDPAddr).Port
}

// Send writes line as a single UDP datagram to localhost:port.
func (e *Endpoint) Send(port int, line string) error {
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
	_, err := e.conn.WriteToUDP([]byte(line), addr)
	return err
}

// Recv blocks for at most pollDeadline waiting for one datagram. It
// returns (line, true, nil) on success, ("", false, nil) on a bounded
// timeout (the caller should check ctx and loop), and a non-nil error only
// for a genuine socket failure (e.g. the socket was closed).
func (e *Endpoint) Recv(ctx context.Context) (string, bool, error) {
	line, _, ok, err := e.RecvFrom(ctx)
	return line, ok, err
}

// RecvFrom behaves like Recv but also returns the sender's address, needed
// to answer a ZONE_INFO_REQUEST at the requester's actual source address
// rather than a statically configured port.
func (e *Endpoint) RecvFrom(ctx context.Context) (string, *net.UDPAddr, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, false, err
	}
	buf := make([]byte, maxDatagramBytes)
	if err := e.conn.SetReadDeadline(time.Now().Add(pollDeadline)); err != nil {
		return "", nil, false, fmt.Errorf("transport: set read deadline: %w", err)
	}
	n, addr, err := e.conn.ReadFromUDP(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", nil, false, nil
		}
		return "", nil, false, err
	}
	return string(buf[:n]), addr, true, nil
}

// SendToAddr writes line directly to addr, bypassing port derivation; used
// to reply to a request at its ephemeral source address.
func (e *Endpoint) SendToAddr(addr *net.UDPAddr, line string) error {
	_, err := e.conn.WriteToUDP([]byte(line), addr)
	return err
}
