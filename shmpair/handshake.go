package shmpair

import (
	"fmt"
	"net"

	"github.com/nsbroker/nsbroker/internal/fdpass"
	"github.com/nsbroker/nsbroker/internal/wire"
)

// Handshake exchanges memfds over conn and returns a fully paired Shmpair
// (SPEC_FULL.md §4.6's wire protocol: "one FD message in each direction
// carrying each party's outbound memfd, followed by one 'K' from the
// initiator to signal readiness"). Both ends must agree on name, slotSize,
// slotCount and call Handshake with opposite initiator values.
func Handshake(conn *net.UnixConn, initiator bool, name string, slotSize, slotCount int, readOnly bool) (*Shmpair, error) {
	self, err := Create(name, slotSize, slotCount, readOnly)
	if err != nil {
		return nil, err
	}

	if initiator {
		if err := fdpass.SendConn(conn, self.OwnFD()); err != nil {
			self.Destroy()
			return nil, fmt.Errorf("shmpair: send own fd: %w", err)
		}
		peerFD, err := fdpass.RecvFD(conn)
		if err != nil {
			self.Destroy()
			return nil, fmt.Errorf("shmpair: recv peer fd: %w", err)
		}
		if err := self.Pair(peerFD); err != nil {
			self.Destroy()
			return nil, err
		}
		if _, err := conn.Write([]byte{wire.Keepalive}); err != nil {
			self.Destroy()
			return nil, fmt.Errorf("shmpair: send readiness: %w", err)
		}
		return self, nil
	}

	peerFD, err := fdpass.RecvFD(conn)
	if err != nil {
		self.Destroy()
		return nil, fmt.Errorf("shmpair: recv peer fd: %w", err)
	}
	if err := fdpass.SendConn(conn, self.OwnFD()); err != nil {
		self.Destroy()
		return nil, fmt.Errorf("shmpair: send own fd: %w", err)
	}
	if err := self.Pair(peerFD); err != nil {
		self.Destroy()
		return nil, err
	}
	ack := make([]byte, 1)
	if _, err := conn.Read(ack); err != nil || ack[0] != wire.Keepalive {
		self.Destroy()
		return nil, fmt.Errorf("shmpair: readiness ack: %w", err)
	}
	return self, nil
}
