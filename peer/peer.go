// Package peer is the caller-side client library (spec.md §4.3): resolve a
// host name through the broker's request endpoint and receive a freshly
// brokered connection to it.
package peer

import (
	"errors"
	"net"
	"time"

	"github.com/nsbroker/nsbroker/internal/fdpass"
	"github.com/nsbroker/nsbroker/internal/wire"
)

var (
	ErrTimeout  = errors.New("peer: timed out waiting for relayed connection")
	ErrTransport = errors.New("peer: transport failure")
)

const connectTimeout = 5 * time.Second
const pollBackoff = 1 * time.Millisecond

// Connect resolves name via the broker listening at reqPath and returns the
// freshly connected socket relayed from the target host (spec.md §4.3).
func Connect(reqPath, name string) (*net.UnixConn, error) {
	msg, err := wire.EncodeName(name)
	if err != nil {
		return nil, err
	}

	addr, err := net.ResolveUnixAddr("unix", reqPath)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.Write(msg); err != nil {
		return nil, ErrTransport
	}

	deadline := time.Now().Add(connectTimeout)
	for {
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		fd, err := fdpass.RecvFD(conn)
		if err == fdpass.ErrRetry {
			time.Sleep(pollBackoff)
			continue
		}
		if err != nil {
			return nil, ErrTransport
		}
		return fdToUnixConn(fd)
	}
}
