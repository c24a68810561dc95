// Package host is the host client library (spec.md §4.2): register a name
// with the broker, periodically prove liveness, and accept relayed peer
// connections into the host's own caller-handshake queue.
package host

import (
	"errors"
	"net"
	"time"

	"github.com/nsbroker/nsbroker/internal/fdpass"
	"github.com/nsbroker/nsbroker/internal/wire"
)

var (
	ErrRegisterTimeout = errors.New("host: registration timed out waiting for relay")
	ErrBrokerLost      = errors.New("host: broker connection lost")
	ErrQueueEmpty      = errors.New("host: caller-handshake queue empty")
)

const (
	registerTimeout  = 5 * time.Second
	acceptReadBatch  = 10
	defaultQueueCap  = 20
	keepaliveBudgeMS = 2000
)

// callerEntry is one already-connected socket awaiting the host
// application's claim (spec.md §3's "Caller-handshake queue").
type callerEntry struct {
	conn    *net.UnixConn
	created time.Time
}

// Host is a registered name's live connection to the broker.
type Host struct {
	Name      string
	brokerRaw *net.UnixConn // registration endpoint's accepted socket
	relay     *net.UnixConn // this host's half of the relay socketpair

	queueCap     int
	queue        []callerEntry
	lastKeepalive time.Time
}

// Register connects to regPath, sends name, waits for the relay FD, and
// emits the readiness keepalive (spec.md §4.2's Register).
func Register(regPath, name string) (*Host, error) {
	msg, err := wire.EncodeName(name)
	if err != nil {
		return nil, err
	}

	addr, err := net.ResolveUnixAddr("unix", regPath)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Write(msg); err != nil {
		conn.Close()
		return nil, err
	}

	relay, err := waitForRelay(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if _, err := conn.Write([]byte{wire.Keepalive}); err != nil {
		conn.Close()
		relay.Close()
		return nil, err
	}

	return &Host{
		Name:          name,
		brokerRaw:     conn,
		relay:         relay,
		queueCap:      defaultQueueCap,
		lastKeepalive: time.Now(),
	}, nil
}

func waitForRelay(conn *net.UnixConn) (*net.UnixConn, error) {
	deadline := time.Now().Add(registerTimeout)
	for {
		if time.Now().After(deadline) {
			return nil, ErrRegisterTimeout
		}
		fd, err := fdpass.RecvFD(conn)
		if err == fdpass.ErrRetry {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if err != nil {
			return nil, ErrRegisterTimeout
		}
		c, err := fdToUnixConn(fd)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Accept performs one non-blocking pass: refresh the keepalive if its
// interval elapsed, then drain up to acceptReadBatch pending 'R' bytes,
// materializing a fresh socketpair and relaying one half per request
// (spec.md §4.2's Accept).
func (h *Host) Accept() error {
	if time.Since(h.lastKeepalive) >= keepaliveBudgeMS*time.Millisecond {
		if _, err := h.brokerRaw.Write([]byte{wire.Keepalive}); err != nil {
			return ErrBrokerLost
		}
		h.lastKeepalive = time.Now()
	}

	byt := make([]byte, 1)
	for i := 0; i < acceptReadBatch; i++ {
		h.brokerRaw.SetReadDeadline(time.Now())
		n, err := h.brokerRaw.Read(byt)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil
			}
			return ErrBrokerLost
		}
		if n != 1 {
			continue
		}
		switch byt[0] {
		case wire.Request:
			h.serviceRequest()
		case wire.Drain:
			// best-effort shutdown notice (SPEC_FULL.md §4.8); nothing to
			// do but let the caller's own loop decide whether to stop.
		default:
			// unrecognized byte: discarded; it is not reported to the caller.
		}
	}
	return nil
}

func (h *Host) serviceRequest() {
	if len(h.queue) >= h.queueCap {
		return // queue capped; drop until it drains
	}

	toWorker, toQueue, err := socketpair()
	if err != nil {
		return
	}
	if err := sendFD(h.relay, toWorker); err != nil {
		toWorker.Close()
		toQueue.Close()
		return
	}
	toWorker.Close()
	h.queue = append(h.queue, callerEntry{conn: toQueue, created: time.Now()})
}

// Handshake removes and returns the oldest queued caller socket, or
// ErrQueueEmpty.
func (h *Host) Handshake() (*net.UnixConn, error) {
	if len(h.queue) == 0 {
		return nil, ErrQueueEmpty
	}
	entry := h.queue[0]
	h.queue = h.queue[1:]
	return entry.conn, nil
}

// Destroy closes the broker connection, the relay, and every queued socket.
func (h *Host) Destroy() {
	if h.brokerRaw != nil {
		h.brokerRaw.Close()
	}
	if h.relay != nil {
		h.relay.Close()
	}
	for _, e := range h.queue {
		e.conn.Close()
	}
	h.queue = nil
}
