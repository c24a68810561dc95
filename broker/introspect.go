package broker

import (
	"net"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/fxamacker/cbor/v2"

	"github.com/nsbroker/nsbroker/internal/sockutil"
)

// StatusSnapshot is the additive, read-only introspection payload
// (SPEC_FULL.md §4.7). It is recomputed from live state at the end of every
// tick and queries are answered from that cached copy — nothing is
// persisted (spec.md §1 Non-goals).
type StatusSnapshot struct {
	Hosts                int           `cbor:"hosts"`
	PendingRegistrations int           `cbor:"pending_registrations"`
	PendingRequests      int           `cbor:"pending_requests"`
	TickCount            uint64        `cbor:"tick_count"`
	Uptime               time.Duration `cbor:"uptime"`
	Version              string        `cbor:"version"`
}

const statusQueryByte = 'S'

// statusServer accepts connections on the status socket, replying to a
// single query byte with one CBOR-encoded StatusSnapshot, then closing.
type statusServer struct {
	listener *net.UnixListener
	broker   *Broker
	done     chan struct{}
}

func newStatusServer(path string, b *Broker) (*statusServer, error) {
	l, err := sockutil.ListenUnix(path)
	if err != nil {
		return nil, err
	}
	s := &statusServer{listener: l, broker: b, done: make(chan struct{})}
	go s.serve()
	return s, nil
}

func (s *statusServer) serve() {
	for {
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *statusServer) handle(conn *net.UnixConn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(time.Second))

	query := make([]byte, 1)
	if _, err := conn.Read(query); err != nil || query[0] != statusQueryByte {
		return
	}

	snap := s.broker.snapshot()
	enc, err := cbor.Marshal(snap)
	if err != nil {
		return
	}
	conn.Write(enc)
}

// refreshSnapshot recomputes the cached StatusSnapshot from live state. It
// must only be called from the Tick goroutine, the sole writer of the state
// it reads; snapshot() is the only path the status server's own goroutines
// may use to observe that state.
func (b *Broker) refreshSnapshot() {
	snap := StatusSnapshot{
		Hosts:                b.roster.Len(),
		PendingRegistrations: b.regs.Len(),
		PendingRequests:      b.reqs.Len(),
		TickCount:            b.tickN,
		Uptime:               time.Since(b.started),
		Version:              versioninfo.Short(),
	}
	b.snapMu.Lock()
	b.snap = snap
	b.snapMu.Unlock()
}

// snapshot returns the most recently cached StatusSnapshot. Safe to call
// concurrently with Tick from the status server's own goroutines.
func (b *Broker) snapshot() StatusSnapshot {
	b.snapMu.RLock()
	defer b.snapMu.RUnlock()
	return b.snap
}

func (s *statusServer) Close() error {
	return s.listener.Close()
}
