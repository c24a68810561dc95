// Package broker implements the rendezvous daemon core: two listening
// endpoints, a host roster, two handshake slot arrays, and a fixed-rate
// tick loop that advances all of them in the order spec.md §4.4 mandates.
// Rendezvous state is only ever mutated from inside a tick on the Run
// loop's goroutine; the rate-limited log sink and the optional status
// server run goroutines of their own, which never touch that state.
package broker

import (
	"net"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/nsbroker/nsbroker/core/config"
	"github.com/nsbroker/nsbroker/internal/handshake"
	"github.com/nsbroker/nsbroker/internal/ratelog"
	"github.com/nsbroker/nsbroker/roster"
)

// RegSlot is a pending registration (spec.md §3's "Registration handshake").
type RegSlot struct {
	UID     uint32
	Conn    *net.UnixConn
	Created time.Time
	CorrID  uuid.UUID
}

// ReqSlot is a pending request (spec.md §3's "Request handshake").
type ReqSlot struct {
	UID     uint32
	Created time.Time
	Pid     int
	CorrID  uuid.UUID
}

// Broker owns every piece of mutable rendezvous state. It is not safe for
// concurrent use: the Run loop's single goroutine is the only caller of
// Tick, matching spec.md §5's "owned exclusively by the broker's main loop".
type Broker struct {
	cfg *config.Broker
	log logAdapter

	regListener *net.UnixListener
	reqListener *net.UnixListener

	roster *roster.Roster
	regs   *handshake.Slots[RegSlot]
	reqs   *handshake.Slots[ReqSlot]

	metrics *Metrics
	rates   *ratelog.Sink

	started  time.Time
	tickN    uint64
	draining bool

	statusSrv *statusServer

	// snapMu guards snap, the cached StatusSnapshot the status server's
	// accept/handle goroutines read instead of touching roster/regs/reqs
	// directly, which would otherwise race with Tick's single-owner mutation
	// of that state (spec.md §5).
	snapMu sync.RWMutex
	snap   StatusSnapshot
}

// logAdapter is the narrow logging surface Broker needs, satisfied by
// *logging.Logger from core/log (kept narrow so tests can supply a stub).
type logAdapter interface {
	Debugf(format string, args ...interface{})
	Noticef(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Criticalf(format string, args ...interface{})
}
