// Package roster owns the broker's registered-host collection (spec.md §3:
// "Hosts form an unordered collection keyed by name; names are unique").
// The original C source models this as an intrusive singly-linked list
// (lib/ophost.c's struct _ophost.next); per spec.md §9 this is replaced
// with a name-keyed map, since lookup-by-name is the only access pattern
// the broker needs.
package roster

import (
	"errors"
	"net"
	"time"

	"github.com/gofrs/uuid"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrDuplicateName is returned by Add when the name is already registered.
	ErrDuplicateName = errors.New("roster: duplicate host name")
	// ErrFull is returned by Add when the roster is at its host cap.
	ErrFull = errors.New("roster: at host capacity")
	// ErrQuota is returned by Add when the owning uid already holds its
	// per-user host quota (root is exempt, per spec.md §4.4 step 1).
	ErrQuota = errors.New("roster: per-user host quota exceeded")
)

// Host is a registered host record (spec.md §3). Its Name is fixed once
// created; LastAck is updated by the broker on every keepalive.
type Host struct {
	// ID is a log-only correlation identifier (SPEC_FULL.md §2.2); it
	// never appears on the wire.
	ID uuid.UUID

	Name string
	UID  uint32

	// ReqConn is the broker's send side of the host's request channel
	// (the broker writes 'K'? no -- see host package; this is the host's
	// accepted registration socket, used by the broker to write 'R' and
	// read 'K').
	ReqConn *net.UnixConn
	// RelayConn is the broker's half of the socketpair whose other half
	// was handed to the host; the host pushes fresh peer sockets through
	// its half, and waiting workers receive them from this descriptor.
	RelayConn *net.UnixConn

	Created  time.Time
	LastAck  time.Time
}

// Unconfirmed reports whether this host has not yet sent a single
// keepalive (spec.md §3: "last-keepalive == creation timestamp").
func (h *Host) Unconfirmed() bool {
	return h.LastAck.Equal(h.Created)
}

// Close releases both of the host's sockets. Safe to call more than once.
func (h *Host) Close() {
	if h.ReqConn != nil {
		h.ReqConn.Close()
	}
	if h.RelayConn != nil {
		h.RelayConn.Close()
	}
}

// Roster is the broker's single, exclusively-owned collection of live hosts.
// It is not safe for concurrent use — the broker's main-loop goroutine is
// its only owner (spec.md §5).
type Roster struct {
	maxHosts      int
	maxPerUser    int
	hosts         map[string]*Host
	perUserCounts map[uint32]int
}

// New creates an empty Roster bounded by maxHosts total and maxPerUser
// hosts per non-root uid (spec.md §6/§4.4 step 1 defaults: 150 and 5).
func New(maxHosts, maxPerUser int) *Roster {
	return &Roster{
		maxHosts:      maxHosts,
		maxPerUser:    maxPerUser,
		hosts:         make(map[string]*Host),
		perUserCounts: make(map[uint32]int),
	}
}

// NormalizeName applies NFC normalization so visually identical host names
// built from different Unicode decompositions can't defeat the uniqueness
// invariant (SPEC_FULL.md §2.2, strengthening spec.md §8 invariant 3).
func NormalizeName(name string) string {
	return norm.NFC.String(name)
}

// Add inserts host, keyed by its (already-normalized) Name. It enforces
// spec.md §4.4 step 2's roster cap and §4.4 step 1's per-user quota (uid 0
// is exempt, matching the C source's "root is unlimited").
func (r *Roster) Add(h *Host) error {
	if _, exists := r.hosts[h.Name]; exists {
		return ErrDuplicateName
	}
	if len(r.hosts) >= r.maxHosts {
		return ErrFull
	}
	if h.UID != 0 && r.perUserCounts[h.UID] >= r.maxPerUser {
		return ErrQuota
	}
	r.hosts[h.Name] = h
	r.perUserCounts[h.UID]++
	return nil
}

// Get looks up a host by name.
func (r *Roster) Get(name string) (*Host, bool) {
	h, ok := r.hosts[name]
	return h, ok
}

// Remove deletes and returns the host by name, for the caller to Close.
func (r *Roster) Remove(name string) (*Host, bool) {
	h, ok := r.hosts[name]
	if !ok {
		return nil, false
	}
	delete(r.hosts, name)
	r.perUserCounts[h.UID]--
	if r.perUserCounts[h.UID] <= 0 {
		delete(r.perUserCounts, h.UID)
	}
	return h, true
}

// Len returns the number of registered hosts.
func (r *Roster) Len() int { return len(r.hosts) }

// CountForUID returns the number of hosts currently owned by uid.
func (r *Roster) CountForUID(uid uint32) int { return r.perUserCounts[uid] }

// ForEach calls fn for every host. fn returning false stops iteration.
// fn must not call Add or Remove on this Roster from within the callback;
// the broker collects names to remove and does so after ForEach returns.
func (r *Roster) ForEach(fn func(*Host) bool) {
	for _, h := range r.hosts {
		if !fn(h) {
			return
		}
	}
}
