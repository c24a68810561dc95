package broker

import (
	"net"
	"time"

	"github.com/gofrs/uuid"

	"github.com/nsbroker/nsbroker/internal/clock"
	"github.com/nsbroker/nsbroker/internal/peercred"
	"github.com/nsbroker/nsbroker/internal/sockutil"
	"github.com/nsbroker/nsbroker/internal/wire"
	"github.com/nsbroker/nsbroker/roster"
)

// acceptRegistrations is spec.md §4.4 step 1.
func (b *Broker) acceptRegistrations(now time.Time) {
	for i := 0; i < b.cfg.AcceptBatch; i++ {
		conn, ok, err := sockutil.AcceptNonBlocking(b.regListener)
		if err != nil {
			b.log.Errorf("broker: registration endpoint: %v", err)
			return
		}
		if !ok {
			return
		}
		b.admitRegistration(conn, now)
	}
}

func (b *Broker) admitRegistration(conn *net.UnixConn, now time.Time) {
	uid, err := peercred.UID(conn)
	if err != nil {
		b.log.Warningf("broker: registration peercred: %v", err)
		conn.Close()
		return
	}

	pendingForUID := 0
	b.regs.ForEach(func(_ int, slot *RegSlot) {
		if slot.UID == uid {
			pendingForUID++
		}
	})
	if pendingForUID >= b.cfg.MaxPendingRegistrationsPerUID {
		conn.Close()
		return
	}
	if uid != 0 && b.roster.CountForUID(uid) >= b.cfg.MaxHostsPerUser {
		conn.Close()
		return
	}

	id, _ := uuid.NewV4()
	if _, err := b.regs.Alloc(RegSlot{UID: uid, Conn: conn, Created: now, CorrID: id}); err != nil {
		conn.Close()
		return
	}
}

// advanceRegistrations is spec.md §4.4 step 2.
func (b *Broker) advanceRegistrations(now time.Time) {
	var toFree []int
	b.regs.ForEach(func(idx int, slot *RegSlot) {
		if clock.ElapsedMS(now, slot.Created, b.cfg.RegistrationTimeoutMS) {
			b.metrics.regTimeouts.Inc()
			slot.Conn.Close()
			toFree = append(toFree, idx)
			return
		}
		if b.roster.Len() >= b.cfg.MaxHosts {
			return // leave the slot intact for next tick
		}

		name, done := b.tryReadName(slot)
		if !done {
			return
		}
		toFree = append(toFree, idx)

		if name == "" {
			return // already dropped and logged by tryReadName
		}
		b.completeRegistration(slot, name, now)
	})
	for _, idx := range toFree {
		b.regs.Free(idx)
	}
}

// tryReadName attempts a single non-blocking message read. done is true
// once the slot's fate for this tick is decided (either a value was read,
// or the connection errored); an empty name with done==true means the slot
// was already dropped.
func (b *Broker) tryReadName(slot *RegSlot) (name string, done bool) {
	buf := make([]byte, wire.MaxNameLen)
	slot.Conn.SetReadDeadline(time.Now())
	n, err := slot.Conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return "", false
		}
		slot.Conn.Close()
		return "", true
	}

	decoded, err := wire.DecodeName(buf[:n])
	if err != nil {
		b.metrics.malformedNames.Inc()
		b.rates.Notice("registration: malformed name, dropping slot")
		slot.Conn.Close()
		return "", true
	}
	return decoded, true
}

func (b *Broker) completeRegistration(slot *RegSlot, rawName string, now time.Time) {
	name := roster.NormalizeName(rawName)
	if _, exists := b.roster.Get(name); exists {
		b.rates.Notice("registration: duplicate name " + name + ", dropping second registration")
		slot.Conn.Close()
		return
	}

	relayToHost, relayToBroker, err := socketpair()
	if err != nil {
		b.log.Errorf("broker: registration socketpair: %v", err)
		slot.Conn.Close()
		return
	}

	if err := sendConnFD(slot.Conn, relayToHost); err != nil {
		b.log.Warningf("broker: registration relay delivery failed: %v", err)
		relayToHost.Close()
		relayToBroker.Close()
		slot.Conn.Close()
		return
	}
	relayToHost.Close()

	h := &roster.Host{
		ID:        slot.CorrID,
		Name:      name,
		UID:       slot.UID,
		ReqConn:   slot.Conn,
		RelayConn: relayToBroker,
		Created:   now,
		LastAck:   now,
	}
	if err := b.roster.Add(h); err != nil {
		h.Close()
		return
	}
	b.metrics.hostsRegistered.Inc()
}
