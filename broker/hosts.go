package broker

import (
	"net"
	"time"

	"github.com/nsbroker/nsbroker/internal/clock"
	"github.com/nsbroker/nsbroker/internal/wire"
	"github.com/nsbroker/nsbroker/roster"
)

// advanceHosts is spec.md §4.4 step 3, plus the optional watchdog eviction
// of SPEC_FULL.md §4.9 (active only when cfg.HostIdleTimeoutMS > 0).
func (b *Broker) advanceHosts(now time.Time) {
	var toRemove []string
	b.roster.ForEach(func(h *roster.Host) bool {
		if b.cfg.HostIdleTimeoutMS > 0 && clock.ElapsedMS(now, h.LastAck, b.cfg.HostIdleTimeoutMS) {
			toRemove = append(toRemove, h.Name)
			return true
		}

		byt := make([]byte, 1)
		h.ReqConn.SetReadDeadline(time.Now())
		n, err := h.ReqConn.Read(byt)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return true
			}
			toRemove = append(toRemove, h.Name)
			return true
		}
		if n == 1 && byt[0] == wire.Keepalive {
			h.LastAck = now
		}
		return true
	})

	for _, name := range toRemove {
		if h, ok := b.roster.Remove(name); ok {
			h.Close()
			b.metrics.hostsRemoved.Inc()
			b.rates.Notice("host " + name + " removed: connection closed or idle")
		}
	}
}
