package broker

import (
	"fmt"
	"time"

	"github.com/nsbroker/nsbroker/core/config"
	"github.com/nsbroker/nsbroker/core/worker"
	"github.com/nsbroker/nsbroker/internal/handshake"
	"github.com/nsbroker/nsbroker/internal/ratelog"
	"github.com/nsbroker/nsbroker/internal/sockutil"
	"github.com/nsbroker/nsbroker/internal/wire"
	"github.com/nsbroker/nsbroker/roster"
)

// rateLogCapacity bounds how many pending diagnostic events the rate-limited
// log will buffer before dropping the oldest (spec.md §4.4 step 2).
const rateLogCapacity = 256

// New binds both listening endpoints and returns a ready-to-run Broker.
func New(cfg *config.Broker, log logAdapter) (*Broker, error) {
	regL, err := sockutil.ListenUnix(cfg.RegPath)
	if err != nil {
		return nil, fmt.Errorf("broker: registration endpoint: %w", err)
	}
	reqL, err := sockutil.ListenUnix(cfg.ReqPath)
	if err != nil {
		regL.Close()
		return nil, fmt.Errorf("broker: request endpoint: %w", err)
	}

	b := &Broker{
		cfg:         cfg,
		log:         log,
		regListener: regL,
		reqListener: reqL,
		roster:      roster.New(cfg.MaxHosts, cfg.MaxHostsPerUser),
		regs:        handshake.NewSlots[RegSlot](cfg.MaxRegistrationSlots),
		reqs:        handshake.NewSlots[ReqSlot](cfg.MaxRequestSlots),
		metrics:     newMetrics(),
		rates:       ratelog.NewSink(log, rateLogCapacity),
		started:     time.Now(),
	}
	b.refreshSnapshot()

	if cfg.StatusPath != "" {
		srv, err := newStatusServer(cfg.StatusPath, b)
		if err != nil {
			b.log.Warningf("broker: status endpoint disabled: %v", err)
		} else {
			b.statusSrv = srv
		}
	}

	return b, nil
}

// Tick performs one iteration of spec.md §4.4's fixed five-step order.
// While draining, steps 1 (new registrations) and 5 (new requests) are
// skipped, matching SPEC_FULL.md §4.8.
func (b *Broker) Tick() {
	start := time.Now()
	b.tickN++
	now := start

	if !b.draining {
		b.acceptRegistrations(now)
	}
	b.advanceRegistrations(now)
	b.advanceHosts(now)
	b.advanceRequests(now)
	if !b.draining {
		b.acceptRequests(now)
	}

	b.metrics.observeTick(b)
	b.metrics.tickDuration.Observe(time.Since(start).Seconds())
	b.refreshSnapshot()
}

// Run drives Tick at cfg.TickRateHz until w's halt channel closes.
func (b *Broker) Run(w *worker.Worker) {
	interval := time.Second / time.Duration(b.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.HaltCh():
			return
		case <-ticker.C:
			b.Tick()
		}
	}
}

// BeginDrain stops accepting new work and best-effort notifies every live
// host that the broker is shutting down (SPEC_FULL.md §4.8).
func (b *Broker) BeginDrain() {
	b.draining = true
	b.roster.ForEach(func(h *roster.Host) bool {
		if h.ReqConn != nil {
			h.ReqConn.SetWriteDeadline(time.Now().Add(10 * time.Millisecond))
			h.ReqConn.Write([]byte{wire.Drain})
		}
		return true
	})
}

// Shutdown waits up to grace for in-flight requests to finish, then forcibly
// terminates whatever workers remain and releases every resource.
func (b *Broker) Shutdown(grace time.Duration) {
	deadline := time.Now().Add(grace)
	for b.reqs.Len() > 0 && time.Now().Before(deadline) {
		b.advanceRequests(time.Now())
		time.Sleep(10 * time.Millisecond)
	}
	b.reqs.ForEach(func(idx int, slot *ReqSlot) {
		killWorker(slot.Pid)
	})
	reapBlocking(b.reqs)
	b.reqs.Clear()

	b.roster.ForEach(func(h *roster.Host) bool {
		h.Close()
		return true
	})
	b.regs.ForEach(func(idx int, slot *RegSlot) {
		if slot.Conn != nil {
			slot.Conn.Close()
		}
	})

	b.regListener.Close()
	b.reqListener.Close()
	if b.statusSrv != nil {
		b.statusSrv.Close()
	}
	b.rates.Close()
}
