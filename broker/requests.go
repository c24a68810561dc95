package broker

import (
	"net"
	"time"

	"github.com/gofrs/uuid"

	"github.com/nsbroker/nsbroker/internal/clock"
	"github.com/nsbroker/nsbroker/internal/peercred"
	"github.com/nsbroker/nsbroker/internal/sockutil"
)

// advanceRequests is spec.md §4.4 step 4.
func (b *Broker) advanceRequests(now time.Time) {
	b.reqs.ForEach(func(idx int, slot *ReqSlot) {
		if clock.ElapsedMS(now, slot.Created, b.cfg.RequestTimeoutMS) {
			killWorker(slot.Pid)
		}
	})

	for _, pid := range reapChildren() {
		freed := false
		b.reqs.ForEach(func(idx int, slot *ReqSlot) {
			if slot.Pid == pid {
				b.reqs.Free(idx)
				freed = true
			}
		})
		if !freed {
			b.log.Criticalf("broker: reaped pid %d absent from request array, scrubbing", pid)
			b.reqs.Clear()
			return
		}
		b.metrics.workersReaped.Inc()
	}
}

// acceptRequests is spec.md §4.4 step 5.
func (b *Broker) acceptRequests(now time.Time) {
	for i := 0; i < b.cfg.AcceptBatch; i++ {
		conn, ok, err := sockutil.AcceptNonBlocking(b.reqListener)
		if err != nil {
			b.log.Errorf("broker: request endpoint: %v", err)
			return
		}
		if !ok {
			return
		}
		b.admitRequest(conn, now)
	}
}

func (b *Broker) admitRequest(conn *net.UnixConn, now time.Time) {
	uid, err := peercred.UID(conn)
	if err != nil {
		conn.Close()
		return
	}

	alreadyActive := false
	b.reqs.ForEach(func(_ int, slot *ReqSlot) {
		if slot.UID == uid {
			alreadyActive = true
		}
	})
	if alreadyActive {
		b.rates.Notice("request: uid already has an active handshake, dropping")
		conn.Close()
		return
	}

	id, _ := uuid.NewV4()
	pid, err := b.spawnWorker(conn)
	conn.Close() // parent's copy; the worker inherited its own via ExtraFiles
	if err != nil {
		b.log.Errorf("broker: spawn worker: %v", err)
		return
	}

	if _, err := b.reqs.Alloc(ReqSlot{UID: uid, Created: now, Pid: pid, CorrID: id}); err != nil {
		killWorker(pid)
		return
	}
	b.metrics.workersSpawned.Inc()
}
