package broker

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nsbroker/nsbroker/internal/fdpass"
	"github.com/nsbroker/nsbroker/internal/wire"
)

func dial(t *testing.T, path string) *net.UnixConn {
	t.Helper()
	addr, err := net.ResolveUnixAddr("unix", path)
	require.NoError(t, err)
	conn, err := net.DialUnix("unix", nil, addr)
	require.NoError(t, err)
	return conn
}

func tickUntil(t *testing.T, b *Broker, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		b.Tick()
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestRegistrationHappyPath(t *testing.T) {
	b := newTestBroker(t)
	conn := dial(t, b.cfg.RegPath)
	defer conn.Close()

	msg, err := wire.EncodeName("svc")
	require.NoError(t, err)
	_, err = conn.Write(msg)
	require.NoError(t, err)

	tickUntil(t, b, func() bool {
		_, ok := b.roster.Get("svc")
		return ok
	})

	relayFD, err := fdpass.RecvFD(conn)
	require.NoError(t, err)
	require.GreaterOrEqual(t, relayFD, 0)

	h, ok := b.roster.Get("svc")
	require.True(t, ok)
	require.True(t, h.Unconfirmed())

	_, err = conn.Write([]byte{wire.Keepalive})
	require.NoError(t, err)
	tickUntil(t, b, func() bool {
		h, _ := b.roster.Get("svc")
		return !h.Unconfirmed()
	})
}

func TestDuplicateRegistrationDropsSecond(t *testing.T) {
	b := newTestBroker(t)

	first := dial(t, b.cfg.RegPath)
	defer first.Close()
	msg, _ := wire.EncodeName("dup")
	_, err := first.Write(msg)
	require.NoError(t, err)
	tickUntil(t, b, func() bool {
		_, ok := b.roster.Get("dup")
		return ok
	})
	_, err = fdpass.RecvFD(first)
	require.NoError(t, err)

	second := dial(t, b.cfg.RegPath)
	defer second.Close()
	_, err = second.Write(msg)
	require.NoError(t, err)

	b.Tick()
	b.Tick()

	buf := make([]byte, 1)
	second.SetReadDeadline(time.Now().Add(time.Second))
	_, err = second.Read(buf)
	require.Error(t, err) // closed by the broker, not a relay delivery
}

func TestMalformedNameDropsSlot(t *testing.T) {
	b := newTestBroker(t)
	conn := dial(t, b.cfg.RegPath)
	defer conn.Close()

	_, err := conn.Write([]byte{0, 'x'}) // empty name, invalid
	require.NoError(t, err)

	tickUntil(t, b, func() bool {
		return b.regs.Len() == 0
	})
	require.Equal(t, 0, b.roster.Len())
}
