package host

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/nsbroker/nsbroker/internal/fdpass"
	"github.com/nsbroker/nsbroker/internal/wire"
)

// fakeBroker plays the broker's half of the registration protocol (spec.md
// §4.2) against a real AF_UNIX socket, so Register can be exercised without
// the broker package.
func fakeBroker(t *testing.T, path string) (accepted chan *net.UnixConn) {
	t.Helper()
	addr, err := net.ResolveUnixAddr("unix", path)
	require.NoError(t, err)
	l, err := net.ListenUnix("unix", addr)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	accepted = make(chan *net.UnixConn, 1)
	go func() {
		conn, err := l.AcceptUnix()
		if err != nil {
			return
		}
		accepted <- conn
	}()
	return accepted
}

func sendRelayFD(t *testing.T, conn *net.UnixConn) *net.UnixConn {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	toHost := os.NewFile(uintptr(fds[0]), "to-host")
	brokerHalf := os.NewFile(uintptr(fds[1]), "broker-half")

	require.NoError(t, fdpass.SendConn(conn, int(toHost.Fd())))
	toHost.Close()

	c, err := net.FileConn(brokerHalf)
	require.NoError(t, err)
	brokerHalf.Close()
	uc := c.(*net.UnixConn)
	return uc
}

func TestRegisterRoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "registration.sock")
	accepted := fakeBroker(t, sockPath)

	type result struct {
		h   *Host
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		h, err := Register(sockPath, "echo_service")
		resCh <- result{h, err}
	}()

	conn := <-accepted
	buf := make([]byte, wire.MaxNameLen)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	name, err := wire.DecodeName(buf[:n])
	require.NoError(t, err)
	require.Equal(t, "echo_service", name)

	relayBrokerHalf := sendRelayFD(t, conn)
	defer relayBrokerHalf.Close()

	ack := make([]byte, 1)
	_, err = conn.Read(ack)
	require.NoError(t, err)
	require.Equal(t, wire.Keepalive, ack[0])

	res := <-resCh
	require.NoError(t, res.err)
	require.Equal(t, "echo_service", res.h.Name)
	res.h.Destroy()
}

func TestAcceptServicesRequest(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "registration.sock")
	accepted := fakeBroker(t, sockPath)

	resCh := make(chan *Host, 1)
	go func() {
		h, err := Register(sockPath, "svc")
		require.NoError(t, err)
		resCh <- h
	}()

	conn := <-accepted
	buf := make([]byte, wire.MaxNameLen)
	_, err := conn.Read(buf)
	require.NoError(t, err)
	relayBrokerHalf := sendRelayFD(t, conn)
	defer relayBrokerHalf.Close()
	ack := make([]byte, 1)
	_, err = conn.Read(ack)
	require.NoError(t, err)

	h := <-resCh
	defer h.Destroy()

	_, err = conn.Write([]byte{wire.Request})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		require.NoError(t, h.Accept())
		_, err := h.Handshake()
		return err == nil
	}, time.Second, 5*time.Millisecond)
}
