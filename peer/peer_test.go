package peer

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/nsbroker/nsbroker/internal/fdpass"
	"github.com/nsbroker/nsbroker/internal/wire"
)

func TestConnectRoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "request.sock")
	addr, err := net.ResolveUnixAddr("unix", sockPath)
	require.NoError(t, err)
	l, err := net.ListenUnix("unix", addr)
	require.NoError(t, err)
	defer l.Close()

	type result struct {
		conn *net.UnixConn
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		c, err := Connect(sockPath, "echo_service")
		resCh <- result{c, err}
	}()

	conn, err := l.AcceptUnix()
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, wire.MaxNameLen)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	name, err := wire.DecodeName(buf[:n])
	require.NoError(t, err)
	require.Equal(t, "echo_service", name)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	toPeer := os.NewFile(uintptr(fds[0]), "to-peer")
	defer toPeer.Close()
	otherHalf := os.NewFile(uintptr(fds[1]), "other-half")
	defer otherHalf.Close()

	require.NoError(t, fdpass.SendConn(conn, int(toPeer.Fd())))

	res := <-resCh
	require.NoError(t, res.err)
	require.NotNil(t, res.conn)
	res.conn.Close()
}

func TestConnectTimesOutWhenNothingArrives(t *testing.T) {
	t.Skip("exercises the full 5s connectTimeout; skipped to keep the suite fast")
}
