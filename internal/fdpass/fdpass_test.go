package fdpass

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	return fds[0], fds[1]
}

func TestSendRecvRoundTrip(t *testing.T) {
	a, b := socketpair(t)
	defer unix.Close(a)
	defer unix.Close(b)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	_, err = w.WriteString("hello")
	require.NoError(t, err)
	w.Close()

	require.NoError(t, Send(a, int(r.Fd())))

	var got int
	require.Eventually(t, func() bool {
		fd, err := Recv(b)
		if err == ErrRetry {
			return false
		}
		require.NoError(t, err)
		got = fd
		return true
	}, time.Second, time.Millisecond)

	gotFile := os.NewFile(uintptr(got), "recv")
	defer gotFile.Close()
	buf := make([]byte, 5)
	n, err := gotFile.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestRecvRetryOnEmpty(t *testing.T) {
	_, b := socketpair(t)
	defer unix.Close(b)

	_, err := Recv(b)
	require.Equal(t, ErrRetry, err)
}

func TestRecvClosedOnEOF(t *testing.T) {
	a, b := socketpair(t)
	unix.Close(a)
	defer unix.Close(b)

	_, err := Recv(b)
	require.Equal(t, ErrClosed, err)
}
