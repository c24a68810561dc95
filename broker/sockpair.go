package broker

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/nsbroker/nsbroker/internal/fdpass"
)

// socketpair creates a connected pair of AF_UNIX SOCK_STREAM sockets and
// wraps both ends as *net.UnixConn, used for registration relays (spec.md
// §4.4 step 2).
func socketpair() (a, b *net.UnixConn, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("broker: socketpair: %w", err)
	}
	a, err = wrapFD(fds[0])
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, err
	}
	b, err = wrapFD(fds[1])
	if err != nil {
		a.Close()
		unix.Close(fds[1])
		return nil, nil, err
	}
	return a, b, nil
}

func wrapFD(fd int) (*net.UnixConn, error) {
	f := os.NewFile(uintptr(fd), "socketpair")
	defer f.Close()
	c, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("broker: fileconn: %w", err)
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("broker: not a unix conn")
	}
	return uc, nil
}

// sendConnFD passes over's underlying fd to conn via fdpass, for handing a
// fresh relay or peer socket to a waiting counterparty.
func sendConnFD(conn *net.UnixConn, over *net.UnixConn) error {
	raw, err := over.SyscallConn()
	if err != nil {
		return err
	}
	var sendErr error
	err = raw.Control(func(fd uintptr) {
		sendErr = fdpass.SendConn(conn, int(fd))
	})
	if err != nil {
		return err
	}
	return sendErr
}
