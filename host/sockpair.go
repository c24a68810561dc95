package host

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/nsbroker/nsbroker/internal/fdpass"
)

func fdToUnixConn(fd int) (*net.UnixConn, error) {
	f := os.NewFile(uintptr(fd), "relay")
	defer f.Close()
	c, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("host: fileconn: %w", err)
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("host: not a unix conn")
	}
	return uc, nil
}

// socketpair creates a connected pair of AF_UNIX SOCK_STREAM sockets, one
// half handed to the requesting worker via the relay, the other enqueued
// for the host application (spec.md §4.2's Accept).
func socketpair() (toWorker, toQueue *net.UnixConn, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("host: socketpair: %w", err)
	}
	toWorker, err = fdToUnixConn(fds[0])
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, err
	}
	toQueue, err = fdToUnixConn(fds[1])
	if err != nil {
		toWorker.Close()
		unix.Close(fds[1])
		return nil, nil, err
	}
	return toWorker, toQueue, nil
}

func sendFD(over *net.UnixConn, toSend *net.UnixConn) error {
	raw, err := toSend.SyscallConn()
	if err != nil {
		return err
	}
	var sendErr error
	err = raw.Control(func(fd uintptr) {
		sendErr = fdpass.SendConn(over, int(fd))
	})
	if err != nil {
		return err
	}
	return sendErr
}
