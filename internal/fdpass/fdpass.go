// Package fdpass is the only permitted cross-process descriptor transfer
// mechanism in nsbroker (spec.md §4.1): it sends or receives exactly one
// file descriptor over a connected AF_UNIX stream socket using SCM_RIGHTS
// ancillary data carrying one opaque payload byte.
package fdpass

import (
	"errors"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

func netFileFromFD(fd int) *os.File {
	return os.NewFile(uintptr(fd), "fdpass")
}

var (
	// ErrRetry means the transport wasn't ready (EAGAIN/EINTR); the
	// caller should poll again.
	ErrRetry = errors.New("fdpass: transport not ready")
	// ErrClosed means the transport is broken (EOF or hard error).
	ErrClosed = errors.New("fdpass: transport closed")
	// ErrMalformed means the ancillary data didn't carry exactly one FD.
	ErrMalformed = errors.New("fdpass: malformed ancillary data")
)

// payloadByte is the single opaque byte accompanying every FD transfer.
const payloadByte = 0

// Send transmits fd (and its one payload byte) over conn. The caller keeps
// ownership of fd — fdpass never closes it; callers close their own copy
// immediately after a successful Send, per spec.md §3's move semantics.
func Send(connFD int, fd int) error {
	rights := unix.UnixRights(fd)
	err := unix.Sendmsg(connFD, []byte{payloadByte}, rights, nil, unix.MSG_DONTWAIT)
	return classifySendErr(err)
}

func classifySendErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return ErrRetry
	default:
		return ErrClosed
	}
}

// Recv attempts to receive one FD (and its payload byte) from conn. It
// returns ErrRetry on EAGAIN/EINTR (the caller should poll again), ErrClosed
// on EOF or a hard transport error, and ErrMalformed if the message arrived
// but didn't carry exactly one descriptor.
func Recv(connFD int) (int, error) {
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := unix.Recvmsg(connFD, buf, oob, unix.MSG_DONTWAIT)
	if err != nil {
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
			return -1, ErrRetry
		default:
			return -1, ErrClosed
		}
	}
	if n == 0 {
		return -1, ErrClosed
	}
	if oobn == 0 {
		return -1, ErrMalformed
	}

	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, ErrMalformed
	}
	for _, c := range cmsgs {
		fds, err := unix.ParseUnixRights(&c)
		if err != nil {
			continue
		}
		if len(fds) != 1 {
			for _, extra := range fds {
				unix.Close(extra)
			}
			return -1, ErrMalformed
		}
		return fds[0], nil
	}
	return -1, ErrMalformed
}

// controlFD calls fn with the underlying file descriptor of a *net.UnixConn,
// without dup'ing it. The fd is only valid for the duration of fn.
func controlFD(c *net.UnixConn, fn func(fd int) error) error {
	raw, err := c.SyscallConn()
	if err != nil {
		return err
	}
	var inner error
	err = raw.Control(func(fd uintptr) {
		inner = fn(int(fd))
	})
	if err != nil {
		return err
	}
	return inner
}

// SendConn sends passFD (an open file descriptor owned by the caller) over
// over, identified as a *net.UnixConn. On success the caller must close its
// own copy of passFD — see Send's ownership note.
func SendConn(over *net.UnixConn, passFD int) error {
	return controlFD(over, func(fd int) error {
		rights := unix.UnixRights(passFD)
		err := unix.Sendmsg(fd, []byte{payloadByte}, rights, nil, unix.MSG_DONTWAIT)
		return classifySendErr(err)
	})
}

// RecvFD receives one raw FD over a *net.UnixConn, for callers (such as
// shmpair) that want the bare descriptor rather than a wrapped *net.UnixConn.
func RecvFD(over *net.UnixConn) (int, error) {
	var fd int
	err := controlFD(over, func(sockFD int) error {
		var innerErr error
		fd, innerErr = Recv(sockFD)
		return innerErr
	})
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// RecvConn receives one FD over a *net.UnixConn and wraps it as a *net.UnixConn.
func RecvConn(over *net.UnixConn) (*net.UnixConn, error) {
	var fd int
	err := controlFD(over, func(sockFD int) error {
		var innerErr error
		fd, innerErr = Recv(sockFD)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	f := netFileFromFD(fd)
	defer f.Close()
	c, err := net.FileConn(f)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		c.Close()
		return nil, ErrMalformed
	}
	return uc, nil
}
