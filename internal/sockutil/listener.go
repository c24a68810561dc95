// Package sockutil creates and configures the filesystem-named stream
// sockets the broker listens on (spec.md §4: "Listening endpoint factory").
package sockutil

import (
	"fmt"
	"net"
	"os"
	"time"
)

func deadlineNow() time.Time { return time.Now() }

// ListenUnix removes any stale socket file at path, binds a new AF_UNIX
// SOCK_STREAM listener with the runtime's default backlog, and returns it
// already set non-blocking (net.Listener.Accept always is, in Go's runtime-integrated
// poller — this factory exists to centralize bind/cleanup semantics the way
// the teacher's eslib_sock_create_passive does, not to hand-roll
// nonblocking(2) as the C source does).
func ListenUnix(path string) (*net.UnixListener, error) {
	if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("sockutil: remove stale socket %q: %w", path, err)
	}

	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, fmt.Errorf("sockutil: resolve %q: %w", path, err)
	}

	l, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("sockutil: listen %q: %w", path, err)
	}
	return l, nil
}

// AcceptNonBlocking returns (conn, true, nil) if a connection is pending, or
// (nil, false, nil) if none is pending right now — it never blocks the
// caller's tick. It returns a non-nil error only for conditions the broker
// should treat as Fatal for this listener.
func AcceptNonBlocking(l *net.UnixListener) (*net.UnixConn, bool, error) {
	// SetDeadline(time.Now()) makes the next Accept return immediately
	// with a timeout error if nothing is pending, turning the listener
	// into a non-blocking poll point without needing raw syscall flags.
	if err := l.SetDeadline(deadlineNow()); err != nil {
		return nil, false, err
	}
	conn, err := l.AcceptUnix()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, false, nil
		}
		return nil, false, err
	}
	return conn, true, nil
}
