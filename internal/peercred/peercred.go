// Package peercred reads kernel-supplied peer credentials off a freshly
// accepted AF_UNIX connection (spec.md §1's non-goal note: "does not
// authenticate peers beyond kernel-supplied peer credentials at connect
// time").
package peercred

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// UID returns the effective uid of the process on the other end of conn,
// as reported by SO_PEERCRED at connect time.
func UID(conn *net.UnixConn) (uint32, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("peercred: syscallconn: %w", err)
	}
	var ucred *unix.Ucred
	var inner error
	err = raw.Control(func(fd uintptr) {
		ucred, inner = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return 0, fmt.Errorf("peercred: control: %w", err)
	}
	if inner != nil {
		return 0, fmt.Errorf("peercred: getsockopt: %w", inner)
	}
	return ucred.Uid, nil
}
