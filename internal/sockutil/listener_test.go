package sockutil

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"
)

func TestListenUnixConformance(t *testing.T) {
	nettest.TestConn(t, func() (c1, c2 net.Conn, stop func(), err error) {
		dir := t.TempDir()
		path := filepath.Join(dir, "conform.sock")
		l, err := ListenUnix(path)
		if err != nil {
			return nil, nil, nil, err
		}
		accepted := make(chan net.Conn, 1)
		go func() {
			c, _ := l.Accept()
			accepted <- c
		}()
		client, err := net.Dial("unix", path)
		if err != nil {
			return nil, nil, nil, err
		}
		server := <-accepted
		return client, server, func() {
			client.Close()
			server.Close()
			l.Close()
		}, nil
	})
}

func TestAcceptNonBlockingNoPending(t *testing.T) {
	dir := t.TempDir()
	l, err := ListenUnix(filepath.Join(dir, "nb.sock"))
	require.NoError(t, err)
	defer l.Close()

	conn, ok, err := AcceptNonBlocking(l)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, conn)
}

func TestAcceptNonBlockingPending(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pend.sock")
	l, err := ListenUnix(path)
	require.NoError(t, err)
	defer l.Close()

	client, err := net.DialTimeout("unix", path, time.Second)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool {
		conn, ok, err := AcceptNonBlocking(l)
		if err != nil || !ok {
			return false
		}
		conn.Close()
		return true
	}, time.Second, time.Millisecond)
}

func TestListenUnixRemovesStaleSocket(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stale.sock")
	l1, err := ListenUnix(path)
	require.NoError(t, err)
	l1.Close()

	l2, err := ListenUnix(path)
	require.NoError(t, err)
	defer l2.Close()
}
