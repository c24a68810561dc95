package shmpair

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func mustPair(t *testing.T, name string, slotSize, slotCount int) (*Shmpair, *Shmpair) {
	t.Helper()
	a, err := Create(name, slotSize, slotCount, false)
	require.NoError(t, err)
	t.Cleanup(func() { a.Destroy() })

	b, err := Create(name, slotSize, slotCount, false)
	require.NoError(t, err)
	t.Cleanup(func() { b.Destroy() })

	// duplicate each owned fd before pairing, since Pair takes ownership of
	// the fd it's given and Destroy will close it, while OwnFD must remain
	// valid for the owner's own future sends.
	aDup, err := unix.Dup(a.OwnFD())
	require.NoError(t, err)
	bDup, err := unix.Dup(b.OwnFD())
	require.NoError(t, err)

	require.NoError(t, a.Pair(bDup))
	require.NoError(t, b.Pair(aDup))
	return a, b
}

func TestSendRecvRoundTrip(t *testing.T) {
	a, b := mustPair(t, "echo", 64, 4)

	msg := []byte("hello, peer")
	n, err := a.Send(msg, 0)
	require.NoError(t, err)
	require.Equal(t, len(msg), n)

	got, size, err := b.Recv(0)
	require.NoError(t, err)
	require.Equal(t, 64, size)
	require.Equal(t, msg, got[:len(msg)])
}

func TestRecvEmptyReturnsNoData(t *testing.T) {
	_, b := mustPair(t, "empty", 64, 4)
	got, size, err := b.Recv(0)
	require.NoError(t, err)
	require.Nil(t, got)
	require.Zero(t, size)
}

func TestRingFullRejectsSend(t *testing.T) {
	// slot_count=4 leaves 3 usable slots before wraparound collides with
	// the unread consumer cursor (the ring always keeps one slot empty
	// to distinguish full from empty).
	a, _ := mustPair(t, "s6", 1024, 4)

	sent := 0
	for i := 0; i < 10; i++ {
		n, err := a.Send([]byte("x"), 0)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		sent++
	}
	require.Equal(t, 3, sent)

	n, err := a.Send([]byte("x"), 0)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSendOnReadOnlyRejected(t *testing.T) {
	a, err := Create("ro", 64, 4, true)
	require.NoError(t, err)
	t.Cleanup(func() { a.Destroy() })

	b, err := Create("ro", 64, 4, false)
	require.NoError(t, err)
	t.Cleanup(func() { b.Destroy() })

	aDup, err := unix.Dup(a.OwnFD())
	require.NoError(t, err)
	require.NoError(t, b.Pair(aDup))

	_, err = a.Send([]byte("x"), 0)
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestPairRejectsSizeMismatch(t *testing.T) {
	a, err := Create("mismatch-a", 64, 4, false)
	require.NoError(t, err)
	t.Cleanup(func() { a.Destroy() })

	b, err := Create("mismatch-b", 128, 4, false)
	require.NoError(t, err)
	t.Cleanup(func() { b.Destroy() })

	aDup, err := unix.Dup(a.OwnFD())
	require.NoError(t, err)
	err = b.Pair(aDup)
	require.ErrorIs(t, err, ErrSizeMismatch)
}

func TestOpenMirrorsForeignShape(t *testing.T) {
	a, err := Create("openme", 256, 8, false)
	require.NoError(t, err)
	t.Cleanup(func() { a.Destroy() })

	aDup, err := unix.Dup(a.OwnFD())
	require.NoError(t, err)

	b, err := Open(aDup)
	require.NoError(t, err)
	t.Cleanup(func() { b.Destroy() })

	require.Equal(t, a.slotSize, b.slotSize)
	require.Equal(t, a.slotCount, b.slotCount)
}

func TestInvalidSlotCountRejected(t *testing.T) {
	_, err := Create("bad", 64, 1, false)
	require.ErrorIs(t, err, ErrInvalidSlotCount)
}

func TestInvalidChannelRejected(t *testing.T) {
	a, b := mustPair(t, "badchan", 64, 4)
	_, err := a.Send([]byte("x"), ChannelCount)
	require.ErrorIs(t, err, ErrInvalidChannel)
	_, _, err = b.Recv(-1)
	require.ErrorIs(t, err, ErrInvalidChannel)
}
