package roster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newHost(name string, uid uint32) *Host {
	now := time.Now()
	return &Host{Name: name, UID: uid, Created: now, LastAck: now}
}

func TestAddGetRemove(t *testing.T) {
	r := New(10, 5)
	h := newHost("svc", 1000)
	require.NoError(t, r.Add(h))
	require.Equal(t, 1, r.Len())

	got, ok := r.Get("svc")
	require.True(t, ok)
	require.Equal(t, h, got)

	removed, ok := r.Remove("svc")
	require.True(t, ok)
	require.Equal(t, h, removed)
	require.Equal(t, 0, r.Len())
}

func TestDuplicateNameRejected(t *testing.T) {
	r := New(10, 5)
	require.NoError(t, r.Add(newHost("svc", 1)))
	err := r.Add(newHost("svc", 2))
	require.ErrorIs(t, err, ErrDuplicateName)
	require.Equal(t, 1, r.Len())
}

func TestRosterFull(t *testing.T) {
	r := New(1, 5)
	require.NoError(t, r.Add(newHost("a", 1)))
	err := r.Add(newHost("b", 2))
	require.ErrorIs(t, err, ErrFull)
}

func TestPerUserQuota(t *testing.T) {
	r := New(100, 2)
	require.NoError(t, r.Add(newHost("a", 42)))
	require.NoError(t, r.Add(newHost("b", 42)))
	err := r.Add(newHost("c", 42))
	require.ErrorIs(t, err, ErrQuota)
}

func TestRootExemptFromQuota(t *testing.T) {
	r := New(100, 1)
	require.NoError(t, r.Add(newHost("a", 0)))
	require.NoError(t, r.Add(newHost("b", 0)))
	require.NoError(t, r.Add(newHost("c", 0)))
}

func TestUnconfirmed(t *testing.T) {
	now := time.Now()
	h := &Host{Created: now, LastAck: now}
	require.True(t, h.Unconfirmed())
	h.LastAck = now.Add(time.Second)
	require.False(t, h.Unconfirmed())
}

func TestNormalizeName(t *testing.T) {
	// precomposed accent vs. base letter + combining accent mark
	composed := "café"
	decomposed := "café"
	require.NotEqual(t, composed, decomposed)
	require.Equal(t, NormalizeName(composed), NormalizeName(decomposed))
}
