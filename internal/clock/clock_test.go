package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestElapsedMS(t *testing.T) {
	since := time.Now()
	require.False(t, ElapsedMS(since, since, 100))
	require.True(t, ElapsedMS(since.Add(150*time.Millisecond), since, 100))
}

func TestSinceMS(t *testing.T) {
	since := time.Now()
	now := since.Add(250 * time.Millisecond)
	require.InDelta(t, 250, SinceMS(now, since), 1)
}
