// Package clock gives the broker a single monotonic timebase. All
// handshake and keepalive timeouts are measured against time.Now(), which
// on every supported platform is backed by the monotonic clock reading
// Go attaches to time.Time internally, so deltas are immune to wall-clock
// adjustments.
package clock

import "time"

// ElapsedMS reports whether at least budgetMS milliseconds have passed
// between since and now.
func ElapsedMS(now, since time.Time, budgetMS int64) bool {
	return now.Sub(since) >= time.Duration(budgetMS)*time.Millisecond
}

// SinceMS returns the number of elapsed milliseconds between since and now.
func SinceMS(now, since time.Time) int64 {
	return now.Sub(since).Milliseconds()
}
