// Package ratelog buffers diagnostic log events that spec.md §4.4 step 2
// calls for but marks "rate-limited": malformed registration messages,
// dropped slots, and similar high-frequency-under-churn conditions. A
// gopkg.in/eapache/channels.v1 RingChannel sits between the producer (the
// broker's tick loop, which must never block) and a single consumer
// goroutine that actually writes to the logger: if the consumer falls
// behind, the oldest buffered event is silently dropped rather than
// applying backpressure to the tick loop.
package ratelog

import (
	channels "gopkg.in/eapache/channels.v1"
)

// Logger is the narrow logging surface Sink needs, satisfied by both
// *logging.Logger (core/log's Backend.GetLogger) and broker's own logAdapter.
type Logger interface {
	Noticef(format string, args ...interface{})
}

// Sink asynchronously forwards events to a Logger, dropping the
// oldest pending event when the buffer is full.
type Sink struct {
	ring *channels.RingChannel
	log  Logger
	done chan struct{}
}

// NewSink starts a Sink with the given buffer capacity.
func NewSink(log Logger, capacity int64) *Sink {
	s := &Sink{
		ring: channels.NewRingChannel(capacity),
		log:  log,
		done: make(chan struct{}),
	}
	go s.drain()
	return s
}

// Notice enqueues a rate-limited diagnostic message. Never blocks.
func (s *Sink) Notice(msg string) {
	s.ring.In() <- msg
}

func (s *Sink) drain() {
	defer close(s.done)
	for v := range s.ring.Out() {
		if msg, ok := v.(string); ok {
			s.log.Noticef("%s", msg)
		}
	}
}

// Close stops accepting new events and waits for the drain goroutine to
// finish flushing whatever was already buffered.
func (s *Sink) Close() {
	s.ring.Close()
	<-s.done
}
