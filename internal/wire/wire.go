// Package wire defines the single-byte tokens and name-message encoding
// shared by the broker, host client, and peer client. The wire protocol is
// intentionally raw: one byte per liveness/request signal, one NUL-terminated
// name per handshake message. Nothing here is permitted to grow into a
// structured codec — see spec.md §6.
package wire

import (
	"bytes"
	"errors"
)

const (
	// Keepalive is the host->broker liveness byte.
	Keepalive = byte('K')
	// Request is the broker(worker)->host connection-request byte.
	Request = byte('R')
	// Drain is the broker->host best-effort shutdown notice (additive;
	// see SPEC_FULL.md §4.8). Hosts that don't recognize it simply see
	// an unrecognized byte and discard it per spec.md §4.2.
	Drain = byte('X')
)

// MaxNameLen is the maximum encoded length of a host name, including the
// terminating NUL (spec.md §3: "length-bounded, NUL-terminated, small fixed maximum").
const MaxNameLen = 64

var (
	// ErrNameTooLong is returned when a name (with NUL) would exceed MaxNameLen.
	ErrNameTooLong = errors.New("wire: name too long")
	// ErrNameEmpty is returned for a zero-length name.
	ErrNameEmpty = errors.New("wire: name empty")
	// ErrMalformed is returned for a name message missing its NUL terminator
	// or otherwise not shaped like spec.md §4.4 step 2 requires.
	ErrMalformed = errors.New("wire: malformed name message")
)

// EncodeName returns the NUL-terminated wire encoding of name.
func EncodeName(name string) ([]byte, error) {
	if len(name) == 0 {
		return nil, ErrNameEmpty
	}
	if len(name)+1 > MaxNameLen {
		return nil, ErrNameTooLong
	}
	buf := make([]byte, len(name)+1)
	copy(buf, name)
	buf[len(name)] = 0
	return buf, nil
}

// DecodeName validates and extracts a name from a raw wire message: length
// >= 2, terminating NUL, non-empty first byte (spec.md §4.4 step 2).
func DecodeName(msg []byte) (string, error) {
	if len(msg) < 2 {
		return "", ErrMalformed
	}
	if msg[0] == 0 {
		return "", ErrMalformed
	}
	nul := bytes.IndexByte(msg, 0)
	if nul < 0 {
		return "", ErrMalformed
	}
	return string(msg[:nul]), nil
}
