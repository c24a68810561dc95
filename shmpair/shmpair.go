// Package shmpair implements the sealed, mutually-paired shared-memory
// transport of spec.md §4.6: a pair of memory-backed file objects, each
// carrying fixed-size per-channel lock-free SPSC ring buffers, intended as
// an optional high-throughput channel established over an already
// brokered socket pair.
//
// Grounded on the original C implementation (original_source/lib/shmpair.c)
// for the header fields and ring-buffer algorithm (the header's byte layout
// is this package's own), and on the atomic
// producer/consumer cursor discipline of a shared-memory ring buffer (as
// seen in a Go netstack's sharedmem queue implementation) for how Go
// expresses the required release/acquire ordering: explicit
// sync/atomic loads and stores on the mapped cursor words, never a plain
// read or write of shared memory.
package shmpair

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// ident is the fixed 32-bit magic identifying a valid shmpair header
	// (spec.md §6: "Bit-exact constants").
	ident uint32 = 0xb0b51ed5

	// maxNameLen bounds the declared name stored in the header.
	maxNameLen = 64

	// maxChannels bounds the fixed-width writeto/readat cursor arrays in
	// the header regardless of how many channels a given pair actually
	// uses (the original C source hardcoded exactly one channel and left
	// "variable number of channels" as a TODO; this keeps the header
	// layout fixed-width while letting Create/Pair agree on any channel
	// count up to maxChannels).
	maxChannels = 8

	// ChannelCount is the number of active channels this implementation
	// uses. It must not exceed maxChannels.
	ChannelCount = 4

	offWriteTo   = 0
	offReadAt    = offWriteTo + 4*maxChannels
	offName      = offReadAt + 4*maxChannels
	offIdent     = offName + maxNameLen
	offChannels  = offIdent + 4
	offMsgSlots  = offChannels + 4
	offMsgSize   = offMsgSlots + 4
	offRdonly    = offMsgSize + 4
	headerSize   = offRdonly + 4

	// requiredSeals is the exact seal set a paired-in memfd must carry
	// (spec.md §6: "seal set is {SHRINK, GROW, SEAL}" — deliberately not
	// WRITE, since the owner keeps writing its own shared outbound mapping;
	// the receiving side maps the foreign pool read-only and private).
	requiredSeals = unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_SEAL
)

var (
	ErrInvalidSlotCount = errors.New("shmpair: slot_count must be >= 2")
	ErrInvalidSize      = errors.New("shmpair: size must be 0 < size <= slot_size")
	ErrInvalidChannel   = errors.New("shmpair: channel out of range")
	ErrBadMagic         = errors.New("shmpair: bad magic/ident")
	ErrBadSeals         = errors.New("shmpair: foreign memfd missing required seals")
	ErrSizeMismatch     = errors.New("shmpair: foreign pool size mismatch")
	ErrReadOnly         = errors.New("shmpair: send on a read-only pair")
	ErrNameTooLong      = errors.New("shmpair: name too long")
)

// Shmpair is a handle owning one outbound (writable) and one inbound
// (read-only, sealed) memory-backed file object, each mapped.
type Shmpair struct {
	name      string
	slotSize  uint32
	slotCount uint32
	readOnly  bool

	outFD   int
	outPool []byte // full mapping: header + payload slots
	inFD    int
	inPool  []byte
}

func poolSize(slotSize, slotCount uint32) int64 {
	return int64(headerSize) + int64(slotSize)*int64(slotCount)*int64(ChannelCount)
}

// Create allocates, seals, and maps a new outbound shmpair object. The
// returned handle has no inbound half yet — pair it with a foreign FD via
// Pair, or exchange over a socket with Handshake.
func Create(name string, slotSize, slotCount int, readOnly bool) (*Shmpair, error) {
	if slotCount < 2 {
		return nil, ErrInvalidSlotCount
	}
	if len(name) >= maxNameLen {
		return nil, ErrNameTooLong
	}

	fd, err := unix.MemfdCreate(name, unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("shmpair: memfd_create: %w", err)
	}

	size := poolSize(uint32(slotSize), uint32(slotCount))
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shmpair: ftruncate: %w", err)
	}

	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shmpair: mmap: %w", err)
	}

	writeHeader(data, name, uint32(slotSize), uint32(slotCount), readOnly)

	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, requiredSeals); err != nil {
		unix.Munmap(data)
		unix.Close(fd)
		return nil, fmt.Errorf("shmpair: add seals: %w", err)
	}

	return &Shmpair{
		name:      name,
		slotSize:  uint32(slotSize),
		slotCount: uint32(slotCount),
		readOnly:  readOnly,
		outFD:     fd,
		outPool:   data,
		inFD:      -1,
	}, nil
}

func writeHeader(data []byte, name string, slotSize, slotCount uint32, readOnly bool) {
	for i := 0; i < maxChannels; i++ {
		binary.LittleEndian.PutUint32(data[offWriteTo+4*i:], 0)
		binary.LittleEndian.PutUint32(data[offReadAt+4*i:], 0)
	}
	nameBuf := data[offName : offName+maxNameLen]
	for i := range nameBuf {
		nameBuf[i] = 0
	}
	copy(nameBuf, name)
	binary.LittleEndian.PutUint32(data[offIdent:], ident)
	binary.LittleEndian.PutUint32(data[offChannels:], ChannelCount)
	binary.LittleEndian.PutUint32(data[offMsgSlots:], slotCount)
	binary.LittleEndian.PutUint32(data[offMsgSize:], slotSize)
	var rdonly uint32
	if readOnly {
		rdonly = 1
	}
	binary.LittleEndian.PutUint32(data[offRdonly:], rdonly)
}

func readHeaderName(data []byte) string {
	nameBuf := data[offName : offName+maxNameLen]
	n := 0
	for n < len(nameBuf) && nameBuf[n] != 0 {
		n++
	}
	return string(nameBuf[:n])
}

// OwnFD returns the outbound memfd to be sent to the peer, for the caller
// to pass across the already-established stream via the fdpass package.
// Ownership is not transferred: the caller must not close it here, since
// Shmpair keeps using it until Destroy.
func (s *Shmpair) OwnFD() int { return s.outFD }

// Pair validates foreignFD and maps it read-only as the inbound pool.
func (s *Shmpair) Pair(foreignFD int) error {
	seals, err := unix.FcntlInt(uintptr(foreignFD), unix.F_GET_SEALS, 0)
	if err != nil {
		return fmt.Errorf("shmpair: get seals: %w", err)
	}
	if seals != requiredSeals {
		return ErrBadSeals
	}

	st, err := unixFstat(foreignFD)
	if err != nil {
		return err
	}
	expected := poolSize(s.slotSize, s.slotCount)
	if st != expected {
		return ErrSizeMismatch
	}

	data, err := unix.Mmap(foreignFD, 0, int(expected), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return fmt.Errorf("shmpair: mmap foreign: %w", err)
	}

	if binary.LittleEndian.Uint32(data[offIdent:]) != ident {
		unix.Munmap(data)
		return ErrBadMagic
	}
	slots := binary.LittleEndian.Uint32(data[offMsgSlots:])
	size := binary.LittleEndian.Uint32(data[offMsgSize:])
	if slots < 2 || slots != s.slotCount || size != s.slotSize {
		unix.Munmap(data)
		return ErrSizeMismatch
	}

	s.inFD = foreignFD
	s.inPool = data
	return nil
}

func unixFstat(fd int) (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return 0, fmt.Errorf("shmpair: fstat: %w", err)
	}
	return st.Size, nil
}

// Open privately maps just enough of foreignFD to read its advertised
// (name, slot_size, slot_count, read_only), creates a matching local half
// via Create, and pairs the two (spec.md §4.6's Open operation).
func Open(foreignFD int) (*Shmpair, error) {
	st, err := unixFstat(foreignFD)
	if err != nil {
		return nil, err
	}
	if st < int64(headerSize) {
		return nil, ErrSizeMismatch
	}
	peek, err := unix.Mmap(foreignFD, 0, headerSize, unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("shmpair: mmap peek: %w", err)
	}
	name := readHeaderName(peek)
	slotSize := binary.LittleEndian.Uint32(peek[offMsgSize:])
	slotCount := binary.LittleEndian.Uint32(peek[offMsgSlots:])
	readOnly := binary.LittleEndian.Uint32(peek[offRdonly:]) != 0
	unix.Munmap(peek)

	self, err := Create(name, int(slotSize), int(slotCount), readOnly)
	if err != nil {
		return nil, err
	}
	if err := self.Pair(foreignFD); err != nil {
		self.Destroy()
		return nil, err
	}
	return self, nil
}

// cursorPtr returns an atomic-ready pointer into a mapped cursor word. Shared-memory ordering requires every access to these words to go
// through sync/atomic, never a plain slice read/write.
func cursorPtr(pool []byte, off int, channel int) *uint32 {
	return (*uint32)(unsafe.Pointer(&pool[off+4*channel]))
}

// Send writes buf into the next free outbound slot of channel, publishing
// the advanced write cursor only after the payload copy is complete
// (spec.md §4.6: "Publishes the new cursor ... after the payload write").
// It returns (size, nil) on success, (0, nil) if the ring is full, and a
// non-nil error for a channel or size violating the method's preconditions.
func (s *Shmpair) Send(buf []byte, channel int) (int, error) {
	if s.readOnly {
		return 0, ErrReadOnly
	}
	if channel < 0 || channel >= ChannelCount {
		return 0, ErrInvalidChannel
	}
	size := len(buf)
	if size == 0 || uint32(size) > s.slotSize {
		return 0, ErrInvalidSize
	}
	if s.inPool == nil {
		return 0, errors.New("shmpair: not paired")
	}

	writeTo := atomic.LoadUint32(cursorPtr(s.outPool, offWriteTo, channel))
	freeSlot := (writeTo + 1) % s.slotCount
	peerReadAt := atomic.LoadUint32(cursorPtr(s.inPool, offReadAt, channel))
	if freeSlot == peerReadAt {
		return 0, nil // ring full
	}

	slotOff := slotOffset(channel, int(freeSlot), int(s.slotSize), int(s.slotCount))
	copy(s.outPool[slotOff:slotOff+size], buf)

	atomic.StoreUint32(cursorPtr(s.outPool, offWriteTo, channel), freeSlot)
	return size, nil
}

// Recv returns the next unread inbound slot's payload on channel, sized to
// n bytes. The returned slice borrows directly into the inbound mapping:
// callers must copy out before calling Recv again (spec.md §4.6).
func (s *Shmpair) Recv(channel int) ([]byte, int, error) {
	if channel < 0 || channel >= ChannelCount {
		return nil, 0, ErrInvalidChannel
	}
	if s.inPool == nil {
		return nil, 0, errors.New("shmpair: not paired")
	}

	readAt := atomic.LoadUint32(cursorPtr(s.outPool, offReadAt, channel))
	peerWriteTo := atomic.LoadUint32(cursorPtr(s.inPool, offWriteTo, channel))
	if readAt == peerWriteTo {
		return nil, 0, nil // nothing new
	}

	next := (readAt + 1) % s.slotCount
	slotOff := slotOffset(channel, int(next), int(s.slotSize), int(s.slotCount))
	region := s.inPool[slotOff : slotOff+int(s.slotSize)]

	atomic.StoreUint32(cursorPtr(s.outPool, offReadAt, channel), next)
	return region, int(s.slotSize), nil
}

// slotOffset computes the byte offset of slot s on channel c, per spec.md
// §3's pool layout: header_size + slot_size*slot_count*c + slot_size*s.
func slotOffset(channel, slot, slotSize, slotCount int) int {
	return headerSize + slotSize*slotCount*channel + slotSize*slot
}

// Destroy unmaps and closes both halves. Safe to call more than once.
func (s *Shmpair) Destroy() error {
	var firstErr error
	if s.outPool != nil {
		if err := unix.Munmap(s.outPool); err != nil && firstErr == nil {
			firstErr = err
		}
		s.outPool = nil
	}
	if s.outFD >= 0 {
		unix.Close(s.outFD)
		s.outFD = -1
	}
	if s.inPool != nil {
		if err := unix.Munmap(s.inPool); err != nil && firstErr == nil {
			firstErr = err
		}
		s.inPool = nil
	}
	if s.inFD >= 0 {
		unix.Close(s.inFD)
		s.inFD = -1
	}
	return firstErr
}
