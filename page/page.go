/*
Page is the unit of I/O for the buffer manager. Every page read from or
written to the block device is exactly Size bytes, a multiple of 512 so it
fits direct I/O. A Page value itself carries no address-alignment guarantee;
pageio copies it through an aligned staging buffer for every transfer.

The layout is a small fixed header followed by opaque payload bytes that the
data-structure layer (e.g. a B-tree) owns completely, including any swips it
chooses to store inside it. Unlike a slotted table page, coldbuf's page
format carries no knowledge of tuples or slots -- that belongs to the index
layer this package does not depend on.

  - +--------+--------+--------------+------------------------------+
  - |  LSN   | DTID   | DebugNumber  | Payload ...                  |
  - +--------+--------+--------------+------------------------------+
  -   8 bytes  8 bytes   8 bytes       Size-24 bytes
*/
package page

import (
	"encoding/binary"
	"math"
)

// Size is the fixed page size in bytes. It must be a power of two and a
// multiple of 512 so pages can be read/written with direct I/O.
const Size = 4096

// PID is a page id: a dense, monotonically assigned unsigned integer that
// doubles as the page's byte offset on the block device (PID * Size).
type PID uint64

const (
	// InvalidPID never denotes a real page.
	InvalidPID PID = math.MaxUint64
	// FirstPID is the id of the first page ever allocated.
	FirstPID PID = 0
)

// DTID identifies a registered data-structure instance (e.g. one B-tree).
type DTID uint64

const headerSize = 8 + 8 + 8

// lsnOffset, dtidOffset, debugOffset lay out the fixed header.
const (
	lsnOffset   = 0
	dtidOffset  = 8
	debugOffset = 16
)

// Page is a fixed-size buffer holding one page's bytes. It is always
// embedded by value inside a buffer frame so that a frame's address is
// stable for the frame's entire lifetime.
type Page struct {
	Bytes [Size]byte
}

// LSN returns the page's log sequence number.
func (p *Page) LSN() uint64 {
	return binary.LittleEndian.Uint64(p.Bytes[lsnOffset : lsnOffset+8])
}

// SetLSN sets the page's log sequence number.
func (p *Page) SetLSN(lsn uint64) {
	binary.LittleEndian.PutUint64(p.Bytes[lsnOffset:lsnOffset+8], lsn)
}

// DTID returns the id of the data-structure instance that owns this page.
func (p *Page) DTID() DTID {
	return DTID(binary.LittleEndian.Uint64(p.Bytes[dtidOffset : dtidOffset+8]))
}

// SetDTID sets the owning data-structure instance id.
func (p *Page) SetDTID(id DTID) {
	binary.LittleEndian.PutUint64(p.Bytes[dtidOffset:dtidOffset+8], uint64(id))
}

// DebugNumber returns the page's self-identifying debug number. After every
// synchronous read the caller must assert this equals the PID it asked for.
func (p *Page) DebugNumber() uint64 {
	return binary.LittleEndian.Uint64(p.Bytes[debugOffset : debugOffset+8])
}

// SetDebugNumber sets the debug number, normally to the page's own PID.
func (p *Page) SetDebugNumber(n uint64) {
	binary.LittleEndian.PutUint64(p.Bytes[debugOffset:debugOffset+8], n)
}

// Payload returns the mutable region past the fixed header, owned entirely
// by the data-structure layer.
func (p *Page) Payload() []byte {
	return p.Bytes[headerSize:]
}

// Reset zero-fills the page, e.g. when a frame is reinitialized after
// eviction or before a fresh allocation.
func (p *Page) Reset() {
	for i := range p.Bytes {
		p.Bytes[i] = 0
	}
}
