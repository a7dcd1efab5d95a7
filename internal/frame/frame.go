/*
Package frame defines the buffer frame (component C2): a fixed header plus
exactly one page, allocated once in a contiguous pool and never relocated for
the pool's lifetime. A frame's address is its identity.
*/
package frame

import (
	"sync/atomic"

	"github.com/lucasmoro/coldbuf/internal/latch"
	"github.com/lucasmoro/coldbuf/page"
)

// State is a frame's position in its lifecycle.
type State uint8

const (
	// Free means the frame holds no page and lives on the free list.
	Free State = iota
	// Hot means the frame is resident and referenced by exactly one parent
	// swip as swizzled.
	Hot
	// Cold means the frame is resident but unswizzled: either sitting in a
	// partition's cooling queue, or (transiently, during fault-in) not yet
	// pushed onto one.
	Cold
)

func (s State) String() string {
	switch s {
	case Free:
		return "FREE"
	case Hot:
		return "HOT"
	case Cold:
		return "COLD"
	default:
		return "UNKNOWN"
	}
}

// Frame is the fixed header plus page payload. Every field except Page and
// NextFree must only be mutated while holding Latch exclusively; NextFree is
// only meaningful (and only mutated) while the frame sits on the free list,
// which serializes access to it through the free list's own CAS protocol.
type Frame struct {
	Latch latch.Latch

	State State
	PID   page.PID

	// IsWriteback is true while an asynchronous write of this frame's page
	// is in flight.
	IsWriteback bool

	// IsCooledBecauseOfReading distinguishes a cooling entry created by a
	// fault-in (case 4 of the resolver, section 4.8) from one created by the
	// page provider's Phase 1. It protects the frame from Phase 2 eviction
	// until the last waiting reader acknowledges it.
	IsCooledBecauseOfReading bool

	// LastWrittenLSN is the LSN most recently persisted for this frame's
	// page. Equality with Page.LSN() means the frame is clean.
	LastWrittenLSN uint64

	// NextFree links frames on the free list's Treiber stack; valid only
	// while State == Free.
	NextFree atomic.Pointer[Frame]

	Page page.Page
}

// IsDirty reports whether the frame's page has been modified since its last
// successful write.
func (f *Frame) IsDirty() bool {
	return f.LastWrittenLSN != f.Page.LSN()
}

// ResetHeader reinitializes everything except the page payload, exactly as
// "new is logical only" for buffer frames: destruction is re-initialization,
// not deallocation.
func (f *Frame) ResetHeader() {
	f.Latch = latch.Latch{}
	f.State = Free
	f.PID = page.InvalidPID
	f.IsWriteback = false
	f.IsCooledBecauseOfReading = false
	f.LastWrittenLSN = 0
	f.NextFree.Store(nil)
}
