/*
Package dtregistry implements the datastructure-type registry (component
C7): the only hooks the buffer manager has into cooperating index code. A DT
type registers a small callback vtable (iterate a page's child swips, find a
child's parent) keyed by DTType; individual page trees register an instance
keyed by DTID so a callback can resolve tree-specific context (root page,
comparator, whatever the index needs) without the buffer manager knowing
what it is.

Type registration is rare (once per index kind, at startup) and read
constantly from every fault-in and every provider round, so it is a plain
mutex-guarded map. Instance registration happens once per opened tree but is
looked up on the hot swizzle/unswizzle path from many goroutines at once, so
it uses xsync's lock-free MapOf instead, the same choice the pack's own
buffer-pool implementation makes for its page table.
*/
package dtregistry

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/lucasmoro/coldbuf/internal/frame"
	"github.com/lucasmoro/coldbuf/internal/swip"
	"github.com/lucasmoro/coldbuf/page"
)

// DTType identifies a kind of datastructure (a B-tree, an LSM run, ...).
type DTType uint32

// ParentHandle is what FindParent hands back: the parent frame's swip slot
// containing the child, so the caller can swizzle or unswizzle in place.
type ParentHandle struct {
	// ParentFrame is the resident frame owning ParentSwip, so the caller can
	// latch it before mutating the swip.
	ParentFrame *frame.Frame
	// ParentSwip is a pointer to the exact swip field inside the parent's
	// page payload that references the child page.
	ParentSwip *swip.Swip
	// NeedsUnswizzle mirrors the original bool flag: some datastructures
	// keep a second, non-owning reference to a child that must never be
	// unswizzled (e.g. a sibling pointer used only for latch coupling).
	NeedsUnswizzle bool
}

// Callbacks is the vtable a datastructure type must supply.
type Callbacks struct {
	// IterateChildSwips calls visit once per child swip found in page's
	// payload, stopping early if visit returns false.
	IterateChildSwips func(dtid page.DTID, pg *page.Page, visit func(*swip.Swip) bool)

	// FindParent locates, within the tree instance identified by dtid, the
	// parent page's swip slot that references child. The page provider
	// invokes it while holding the child frame exclusively and latches the
	// returned ParentFrame itself afterwards.
	FindParent func(dtid page.DTID, child page.PID) (ParentHandle, error)
}

// ErrUnknownDTType is returned when a lookup names a DTType nothing ever
// registered.
var ErrUnknownDTType = errors.New("dtregistry: unknown dt type")

// ErrUnknownDTID is returned when a lookup names a DTID nothing ever
// registered an instance for.
var ErrUnknownDTID = errors.New("dtregistry: unknown dt instance")

// Registry is the process-wide table of datastructure callbacks and
// instances.
type Registry struct {
	typesMu sync.RWMutex
	types   map[DTType]Callbacks

	instances *xsync.MapOf[page.DTID, DTType]
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{
		types:     make(map[DTType]Callbacks),
		instances: xsync.NewMapOf[page.DTID, DTType](),
	}
}

// RegisterDTType installs cb as the vtable for every instance of typ. It is
// intended to be called once per datastructure kind at startup; calling it
// again for the same typ replaces the vtable.
func (r *Registry) RegisterDTType(typ DTType, cb Callbacks) {
	r.typesMu.Lock()
	defer r.typesMu.Unlock()
	r.types[typ] = cb
}

// RegisterDTInstance associates dtid (a specific tree's root, effectively)
// with typ, so later Callbacks lookups by dtid know which vtable to use.
func (r *Registry) RegisterDTInstance(dtid page.DTID, typ DTType) {
	r.instances.Store(dtid, typ)
}

// UnregisterDTInstance drops dtid, e.g. when a tree is dropped.
func (r *Registry) UnregisterDTInstance(dtid page.DTID) {
	r.instances.Delete(dtid)
}

// Callbacks resolves dtid to its datastructure type's vtable.
func (r *Registry) Callbacks(dtid page.DTID) (Callbacks, error) {
	typ, ok := r.instances.Load(dtid)
	if !ok {
		return Callbacks{}, errors.Wrapf(ErrUnknownDTID, "dtid %d", dtid)
	}
	r.typesMu.RLock()
	defer r.typesMu.RUnlock()
	cb, ok := r.types[typ]
	if !ok {
		return Callbacks{}, errors.Wrapf(ErrUnknownDTType, "dt type %d (dtid %d)", typ, dtid)
	}
	return cb, nil
}
