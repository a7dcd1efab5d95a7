/*
Package freelist implements the DRAM frame pool's free list (component C4):
a Treiber stack of frame pointers linked through Frame.NextFree.

Push CAS-prepends; Pop CAS-removes the head. Popping an empty stack signals
ErrRestart rather than blocking -- callers are expected to spin on Len()
until it clears a low-water threshold before retrying, exactly as the
original C++ free list's tryPop/pop do by unwinding to the caller on an
empty head rather than waiting.
*/
package freelist

import (
	"sync/atomic"

	"github.com/lucasmoro/coldbuf/internal/frame"
	"github.com/lucasmoro/coldbuf/internal/latch"
)

// RestartThreshold is the low-water mark below which callers elsewhere in
// the manager (allocation, fault-in) should back off and restart rather than
// contend on an all-but-empty free list. It is a hint, not a hard bound.
const RestartThreshold = 10

// FreeList is a lock-free stack of unused frames.
type FreeList struct {
	head    atomic.Pointer[frame.Frame]
	counter atomic.Int64
}

// Push returns f to the free list. f must already be in the Free state.
func (l *FreeList) Push(f *frame.Frame) {
	for {
		head := l.head.Load()
		f.NextFree.Store(head)
		if l.head.CompareAndSwap(head, f) {
			l.counter.Add(1)
			return
		}
	}
}

// Pop removes and returns a frame from the free list, or ErrRestart if the
// list is currently empty.
func (l *FreeList) Pop() (*frame.Frame, error) {
	for {
		head := l.head.Load()
		if head == nil {
			return nil, latch.ErrRestart
		}
		next := head.NextFree.Load()
		if l.head.CompareAndSwap(head, next) {
			head.NextFree.Store(nil)
			l.counter.Add(-1)
			return head, nil
		}
	}
}

// Len returns an eventually-consistent hint of the free list's size. It is
// not a correctness source: callers must still handle ErrRestart from Pop.
func (l *FreeList) Len() int64 {
	return l.counter.Load()
}

// Snapshot walks the list without popping and returns every frame currently
// on it, for invariant checks in tests. It is not linearizable against
// concurrent Push/Pop, so callers should only trust it when nothing else is
// mutating the list.
func (l *FreeList) Snapshot() []*frame.Frame {
	var out []*frame.Frame
	for f := l.head.Load(); f != nil; f = f.NextFree.Load() {
		out = append(out, f)
	}
	return out
}
