/*
Package xset provides small set-comparison helpers used by the buffer
manager's invariant-checking tests (section 8 of the design): things like
"every frame is in exactly one of {free list, hot, cooling}" reduce to set
disjointness and union checks that read better against a set type than
against nested loops over slices.
*/
package xset

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/lucasmoro/coldbuf/internal/frame"
	"github.com/lucasmoro/coldbuf/page"
)

// PIDSet is a set of page ids.
type PIDSet = mapset.Set[page.PID]

// NewPIDSet builds a PIDSet from pids, for asserting membership invariants
// in tests without hand-rolling a map[page.PID]struct{}.
func NewPIDSet(pids ...page.PID) PIDSet {
	return mapset.NewSet(pids...)
}

// FrameSet is a set of frame pointers, identified by pointer equality. It
// backs the pool-membership invariant ("every frame is in exactly one of
// free, hot, cooling") which cannot be phrased over PIDSet: frames sitting
// on the free list share no meaningful page id.
type FrameSet = mapset.Set[*frame.Frame]

// NewFrameSet builds a FrameSet from frames.
func NewFrameSet(frames ...*frame.Frame) FrameSet {
	return mapset.NewSet(frames...)
}

// Partition reports whether the given sets are pairwise disjoint and their
// union equals universe -- the exactly-one-state invariant every frame (or
// every resident page id) must satisfy across whatever classification the
// caller is checking.
func Partition[T comparable](universe mapset.Set[T], parts ...mapset.Set[T]) bool {
	seen := mapset.NewSet[T]()
	for _, p := range parts {
		if seen.Intersect(p).Cardinality() != 0 {
			return false
		}
		seen = seen.Union(p)
	}
	return seen.Equal(universe)
}
