/*
Package swip implements the tagged reference (component C3) that index code
stores inside a page's payload to point at a child page: either an on-disk
page id (unswizzled) or a resident frame (swizzled).

The original design packs both encodings into one machine word, distinguished
by its top bit, because a swip must be readable and mutable as a single
atomic unit in C++. In Go the equivalent contract -- readers either observe
the pre-mutation or the post-mutation encoding, never a torn mix -- comes
from the parent frame's own latch (every swizzle/unswizzle happens under the
parent's exclusive guard, and every read happens under an optimistic or
exclusive guard on the parent that is rechecked afterwards), not from the
swip's own bit layout. So Swip here is a small tagged struct rather than a
packed pointer: it is exactly as safe, and it sidesteps stashing a *Frame as
an untyped machine word, which the Go garbage collector cannot be told about
safely. A frame's address never changes for the buffer manager's lifetime, so
a plain typed pointer is both the simplest and the safest representation.
*/
package swip

import (
	"github.com/lucasmoro/coldbuf/internal/frame"
	"github.com/lucasmoro/coldbuf/page"
)

// Swip is either a PID (unswizzled) or a resident frame pointer (swizzled).
// Mutations must only happen while the enclosing page's frame is held
// exclusively; reads must only happen under an optimistic or exclusive guard
// on that frame, rechecked after.
type Swip struct {
	frame *frame.Frame
	pid   page.PID
}

// FromPID constructs an unswizzled swip pointing at pid.
func FromPID(pid page.PID) Swip {
	return Swip{pid: pid}
}

// FromFrame constructs a swizzled swip pointing at f.
func FromFrame(f *frame.Frame) Swip {
	return Swip{frame: f}
}

// IsSwizzled reports whether the swip currently holds a resident frame
// reference rather than a page id.
func (s Swip) IsSwizzled() bool {
	return s.frame != nil
}

// AsFrame returns the referenced frame. Only valid when IsSwizzled is true.
func (s Swip) AsFrame() *frame.Frame {
	return s.frame
}

// AsPID returns the referenced page id. Only valid when IsSwizzled is false.
func (s Swip) AsPID() page.PID {
	return s.pid
}

// Swizzle replaces the swip's encoding with a resident frame reference. The
// caller must hold the enclosing page's frame latch exclusively.
func (s *Swip) Swizzle(f *frame.Frame) {
	s.frame = f
	s.pid = page.InvalidPID
}

// Unswizzle replaces the swip's encoding with a page id. The caller must
// hold the enclosing page's frame latch exclusively.
func (s *Swip) Unswizzle(pid page.PID) {
	s.frame = nil
	s.pid = pid
}
