/*
Package latch implements the optimistic-versioning lock held by every buffer
frame (component C1 in the design).

A latch is a single uint64: the low bit records whether it is exclusively
held, and the remaining bits are a version counter that is bumped on every
release of an exclusive section. Readers never block: they snapshot the
version, do their work, and recheck it against the live value at every
synchronization point. If the version changed, or the exclusive bit is now
set, the read was potentially torn and the caller must restart from its
operation's entry point.

This mirrors the header spinlock technique used elsewhere in this style of
buffer manager (compare-and-swap a locked bit into a packed state word,
spin until the CAS wins) but adds the version counter optimistic readers
need, since here writers must never block readers.
*/
package latch

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrRestart is the cooperative signal that the current optimistic attempt
// must be abandoned and retried from the operation's entry point. It carries
// no data. Callers check for it with errors.Is and loop; see spec section 7.
var ErrRestart = errors.New("restart")

const exclusiveBit uint64 = 1

// Latch is the version + exclusive-bit word embedded in every frame header.
type Latch struct {
	word uint64
}

// OptimisticGuard is a snapshot of a latch's version taken without blocking
// anyone. It must be rechecked before any decision based on the frame's
// content is trusted.
type OptimisticGuard struct {
	l       *Latch
	version uint64
}

// ExclusiveGuard represents exclusive ownership of the latch, upgraded from
// an OptimisticGuard via compare-and-swap on the observed version.
type ExclusiveGuard struct {
	l       *Latch
	version uint64
	held    bool
}

// Optimistic snapshots the current version. The returned guard is valid
// (Recheck will succeed) only until some other goroutine acquires and
// releases the exclusive lock, or is currently holding it.
func (l *Latch) Optimistic() OptimisticGuard {
	return OptimisticGuard{l: l, version: atomic.LoadUint64(&l.word)}
}

// Recheck fails with ErrRestart if the latch's version has changed, or if
// the latch is currently held exclusively by someone else, since the guard
// was taken. The exclusive-bit check matters even when the live word still
// equals the observed version: version and exclusive-bit live in the same
// word, but the word the guard captured could itself have been taken while
// held (Optimistic never spins), so equality alone does not prove the
// section this guard is protecting was ever seen in a consistent state.
func (g OptimisticGuard) Recheck() error {
	word := atomic.LoadUint64(&g.l.word)
	if word != g.version || word&exclusiveBit != 0 {
		return ErrRestart
	}
	return nil
}

// Version returns the raw version word the guard observed, mainly for
// assertions in tests.
func (g OptimisticGuard) Version() uint64 {
	return g.version
}

// TryUpgradeToExclusive attempts to CAS the exclusive bit on at the observed
// version. On success the caller owns the latch exclusively and must call
// Unlock. On failure the guard is stale and the caller must restart.
func (g OptimisticGuard) TryUpgradeToExclusive() (ExclusiveGuard, error) {
	if g.version&exclusiveBit != 0 {
		return ExclusiveGuard{}, ErrRestart
	}
	if !atomic.CompareAndSwapUint64(&g.l.word, g.version, g.version|exclusiveBit) {
		return ExclusiveGuard{}, ErrRestart
	}
	return ExclusiveGuard{l: g.l, version: g.version, held: true}, nil
}

// UpgradeToExclusive spins until it wins the exclusive CAS, retrying against
// the latch's live version each time. It is for callers that already know
// the frame cannot legitimately be mutated by anyone else and simply need to
// wait out a transient racer; the resolver's cooling-hit path uses
// TryUpgradeToExclusive instead and restarts on failure.
func (l *Latch) UpgradeToExclusive(g OptimisticGuard) (ExclusiveGuard, error) {
	for {
		eg, err := g.TryUpgradeToExclusive()
		if err == nil {
			return eg, nil
		}
		g = l.Optimistic()
	}
}

// AcquireExclusive blocks (spin-only, no OS mutex) until the latch can be
// taken exclusively, ignoring any particular prior version.
func (l *Latch) AcquireExclusive() ExclusiveGuard {
	for {
		word := atomic.LoadUint64(&l.word)
		if word&exclusiveBit != 0 {
			continue
		}
		if atomic.CompareAndSwapUint64(&l.word, word, word|exclusiveBit) {
			return ExclusiveGuard{l: l, version: word, held: true}
		}
	}
}

// Unlock releases the exclusive guard, bumping the version so outstanding
// optimistic guards observe a change and restart.
func (g *ExclusiveGuard) Unlock() {
	if !g.held {
		return
	}
	newWord := (g.version + exclusiveBit + exclusiveBit) &^ exclusiveBit
	atomic.StoreUint64(&g.l.word, newWord)
	g.held = false
}

// Downgrade releases exclusive ownership and returns a fresh optimistic
// guard observing the post-release version, without any other goroutine
// able to interleave an exclusive acquisition in between.
func (g *ExclusiveGuard) Downgrade() OptimisticGuard {
	newWord := (g.version + exclusiveBit + exclusiveBit) &^ exclusiveBit
	atomic.StoreUint64(&g.l.word, newWord)
	g.held = false
	return OptimisticGuard{l: g.l, version: newWord}
}

// Version returns the version the exclusive guard was acquired at.
func (g ExclusiveGuard) Version() uint64 {
	return g.version
}

// IsExclusivelyLatched reports whether the latch is currently held, purely
// for assertions in tests; it is not safe to act on outside of a test.
func (l *Latch) IsExclusivelyLatched() bool {
	return atomic.LoadUint64(&l.word)&exclusiveBit != 0
}
