package bufmgr

import (
	"github.com/lucasmoro/coldbuf/internal/frame"
	"github.com/lucasmoro/coldbuf/internal/freelist"
	"github.com/lucasmoro/coldbuf/internal/latch"
	"github.com/lucasmoro/coldbuf/page"
)

// AllocatePage hands the caller a brand-new, exclusively latched HOT frame
// with a fresh PID. Callers are responsible for unlatching it (typically
// after swizzling it into some parent) via the returned guard's Unlock.
func (m *Manager) AllocatePage() (*frame.Frame, latch.ExclusiveGuard, error) {
	if m.freeList.Len() < freelist.RestartThreshold {
		m.restartBackoff()
		return nil, latch.ExclusiveGuard{}, latch.ErrRestart
	}
	f, err := m.freeList.Pop()
	if err != nil {
		return nil, latch.ExclusiveGuard{}, err
	}

	guard := f.Latch.AcquireExclusive()

	pid := page.PID(m.nextPID.Add(1) - 1)
	f.PID = pid
	f.State = frame.Hot
	f.IsWriteback = false
	f.IsCooledBecauseOfReading = false
	f.LastWrittenLSN = 0
	f.Page.Reset()
	f.Page.SetLSN(0)
	f.Page.SetDebugNumber(uint64(pid))

	return f, guard, nil
}

// ReclaimPage returns f to the free list. The caller must hold f's latch
// exclusively and must have already unswizzled every swip referencing f;
// ReclaimPage does not verify either precondition, matching the original
// design's reclaim_page, which trusts its caller for the same reasons.
func (m *Manager) ReclaimPage(f *frame.Frame, guard latch.ExclusiveGuard) {
	guard.Unlock()
	f.ResetHeader()
	m.freeList.Push(f)
}
