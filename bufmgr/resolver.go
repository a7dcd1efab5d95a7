package bufmgr

import (
	"github.com/pkg/errors"

	"github.com/lucasmoro/coldbuf/internal/frame"
	"github.com/lucasmoro/coldbuf/internal/freelist"
	"github.com/lucasmoro/coldbuf/internal/latch"
	"github.com/lucasmoro/coldbuf/internal/pageio"
	"github.com/lucasmoro/coldbuf/internal/partition"
	"github.com/lucasmoro/coldbuf/internal/swip"
	"github.com/lucasmoro/coldbuf/page"
)

// resolve is the sole API by which callers turn a swip embedded in parent's
// page into a resident frame. parentGuard must have been taken on the
// parent frame before sw was read. On success the returned frame is HOT and
// any exclusive upgrade resolve took internally has already been released.
// On ErrRestart the caller must re-traverse from wherever it took
// parentGuard.
func (m *Manager) resolve(parentGuard latch.OptimisticGuard, sw *swip.Swip) (*frame.Frame, error) {
	if sw.IsSwizzled() {
		f := sw.AsFrame()
		if err := parentGuard.Recheck(); err != nil {
			return nil, err
		}
		return f, nil
	}

	pid := sw.AsPID()
	part := m.partitions.For(pid)

	part.Mu.Lock()
	if err := parentGuard.Recheck(); err != nil {
		part.Mu.Unlock()
		return nil, err
	}

	cio, found := part.Lookup(pid)
	if !found {
		return m.resolveMiss(part, pid)
	}
	switch cio.State {
	case partition.Reading:
		return m.resolveReading(part, pid, cio)
	case partition.Cooling:
		return m.resolveCooling(part, pid, cio, parentGuard, sw)
	default:
		part.Mu.Unlock()
		return nil, m.recordFatal(errors.Errorf("bufmgr: cio frame for pid %d in unknown state %d", pid, cio.State))
	}
}

// resolveMiss handles the case where no CIO entry exists yet for pid: this
// goroutine becomes the one to fault the page in from the device. Called
// with part.Mu held; always returns with part.Mu released.
func (m *Manager) resolveMiss(part *partition.Table, pid page.PID) (*frame.Frame, error) {
	if m.freeList.Len() < freelist.RestartThreshold {
		part.Mu.Unlock()
		m.restartBackoff()
		return nil, latch.ErrRestart
	}
	f, err := m.freeList.Pop()
	if err != nil {
		part.Mu.Unlock()
		return nil, err
	}

	cio := part.Insert(pid)
	cio.State = partition.Reading
	cio.Readers = 1
	cio.Mutex.Lock()

	eg := f.Latch.AcquireExclusive()

	part.Mu.Unlock()

	f.Page.Reset()
	if err := pageio.ReadSync(m.device, pid, &f.Page); err != nil {
		eg.Unlock()
		cio.Mutex.Unlock()
		part.Mu.Lock()
		part.Remove(pid)
		part.Mu.Unlock()
		m.freeList.Push(f)
		return nil, m.recordFatal(errors.Wrapf(err, "bufmgr: fault-in read of pid %d", pid))
	}
	m.metrics.PagesReadTotal.Inc()

	f.PID = pid
	f.State = frame.Cold
	f.IsWriteback = false
	f.LastWrittenLSN = f.Page.LSN()

	part.Mu.Lock()
	cio.State = partition.Cooling
	cio.Elem = part.PushBack(f)
	f.IsCooledBecauseOfReading = true
	eg.Unlock()
	part.Mu.Unlock()
	cio.Mutex.Unlock()

	return nil, latch.ErrRestart
}

// resolveReading handles the case where another goroutine is already
// loading pid. This goroutine waits for that load to reach the cooling
// stage and then restarts, expecting to find the page in COOLING next time.
// Called with part.Mu held; always returns with part.Mu released.
func (m *Manager) resolveReading(part *partition.Table, pid page.PID, cio *partition.CIOFrame) (*frame.Frame, error) {
	cio.Readers++
	part.Mu.Unlock()

	cio.Mutex.Lock()
	cio.Mutex.Unlock()

	part.Mu.Lock()
	cio.Readers--
	if cio.Readers == 0 {
		if still, ok := part.Lookup(pid); ok && still == cio && still.State == partition.Reading {
			part.Remove(pid)
		}
	}
	part.Mu.Unlock()

	return nil, latch.ErrRestart
}

// resolveCooling handles the case where pid is resident and sitting in the
// cooling queue: swizzle it back into parent under an exclusive upgrade of
// parentGuard. Called with part.Mu held; always returns with part.Mu
// released.
func (m *Manager) resolveCooling(part *partition.Table, pid page.PID, cio *partition.CIOFrame, parentGuard latch.OptimisticGuard, sw *swip.Swip) (*frame.Frame, error) {
	eg, err := parentGuard.TryUpgradeToExclusive()
	if err != nil {
		part.Mu.Unlock()
		return nil, err
	}

	f := partition.FrameOf(cio.Elem)
	sw.Swizzle(f)
	part.Erase(cio.Elem)
	f.State = frame.Hot
	m.metrics.SwizzledTotal.Inc()

	shouldRemove := true
	if f.IsCooledBecauseOfReading {
		cio.Readers--
		if cio.Readers > 0 {
			shouldRemove = false
		}
	}
	if shouldRemove {
		part.Remove(pid)
	}

	eg.Unlock()
	part.Mu.Unlock()
	return f, nil
}
