package bufmgr

import (
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/lucasmoro/coldbuf/internal/dtregistry"
	"github.com/lucasmoro/coldbuf/internal/frame"
	"github.com/lucasmoro/coldbuf/internal/latch"
	"github.com/lucasmoro/coldbuf/internal/pageio"
	"github.com/lucasmoro/coldbuf/internal/partition"
	"github.com/lucasmoro/coldbuf/internal/swip"
)

// providerRoundInterval bounds how long the background loop sleeps when
// both watermarks are already satisfied and there is nothing to reap.
const providerRoundInterval = time.Millisecond

// maxCoolAttempts bounds how many random frames Phase 1 will try (whether
// each ends in a restart or in an unusable candidate) per cooling attempt
// before giving up for this round; the original design
// simply spins forever, but an unbounded loop here would wedge Shutdown.
const maxCoolAttempts = 64

// runProvider is the background page-provider loop: a dedicated goroutine
// that repeatedly cools hot frames, schedules evictions and writebacks, and
// reaps completed writes, until Shutdown closes stopCh.
func (m *Manager) runProvider() {
	defer m.bgWG.Done()
	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		start := time.Now()
		m.phaseCool()
		m.metrics.ProviderPhaseDuration.WithLabelValues("cool").Observe(time.Since(start).Seconds())

		start = time.Now()
		m.phaseEvictSchedule()
		m.metrics.ProviderPhaseDuration.WithLabelValues("evict").Observe(time.Since(start).Seconds())

		start = time.Now()
		m.phaseReap()
		m.metrics.ProviderPhaseDuration.WithLabelValues("reap").Observe(time.Since(start).Seconds())

		m.metrics.ProviderRoundsTotal.Inc()
		free := m.freeList.Len()
		cooling := int64(m.partitions.CoolingLen())
		m.metrics.FramesFree.Set(float64(free))
		m.metrics.FramesCooling.Set(float64(cooling))
		m.metrics.FramesHot.Set(float64(int64(len(m.frames)) - free - cooling))

		if m.cfg.PrintDebug {
			m.logStats("provider round")
		}

		time.Sleep(providerRoundInterval)
	}
}

func (m *Manager) coolTarget() int64 {
	return int64(m.cfg.CoolPct * float64(len(m.frames)))
}

func (m *Manager) freeTarget() int64 {
	return int64(m.cfg.FreePct * float64(len(m.frames)))
}

// phaseCool implements Phase 1: while free+cooling is below target, pick a
// random hot frame, descend to a leaf (a page with no swizzled children),
// and unswizzle it out of its parent into the cooling queue.
func (m *Manager) phaseCool() {
	for m.freeList.Len()+int64(m.partitions.CoolingLen()) < m.coolTarget() {
		if len(m.frames) == 0 || !m.coolOneRandomFrame() {
			return
		}
	}
}

// coolOneRandomFrame runs one inner attempt of Phase 1: it descends from a
// random starting frame to a leaf and unswizzles it, restarting with a
// fresh random frame whenever the descent hits ErrRestart or finds nothing
// to cool. It returns false only once it has used up maxCoolAttempts picks
// without cooling anything,
// so phaseCool's outer loop does not spin forever when there is nothing
// eligible to cool.
func (m *Manager) coolOneRandomFrame() bool {
	for attempt := 0; attempt < maxCoolAttempts; attempt++ {
		r := &m.frames[rand.Intn(len(m.frames))]
		ok, err := m.tryCool(r)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// tryCool descends from candidate r to a leaf (a hot page with no swizzled
// children) and unswizzles that leaf out of its parent. Returning ok=false,
// nil means r was not a usable candidate at all (not hot, or its
// datastructure type is unregistered); latch.ErrRestart means some
// concurrent mutation invalidated an optimistic read mid-descent and the
// caller should retry from a fresh random frame.
func (m *Manager) tryCool(r *frame.Frame) (bool, error) {
	for {
		og := r.Latch.Optimistic()
		if r.State != frame.Hot {
			return false, nil
		}
		cb, err := m.dt.Callbacks(r.Page.DTID())
		if err != nil {
			return false, nil
		}

		child, err := firstSwizzledChild(r, og, cb)
		if err != nil {
			return false, err
		}
		if child != nil {
			r = child
			continue
		}

		return m.unswizzleLeaf(r, og, cb)
	}
}

// firstSwizzledChild returns r's first swizzled child frame, or nil if r has
// none, rechecking og so a torn read of r's payload during iteration is
// reported as ErrRestart rather than trusted.
func firstSwizzledChild(r *frame.Frame, og latch.OptimisticGuard, cb dtregistry.Callbacks) (*frame.Frame, error) {
	var found *frame.Frame
	cb.IterateChildSwips(r.Page.DTID(), &r.Page, func(sw *swip.Swip) bool {
		if sw.IsSwizzled() {
			found = sw.AsFrame()
			return false
		}
		return true
	})
	if err := og.Recheck(); err != nil {
		return nil, err
	}
	return found, nil
}

// unswizzleLeaf performs the exclusive dance that moves leaf r out of its
// parent and into its partition's cooling queue: child-exclusive, then
// find_parent, then parent-exclusive, then the partition mutex, matching
// the lock order the whole design commits to in section 5.
func (m *Manager) unswizzleLeaf(r *frame.Frame, og latch.OptimisticGuard, cb dtregistry.Callbacks) (bool, error) {
	childGuard, err := og.TryUpgradeToExclusive()
	if err != nil {
		return false, err
	}

	handle, err := cb.FindParent(r.Page.DTID(), r.PID)
	if err != nil {
		childGuard.Unlock()
		return false, nil
	}
	if !handle.NeedsUnswizzle {
		// This slot is a non-owning reference the datastructure never wants
		// unswizzled (e.g. a sibling pointer kept only for latch coupling).
		childGuard.Unlock()
		return false, nil
	}

	parentGuard := handle.ParentFrame.Latch.AcquireExclusive()

	part := m.partitions.For(r.PID)
	part.Mu.Lock()
	if _, exists := part.Lookup(r.PID); exists {
		part.Mu.Unlock()
		parentGuard.Unlock()
		childGuard.Unlock()
		return false, nil
	}

	cio := part.Insert(r.PID)
	cio.State = partition.Cooling
	cio.Elem = part.PushBack(r)
	r.State = frame.Cold
	r.IsCooledBecauseOfReading = false
	handle.ParentSwip.Unswizzle(r.PID)
	m.metrics.UnswizzledTotal.Inc()

	part.Mu.Unlock()
	parentGuard.Unlock()
	childGuard.Unlock()
	return true, nil
}

// phaseEvictSchedule implements Phase 2: walk the cooling queue from the
// front, evicting clean frames directly and scheduling dirty ones for
// asynchronous writeback, up to the free-target shortfall.
func (m *Manager) phaseEvictSchedule() {
	remaining := m.freeTarget() - m.freeList.Len()
	if remaining <= 0 {
		return
	}

	for _, part := range m.partitions.Tables() {
		if remaining <= 0 {
			return
		}
		remaining -= m.evictFromPartition(part, remaining)
	}
}

// evictFromPartition walks up to budget entries from the front of part's
// cooling queue, evicting clean frames directly and scheduling dirty ones
// for asynchronous writeback, and returns how many entries it examined
// (which may be fewer than budget if the queue ran dry).
func (m *Manager) evictFromPartition(part *partition.Table, budget int64) int64 {
	part.Mu.Lock()
	defer part.Mu.Unlock()

	var examined int64
	e := part.Front()
	for e != nil && examined < budget {
		next := e.Next()
		examined++

		f := partition.FrameOf(e)
		if f.IsWriteback || f.IsCooledBecauseOfReading {
			e = next
			continue
		}
		if !f.IsDirty() {
			part.Erase(e)
			part.Remove(f.PID)
			f.ResetHeader()
			m.freeList.Push(f)
			m.metrics.Evictions.Inc()
			e = next
			continue
		}

		f.IsWriteback = true
		if m.writeBuf.TryAdd(f) {
			m.metrics.AwritesSubmitted.Inc()
		} else {
			f.IsWriteback = false
			m.metrics.AwritesFailed.Inc()
		}
		e = next
	}
	return examined
}

// phaseReap implements Phase 3: drain completed asynchronous writes,
// committing last_written_lsn, and evicting anything still COLD (i.e. not
// re-swizzled back to HOT while its write was in flight).
func (m *Manager) phaseReap() {
	m.writeBuf.Collect(func(c pageio.Completion) {
		f := c.Frame
		f.IsWriteback = false
		if c.Err != nil {
			m.metrics.AwritesFailed.Inc()
			m.recordFatal(errors.Wrapf(c.Err, "bufmgr: async writeback of pid %d failed", f.PID))
			return
		}
		f.LastWrittenLSN = c.LSN
		m.metrics.PagesWrittenTotal.Inc()

		if f.State != frame.Cold {
			return // re-swizzled to HOT while the write was in flight
		}
		part := m.partitions.For(f.PID)
		part.Mu.Lock()
		if cio, ok := part.Lookup(f.PID); ok && cio.State == partition.Cooling {
			part.Erase(cio.Elem)
			part.Remove(f.PID)
		}
		part.Mu.Unlock()
		f.ResetHeader()
		m.freeList.Push(f)
		m.metrics.Evictions.Inc()
	})
}
