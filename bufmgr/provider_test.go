package bufmgr

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/lucasmoro/coldbuf/internal/dtregistry"
	"github.com/lucasmoro/coldbuf/internal/frame"
	"github.com/lucasmoro/coldbuf/internal/pageio"
	"github.com/lucasmoro/coldbuf/internal/partition"
	"github.com/lucasmoro/coldbuf/internal/swip"
	"github.com/lucasmoro/coldbuf/page"
)

// failingDevice always fails WriteAt, for exercising phaseReap's fatal-error
// path without touching a real device.
type failingDevice struct{}

func (failingDevice) ReadAt(p []byte, off int64) (int, error) {
	return 0, errors.New("failingDevice: read not implemented")
}
func (failingDevice) WriteAt(p []byte, off int64) (int, error) {
	return 0, errors.New("failingDevice: write always fails")
}
func (failingDevice) Sync() error               { return nil }
func (failingDevice) Preallocate(int64) error   { return nil }
func (failingDevice) Size() (int64, error)      { return 0, nil }
func (failingDevice) Close() error              { return nil }

func TestTryCoolDescendsToLeafAndUnswizzles(t *testing.T) {
	m := newTestManager(t, 32, 2)

	var parent, leaf frame.Frame
	parent.State = frame.Hot
	parent.PID = page.PID(1)
	parent.Page.SetDTID(page.DTID(9))
	leaf.State = frame.Hot
	leaf.PID = page.PID(2)
	leaf.Page.SetDTID(page.DTID(9))

	childSwip := swip.FromFrame(&leaf)

	m.RegisterDTType(dtregistry.DTType(1), dtregistry.Callbacks{
		IterateChildSwips: func(dtid page.DTID, pg *page.Page, visit func(*swip.Swip) bool) {
			if pg == &parent.Page {
				visit(&childSwip)
			}
		},
		FindParent: func(dtid page.DTID, child page.PID) (dtregistry.ParentHandle, error) {
			if child != leaf.PID {
				return dtregistry.ParentHandle{}, errors.New("no such child")
			}
			return dtregistry.ParentHandle{
				ParentFrame:    &parent,
				ParentSwip:     &childSwip,
				NeedsUnswizzle: true,
			}, nil
		},
	})
	m.RegisterDTInstance(page.DTID(9), dtregistry.DTType(1))

	ok, err := m.tryCool(&parent)
	assert.Nil(t, err)
	assert.True(t, ok)

	assert.Equal(t, frame.Cold, leaf.State)
	assert.False(t, childSwip.IsSwizzled())
	assert.Equal(t, leaf.PID, childSwip.AsPID())

	part := m.partitions.For(leaf.PID)
	part.Mu.Lock()
	cio, found := part.Lookup(leaf.PID)
	part.Mu.Unlock()
	assert.True(t, found)
	assert.Equal(t, partition.Cooling, cio.State)
}

func TestTryCoolSkipsNonHotFrame(t *testing.T) {
	m := newTestManager(t, 32, 2)
	var f frame.Frame
	f.State = frame.Cold
	ok, err := m.tryCool(&f)
	assert.Nil(t, err)
	assert.False(t, ok)
}

func TestTryCoolSkipsUnregisteredDTType(t *testing.T) {
	m := newTestManager(t, 32, 2)
	var f frame.Frame
	f.State = frame.Hot
	f.Page.SetDTID(page.DTID(404))
	ok, err := m.tryCool(&f)
	assert.Nil(t, err)
	assert.False(t, ok)
}

func TestEvictFromPartitionEvictsCleanAndSchedulesDirty(t *testing.T) {
	m := newTestManager(t, 32, 1)
	part := m.partitions.For(page.PID(0))

	var clean, dirty frame.Frame
	clean.PID = page.PID(1)
	clean.State = frame.Cold
	dirty.PID = page.PID(2)
	dirty.State = frame.Cold
	dirty.Page.SetLSN(1)

	part.Mu.Lock()
	cioClean := part.Insert(clean.PID)
	cioClean.State = partition.Cooling
	cioClean.Elem = part.PushBack(&clean)
	cioDirty := part.Insert(dirty.PID)
	cioDirty.State = partition.Cooling
	cioDirty.Elem = part.PushBack(&dirty)
	part.Mu.Unlock()

	freeBefore := m.freeList.Len()
	examined := m.evictFromPartition(part, 10)
	assert.Equal(t, int64(2), examined)

	assert.Equal(t, freeBefore+1, m.freeList.Len())
	assert.Equal(t, frame.Free, clean.State)
	assert.True(t, dirty.IsWriteback)

	part.Mu.Lock()
	_, found := part.Lookup(clean.PID)
	part.Mu.Unlock()
	assert.False(t, found)
}

func TestEvictFromPartitionSkipsInFlightWriteback(t *testing.T) {
	m := newTestManager(t, 32, 1)
	part := m.partitions.For(page.PID(0))

	var f frame.Frame
	f.PID = page.PID(3)
	f.State = frame.Cold
	f.IsWriteback = true

	part.Mu.Lock()
	cio := part.Insert(f.PID)
	cio.State = partition.Cooling
	cio.Elem = part.PushBack(&f)
	part.Mu.Unlock()

	examined := m.evictFromPartition(part, 10)
	assert.Equal(t, int64(1), examined)

	part.Mu.Lock()
	_, found := part.Lookup(f.PID)
	part.Mu.Unlock()
	assert.True(t, found)
}

func TestEvictFromPartitionRespectsBudget(t *testing.T) {
	m := newTestManager(t, 32, 1)
	part := m.partitions.For(page.PID(0))

	frames := make([]frame.Frame, 3)
	part.Mu.Lock()
	for i := range frames {
		frames[i].PID = page.PID(i)
		frames[i].State = frame.Cold
		cio := part.Insert(frames[i].PID)
		cio.State = partition.Cooling
		cio.Elem = part.PushBack(&frames[i])
	}
	part.Mu.Unlock()

	examined := m.evictFromPartition(part, 1)
	assert.Equal(t, int64(1), examined)
	assert.Equal(t, 2, part.Len())
}

func TestPhaseReapEvictsFrameAfterWriteCompletes(t *testing.T) {
	m := newTestManager(t, 32, 1)
	pid := page.PID(4)
	part := m.partitions.For(pid)

	var f frame.Frame
	f.PID = pid
	f.State = frame.Cold
	f.Page.SetLSN(5)

	part.Mu.Lock()
	cio := part.Insert(pid)
	cio.State = partition.Cooling
	cio.Elem = part.PushBack(&f)
	part.Mu.Unlock()

	f.IsWriteback = true
	assert.True(t, m.writeBuf.TryAdd(&f))

	deadline := time.After(time.Second)
	for f.IsWriteback {
		m.phaseReap()
		select {
		case <-deadline:
			t.Fatal("write never completed")
		default:
		}
	}

	assert.Equal(t, frame.Free, f.State)
	assert.Equal(t, uint64(5), f.LastWrittenLSN)

	part.Mu.Lock()
	_, found := part.Lookup(pid)
	part.Mu.Unlock()
	assert.False(t, found)
}

func TestPhaseReapRecordsFatalOnWriteFailure(t *testing.T) {
	m := newTestManager(t, 16, 1)
	m.writeBuf = pageio.NewWriteBuffer(failingDevice{}, 4, 1)

	var f frame.Frame
	f.PID = page.PID(20)
	f.IsWriteback = true
	assert.True(t, m.writeBuf.TryAdd(&f))

	deadline := time.After(time.Second)
	for f.IsWriteback {
		m.phaseReap()
		select {
		case <-deadline:
			t.Fatal("write never completed")
		default:
		}
	}

	assert.True(t, IsFatal(m.Err()))
}

func TestPhaseReapLeavesReswizzledFrameAlone(t *testing.T) {
	m := newTestManager(t, 32, 1)
	var f frame.Frame
	f.PID = page.PID(6)
	f.State = frame.Cold
	f.Page.SetLSN(1)
	f.IsWriteback = true
	assert.True(t, m.writeBuf.TryAdd(&f))

	f.State = frame.Hot

	deadline := time.After(time.Second)
	for f.IsWriteback {
		m.phaseReap()
		select {
		case <-deadline:
			t.Fatal("write never completed")
		default:
		}
	}

	assert.Equal(t, frame.Hot, f.State)
	assert.Equal(t, uint64(1), f.LastWrittenLSN)
}
