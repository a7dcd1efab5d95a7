package bufmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lucasmoro/coldbuf/internal/frame"
	"github.com/lucasmoro/coldbuf/internal/latch"
	"github.com/lucasmoro/coldbuf/internal/pageio"
	"github.com/lucasmoro/coldbuf/internal/partition"
	"github.com/lucasmoro/coldbuf/internal/swip"
	"github.com/lucasmoro/coldbuf/page"
)

func TestResolveFastPathWhenAlreadySwizzled(t *testing.T) {
	m := newTestManager(t, 32, 2)
	var parent, child frame.Frame
	sw := swip.FromFrame(&child)

	got, err := m.resolve(parent.Latch.Optimistic(), &sw)
	assert.Nil(t, err)
	assert.Same(t, &child, got)
}

func TestResolveFastPathFailsOnStaleParentGuard(t *testing.T) {
	m := newTestManager(t, 32, 2)
	var parent, child frame.Frame
	og := parent.Latch.Optimistic()
	eg := parent.Latch.AcquireExclusive()
	eg.Unlock()

	sw := swip.FromFrame(&child)
	_, err := m.resolve(og, &sw)
	assert.ErrorIs(t, err, latch.ErrRestart)
}

func TestResolveMissThenCoolingSwizzlesPage(t *testing.T) {
	m := newTestManager(t, 32, 2)
	pid := page.PID(3)
	var seed page.Page
	seed.SetLSN(11)
	assert.Nil(t, pageio.WriteSync(m.device, pid, &seed))

	var parent frame.Frame
	sw := swip.FromPID(pid)

	_, err := m.resolve(parent.Latch.Optimistic(), &sw)
	assert.ErrorIs(t, err, latch.ErrRestart)

	part := m.partitions.For(pid)
	part.Mu.Lock()
	cio, found := part.Lookup(pid)
	part.Mu.Unlock()
	assert.True(t, found)
	assert.Equal(t, partition.Cooling, cio.State)

	f, err := m.resolve(parent.Latch.Optimistic(), &sw)
	assert.Nil(t, err)
	assert.Equal(t, frame.Hot, f.State)
	assert.True(t, sw.IsSwizzled())
	assert.Equal(t, uint64(11), f.Page.LSN())

	part.Mu.Lock()
	_, found = part.Lookup(pid)
	part.Mu.Unlock()
	assert.False(t, found)
}

func TestResolveMissReturnsFatalErrorOnCorruptRead(t *testing.T) {
	m := newTestManager(t, 32, 2)
	pid := page.PID(9)

	var corrupt page.Page
	corrupt.SetLSN(1)
	corrupt.SetDebugNumber(uint64(pid) + 1)
	_, err := m.device.WriteAt(corrupt.Bytes[:], int64(pid)*page.Size)
	assert.Nil(t, err)

	var parent frame.Frame
	sw := swip.FromPID(pid)
	_, err = m.resolve(parent.Latch.Optimistic(), &sw)
	assert.True(t, IsFatal(err))
	assert.True(t, IsFatal(m.Err()))
}

func TestResolveMissReturnsErrRestartBelowFreeListThreshold(t *testing.T) {
	m := newTestManager(t, 4, 1)
	pid := page.PID(1)
	var parent frame.Frame
	sw := swip.FromPID(pid)

	_, err := m.resolve(parent.Latch.Optimistic(), &sw)
	assert.ErrorIs(t, err, latch.ErrRestart)

	part := m.partitions.For(pid)
	part.Mu.Lock()
	_, found := part.Lookup(pid)
	part.Mu.Unlock()
	assert.False(t, found)
}

func TestResolveReadingWaitsForLoaderThenRestarts(t *testing.T) {
	m := newTestManager(t, 32, 2)
	pid := page.PID(5)
	part := m.partitions.For(pid)

	part.Mu.Lock()
	cio := part.Insert(pid)
	cio.State = partition.Reading
	cio.Readers = 1
	cio.Mutex.Lock()
	part.Mu.Unlock()

	done := make(chan error, 1)
	go func() {
		part.Mu.Lock()
		_, err := m.resolveReading(part, pid, cio)
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("resolveReading returned before loader released the cio mutex")
	case <-time.After(20 * time.Millisecond):
	}

	cio.Mutex.Unlock()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, latch.ErrRestart)
	case <-time.After(time.Second):
		t.Fatal("resolveReading never returned")
	}

	part.Mu.Lock()
	_, found := part.Lookup(pid)
	part.Mu.Unlock()
	assert.False(t, found)
}

func TestResolveCoolingLeavesCIOWhenOtherReadersRemain(t *testing.T) {
	m := newTestManager(t, 32, 2)
	pid := page.PID(7)
	part := m.partitions.For(pid)

	var child frame.Frame
	child.PID = pid
	child.State = frame.Cold
	child.IsCooledBecauseOfReading = true

	part.Mu.Lock()
	cio := part.Insert(pid)
	cio.State = partition.Cooling
	cio.Elem = part.PushBack(&child)
	cio.Readers = 2
	part.Mu.Unlock()

	var parent frame.Frame
	sw := swip.FromPID(pid)

	got, err := m.resolve(parent.Latch.Optimistic(), &sw)
	assert.Nil(t, err)
	assert.Same(t, &child, got)
	assert.True(t, sw.IsSwizzled())

	part.Mu.Lock()
	stillTracked, found := part.Lookup(pid)
	part.Mu.Unlock()
	assert.True(t, found)
	assert.Same(t, cio, stillTracked)
	assert.Equal(t, int32(1), cio.Readers)
}
