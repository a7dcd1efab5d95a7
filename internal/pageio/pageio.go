/*
Package pageio moves page images between a blockdevice.Device and buffer
frames (component C6): a synchronous reader used by fault-in, and a bounded
asynchronous write buffer used by the page provider's Phase 2/Phase 3.

The synchronous path treats a short read as an error rather than silently
returning fewer bytes, generalized with a retry loop, since a real O_DIRECT
file can legitimately return a short read that a same-process byte slice
never would.
*/
package pageio

import (
	"github.com/ncw/directio"
	"github.com/pkg/errors"

	"github.com/lucasmoro/coldbuf/internal/blockdevice"
	"github.com/lucasmoro/coldbuf/internal/frame"
	"github.com/lucasmoro/coldbuf/page"
)

// ErrCorrupt reports that a page read back from the device does not carry
// the debug number its own PID was tagged with on the last write. It is
// fatal: unlike ErrRestart, retrying cannot fix on-disk corruption.
var ErrCorrupt = errors.New("pageio: page failed debug-number check on read")

// maxShortReadRetries bounds the short-read retry loop so a persistently
// truncated device fails fast instead of spinning.
const maxShortReadRetries = 8

func offsetOf(pid page.PID) int64 {
	return int64(pid) * int64(page.Size)
}

// ReadSync reads pid's page image from dev into dst, retrying on short
// reads, and verifies dst's embedded debug number matches pid. The transfer
// goes through a directio.AlignedBlock staging buffer rather than dst.Bytes
// directly, because an O_DIRECT read requires an aligned buffer address and
// nothing about a Go array field's address is guaranteed to satisfy that.
func ReadSync(dev blockdevice.Device, pid page.PID, dst *page.Page) error {
	off := offsetOf(pid)
	block := directio.AlignedBlock(page.Size)
	read := 0
	for retries := 0; read < len(block); retries++ {
		if retries > maxShortReadRetries {
			return errors.Errorf("pageio: too many short reads for pid %d", pid)
		}
		n, err := dev.ReadAt(block[read:], off+int64(read))
		if err != nil {
			return errors.Wrapf(err, "pageio: read pid %d", pid)
		}
		if n == 0 {
			return errors.Errorf("pageio: zero-length read for pid %d after %d bytes", pid, read)
		}
		read += n
	}
	copy(dst.Bytes[:], block)
	if dst.DebugNumber() != uint64(pid) {
		return errors.Wrapf(ErrCorrupt, "pid %d has debug number %d", pid, dst.DebugNumber())
	}
	return nil
}

// WriteSync writes pid's page image synchronously, stamping its debug
// number first, through the same aligned staging buffer ReadSync uses.
// WriteBuffer's workers call it for every asynchronous writeback; tests
// also use it directly to seed pages on a device.
func WriteSync(dev blockdevice.Device, pid page.PID, src *page.Page) error {
	src.SetDebugNumber(uint64(pid))
	off := offsetOf(pid)
	block := directio.AlignedBlock(page.Size)
	copy(block, src.Bytes[:])
	written := 0
	for written < len(block) {
		n, err := dev.WriteAt(block[written:], off+int64(written))
		if err != nil {
			return errors.Wrapf(err, "pageio: write pid %d", pid)
		}
		written += n
	}
	return nil
}

// writeJob is one page staged for asynchronous writeback. The page bytes are
// copied out of the frame at TryAdd time into image, so the frame's page memory
// is free to be reused (after eviction) before the write actually lands --
// only IsWriteback on the frame prevents that reuse from racing ahead of the
// copy itself.
type writeJob struct {
	pid   page.PID
	frame *frame.Frame
	image page.Page
	lsn   uint64
}

// Completion reports one finished (or failed) asynchronous write.
type Completion struct {
	Frame *frame.Frame
	LSN   uint64
	Err   error
}

// WriteBuffer is a bounded staging area for asynchronous page writeback,
// grounded on the original design's io_uring write buffer but implemented
// with a fixed-size worker pool over blockdevice.Device, since none of the
// example repos wire an io_uring binding and Device already models the
// direct-I/O boundary generically. TryAdd stages a page and hands it to the
// workers at once; Poll/Collect drain finished writes.
type WriteBuffer struct {
	dev      blockdevice.Device
	pending  chan writeJob
	done     chan Completion
	inflight chan struct{}
}

// NewWriteBuffer constructs a write buffer with room for capacity
// outstanding writes; once that many are unreaped, TryAdd returns false.
func NewWriteBuffer(dev blockdevice.Device, capacity int, workers int) *WriteBuffer {
	wb := &WriteBuffer{
		dev:      dev,
		pending:  make(chan writeJob, capacity),
		done:     make(chan Completion, capacity),
		inflight: make(chan struct{}, capacity),
	}
	for i := 0; i < workers; i++ {
		go wb.work()
	}
	return wb
}

func (wb *WriteBuffer) work() {
	for job := range wb.pending {
		err := WriteSync(wb.dev, job.pid, &job.image)
		wb.done <- Completion{Frame: job.frame, LSN: job.lsn, Err: err}
	}
}

// TryAdd stages f's current page image for writeback, returning false
// without blocking if the buffer is full. The caller must already have set
// f.IsWriteback. f.Page is copied by value here rather than referenced, so
// the frame is free to be reused the moment the completion is reaped, even
// while the copy is still in flight to the device.
func (wb *WriteBuffer) TryAdd(f *frame.Frame) bool {
	select {
	case wb.inflight <- struct{}{}:
	default:
		return false
	}
	job := writeJob{pid: f.PID, frame: f, image: f.Page, lsn: f.Page.LSN()}
	select {
	case wb.pending <- job:
		return true
	default:
		<-wb.inflight
		return false
	}
}

// Inflight reports how many writes are currently staged or in progress and
// have not yet been reaped through Poll/Collect.
func (wb *WriteBuffer) Inflight() int {
	return len(wb.inflight)
}

// Close stops accepting new work: it closes pending, letting every worker
// finish whatever job it already has and exit its range loop. Callers must
// first drain every outstanding completion (Inflight reaching zero) so no
// job is left stuck behind the closed channel, and must not call TryAdd
// after Close.
func (wb *WriteBuffer) Close() {
	close(wb.pending)
}

// Poll returns the next completed write without blocking, or ok=false if
// none is ready yet.
func (wb *WriteBuffer) Poll() (Completion, bool) {
	select {
	case c := <-wb.done:
		<-wb.inflight
		return c, true
	default:
		return Completion{}, false
	}
}

// Collect drains every completion currently ready, applying fn to each. It
// is Phase 3 of the page provider: turning finished writes back into clean,
// evictable frames.
func (wb *WriteBuffer) Collect(fn func(Completion)) int {
	n := 0
	for {
		c, ok := wb.Poll()
		if !ok {
			return n
		}
		fn(c)
		n++
	}
}
