/*
Package bufmgr assembles components C1 through C9 into the buffer manager
proper: a fixed pool of frames, backed by a block device, resolved through
swips, kept cool and evicted by a background provider, all reachable through
Manager's public methods.
*/
package bufmgr

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/lucasmoro/coldbuf/config"
	"github.com/lucasmoro/coldbuf/internal/blockdevice"
	"github.com/lucasmoro/coldbuf/internal/dtregistry"
	"github.com/lucasmoro/coldbuf/internal/frame"
	"github.com/lucasmoro/coldbuf/internal/freelist"
	"github.com/lucasmoro/coldbuf/internal/latch"
	"github.com/lucasmoro/coldbuf/internal/pageio"
	"github.com/lucasmoro/coldbuf/internal/partition"
	"github.com/lucasmoro/coldbuf/internal/swip"
	"github.com/lucasmoro/coldbuf/metrics"
	"github.com/lucasmoro/coldbuf/page"
)

// Manager is the buffer manager: a fixed frame pool, the partition/cooling
// protocol coordinating fault-ins, a background page provider, and the DT
// registry index code registers against.
type Manager struct {
	cfg config.Config

	device blockdevice.Device

	frames     []frame.Frame
	freeList   freelist.FreeList
	partitions *partition.Store
	writeBuf   *pageio.WriteBuffer
	dt         *dtregistry.Registry
	metrics    *metrics.Metrics
	logger     Logger

	nextPID atomic.Uint64

	bgWG   sync.WaitGroup
	stopCh chan struct{}

	fatalErr atomic.Pointer[FatalError]
}

// Logger is the minimal structured-logging surface the manager needs. Any
// logger can be used through a small adapter providing Infow and Warnw; a
// nil Logger silences provider bookkeeping output entirely.
type Logger interface {
	Infow(msg string, kv ...any)
	Warnw(msg string, kv ...any)
}

// noopLogger discards everything; used when Open is not given a Logger.
type noopLogger struct{}

func (noopLogger) Infow(string, ...any) {}
func (noopLogger) Warnw(string, ...any) {}

// Open constructs a Manager: preallocates the backing device when
// cfg.FallocGiB is set, sizes and zeroes the frame pool, and starts the
// background page provider. Open does not read cfg.Truncate and never
// truncates dev.
func Open(cfg config.Config, dev blockdevice.Device, reg *prometheus.Registry, logger Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "bufmgr: invalid config")
	}
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.FallocGiB > 0 {
		if err := dev.Preallocate(int64(cfg.FallocGiB * (1 << 30))); err != nil {
			return nil, NewFatalError(errors.Wrap(err, "bufmgr: preallocate device"))
		}
	}

	n := cfg.FramePoolSize(page.Size)
	if n <= 0 {
		return nil, errors.Errorf("bufmgr: dram_gib %v too small for even one frame", cfg.DRAMGiB)
	}

	m := &Manager{
		cfg:        cfg,
		device:     dev,
		frames:     make([]frame.Frame, n),
		partitions: partition.NewStore(cfg.Partitions),
		dt:         dtregistry.New(),
		metrics:    metrics.New(reg),
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
	for i := range m.frames {
		m.frames[i].ResetHeader()
		m.freeList.Push(&m.frames[i])
	}
	m.writeBuf = pageio.NewWriteBuffer(dev, cfg.AsyncBatchSize, writeBufferWorkers)
	m.metrics.FramesFree.Set(float64(n))

	m.bgWG.Add(1)
	go m.runProvider()

	return m, nil
}

// OpenDevice opens path as a direct-I/O block device for a caller about to
// pass it to Open. A failed device open is exactly the kind of environment
// failure FatalError exists for -- no restart-from-entry-point can fix a
// device that will not open -- so this wraps blockdevice.OpenDirect's error
// rather than leaving callers to construct their own FatalError by hand.
func OpenDevice(path string) (blockdevice.Device, error) {
	dev, err := blockdevice.OpenDirect(path)
	if err != nil {
		return nil, NewFatalError(err)
	}
	return dev, nil
}

// writeBufferWorkers is the fixed number of goroutines performing
// asynchronous writeback I/O. A small constant pool is enough since the
// backing device itself, not goroutine count, is the actual bottleneck.
const writeBufferWorkers = 4

// RegisterDTType installs the callback vtable for one datastructure kind.
func (m *Manager) RegisterDTType(typ dtregistry.DTType, cb dtregistry.Callbacks) {
	m.dt.RegisterDTType(typ, cb)
}

// RegisterDTInstance associates dtid with typ so the registry can dispatch
// callbacks for pages belonging to that instance.
func (m *Manager) RegisterDTInstance(dtid page.DTID, typ dtregistry.DTType) {
	m.dt.RegisterDTInstance(dtid, typ)
}

// Resolve turns a swip embedded in a latched parent page into a resident
// frame. parentGuard must be the guard taken on the parent frame before sw
// was read out of its payload. See resolver.go for the full contract.
func (m *Manager) Resolve(parentGuard latch.OptimisticGuard, sw *swip.Swip) (*frame.Frame, error) {
	return m.resolve(parentGuard, sw)
}

// Persist is a stub, matching the original design: this buffer manager
// makes no attempt at crash recovery or root-catalog persistence beyond
// what is already durable on the block device. It exists so index code
// written against the full API compiles unchanged if recovery is added
// later.
func (m *Manager) Persist() error {
	return nil
}

// Restore is a stub for the same reason as Persist.
func (m *Manager) Restore() error {
	return nil
}

// Shutdown stops the background page provider and then drains every write
// still in flight, so that a write scheduled moments before the provider's
// last round never gets stranded: each in-flight completion is reaped, its
// frame evicted if still COLD, and PagesWrittenTotal counts it, exactly as if the provider
// had kept running long enough to reap it itself.
func (m *Manager) Shutdown(ctx context.Context) error {
	close(m.stopCh)
	done := make(chan struct{})
	go func() {
		m.bgWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "bufmgr: shutdown deadline exceeded waiting for page provider")
	}

	if err := m.drainWritebacks(ctx); err != nil {
		return err
	}
	m.writeBuf.Close()

	m.logStats("shutdown")
	return nil
}

// drainWritebacks reaps every writeback still in flight after the provider
// has stopped scheduling new ones, looping phaseReap (which never blocks)
// until the write buffer's own in-flight count reaches zero or ctx runs out.
func (m *Manager) drainWritebacks(ctx context.Context) error {
	for m.writeBuf.Inflight() > 0 {
		m.phaseReap()
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "bufmgr: shutdown deadline exceeded draining in-flight writebacks")
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

// recordFatal remembers cause as the manager's first fatal error, if one has
// not already been recorded, and logs it. It always returns a *FatalError
// wrapping cause, whether or not this call was the one that won the race to
// record it, so callers can return the result directly.
func (m *Manager) recordFatal(cause error) *FatalError {
	fe := NewFatalError(cause)
	if m.fatalErr.CompareAndSwap(nil, fe) {
		m.logger.Warnw("bufmgr fatal error", "error", fe.Error())
	}
	return fe
}

// Err returns the first fatal error the manager has recorded, or nil if none
// has occurred. The background provider can hit a fatal condition (an async
// write failing) with no synchronous caller to return it to; Err is how a
// caller polling the manager (health checks, Shutdown) notices.
func (m *Manager) Err() error {
	if fe := m.fatalErr.Load(); fe != nil {
		return fe
	}
	return nil
}

func (m *Manager) logStats(reason string) {
	counter := func(c prometheus.Counter) float64 {
		var out dto.Metric
		if err := c.Write(&out); err != nil {
			return 0
		}
		return out.GetCounter().GetValue()
	}
	m.logger.Infow("bufmgr stats",
		"reason", reason,
		"frames_total", len(m.frames),
		"free_hint", m.freeList.Len(),
		"cooling", m.partitions.CoolingLen(),
		"swizzled", counter(m.metrics.SwizzledTotal),
		"unswizzled", counter(m.metrics.UnswizzledTotal),
		"flushed", counter(m.metrics.PagesWrittenTotal),
	)
}

func (m *Manager) restartBackoff() {
	m.metrics.RestartsTotal.Inc()
	time.Sleep(time.Microsecond)
}
