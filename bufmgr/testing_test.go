package bufmgr

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lucasmoro/coldbuf/config"
	"github.com/lucasmoro/coldbuf/internal/blockdevice"
	"github.com/lucasmoro/coldbuf/internal/dtregistry"
	"github.com/lucasmoro/coldbuf/internal/frame"
	"github.com/lucasmoro/coldbuf/internal/pageio"
	"github.com/lucasmoro/coldbuf/internal/partition"
	"github.com/lucasmoro/coldbuf/metrics"
)

// newTestManager builds a Manager without starting the background page
// provider goroutine, so resolver/allocate tests can drive its state by
// hand and provider tests can call its phase methods directly instead of
// racing a live loop.
func newTestManager(t *testing.T, nFrames, nPartitions int) *Manager {
	t.Helper()
	dev := blockdevice.NewMem()
	if err := dev.Preallocate(int64(nFrames) * 4096 * 2); err != nil {
		t.Fatalf("preallocate mem device: %v", err)
	}

	m := &Manager{
		cfg:        config.Default(),
		device:     dev,
		frames:     make([]frame.Frame, nFrames),
		partitions: partition.NewStore(nPartitions),
		dt:         dtregistry.New(),
		metrics:    metrics.New(prometheus.NewRegistry()),
		logger:     noopLogger{},
		stopCh:     make(chan struct{}),
	}
	for i := range m.frames {
		m.frames[i].ResetHeader()
		m.freeList.Push(&m.frames[i])
	}
	m.writeBuf = pageio.NewWriteBuffer(dev, nFrames, 2)
	return m
}
