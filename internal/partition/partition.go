/*
Package partition implements the partition table (component C5): a sharded
cooling FIFO plus a page-id-to-CIO-frame map, each shard guarded by one
mutex that serializes every transition between the map and the queue.

A CIO ("cooling/IO") frame is the per-PID control record that coordinates a
fault-in with any other goroutine racing to resolve the same swip, and that
anchors a resident-but-unswizzled frame in its partition's cooling queue.
The cooling queue is a doubly-linked list so that inserting or erasing one
element never invalidates a cursor (an *list.Element) held on another --
container/list is the standard library's implementation of exactly that
data structure and there is no third-party alternative in this project's
dependency stack with the same stable-iterator-on-concurrent-mutation
guarantee, so reaching for the standard library here is the correct call
rather than a compromise.
*/
package partition

import (
	"container/list"
	"sync"

	"github.com/lucasmoro/coldbuf/internal/frame"
	"github.com/lucasmoro/coldbuf/page"
)

// CIOState is a CIO frame's coordination state.
type CIOState uint8

const (
	// Reading means some goroutine is performing the synchronous disk read
	// for this PID and holds Mutex; everyone else must wait on Mutex.
	Reading CIOState = iota
	// Cooling means the page is resident, unswizzled, and sitting at
	// Elem's position in the partition's cooling queue.
	Cooling
)

// CIOFrame coordinates concurrent fault-ins and cooling-queue membership for
// one PID within one partition.
type CIOFrame struct {
	State CIOState

	// Elem is the cooling queue cursor; valid only while State == Cooling.
	Elem *list.Element

	// Mutex is locked by the goroutine performing the synchronous read
	// while State == Reading; other goroutines that find this CIO frame
	// block by locking it too, then immediately unlock, coalescing all
	// concurrent fault-ins of the same page into one disk read.
	Mutex sync.Mutex

	// Readers counts goroutines that discovered this PID mid-fault (either
	// the original faulting goroutine or a coalesced waiter) and have not
	// yet observed the page swizzled back in. The last one to reach zero
	// is responsible for removing the CIO entry.
	Readers int32
}

// Table is one partition's shard: a PID-to-CIOFrame map plus the cooling
// FIFO, both guarded by Mu.
type Table struct {
	Mu sync.Mutex

	cio   map[page.PID]*CIOFrame
	queue *list.List
}

// NewTable constructs an empty partition shard.
func NewTable() *Table {
	return &Table{
		cio:   make(map[page.PID]*CIOFrame),
		queue: list.New(),
	}
}

// Lookup returns the CIO frame for pid, if one is currently tracked. Caller
// must hold Mu.
func (t *Table) Lookup(pid page.PID) (*CIOFrame, bool) {
	c, ok := t.cio[pid]
	return c, ok
}

// Insert creates and tracks a new CIO frame for pid. Caller must hold Mu and
// must not call this if Lookup already found an entry.
func (t *Table) Insert(pid page.PID) *CIOFrame {
	c := &CIOFrame{}
	t.cio[pid] = c
	return c
}

// Remove drops the CIO frame tracked for pid. Caller must hold Mu.
func (t *Table) Remove(pid page.PID) {
	delete(t.cio, pid)
}

// PushBack appends f to the cooling queue and returns the cursor for later
// O(1) removal. Caller must hold Mu.
func (t *Table) PushBack(f *frame.Frame) *list.Element {
	return t.queue.PushBack(f)
}

// Erase removes e from the cooling queue. Caller must hold Mu.
func (t *Table) Erase(e *list.Element) {
	t.queue.Remove(e)
}

// Front returns the cooling queue's oldest element, or nil if empty. Caller
// must hold Mu.
func (t *Table) Front() *list.Element {
	return t.queue.Front()
}

// Len returns the number of frames currently in this partition's cooling
// queue. Caller must hold Mu.
func (t *Table) Len() int {
	return t.queue.Len()
}

// Frames returns every frame currently sitting in this partition's cooling
// queue, front to back. Intended for invariant checks in tests. Caller must
// hold Mu.
func (t *Table) Frames() []*frame.Frame {
	out := make([]*frame.Frame, 0, t.queue.Len())
	for e := t.queue.Front(); e != nil; e = e.Next() {
		out = append(out, FrameOf(e))
	}
	return out
}

// FrameOf extracts the *frame.Frame stored at a cooling-queue cursor.
func FrameOf(e *list.Element) *frame.Frame {
	return e.Value.(*frame.Frame)
}

// Store shards the partition table across a power-of-two number of
// partitions, keyed by pid & mask, so contention on the map/queue mutex
// scales with partition count. Correctness never depends on the sharding:
// a single partition (the source's own configuration) is equally correct,
// just more contended.
type Store struct {
	tables []*Table
	mask   uint64
}

// NewStore builds n partitions. n must be a power of two.
func NewStore(n int) *Store {
	if n <= 0 || n&(n-1) != 0 {
		panic("partition: n must be a power of two")
	}
	s := &Store{
		tables: make([]*Table, n),
		mask:   uint64(n - 1),
	}
	for i := range s.tables {
		s.tables[i] = NewTable()
	}
	return s
}

// For returns the partition table owning pid.
func (s *Store) For(pid page.PID) *Table {
	return s.tables[uint64(pid)&s.mask]
}

// N returns the number of partitions.
func (s *Store) N() int {
	return len(s.tables)
}

// Tables returns every partition shard, for callers (the page provider)
// that must sweep the whole store rather than route by a single PID.
func (s *Store) Tables() []*Table {
	return s.tables
}

// CoolingLen sums the cooling-queue length across all partitions. Intended
// for provider bookkeeping and tests; it takes and releases each partition's
// mutex in turn rather than a global lock, so the result is a point-in-time
// estimate under concurrent activity.
func (s *Store) CoolingLen() int {
	total := 0
	for _, t := range s.tables {
		t.Mu.Lock()
		total += t.Len()
		t.Mu.Unlock()
	}
	return total
}
