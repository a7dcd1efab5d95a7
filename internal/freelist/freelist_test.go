package freelist

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lucasmoro/coldbuf/internal/frame"
	"github.com/lucasmoro/coldbuf/internal/latch"
)

func TestPopEmptyReturnsErrRestart(t *testing.T) {
	var l FreeList
	f, err := l.Pop()
	assert.Nil(t, f)
	assert.ErrorIs(t, err, latch.ErrRestart)
}

func TestPushThenPopReturnsSameFrame(t *testing.T) {
	var l FreeList
	var a frame.Frame
	l.Push(&a)
	assert.Equal(t, int64(1), l.Len())

	got, err := l.Pop()
	assert.Nil(t, err)
	assert.Same(t, &a, got)
	assert.Equal(t, int64(0), l.Len())
}

func TestPopIsLIFO(t *testing.T) {
	var l FreeList
	var a, b frame.Frame
	l.Push(&a)
	l.Push(&b)

	got, err := l.Pop()
	assert.Nil(t, err)
	assert.Same(t, &b, got)
}

func TestPopClearsNextFree(t *testing.T) {
	var l FreeList
	var a, b frame.Frame
	l.Push(&a)
	l.Push(&b)

	got, err := l.Pop()
	assert.Nil(t, err)
	assert.Nil(t, got.NextFree.Load())
}

func TestConcurrentPushPopPreservesCount(t *testing.T) {
	var l FreeList
	frames := make([]frame.Frame, 100)
	for i := range frames {
		l.Push(&frames[i])
	}

	var wg sync.WaitGroup
	popped := make(chan *frame.Frame, len(frames))
	for i := 0; i < len(frames); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := l.Pop()
			assert.Nil(t, err)
			popped <- f
		}()
	}
	wg.Wait()
	close(popped)

	assert.Equal(t, int64(0), l.Len())
	seen := make(map[*frame.Frame]bool)
	for f := range popped {
		assert.False(t, seen[f])
		seen[f] = true
	}
	assert.Len(t, seen, len(frames))
}
