package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lucasmoro/coldbuf/page"
)

func TestIsDirty(t *testing.T) {
	tests := []struct {
		name           string
		lastWrittenLSN uint64
		pageLSN        uint64
		expected       bool
	}{
		{
			name:           "clean, lsn matches",
			lastWrittenLSN: 5,
			pageLSN:        5,
			expected:       false,
		},
		{
			name:           "dirty, page advanced past last write",
			lastWrittenLSN: 5,
			pageLSN:        6,
			expected:       true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f Frame
			f.LastWrittenLSN = tt.lastWrittenLSN
			f.Page.SetLSN(tt.pageLSN)
			assert.Equal(t, tt.expected, f.IsDirty())
		})
	}
}

func TestResetHeaderLeavesPagePayloadUntouched(t *testing.T) {
	var f Frame
	f.Page.SetLSN(77)
	f.State = Hot
	f.PID = page.PID(3)
	f.IsWriteback = true
	f.IsCooledBecauseOfReading = true
	f.LastWrittenLSN = 77

	f.ResetHeader()

	assert.Equal(t, Free, f.State)
	assert.Equal(t, page.InvalidPID, f.PID)
	assert.False(t, f.IsWriteback)
	assert.False(t, f.IsCooledBecauseOfReading)
	assert.Equal(t, uint64(0), f.LastWrittenLSN)
	assert.Nil(t, f.NextFree.Load())
	assert.Equal(t, uint64(77), f.Page.LSN())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "FREE", Free.String())
	assert.Equal(t, "HOT", Hot.String())
	assert.Equal(t, "COLD", Cold.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
}
