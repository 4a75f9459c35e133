package recording

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgevision/aibox/internal/model"
)

func TestRingCapacityMatchesPreRollSecondsTimesFPS(t *testing.T) {
	r := NewRing(2, 10) // 20 entries
	for i := 0; i < 25; i++ {
		r.Append(model.RingBufferEntry{Frame: &model.Frame{SequenceNumber: uint64(i)}})
	}
	require.Equal(t, 20, r.Len())
	snap := r.Snapshot()
	require.Len(t, snap, 20)
	assert.Equal(t, uint64(5), snap[0].Frame.SequenceNumber, "oldest 5 entries should have been evicted")
	assert.Equal(t, uint64(24), snap[len(snap)-1].Frame.SequenceNumber)
}

func TestRingSnapshotPreservesFIFOOrder(t *testing.T) {
	r := NewRing(1, 5)
	for i := 0; i < 3; i++ {
		r.Append(model.RingBufferEntry{Frame: &model.Frame{SequenceNumber: uint64(i)}})
	}
	snap := r.Snapshot()
	require.Len(t, snap, 3)
	for i, e := range snap {
		assert.Equal(t, uint64(i), e.Frame.SequenceNumber)
	}
}
