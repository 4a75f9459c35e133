package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgevision/aibox/internal/model"
)

func TestNewDetectionCreatesTentativeTrack(t *testing.T) {
	tr := New(DefaultParams())
	ids := tr.Update([]model.Detection{{BBox: model.BoundingBox{X: 0, Y: 0, Width: 10, Height: 10}}}, 0, int64(time.Second))
	require.Len(t, ids, 1)
	track, ok := tr.Get(ids[0])
	require.True(t, ok)
	assert.Equal(t, model.TrackTentative, track.State)
}

func TestSameSpotDetectionReassociatesSameTrack(t *testing.T) {
	tr := New(DefaultParams())
	bbox := model.BoundingBox{X: 100, Y: 100, Width: 40, Height: 40}

	var lastID uint64
	for i := 0; i < 5; i++ {
		ids := tr.Update([]model.Detection{{BBox: bbox}}, int64(i) * 1_000_000, 10_000_000_000)
		require.Len(t, ids, 1)
		if i > 0 {
			assert.Equal(t, lastID, ids[0])
		}
		lastID = ids[0]
	}

	track, ok := tr.Get(lastID)
	require.True(t, ok)
	assert.Equal(t, model.TrackConfirmed, track.State)
}

func TestMissingDetectionsAgeTrackToLost(t *testing.T) {
	p := DefaultParams()
	p.LostMisses = 2
	tr := New(p)
	bbox := model.BoundingBox{X: 0, Y: 0, Width: 10, Height: 10}

	ids := tr.Update([]model.Detection{{BBox: bbox}}, 0, 1_000_000_000_000)
	id := ids[0]

	tr.Update(nil, 1, 1_000_000_000_000)
	tr.Update(nil, 2, 1_000_000_000_000)

	track, ok := tr.Get(id)
	require.True(t, ok)
	assert.Equal(t, model.TrackLost, track.State)
}

func TestTrackDestroyedAfterLostTimeout(t *testing.T) {
	tr := New(DefaultParams())
	bbox := model.BoundingBox{X: 0, Y: 0, Width: 10, Height: 10}
	ids := tr.Update([]model.Detection{{BBox: bbox}}, 0, 100)
	id := ids[0]

	tr.Update(nil, 1000, 100) // far beyond lostTimeoutNanos=100

	_, ok := tr.Get(id)
	assert.False(t, ok)
}
