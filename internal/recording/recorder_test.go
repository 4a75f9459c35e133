package recording

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgevision/aibox/internal/model"
)

type fakeSink struct {
	records chan model.EventRecord
}

func newFakeSink() *fakeSink { return &fakeSink{records: make(chan model.EventRecord, 8)} }

func (f *fakeSink) InsertEvent(_ context.Context, rec model.EventRecord) bool {
	f.records <- rec
	return true
}

func testFrame(seq uint64) *model.Frame {
	const w, h = 4, 4
	return &model.Frame{
		Pixels:         make([]byte, w*h*3),
		Width:          w,
		Height:         h,
		CaptureTime:    time.Now(),
		SequenceNumber: seq,
		CameraID:       "cam1",
	}
}

func TestTriggerFlushesPreRollThenStopsAtDeadline(t *testing.T) {
	dir := t.TempDir()
	sink := newFakeSink()
	rec := NewRecorder("cam1", dir, 1, 10, sink) // 10-entry ring

	now := time.Now()
	for i := 0; i < 5; i++ {
		rec.Observe(testFrame(uint64(i)), nil, nil, nil, now)
	}

	ok := rec.Trigger(Trigger{Mode: ModeEvent, EventType: "intrusion", PostRoll: 2 * time.Second}, now)
	require.True(t, ok)
	assert.True(t, rec.Busy())

	rec.Observe(testFrame(5), nil, nil, nil, now.Add(time.Second))
	assert.True(t, rec.Busy(), "still within postRoll deadline")

	rec.Observe(testFrame(6), nil, nil, nil, now.Add(3*time.Second))
	assert.False(t, rec.Busy(), "deadline elapsed, clip should have stopped")

	select {
	case got := <-sink.records:
		assert.Equal(t, "cam1", got.CameraID, "EventRecord must carry the true camera id")
		assert.Equal(t, "intrusion", got.Type)
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("expected EventRecord to be persisted after stop")
	}
}

func TestRetriggerExtendsDeadlineWithoutNewFile(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder("cam1", dir, 1, 10, nil)
	now := time.Now()

	require.True(t, rec.Trigger(Trigger{Mode: ModeEvent, EventType: "loitering", PostRoll: time.Second}, now))
	require.True(t, rec.Trigger(Trigger{Mode: ModeEvent, EventType: "loitering", PostRoll: 3 * time.Second}, now.Add(500*time.Millisecond)))

	rec.Observe(testFrame(1), nil, nil, nil, now.Add(2*time.Second))
	assert.True(t, rec.Busy(), "re-trigger should have extended the deadline past 2s")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "re-trigger must not start a second clip file")
}

func TestManualStopEndsClipImmediately(t *testing.T) {
	dir := t.TempDir()
	sink := newFakeSink()
	rec := NewRecorder("cam1", dir, 1, 10, sink)
	now := time.Now()

	require.True(t, rec.Trigger(Trigger{Mode: ModeManual, RequestedDuration: time.Hour}, now))
	require.True(t, rec.Busy())

	rec.Stop(now.Add(time.Second))
	assert.False(t, rec.Busy())

	select {
	case got := <-sink.records:
		assert.Equal(t, "manual", got.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("expected EventRecord on manual stop")
	}
}
