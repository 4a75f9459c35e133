package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgevision/aibox/internal/behavior"
	"github.com/edgevision/aibox/internal/inference"
	"github.com/edgevision/aibox/internal/model"
	"github.com/edgevision/aibox/internal/reconciler"
	"github.com/edgevision/aibox/internal/tracker"
)

// newTestPipeline builds a Pipeline with its processing collaborators wired
// directly, bypassing Init/decoder.Open (which needs a live RTSP endpoint).
func newTestPipeline(t *testing.T, src model.VideoSource) *Pipeline {
	t.Helper()
	p := New(src, Deps{
		Reconciler: reconciler.New(reconciler.DefaultParams(), nil),
		Inferencer: inference.Bind(inference.NewMockDetector()),
	})
	p.inferencer = p.deps.Inferencer
	p.tracker = tracker.New(tracker.DefaultParams())
	p.analyzer = behavior.New()
	return p
}

func testFrame() *model.Frame {
	return &model.Frame{
		Pixels:         make([]byte, 32*32*3),
		Width:          32,
		Height:         32,
		CaptureTime:    time.Now().UTC(),
		SequenceNumber: 1,
		CameraID:       "cam1",
	}
}

func TestProcessOneAssignsLocalAndGlobalTrackIDs(t *testing.T) {
	src := model.VideoSource{ID: "cam1", EnableDetect: true}
	p := newTestPipeline(t, src)

	p.processOne(testFrame())

	require.Equal(t, 1, len(p.fanoutQueue))
	item := <-p.fanoutQueue
	require.NotEmpty(t, item.detections)
	assert.Len(t, item.localIDs, len(item.detections))
	assert.Len(t, item.globalIDs, len(item.detections))
	for _, gid := range item.globalIDs {
		assert.NotZero(t, gid)
	}
}

func TestDetectionDisabledSkipsInference(t *testing.T) {
	src := model.VideoSource{ID: "cam1", EnableDetect: false}
	p := newTestPipeline(t, src)
	p.detectEnabled.Store(false)

	p.processOne(testFrame())

	item := <-p.fanoutQueue
	assert.Empty(t, item.detections)
}

func TestSetDetectionEnabledTakesEffectNextFrame(t *testing.T) {
	src := model.VideoSource{ID: "cam1", EnableDetect: false}
	p := newTestPipeline(t, src)
	p.detectEnabled.Store(false)

	p.processOne(testFrame())
	first := <-p.fanoutQueue
	assert.Empty(t, first.detections)

	p.SetDetectionEnabled(true)
	p.processOne(testFrame())
	second := <-p.fanoutQueue
	assert.NotEmpty(t, second.detections)
}

func TestFanoutQueueOverflowIncrementsDropCounter(t *testing.T) {
	src := model.VideoSource{ID: "cam1", EnableDetect: true}
	p := newTestPipeline(t, src)

	for i := 0; i < fanoutQueueBound+3; i++ {
		p.processOne(testFrame())
	}

	assert.LessOrEqual(t, len(p.fanoutQueue), fanoutQueueBound)
	assert.Greater(t, p.fanoutDrops.Load(), uint64(0))
}

func TestStatusReflectsFramesSeenAndState(t *testing.T) {
	src := model.VideoSource{ID: "cam1", EnableDetect: true}
	p := newTestPipeline(t, src)

	assert.Equal(t, StateCreated, p.State())

	p.framesSeen.Add(3)
	p.lastFrameAt.Store(time.Now())

	st := p.Status()
	assert.Equal(t, "cam1", st.CameraID)
	assert.EqualValues(t, 3, st.FramesDecoded)
	assert.False(t, st.LastFrameTime.IsZero())
}

func TestFanOutOneToleratesMissingCollaborators(t *testing.T) {
	src := model.VideoSource{ID: "cam1", EnableDetect: true, EnableRecord: false}
	p := newTestPipeline(t, src)

	frame := testFrame()
	p.processOne(frame)
	item := <-p.fanoutQueue

	// No recorder/streamer/alarm router wired: fanOutOne must not panic on
	// nil collaborators, matching spec.md's "sinks are independently
	// optional per camera" posture.
	assert.NotPanics(t, func() { p.fanOutOne(item) })
}
