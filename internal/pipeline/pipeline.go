// Package pipeline implements the VideoPipeline (C11): the per-camera
// orchestrator threading FrameDecoder -> Inferencer -> Tracker ->
// CrossCameraReconciler -> BehaviorAnalyzer -> {Recorder, PreviewStreamer,
// AlarmRouter}. Three internal worker roles mirror spec.md §4.11: pull-decode,
// infer-track-analyze, fan-out, each separated by a bounded, drop-on-full
// channel the way internal/nvr/monitor.go separates its scheduler from its
// worker pool with a bounded chan and a non-blocking send.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgevision/aibox/internal/alarm"
	"github.com/edgevision/aibox/internal/apperrors"
	"github.com/edgevision/aibox/internal/behavior"
	"github.com/edgevision/aibox/internal/decoder"
	"github.com/edgevision/aibox/internal/eventsink"
	"github.com/edgevision/aibox/internal/inference"
	"github.com/edgevision/aibox/internal/model"
	"github.com/edgevision/aibox/internal/obslog"
	"github.com/edgevision/aibox/internal/ports"
	"github.com/edgevision/aibox/internal/preview"
	"github.com/edgevision/aibox/internal/reconciler"
	"github.com/edgevision/aibox/internal/recording"
	"github.com/edgevision/aibox/internal/tracker"
)

// State is one node of the VideoPipeline state machine (spec.md §4.11).
type State string

const (
	StateCreated      State = "created"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateStopping     State = "stopping"
	StateTerminated   State = "terminated"
	StateInitFailed   State = "init_failed"
)

// inferQueueBound is the infer stage's input bound; beyond it, the
// pull-decode worker drops rather than blocks (spec.md §4.11 backpressure).
const inferQueueBound = 4

// fanoutQueueBound is the fan-out stage's input bound, same discipline.
const fanoutQueueBound = 4

// defaultShutdownTimeout bounds how long Stop waits for the workers to
// drain before forcing termination.
const defaultShutdownTimeout = 30 * time.Second

// defaultRecorderFlushWindow bounds how long Stop waits for an in-flight
// clip to close after the workers have already drained.
const defaultRecorderFlushWindow = 5 * time.Second

// defaultEventPostRoll bounds how long an event-triggered clip keeps
// recording past its last re-trigger when Deps.RecorderPostRoll is unset.
const defaultEventPostRoll = 10 * time.Second

// previewShutdownTimeout bounds how long Stop waits for the per-camera
// preview HTTP server to drain in-flight MJPEG connections.
const previewShutdownTimeout = 5 * time.Second

// Deps bundles the collaborators a Pipeline binds to at construction time.
// Reconciler and AlarmRouter are process-wide singletons, owned by
// TaskManager and shared across every camera's Pipeline.
type Deps struct {
	Ports        *ports.Registry
	Reconciler   *reconciler.Reconciler
	AlarmRouter  *alarm.Router
	Inferencer   inference.Inferencer
	RecordingDir string
	EventSink    eventsink.EventSink

	// RecorderPostRoll is how long an event-triggered clip keeps recording
	// past its last re-trigger. Zero uses defaultEventPostRoll.
	RecorderPostRoll time.Duration

	// InitialRules seeds the BehaviorAnalyzer at Init time, typically the
	// ConfigStore's currently persisted rule set.
	InitialRules []byte

	// OverlayDemand is the shared viewer-demand ref-counter wired into the
	// MJPEG preview server, if previews run in MJPEG mode.
	OverlayDemand *preview.OverlayDemand
}

// Status is a point-in-time snapshot for TaskManager's listStatus().
type Status struct {
	CameraID       string
	State          State
	LastFrameTime  time.Time
	FramesDecoded  uint64
	DecodeDrops    uint64
	FanoutDrops    uint64
	RecorderBusy   bool
	StreamerHealth preview.StreamHealth
	GlobalTracks   int
}

// Pipeline is one camera's end-to-end processing loop. Safe for concurrent
// reads of Status/State; lifecycle transitions are owned exclusively by its
// controlling goroutine (normally TaskManager).
type Pipeline struct {
	src  model.VideoSource
	deps Deps
	log  *obslog.Logger

	state atomic.Value // State

	decoder    *decoder.Decoder
	inferencer inference.Inferencer
	tracker    *tracker.Tracker
	analyzer   *behavior.Analyzer
	recorder   *recording.Recorder
	streamer   *preview.Streamer

	previewServer *http.Server

	detectEnabled    atomic.Bool
	lostTimeout      int64 // nanoseconds
	recorderPostRoll time.Duration

	decodeQueue chan *model.Frame
	fanoutQueue chan fanoutItem

	decodeDrops atomic.Uint64
	fanoutDrops atomic.Uint64
	framesSeen  atomic.Uint64
	lastFrameAt atomic.Value // time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

type fanoutItem struct {
	frame      *model.Frame
	detections []model.Detection
	localIDs   []uint64
	globalIDs  []uint64
	faceLabels []string
	now        time.Time
}

// New constructs a Pipeline in state Created. It does nothing observable
// until Init is called.
func New(src model.VideoSource, deps Deps) *Pipeline {
	p := &Pipeline{
		src:         src,
		deps:        deps,
		log:         obslog.New(fmt.Sprintf("pipeline:%s", src.ID)),
		decodeQueue: make(chan *model.Frame, inferQueueBound),
		fanoutQueue: make(chan fanoutItem, fanoutQueueBound),
		stop:        make(chan struct{}),
		lostTimeout: int64(30 * time.Second),
	}
	p.state.Store(StateCreated)
	p.detectEnabled.Store(src.EnableDetect)
	p.lastFrameAt.Store(time.Time{})
	return p
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State { return p.state.Load().(State) }

// CameraID returns the bound camera identity.
func (p *Pipeline) CameraID() string { return p.src.ID }

// Init opens the decoder, binds the inferencer, arms the tracker/analyzer,
// and arms the streamer. Any failure transitions to InitFailed; Init does not
// release the preview port, which the caller (TaskManager.AddVideoSource)
// releases on failure.
func (p *Pipeline) Init(ctx context.Context) error {
	p.state.Store(StateInitializing)

	d, err := decoder.Open(ctx, p.src, decoder.Options{})
	if err != nil {
		p.state.Store(StateInitFailed)
		return apperrors.New(apperrors.BackendUnavailable, "pipeline.Init", err)
	}
	p.decoder = d
	p.inferencer = p.deps.Inferencer
	p.tracker = tracker.New(tracker.DefaultParams())
	p.analyzer = behavior.New()
	if len(p.deps.InitialRules) > 0 {
		if err := p.analyzer.LoadRulesJSON(p.deps.InitialRules); err != nil {
			p.log.Warnf("camera %s: seed rule set failed: %v", p.src.ID, err)
		}
	}

	p.recorderPostRoll = p.deps.RecorderPostRoll
	if p.recorderPostRoll <= 0 {
		p.recorderPostRoll = defaultEventPostRoll
	}

	if p.src.EnableRecord {
		p.recorder = recording.NewRecorder(p.src.ID, p.deps.RecordingDir, 5, p.src.TargetFPS, p.deps.EventSink)
	}

	if p.src.PreviewPort != 0 {
		p.streamer = preview.NewMJPEGStreamer(p.src.ID, p.src.TargetFPS, 8)
		if p.deps.OverlayDemand != nil {
			p.streamer.MJPEG().SetOverlayDemand(p.deps.OverlayDemand)
		}
		p.previewServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", p.src.PreviewPort),
			Handler: p.streamer.MJPEG().Router(),
		}
	}

	p.state.Store(StateRunning)
	return nil
}

// SetRules installs a new rule set on the running BehaviorAnalyzer, taking
// effect on the next Evaluate call. Used by TaskManager to broadcast a
// hot-reloaded rule set to every active pipeline.
func (p *Pipeline) SetRules(raw []byte) error {
	return p.analyzer.LoadRulesJSON(raw)
}

// Start launches the three worker roles. Must only be called after a
// successful Init.
func (p *Pipeline) Start() {
	p.wg.Add(3)
	go p.pullDecodeLoop()
	go p.inferTrackAnalyzeLoop()
	go p.fanOutLoop()

	if p.previewServer != nil {
		p.wg.Add(1)
		go p.servePreview()
	}
}

// servePreview runs the per-camera MJPEG HTTP listener until Stop shuts it
// down. Owned and joined by p.wg like the other three worker roles.
func (p *Pipeline) servePreview() {
	defer p.wg.Done()
	if err := p.previewServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		p.log.Warnf("camera %s: preview server error: %v", p.src.ID, err)
	}
}

// SetDetectionEnabled is the thread-safe, no-reinit-needed config setter
// from spec.md §4.11: it takes effect on the next frame.
func (p *Pipeline) SetDetectionEnabled(enabled bool) {
	p.detectEnabled.Store(enabled)
}

// pullDecodeLoop owns the decoder and pushes frames into decodeQueue,
// dropping the newest frame (not blocking) when the infer stage is behind.
func (p *Pipeline) pullDecodeLoop() {
	defer p.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-p.stop
		cancel()
	}()

	for {
		frame, err := p.decoder.Next(ctx)
		if err != nil {
			if apperrors.Is(err, apperrors.StreamLost) {
				p.log.Warnf("camera %s: stream lost: %v", p.src.ID, err)
			}
			return
		}
		p.framesSeen.Add(1)
		p.lastFrameAt.Store(frame.CaptureTime)

		select {
		case p.decodeQueue <- frame:
		default:
			p.decodeDrops.Add(1)
		}
	}
}

// inferTrackAnalyzeLoop runs detection, tracking, reconciliation, and rule
// evaluation for each frame pulled from decodeQueue, then hands the result
// to the fan-out stage (dropping on overflow, same discipline as above).
func (p *Pipeline) inferTrackAnalyzeLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case frame, ok := <-p.decodeQueue:
			if !ok {
				return
			}
			p.processOne(frame)
		}
	}
}

func (p *Pipeline) processOne(frame *model.Frame) {
	now := frame.CaptureTime

	var detections []model.Detection
	if p.detectEnabled.Load() {
		detections = p.inferencer.Detect(frame)
	}

	for i := range detections {
		detections[i].Embedding = p.inferencer.Embed(frame, detections[i].BBox)
	}

	localIDs := p.tracker.Update(detections, now.UnixNano(), p.lostTimeout)

	globalIDs := make([]uint64, len(localIDs))
	if p.deps.Reconciler != nil {
		for i, lid := range localIDs {
			globalIDs[i] = p.deps.Reconciler.Reconcile(p.src.ID, lid, detections[i].Embedding, now)
		}
	}

	faceLabels := make([]string, len(detections))
	for i, det := range detections {
		if det.ClassLabel == "person" {
			faceLabels[i] = p.inferencer.RecognizeFace(frame, det.BBox)
		}
	}

	select {
	case p.fanoutQueue <- fanoutItem{
		frame:      frame,
		detections: detections,
		localIDs:   localIDs,
		globalIDs:  globalIDs,
		faceLabels: faceLabels,
		now:        now,
	}:
	default:
		p.fanoutDrops.Add(1)
	}
}

// fanOutLoop evaluates behavior rules and distributes the FrameResult to the
// recorder, streamer, and alarm router. None of these sinks may mutate the
// frame they receive; each clones if it needs to retain it past this pass.
func (p *Pipeline) fanOutLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case item, ok := <-p.fanoutQueue:
			if !ok {
				return
			}
			p.fanOutOne(item)
		}
	}
}

func (p *Pipeline) fanOutOne(item fanoutItem) {
	events, activeROIs := p.analyzer.Evaluate(p.src.ID, item.now, item.detections, item.localIDs, item.globalIDs)

	if p.recorder != nil {
		p.recorder.Observe(item.frame, item.detections, item.localIDs, item.faceLabels, item.now)
	}

	if p.streamer != nil {
		p.streamer.PushFrame(&model.FrameResult{
			Frame:          item.frame,
			Detections:     item.detections,
			LocalTrackIDs:  item.localIDs,
			GlobalTrackIDs: item.globalIDs,
			FaceLabels:     item.faceLabels,
			ActiveROIs:     activeROIs,
			BehaviorEvents: events,
		})
	}

	if p.recorder != nil {
		for _, ev := range events {
			p.recorder.Trigger(recording.Trigger{
				Mode:       recording.ModeEvent,
				EventType:  ev.Type,
				Confidence: ev.Confidence,
				Metadata:   ev.Metadata,
				PostRoll:   p.recorderPostRoll,
			}, item.now)
		}
	}

	if p.deps.AlarmRouter != nil {
		for _, ev := range events {
			p.deps.AlarmRouter.Trigger(p.src.ID, ev, false)
		}
	}
}

// Status returns a snapshot for TaskManager's listStatus().
func (p *Pipeline) Status() Status {
	st := Status{
		CameraID:      p.src.ID,
		State:         p.State(),
		FramesDecoded: p.framesSeen.Load(),
		DecodeDrops:   p.decodeDrops.Load(),
		FanoutDrops:   p.fanoutDrops.Load(),
	}
	if t, ok := p.lastFrameAt.Load().(time.Time); ok {
		st.LastFrameTime = t
	}
	if p.recorder != nil {
		st.RecorderBusy = p.recorder.Busy()
	}
	if p.streamer != nil && p.streamer.RTMP() != nil {
		st.StreamerHealth = p.streamer.RTMP().Health()
	}
	if p.deps.Reconciler != nil {
		st.GlobalTracks = p.deps.Reconciler.Count()
	}
	return st
}

// Stop signals the decoder and all three workers, waits up to timeout for
// them to drain, then finishes any active clip within flushWindow before
// releasing the preview port and transitioning to Terminated. A timeout of
// 0 uses the spec default (30s workers / 5s recorder flush).
func (p *Pipeline) Stop(timeout, flushWindow time.Duration) {
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	if flushWindow <= 0 {
		flushWindow = defaultRecorderFlushWindow
	}

	p.state.Store(StateStopping)
	close(p.stop)
	if p.decoder != nil {
		p.decoder.Close()
	}
	if p.previewServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), previewShutdownTimeout)
		if err := p.previewServer.Shutdown(shutdownCtx); err != nil {
			p.log.Warnf("camera %s: preview server shutdown: %v", p.src.ID, err)
		}
		cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		p.log.Warnf("camera %s: shutdown timeout exceeded, forcing termination", p.src.ID)
	}

	if p.recorder != nil {
		deadline := time.Now().Add(flushWindow)
		for p.recorder.Busy() && time.Now().Before(deadline) {
			time.Sleep(50 * time.Millisecond)
		}
		p.recorder.Stop(time.Now())
		p.recorder.Close()
	}

	if p.deps.Ports != nil {
		p.deps.Ports.Release(p.src.ID)
	}

	p.state.Store(StateTerminated)
}
