// Package taskmanager implements the TaskManager (C13): the fleet manager
// owning the cameraId -> VideoPipeline map, the single process-wide
// CrossCameraReconciler, and the two-phase addVideoSource contract from
// spec.md §4.13 that lets pipeline construction run outside any global lock
// without letting two concurrent adds for the same camera race each other.
package taskmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edgevision/aibox/internal/alarm"
	"github.com/edgevision/aibox/internal/apperrors"
	"github.com/edgevision/aibox/internal/eventsink"
	"github.com/edgevision/aibox/internal/inference"
	"github.com/edgevision/aibox/internal/lockhier"
	"github.com/edgevision/aibox/internal/model"
	"github.com/edgevision/aibox/internal/obslog"
	"github.com/edgevision/aibox/internal/pipeline"
	"github.com/edgevision/aibox/internal/ports"
	"github.com/edgevision/aibox/internal/preview"
	"github.com/edgevision/aibox/internal/reconciler"
)

type entryState int

const (
	entryPending entryState = iota
	entryActive
	entryRemoving
)

type entry struct {
	state    entryState
	pipeline *pipeline.Pipeline
}

// Options configures a TaskManager.
type Options struct {
	PortRangeLo      int
	PortRangeHi      int
	RecordingDir     string
	EventSink        eventsink.EventSink
	InferenceBackend string // resolved fresh per camera via the registry
	AlarmRouter      *alarm.Router
	ReconcilerParams reconciler.Params
	Topology         reconciler.Topology
	ShutdownTimeout  time.Duration
	RecorderFlush    time.Duration
	RecorderPostRoll time.Duration
	OverlayDemand    *preview.OverlayDemand
}

// TaskManager owns every camera's Pipeline plus the single shared
// Reconciler. All mutation of the entries map happens under mu; expensive
// work (port allocation, pipeline construction/init) happens outside it.
type TaskManager struct {
	mu      sync.Mutex
	entries map[string]*entry

	ports       *ports.Registry
	reconciler  *reconciler.Reconciler
	alarmRouter *alarm.Router
	inferencers *inference.Registry
	backendName string

	recordingDir     string
	eventSink        eventsink.EventSink
	shutdownTimeout  time.Duration
	recorderFlush    time.Duration
	recorderPostRoll time.Duration
	overlayDemand    *preview.OverlayDemand

	rulesMu      sync.Mutex
	currentRules []byte

	log *obslog.Logger
}

// New constructs a TaskManager. The reconciler is created here and destroyed
// last, on Shutdown, per spec.md §4.13.
func New(opts Options) *TaskManager {
	backend := opts.InferenceBackend
	if backend == "" {
		backend = "mock"
	}
	return &TaskManager{
		entries:          make(map[string]*entry),
		ports:            ports.New(opts.PortRangeLo, opts.PortRangeHi),
		reconciler:       reconciler.New(opts.ReconcilerParams, opts.Topology),
		alarmRouter:      opts.AlarmRouter,
		inferencers:      inference.NewRegistry(),
		backendName:      backend,
		recordingDir:     opts.RecordingDir,
		eventSink:        opts.EventSink,
		shutdownTimeout:  opts.ShutdownTimeout,
		recorderFlush:    opts.RecorderFlush,
		recorderPostRoll: opts.RecorderPostRoll,
		overlayDemand:    opts.OverlayDemand,
		log:              obslog.New("taskmanager"),
	}
}

// errAlreadyExists distinguishes "camera already has a pipeline or one is
// mid-construction/mid-teardown" from other AddVideoSource failures.
var errAlreadyExists = fmt.Errorf("camera already has a pipeline")

// AddVideoSource implements spec.md §4.13's reserve/release/construct/swap
// contract: a Pending marker is held under the TaskManager lock just long
// enough to claim the cameraId, all expensive work happens outside the
// lock, and the lock is re-acquired only to swap in the finished pipeline
// or roll back.
func (tm *TaskManager) AddVideoSource(ctx context.Context, src model.VideoSource) error {
	// chain is this call's lock-order record; each section below acquires
	// and releases its token before the next section acquires one, so the
	// only invariant lockhier checks is per-section, not across the whole
	// call (spec.md §4.2's ordering applies to locks held simultaneously).
	chain := lockhier.NewChain()

	tmTok := chain.Acquire(lockhier.TaskManager)
	tm.mu.Lock()
	if _, exists := tm.entries[src.ID]; exists {
		tm.mu.Unlock()
		tmTok.Release()
		return apperrors.New(apperrors.ConfigInvalid, "taskmanager.AddVideoSource", errAlreadyExists)
	}
	tm.entries[src.ID] = &entry{state: entryPending}
	tm.mu.Unlock()
	tmTok.Release()

	portTok := chain.Acquire(lockhier.PreviewPorts)
	port, err := tm.ports.Allocate(src.ID)
	portTok.Release()
	if err != nil {
		tm.removePending(src.ID)
		return apperrors.New(apperrors.ResourceExhausted, "taskmanager.AddVideoSource", err)
	}
	src.PreviewPort = port

	inferencer, ok := tm.inferencers.Resolve(tm.backendName)
	if !ok {
		tm.ports.Release(src.ID)
		tm.removePending(src.ID)
		return apperrors.New(apperrors.ConfigInvalid, "taskmanager.AddVideoSource", fmt.Errorf("unknown inference backend %q", tm.backendName))
	}

	p := pipeline.New(src, pipeline.Deps{
		Ports:            tm.ports,
		Reconciler:       tm.reconciler,
		AlarmRouter:      tm.alarmRouter,
		Inferencer:       inferencer,
		RecordingDir:     tm.recordingDir,
		EventSink:        tm.eventSink,
		RecorderPostRoll: tm.recorderPostRoll,
		OverlayDemand:    tm.overlayDemand,
		InitialRules:     tm.ruleSetSnapshot(),
	})

	if err := p.Init(ctx); err != nil {
		tm.ports.Release(src.ID)
		tm.removePending(src.ID)
		return err
	}

	tmTok2 := chain.Acquire(lockhier.TaskManager)
	tm.mu.Lock()
	e, stillPending := tm.entries[src.ID]
	if stillPending && e.state == entryPending {
		e.state = entryActive
		e.pipeline = p
		tm.mu.Unlock()
		tmTok2.Release()
		p.Start()
		return nil
	}
	tm.mu.Unlock()
	tmTok2.Release()

	// Rare cancellation race: the Pending marker was removed or replaced
	// while we were constructing. Roll back rather than leak the pipeline.
	tm.log.Warnf("camera %s: pending marker gone after init, rolling back", src.ID)
	p.Stop(tm.shutdownTimeout, tm.recorderFlush)
	tm.ports.Release(src.ID)
	return apperrors.New(apperrors.Fatal, "taskmanager.AddVideoSource", fmt.Errorf("pending marker lost during construction"))
}

// ruleSetSnapshot returns the currently known rule-set bytes, used to seed a
// newly constructed pipeline's BehaviorAnalyzer.
func (tm *TaskManager) ruleSetSnapshot() []byte {
	tm.rulesMu.Lock()
	defer tm.rulesMu.Unlock()
	return tm.currentRules
}

// UpdateRuleSet records the latest rule-set bytes and pushes them to every
// currently active pipeline's BehaviorAnalyzer. Called once at boot to seed
// the initial rule set (before any pipeline exists) and again by the config
// hot-reload watcher on every change.
func (tm *TaskManager) UpdateRuleSet(raw []byte) {
	tm.rulesMu.Lock()
	tm.currentRules = raw
	tm.rulesMu.Unlock()

	tm.mu.Lock()
	active := make([]*pipeline.Pipeline, 0, len(tm.entries))
	for _, e := range tm.entries {
		if e.state == entryActive {
			active = append(active, e.pipeline)
		}
	}
	tm.mu.Unlock()

	for _, p := range active {
		if err := p.SetRules(raw); err != nil {
			tm.log.Warnf("camera %s: apply reloaded rule set: %v", p.CameraID(), err)
		}
	}
}

func (tm *TaskManager) removePending(cameraID string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if e, ok := tm.entries[cameraID]; ok && e.state == entryPending {
		delete(tm.entries, cameraID)
	}
}

// RemoveVideoSource marks the entry Removing (rejecting concurrent adds for
// the same id), stops the pipeline outside the lock with a bounded timeout,
// then erases the entry.
func (tm *TaskManager) RemoveVideoSource(cameraID string) error {
	tm.mu.Lock()
	e, ok := tm.entries[cameraID]
	if !ok || e.state != entryActive {
		tm.mu.Unlock()
		return apperrors.New(apperrors.ConfigInvalid, "taskmanager.RemoveVideoSource", fmt.Errorf("no active pipeline for %q", cameraID))
	}
	e.state = entryRemoving
	p := e.pipeline
	tm.mu.Unlock()

	p.Stop(tm.shutdownTimeout, tm.recorderFlush)

	tm.mu.Lock()
	delete(tm.entries, cameraID)
	tm.mu.Unlock()
	return nil
}

// ListStatus returns a snapshot of every active pipeline's observable
// state, for the read-only status API.
func (tm *TaskManager) ListStatus() []pipeline.Status {
	tm.mu.Lock()
	active := make([]*pipeline.Pipeline, 0, len(tm.entries))
	for _, e := range tm.entries {
		if e.state == entryActive {
			active = append(active, e.pipeline)
		}
	}
	tm.mu.Unlock()

	out := make([]pipeline.Status, 0, len(active))
	for _, p := range active {
		out = append(out, p.Status())
	}
	return out
}

// Shutdown stops every active pipeline, then drops the reconciler — the
// reconciler is destroyed last, per spec.md §4.13.
func (tm *TaskManager) Shutdown() {
	tm.mu.Lock()
	pipelines := make([]*pipeline.Pipeline, 0, len(tm.entries))
	for id, e := range tm.entries {
		if e.state == entryActive {
			pipelines = append(pipelines, e.pipeline)
		}
		delete(tm.entries, id)
	}
	tm.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range pipelines {
		wg.Add(1)
		go func(p *pipeline.Pipeline) {
			defer wg.Done()
			p.Stop(tm.shutdownTimeout, tm.recorderFlush)
		}(p)
	}
	wg.Wait()

	tm.reconciler = nil
}

// Router exposes the read-only GET /status surface from spec.md §4.16.
func (tm *TaskManager) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", tm.handleStatus)
	return r
}

func (tm *TaskManager) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(tm.ListStatus()); err != nil {
		tm.log.Warnf("status encode failed: %v", err)
	}
}
