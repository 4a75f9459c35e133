package recording

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgevision/aibox/internal/eventsink"
	"github.com/edgevision/aibox/internal/model"
	"github.com/edgevision/aibox/internal/obslog"
)

const persistTimeout = 5 * time.Second

// Mode distinguishes a manual-duration recording from an event-triggered one.
type Mode string

const (
	ModeManual Mode = "manual"
	ModeEvent  Mode = "event"
)

// Trigger starts or extends a recording.
type Trigger struct {
	Mode            Mode
	EventType       string // used in the clip filename for ModeEvent
	Confidence      float64
	Metadata        string
	RequestedDuration time.Duration // ModeManual
	PostRoll          time.Duration // ModeEvent
}

// clipWriter abstracts the container/codec write path. The production
// implementation here is a length-prefixed raw-frame container, not a real
// MP4 muxer — no video container/codec library was present anywhere in the
// retrieved pack, so this stands in for one the way internal/decoder's
// DefaultPixelDecoder stands in for H.264 decode.
type clipWriter struct {
	f            *os.File
	bytesWritten int64
}

func openClipWriter(path string) (*clipWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &clipWriter{f: f}, nil
}

func (w *clipWriter) WriteFrame(frame *model.Frame) error {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(frame.Pixels)))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(frame.SequenceNumber))
	if _, err := w.f.Write(hdr[:]); err != nil {
		return err
	}
	w.bytesWritten += int64(len(hdr))
	n, err := w.f.Write(frame.Pixels)
	w.bytesWritten += int64(n)
	return err
}

func (w *clipWriter) Close() (int64, error) {
	err := w.f.Close()
	return w.bytesWritten, err
}

// Recorder owns one camera's ring buffer and active clip, implementing the
// pre-roll-then-live-tail contract of spec.md §4.8.
type Recorder struct {
	cameraID  string
	outputDir string
	sink      eventsink.EventSink
	log       *obslog.Logger

	mu           sync.Mutex
	ring         *Ring
	active       *activeClip
	busy         bool

	persistWG sync.WaitGroup
}

type activeClip struct {
	writer       *clipWriter
	path         string
	mode         Mode
	eventType    string
	confidence   float64
	metadata     string
	startedAt    time.Time
	stopDeadline time.Time // ModeEvent only; extended by re-trigger
}

// NewRecorder returns a Recorder with a pre-roll ring sized for
// preRollSeconds at fps.
func NewRecorder(cameraID, outputDir string, preRollSeconds, fps float64, sink eventsink.EventSink) *Recorder {
	return &Recorder{
		cameraID:  cameraID,
		outputDir: outputDir,
		sink:      sink,
		log:       obslog.New("recording"),
		ring:      NewRing(preRollSeconds, fps),
	}
}

// Observe appends one post-analysis frame to the pre-roll ring and, if a
// clip is active, writes it as the live tail. Call once per processed frame
// regardless of trigger state.
func (r *Recorder) Observe(frame *model.Frame, detections []model.Detection, localIDs []uint64, labels []string, now time.Time) {
	entry := model.RingBufferEntry{
		Frame:       frame.Clone(),
		Detections:  detections,
		LocalIDs:    localIDs,
		Labels:      labels,
		CaptureTime: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.ring.Append(entry)

	if r.active == nil {
		return
	}
	if err := r.writeOverlaidFrame(r.active, entry, now); err != nil {
		r.log.Warnf("camera %s: live write failed, stopping clip: %v", r.cameraID, err)
		r.stopLocked(now)
		return
	}
	if r.active.mode == ModeEvent && now.After(r.active.stopDeadline) {
		r.stopLocked(now)
	}
}

// Trigger starts a new clip (flushing the pre-roll ring) or, if one is
// already active in Event mode, extends its stop deadline. Returns false
// (RecorderBusy=false) if opening the clip file failed.
func (r *Recorder) Trigger(t Trigger, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		if r.active.mode == ModeEvent && t.Mode == ModeEvent {
			deadline := now.Add(t.PostRoll)
			if deadline.After(r.active.stopDeadline) {
				r.active.stopDeadline = deadline
			}
		}
		return true
	}

	eventType := t.EventType
	if eventType == "" {
		eventType = "manual"
	}
	filename := fmt.Sprintf("%s_%s_%s.mp4", r.cameraID, eventType, now.UTC().Format("20060102T150405.000Z"))
	path := r.outputDir + "/" + filename

	w, err := openClipWriter(path)
	if err != nil {
		r.log.Errorf("camera %s: open clip failed: %v", r.cameraID, err)
		r.busy = false
		return false
	}

	clip := &activeClip{
		writer:     w,
		path:       path,
		mode:       t.Mode,
		eventType:  eventType,
		confidence: t.Confidence,
		metadata:   t.Metadata,
		startedAt:  now,
	}
	if t.Mode == ModeEvent {
		clip.stopDeadline = now.Add(t.PostRoll)
	} else {
		clip.stopDeadline = now.Add(t.RequestedDuration)
	}
	r.active = clip
	r.busy = true

	for _, entry := range r.ring.Snapshot() {
		if err := r.writeOverlaidFrame(clip, entry, entry.CaptureTime); err != nil {
			r.log.Warnf("camera %s: pre-roll flush write failed: %v", r.cameraID, err)
			r.stopLocked(now)
			return true
		}
	}
	return true
}

// Stop forces the active clip to end, if any, regardless of its deadline.
func (r *Recorder) Stop(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked(now)
}

// Busy reports whether a clip is currently being written.
func (r *Recorder) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

func (r *Recorder) writeOverlaidFrame(clip *activeClip, entry model.RingBufferEntry, now time.Time) error {
	overlaid := entry.Frame.Clone()
	overlaid.Pixels = RenderOverlay(entry.Frame, entry.Detections, now.UTC().Format(time.RFC3339))
	return clip.writer.WriteFrame(overlaid)
}

func (r *Recorder) stopLocked(now time.Time) {
	clip := r.active
	if clip == nil {
		return
	}
	r.active = nil
	r.busy = false

	if _, err := clip.writer.Close(); err != nil {
		r.log.Warnf("camera %s: clip close error, bytes written are preserved: %v", r.cameraID, err)
	}

	rec := model.EventRecord{
		CameraID:     r.cameraID,
		Type:         clip.eventType,
		Path:         clip.path,
		Confidence:   clip.confidence,
		Metadata:     clip.metadata,
		TimestampUTC: now,
	}
	r.persistWG.Add(1)
	go r.persist(rec)
}

// Close waits for any in-flight event persistence started by a prior Stop
// to finish. Call after Stop returns, never while holding mu.
func (r *Recorder) Close() {
	r.persistWG.Wait()
}

func (r *Recorder) persist(rec model.EventRecord) {
	defer r.persistWG.Done()
	if r.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if !r.sink.InsertEvent(ctx, rec) {
		r.log.Errorf("camera %s: event persistence failed for %s (id=%s), clip retained", rec.CameraID, rec.Path, uuid.New())
	}
}
