// Package model holds the data types shared across the video pipeline:
// sources, frames, tracks, and the records fanned out to recorder, streamer,
// and alarm router.
package model

import (
	"math"
	"time"
)

// TrackState is the lifecycle state of a per-camera local track.
type TrackState string

const (
	TrackTentative TrackState = "tentative"
	TrackConfirmed TrackState = "confirmed"
	TrackLost      TrackState = "lost"
)

// AlarmMethod identifies an alarm delivery channel.
type AlarmMethod string

const (
	AlarmMethodHTTP      AlarmMethod = "http"
	AlarmMethodWebSocket AlarmMethod = "websocket"
	AlarmMethodMQTT      AlarmMethod = "mqtt"
)

// Credentials holds an RTSP/ONVIF username and password. The core does not
// log them. They carry no JSON tags, so a ConfigStore adapter that marshals a
// VideoSource (RedisStore does) stores them as given; internal/sourcecred
// provides envelope encryption, and no ConfigStore adapter applies it.
type Credentials struct {
	Username string
	Password string
}

// VideoSource is the identity of a camera. Immutable after the pipeline built
// from it is constructed; changing URL or resolution requires destroy and
// recreate (see VideoPipeline state machine).
type VideoSource struct {
	ID           string
	URL          string
	Credentials  Credentials
	TargetWidth  int
	TargetHeight int
	TargetFPS    float64
	PreviewPort  int
	EnableDetect bool
	EnableRecord bool
	DetectionConfigSnapshot map[string]string

	// OnvifAddr, when set, is an ONVIF device service address (xaddr) used
	// to resolve URL via GetStreamUri before connecting, instead of
	// treating URL as an already-resolved RTSP endpoint. See
	// internal/decoder's ONVIF resolution step (SPEC_FULL.md §4.16).
	OnvifAddr string
}

// Frame is one decoded video frame, owned by the pipeline for the duration of
// one processing pass. After analysis it is either cloned into the ring
// buffer, cloned into the streamer, or dropped — never mutated post fan-out.
type Frame struct {
	Pixels         []byte
	Width          int
	Height         int
	CaptureTime    time.Time
	SequenceNumber uint64
	CameraID       string
}

// Clone returns a deep copy of the frame's pixel buffer, safe for a sink to
// retain past the processing pass it received it in.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	cp := *f
	cp.Pixels = make([]byte, len(f.Pixels))
	copy(cp.Pixels, f.Pixels)
	return &cp
}

// BoundingBox is a pixel-space axis-aligned box.
type BoundingBox struct {
	X      int
	Y      int
	Width  int
	Height int
}

// IoU returns the intersection-over-union of two boxes in [0,1].
func (b BoundingBox) IoU(o BoundingBox) float64 {
	ax1, ay1, ax2, ay2 := b.X, b.Y, b.X+b.Width, b.Y+b.Height
	bx1, by1, bx2, by2 := o.X, o.Y, o.X+o.Width, o.Y+o.Height

	ix1, iy1 := max(ax1, bx1), max(ay1, by1)
	ix2, iy2 := min(ax2, bx2), min(ay2, by2)

	iw, ih := ix2-ix1, iy2-iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := float64(iw * ih)
	union := float64(b.Width*b.Height+o.Width*o.Height) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Embedding is an L2-ish feature vector used for re-identification.
type Embedding []float32

// CosineSimilarity returns cosine similarity in [-1,1]; 0 if either vector is
// empty or zero-length.
func CosineSimilarity(a, b Embedding) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Detection is one per-frame detector output.
type Detection struct {
	BBox       BoundingBox
	ClassLabel string
	Confidence float64
	Embedding  Embedding
}

// Track is a per-camera short-term identity.
type Track struct {
	LocalID         uint64
	FirstSeen       time.Time
	LastSeen        time.Time
	LatestBBox      BoundingBox
	RollingEmbedding Embedding
	State           TrackState
	ConsecutiveHits int
	ConsecutiveMiss int
}

// GlobalTrack unifies local tracks across cameras into a stable identity.
type GlobalTrack struct {
	GlobalID               uint64
	Members                map[CameraLocalKey]struct{}
	RepresentativeEmbedding Embedding
	LastActivity           time.Time
}

// CameraLocalKey identifies a (camera, local track) pair.
type CameraLocalKey struct {
	CameraID string
	LocalID  uint64
}

// BehaviorEvent is emitted by the rule engine.
type BehaviorEvent struct {
	Type          string
	RuleID        string
	ObjectRef     CameraLocalKey
	Confidence    float64
	TimestampUTC  time.Time
	BBox          BoundingBox
	Metadata      string
}

// FrameResult is the fan-out record handed to recorder, streamer, and alarm
// router for one processed frame.
type FrameResult struct {
	Frame           *Frame
	Detections      []Detection
	LocalTrackIDs   []uint64
	GlobalTrackIDs  []uint64
	FaceLabels      []string
	PlateLabels     []string
	ActiveROIs      []string
	BehaviorEvents  []BehaviorEvent
}

// AlarmPayload is the normalized record enqueued to the AlarmRouter.
type AlarmPayload struct {
	AlarmID      string
	EventType    string
	CameraID     string
	RuleID       string
	ObjectID     string
	Confidence   float64
	Priority     int
	TimestampUTC time.Time
	Metadata     string
	BBox         BoundingBox
	TestFlag     bool

	enqueueOrder uint64
}

// EnqueueOrder returns the monotonic sequence number assigned at enqueue
// time, used to break priority ties (oldest first).
func (a AlarmPayload) EnqueueOrder() uint64 { return a.enqueueOrder }

// WithEnqueueOrder returns a copy stamped with the given sequence number.
func (a AlarmPayload) WithEnqueueOrder(n uint64) AlarmPayload {
	a.enqueueOrder = n
	return a
}

// AlarmConfig describes one configured delivery channel.
type AlarmConfig struct {
	ID                  string
	Method              AlarmMethod
	Enabled             bool
	Priority            int
	MethodSpecificConfig map[string]string
}

// RingBufferEntry is one pre-roll frame retained by the ring buffer.
type RingBufferEntry struct {
	Frame       *Frame
	Detections  []Detection
	LocalIDs    []uint64
	Labels      []string
	CaptureTime time.Time
}

// EventRecord is handed to the EventSink collaborator after a recording
// stops. CameraID must always be the true camera id — never a hash of
// internal frame-pointer state (see SPEC_FULL.md Open Question resolution).
type EventRecord struct {
	CameraID     string
	Type         string
	Path         string
	Confidence   float64
	Metadata     string
	TimestampUTC time.Time
}
