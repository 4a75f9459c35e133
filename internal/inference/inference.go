// Package inference implements the Inferencer (C5): a polymorphic object
// detector and identity embedder over a capability set. Real models are
// treated as opaque backends supplied externally (spec.md §1); this package
// defines the seam (Inferencer) and ships one capability-tagged mock
// implementation so pipelines have something to run against out of the box.
package inference

import (
	"math/rand"
	"sync"

	"github.com/edgevision/aibox/internal/model"
)

// Capability is one feature an Inferencer backend may advertise.
type Capability string

const (
	CapDetect        Capability = "detect"
	CapEmbed         Capability = "embed"
	CapRecognizeFace Capability = "recognize-face"
	CapRecognizePlate Capability = "recognize-plate"
)

// Inferencer is the capability-tagged variant every pipeline binds to at
// init time. Operations are synchronous per call; a backend advertises
// re-entrancy via Reentrant() so the pipeline knows whether to serialize
// calls behind a lock.
type Inferencer interface {
	Capabilities() map[Capability]bool
	Reentrant() bool

	// Detect returns zero or more detections for frame. Failure is
	// non-fatal: implementations return an empty (or nil) slice for
	// per-frame inference failures, matching spec.md §4.5 ("Failure is
	// non-fatal: returns an empty result set for that frame").
	Detect(frame *model.Frame) []model.Detection

	// Embed returns an identity embedding for the given crop, or nil if
	// embedding isn't supported or failed.
	Embed(frame *model.Frame, bbox model.BoundingBox) model.Embedding

	// RecognizeFace returns a label for a face crop, or "" if unrecognized.
	RecognizeFace(frame *model.Frame, bbox model.BoundingBox) string

	// RecognizePlate returns a label for a plate crop, or "" if unrecognized.
	RecognizePlate(frame *model.Frame, bbox model.BoundingBox) string
}

// Serialized wraps a non-reentrant Inferencer behind a single lock, so
// pipelines never need to know whether their bound backend is safe for
// concurrent calls.
type Serialized struct {
	inner Inferencer
	mu    sync.Mutex
}

// Bind returns inner directly if it declares itself re-entrant, otherwise
// wraps it to serialize all calls.
func Bind(inner Inferencer) Inferencer {
	if inner.Reentrant() {
		return inner
	}
	return &Serialized{inner: inner}
}

func (s *Serialized) Capabilities() map[Capability]bool { return s.inner.Capabilities() }
func (s *Serialized) Reentrant() bool                   { return true }

func (s *Serialized) Detect(frame *model.Frame) []model.Detection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Detect(frame)
}

func (s *Serialized) Embed(frame *model.Frame, bbox model.BoundingBox) model.Embedding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Embed(frame, bbox)
}

func (s *Serialized) RecognizeFace(frame *model.Frame, bbox model.BoundingBox) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.RecognizeFace(frame, bbox)
}

func (s *Serialized) RecognizePlate(frame *model.Frame, bbox model.BoundingBox) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.RecognizePlate(frame, bbox)
}

// Registry resolves a named backend by a string key, the same shape as a
// vendor-adapter factory — generalized here from "vendor" to "capability set."
type Registry struct {
	mu       sync.RWMutex
	backends map[string]func() Inferencer
}

// NewRegistry returns a Registry pre-seeded with the "mock" backend.
func NewRegistry() *Registry {
	r := &Registry{backends: make(map[string]func() Inferencer)}
	r.Register("mock", func() Inferencer { return NewMockDetector() })
	return r
}

// Register adds or replaces a named backend constructor.
func (r *Registry) Register(name string, ctor func() Inferencer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = ctor
}

// Resolve constructs a fresh, capability-bound Inferencer for name.
func (r *Registry) Resolve(name string) (Inferencer, bool) {
	r.mu.RLock()
	ctor, ok := r.backends[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return Bind(ctor()), true
}

// cocoToLabel is a short list of COCO-style class names (its indices are not
// COCO class ids), used as the label vocabulary for the mock detector below.
var cocoToLabel = []string{"person", "bicycle", "car", "motorcycle", "bus", "truck", "bird", "cat", "dog", "bag"}

// MockDetector is a capability-tagged stand-in for a real detection/embedding
// model: plausible object counts and confidences rather than a trained
// model's actual output.
type MockDetector struct {
	rnd *rand.Rand
	mu  sync.Mutex
}

// NewMockDetector returns a MockDetector with capabilities {detect, embed}.
func NewMockDetector() *MockDetector {
	return &MockDetector{rnd: rand.New(rand.NewSource(1))}
}

func (m *MockDetector) Capabilities() map[Capability]bool {
	return map[Capability]bool{CapDetect: true, CapEmbed: true}
}

// Reentrant is false: the mock keeps a private, non-thread-safe PRNG, the
// same constraint a real model with internal scratch buffers would have.
func (m *MockDetector) Reentrant() bool { return false }

func (m *MockDetector) Detect(frame *model.Frame) []model.Detection {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Detection

	numPeople := 1 + m.rnd.Intn(3)
	for range numPeople {
		out = append(out, model.Detection{
			ClassLabel: "person",
			Confidence: 0.7 + m.rnd.Float64()*0.25,
			BBox:       m.randomBBox(frame),
		})
	}

	if m.rnd.Float32() < 0.4 {
		out = append(out, model.Detection{
			ClassLabel: cocoToLabel[2+m.rnd.Intn(3)], // car/motorcycle/bus
			Confidence: 0.65 + m.rnd.Float64()*0.3,
			BBox:       m.randomBBox(frame),
		})
	}

	if m.rnd.Float32() < 0.2 {
		out = append(out, model.Detection{
			ClassLabel: cocoToLabel[6+m.rnd.Intn(3)], // bird/cat/dog
			Confidence: 0.55 + m.rnd.Float64()*0.35,
			BBox:       m.randomBBox(frame),
		})
	}

	return out
}

func (m *MockDetector) randomBBox(frame *model.Frame) model.BoundingBox {
	w, h := frame.Width, frame.Height
	if w == 0 {
		w = 640
	}
	if h == 0 {
		h = 480
	}
	bw := int((0.1 + m.rnd.Float64()*0.2) * float64(w))
	bh := int((0.15 + m.rnd.Float64()*0.25) * float64(h))
	x := m.rnd.Intn(max(1, w-bw))
	y := m.rnd.Intn(max(1, h-bh))
	return model.BoundingBox{X: x, Y: y, Width: bw, Height: bh}
}

func (m *MockDetector) Embed(frame *model.Frame, bbox model.BoundingBox) model.Embedding {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Deterministic pseudo-embedding derived from crop geometry, enough for
	// the reconciler's cosine-similarity gating to behave sensibly in tests:
	// near-identical crops produce near-identical vectors.
	e := make(model.Embedding, 8)
	seed := float32(bbox.X+bbox.Y) / float32(max(1, frame.Width+frame.Height))
	for i := range e {
		e[i] = seed + float32(i)*0.001
	}
	return e
}

func (m *MockDetector) RecognizeFace(*model.Frame, model.BoundingBox) string  { return "" }
func (m *MockDetector) RecognizePlate(*model.Frame, model.BoundingBox) string { return "" }
