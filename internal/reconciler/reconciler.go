// Package reconciler implements the CrossCameraReconciler (C10): it unifies
// per-camera local tracks into stable global identities using embedding
// similarity plus temporal/topological gates.
package reconciler

import (
	"sync"
	"time"

	"github.com/edgevision/aibox/internal/model"
)

// Topology declares which camera pairs are allowed to hand off an identity,
// e.g. physically adjacent cameras. A nil Topology allows every pair.
type Topology interface {
	Allowed(cameraA, cameraB string) bool
}

// AllowAllTopology permits every camera pair.
type AllowAllTopology struct{}

func (AllowAllTopology) Allowed(string, string) bool { return true }

// Params tunes the gating thresholds.
type Params struct {
	TauHigh           float64       // similarity >= TauHigh always gates
	TauLow            float64       // similarity >= TauLow gates if temporally plausible
	TemporalWindow    time.Duration // max gap for "temporally plausible"
	GlobalTTL         time.Duration // GlobalTracks idle longer than this are GC'd
	EmbeddingEMAAlpha float64
}

// DefaultParams mirrors typical re-identification thresholds.
func DefaultParams() Params {
	return Params{
		TauHigh:           0.85,
		TauLow:            0.65,
		TemporalWindow:    10 * time.Second,
		GlobalTTL:         5 * time.Minute,
		EmbeddingEMAAlpha: 0.3,
	}
}

// Reconciler holds the GlobalTrack table and its reverse index. All state is
// protected by a single lock at lock level CROSS_CAMERA; no pipeline lock is
// ever held across a call into Reconcile.
type Reconciler struct {
	mu       sync.Mutex
	params   Params
	topology Topology
	globals  map[uint64]*model.GlobalTrack
	reverse  map[model.CameraLocalKey]uint64
	nextID   uint64 // monotonic, never decremented — ids never recycle
}

// New returns an empty Reconciler.
func New(params Params, topology Topology) *Reconciler {
	if topology == nil {
		topology = AllowAllTopology{}
	}
	return &Reconciler{
		params:   params,
		topology: topology,
		globals:  make(map[uint64]*model.GlobalTrack),
		reverse:  make(map[model.CameraLocalKey]uint64),
	}
}

// Reconcile maps one (cameraId, localId) observation to a global id,
// allocating a new one if no existing GlobalTrack passes the similarity
// gate. embedding may be nil, in which case only an exact reverse-index hit
// can succeed (step 1 of spec.md §4.10's algorithm).
func (r *Reconciler) Reconcile(cameraID string, localID uint64, embedding model.Embedding, now time.Time) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := model.CameraLocalKey{CameraID: cameraID, LocalID: localID}

	if gid, ok := r.reverse[key]; ok {
		g := r.globals[gid]
		g.LastActivity = now
		if len(embedding) > 0 {
			g.RepresentativeEmbedding = ema(g.RepresentativeEmbedding, embedding, r.params.EmbeddingEMAAlpha)
		}
		return gid
	}

	var bestID uint64
	var bestScore = -2.0
	var bestActivity time.Time

	for gid, g := range r.globals {
		sim := model.CosineSimilarity(embedding, g.RepresentativeEmbedding)

		gated := sim >= r.params.TauHigh
		if !gated && sim >= r.params.TauLow {
			gated = r.temporallyPlausible(g, now) && r.topologyAllows(g, cameraID)
		}
		if !gated {
			continue
		}

		if sim > bestScore || (sim == bestScore && g.LastActivity.After(bestActivity)) {
			bestID = gid
			bestScore = sim
			bestActivity = g.LastActivity
		}
	}

	var gid uint64
	if bestScore > -2.0 {
		gid = bestID
		g := r.globals[gid]
		g.Members[key] = struct{}{}
		g.LastActivity = now
		if len(embedding) > 0 {
			g.RepresentativeEmbedding = ema(g.RepresentativeEmbedding, embedding, r.params.EmbeddingEMAAlpha)
		}
	} else {
		r.nextID++
		gid = r.nextID
		r.globals[gid] = &model.GlobalTrack{
			GlobalID:                gid,
			Members:                 map[model.CameraLocalKey]struct{}{key: {}},
			RepresentativeEmbedding: embedding,
			LastActivity:            now,
		}
	}

	r.reverse[key] = gid
	return gid
}

func (r *Reconciler) temporallyPlausible(g *model.GlobalTrack, now time.Time) bool {
	return now.Sub(g.LastActivity) <= r.params.TemporalWindow
}

func (r *Reconciler) topologyAllows(g *model.GlobalTrack, candidateCamera string) bool {
	for member := range g.Members {
		if !r.topology.Allowed(member.CameraID, candidateCamera) {
			return false
		}
	}
	return true
}

// GC removes GlobalTracks idle longer than GlobalTTL. Their ids are never
// reused (monotonic nextID), so a later reappearance always gets a fresh id.
func (r *Reconciler) GC(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for gid, g := range r.globals {
		if now.Sub(g.LastActivity) > r.params.GlobalTTL {
			for key := range g.Members {
				delete(r.reverse, key)
			}
			delete(r.globals, gid)
			removed++
		}
	}
	return removed
}

// Get returns a snapshot of one GlobalTrack.
func (r *Reconciler) Get(gid uint64) (model.GlobalTrack, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.globals[gid]
	if !ok {
		return model.GlobalTrack{}, false
	}
	return *g, true
}

// Count returns the number of live GlobalTracks.
func (r *Reconciler) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.globals)
}

func ema(prev, next model.Embedding, alpha float64) model.Embedding {
	if len(prev) == 0 {
		return next
	}
	if len(next) == 0 || len(prev) != len(next) {
		return prev
	}
	out := make(model.Embedding, len(prev))
	for i := range prev {
		out[i] = float32(float64(prev[i])*(1-alpha) + float64(next[i])*alpha)
	}
	return out
}
