// Package tracker implements the per-camera Tracker (C6): detection-to-track
// association by IoU plus embedding similarity, with a
// Tentative→Confirmed→Lost lifecycle.
package tracker

import (
	"sort"
	"time"

	"github.com/edgevision/aibox/internal/model"
)

func unixNanoTime(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}

// Params tunes the association and lifecycle thresholds.
type Params struct {
	// Lambda weights cosine distance against IoU in the cost function:
	// cost = costIoU + Lambda*cosineDistance(embedding).
	Lambda float64
	// MaxCost rejects an association whose cost exceeds this value.
	MaxCost int
	// ConfirmHits is N: consecutive hits needed to promote Tentative->Confirmed.
	ConfirmHits int
	// LostMisses is M: consecutive misses needed to demote ->Lost.
	LostMisses int
}

// DefaultParams mirrors common short-term-tracker defaults.
func DefaultParams() Params {
	return Params{Lambda: 0.5, MaxCost: 1, ConfirmHits: 3, LostMisses: 5}
}

// Tracker holds one camera's live track set. Not safe for concurrent use —
// it is owned exclusively by its VideoPipeline's infer-track-analyze worker.
type Tracker struct {
	params  Params
	tracks  map[uint64]*model.Track
	nextID  uint64
	lostTTL int64 // nanoseconds; not read, Update takes lostTimeoutNanos per call
}

// New returns an empty Tracker.
func New(params Params) *Tracker {
	return &Tracker{params: params, tracks: make(map[uint64]*model.Track)}
}

// Update associates detections with existing tracks, creates new tracks for
// unmatched detections, ages unmatched tracks toward Lost, and destroys
// tracks whose time since last update exceeds lostTimeout. Returns the local
// track id assigned to each input detection, in the same order.
func (t *Tracker) Update(detections []model.Detection, now int64, lostTimeoutNanos int64) []uint64 {
	assignments := t.assign(detections)

	matchedTrackIDs := make(map[uint64]bool, len(detections))
	ids := make([]uint64, len(detections))

	for di, det := range detections {
		if trackID, ok := assignments[di]; ok {
			tr := t.tracks[trackID]
			tr.LatestBBox = det.BBox
			if len(det.Embedding) > 0 {
				tr.RollingEmbedding = ema(tr.RollingEmbedding, det.Embedding, 0.3)
			}
			tr.LastSeen = unixNanoTime(now)
			tr.ConsecutiveHits++
			tr.ConsecutiveMiss = 0
			if tr.State == model.TrackTentative && tr.ConsecutiveHits >= t.params.ConfirmHits {
				tr.State = model.TrackConfirmed
			}
			ids[di] = trackID
			matchedTrackIDs[trackID] = true
			continue
		}

		t.nextID++
		id := t.nextID
		t.tracks[id] = &model.Track{
			LocalID:          id,
			FirstSeen:        unixNanoTime(now),
			LastSeen:         unixNanoTime(now),
			LatestBBox:       det.BBox,
			RollingEmbedding: det.Embedding,
			State:            model.TrackTentative,
			ConsecutiveHits:  1,
		}
		ids[di] = id
		matchedTrackIDs[id] = true
	}

	for id, tr := range t.tracks {
		if matchedTrackIDs[id] {
			continue
		}
		tr.ConsecutiveMiss++
		tr.ConsecutiveHits = 0
		if tr.ConsecutiveMiss >= t.params.LostMisses {
			tr.State = model.TrackLost
		}
		if now-tr.LastSeen.UnixNano() > lostTimeoutNanos {
			delete(t.tracks, id)
		}
	}

	return ids
}

// assign performs greedy Hungarian-style minimum-cost matching: repeatedly
// pick the globally cheapest (detection, track) pair under MaxCost, removing
// both from further consideration. This is the textbook greedy approximation
// to the assignment problem used when the class of candidate pairs is small
// per frame, which holds here (bounded detections per camera frame).
func (t *Tracker) assign(detections []model.Detection) map[int]uint64 {
	type pair struct {
		di, trackID int
		cost        float64
	}
	trackIDs := make([]uint64, 0, len(t.tracks))
	for id := range t.tracks {
		trackIDs = append(trackIDs, id)
	}

	var candidates []pair
	for di, det := range detections {
		for _, id := range trackIDs {
			tr := t.tracks[id]
			costIoU := 1 - det.BBox.IoU(tr.LatestBBox)
			cosDist := 1 - model.CosineSimilarity(det.Embedding, tr.RollingEmbedding)
			cost := costIoU + t.params.Lambda*cosDist
			if cost <= float64(t.params.MaxCost) {
				candidates = append(candidates, pair{di: di, trackID: int(id), cost: cost})
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].cost < candidates[j].cost })

	assigned := make(map[int]uint64)
	usedDet := make(map[int]bool)
	usedTrack := make(map[int]bool)
	for _, c := range candidates {
		if usedDet[c.di] || usedTrack[c.trackID] {
			continue
		}
		assigned[c.di] = uint64(c.trackID)
		usedDet[c.di] = true
		usedTrack[c.trackID] = true
	}
	return assigned
}

// Get returns a snapshot of one track, if present.
func (t *Tracker) Get(id uint64) (model.Track, bool) {
	tr, ok := t.tracks[id]
	if !ok {
		return model.Track{}, false
	}
	return *tr, true
}

// Count returns the number of live tracks (any state).
func (t *Tracker) Count() int { return len(t.tracks) }

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
