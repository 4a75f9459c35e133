package reconciler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/edgevision/aibox/internal/model"
)

func TestSameCameraLocalTrackReturnsStableGlobalID(t *testing.T) {
	r := New(DefaultParams(), nil)
	now := time.Now()

	g1 := r.Reconcile("camA", 1, model.Embedding{1, 0, 0}, now)
	g2 := r.Reconcile("camA", 1, model.Embedding{1, 0, 0}, now.Add(time.Second))
	assert.Equal(t, g1, g2)
}

func TestCrossCameraIdenticalEmbeddingMapsToSameGlobalID(t *testing.T) {
	r := New(DefaultParams(), nil)
	now := time.Now()

	gA := r.Reconcile("camA", 1, model.Embedding{1, 0, 0}, now)
	gB := r.Reconcile("camB", 7, model.Embedding{1, 0, 0}, now.Add(1*time.Second))

	assert.Equal(t, gA, gB)
}

func TestDissimilarEmbeddingAllocatesFreshGlobalID(t *testing.T) {
	r := New(DefaultParams(), nil)
	now := time.Now()

	gA := r.Reconcile("camA", 1, model.Embedding{1, 0, 0}, now)
	gB := r.Reconcile("camB", 2, model.Embedding{0, 1, 0}, now)

	assert.NotEqual(t, gA, gB)
}

func TestGlobalIDsNeverRecycleWithinTTLWindow(t *testing.T) {
	r := New(DefaultParams(), nil)
	now := time.Now()

	g1 := r.Reconcile("camA", 1, model.Embedding{1, 0, 0}, now)
	removed := r.GC(now.Add(1 * time.Hour)) // well past GlobalTTL
	assert.Equal(t, 1, removed)

	g2 := r.Reconcile("camA", 1, model.Embedding{1, 0, 0}, now.Add(1*time.Hour+time.Second))
	assert.NotEqual(t, g1, g2, "ids must never be reused")
	assert.Greater(t, g2, g1)
}

type forbidTopology struct{}

func (forbidTopology) Allowed(a, b string) bool { return false }

func TestTopologyGateBlocksLowConfidenceCrossCameraMatch(t *testing.T) {
	params := DefaultParams()
	params.TauHigh = 1.1 // unreachable, force low-confidence path
	r := New(params, forbidTopology{})
	now := time.Now()

	gA := r.Reconcile("camA", 1, model.Embedding{1, 0, 0}, now)
	gB := r.Reconcile("camB", 2, model.Embedding{0.9, 0.1, 0}, now)

	assert.NotEqual(t, gA, gB, "forbidden topology pair must not merge even above tauLow")
}
