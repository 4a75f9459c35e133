package inference

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgevision/aibox/internal/model"
)

func TestMockDetectorProducesAtLeastOnePerson(t *testing.T) {
	d := NewMockDetector()
	f := &model.Frame{Width: 640, Height: 480}
	dets := d.Detect(f)
	require.NotEmpty(t, dets)
	assert.Equal(t, "person", dets[0].ClassLabel)
}

func TestBindSerializesNonReentrantBackend(t *testing.T) {
	inf := Bind(NewMockDetector())
	var wg sync.WaitGroup
	f := &model.Frame{Width: 100, Height: 100}
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = inf.Detect(f)
		}()
	}
	wg.Wait()
}

func TestRegistryResolveMock(t *testing.T) {
	r := NewRegistry()
	inf, ok := r.Resolve("mock")
	require.True(t, ok)
	assert.True(t, inf.Capabilities()[CapDetect])

	_, ok = r.Resolve("nonexistent")
	assert.False(t, ok)
}

func TestEmbedSimilarCropsAreSimilar(t *testing.T) {
	d := NewMockDetector()
	f := &model.Frame{Width: 640, Height: 480}
	e1 := d.Embed(f, model.BoundingBox{X: 10, Y: 10, Width: 50, Height: 50})
	e2 := d.Embed(f, model.BoundingBox{X: 10, Y: 10, Width: 50, Height: 50})
	assert.InDelta(t, 1.0, model.CosineSimilarity(e1, e2), 1e-6)
}
