package ports

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateReleaseRoundTrip(t *testing.T) {
	r := New(9000, 9003)

	p1, err := r.Allocate("cam1")
	require.NoError(t, err)
	assert.True(t, p1 >= 9000 && p1 <= 9003)

	p2, ok := r.PortOf("cam1")
	require.True(t, ok)
	assert.Equal(t, p1, p2)

	r.Release("cam1")
	_, ok = r.PortOf("cam1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.InUse())
}

func TestNoTwoCamerasShareAPort(t *testing.T) {
	r := New(9000, 9003)
	seen := make(map[int]string)
	for _, cam := range []string{"a", "b", "c", "d"} {
		p, err := r.Allocate(cam)
		require.NoError(t, err)
		if owner, dup := seen[p]; dup {
			t.Fatalf("port %d allocated to both %s and %s", p, owner, cam)
		}
		seen[p] = cam
	}
}

func TestExhaustion(t *testing.T) {
	r := New(9000, 9001)
	_, err := r.Allocate("a")
	require.NoError(t, err)
	_, err = r.Allocate("b")
	require.NoError(t, err)
	_, err = r.Allocate("c")
	require.Error(t, err)
}

func TestConcurrentAllocateIsRace(t *testing.T) {
	r := New(9000, 9099)
	var wg sync.WaitGroup
	ports := make([]int, 50)
	errs := make([]error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := r.Allocate(string(rune('a' + i)))
			ports[i] = p
			errs[i] = err
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for i, err := range errs {
		require.NoError(t, err)
		assert.False(t, seen[ports[i]], "duplicate port allocated under concurrency")
		seen[ports[i]] = true
	}
}
