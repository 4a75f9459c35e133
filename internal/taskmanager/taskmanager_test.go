package taskmanager

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgevision/aibox/internal/apperrors"
	"github.com/edgevision/aibox/internal/model"
)

// invalidSource fails decoder.Open synchronously (bad scheme rejected by
// base.ParseURL, never touching the network), so AddVideoSource's init
// step fails fast and deterministically in tests.
func invalidSource(id string) model.VideoSource {
	return model.VideoSource{ID: id, URL: "not-a-real-scheme://nowhere"}
}

func newTestManager() *TaskManager {
	return New(Options{PortRangeLo: 20000, PortRangeHi: 20010})
}

func TestAddVideoSource_InitFailureRollsBackEntryAndPort(t *testing.T) {
	tm := newTestManager()

	err := tm.AddVideoSource(context.Background(), invalidSource("cam1"))
	require.Error(t, err)

	tm.mu.Lock()
	_, exists := tm.entries["cam1"]
	tm.mu.Unlock()
	assert.False(t, exists, "failed init must not leave a dangling entry")

	_, held := tm.ports.PortOf("cam1")
	assert.False(t, held, "failed init must release the allocated port")
}

func TestAddVideoSource_ConcurrentRaceExactlyOneReachesInit(t *testing.T) {
	tm := newTestManager()

	const n = 16
	var wg sync.WaitGroup
	var alreadyExists, other atomic.Int32

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tm.AddVideoSource(context.Background(), invalidSource("cam-race"))
			require.Error(t, err)
			if apperrors.Is(err, apperrors.ConfigInvalid) && strings.Contains(err.Error(), "already has a pipeline") {
				alreadyExists.Add(1)
			} else {
				other.Add(1)
			}
		}()
	}
	wg.Wait()

	// Exactly one goroutine must win the Pending slot and actually attempt
	// construction (and fail, since the URL is invalid); every other
	// concurrent caller must observe "already exists" without ever
	// touching port allocation or pipeline construction.
	assert.Equal(t, int32(1), other.Load())
	assert.Equal(t, int32(n-1), alreadyExists.Load())

	tm.mu.Lock()
	_, exists := tm.entries["cam-race"]
	tm.mu.Unlock()
	assert.False(t, exists)

	assert.Equal(t, 0, tm.ports.InUse(), "exactly one port must have been allocated and released")
}

func TestRemoveVideoSource_RejectsUnknownCamera(t *testing.T) {
	tm := newTestManager()
	err := tm.RemoveVideoSource("ghost")
	assert.Error(t, err)
}

func TestRemoveVideoSource_RejectsConcurrentDuringRemoving(t *testing.T) {
	tm := newTestManager()
	tm.entries["cam1"] = &entry{state: entryRemoving}

	err := tm.RemoveVideoSource("cam1")
	assert.Error(t, err, "a camera already mid-Removing must reject a second remove")
}

func TestListStatus_OnlyReportsActiveEntries(t *testing.T) {
	tm := newTestManager()
	tm.entries["pending-cam"] = &entry{state: entryPending}
	tm.entries["removing-cam"] = &entry{state: entryRemoving}

	status := tm.ListStatus()
	assert.Empty(t, status)
}

func TestShutdown_ClearsEntriesAndDropsReconciler(t *testing.T) {
	tm := newTestManager()
	done := make(chan struct{})
	go func() {
		tm.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown of an empty TaskManager must return promptly")
	}

	assert.Nil(t, tm.reconciler)
	assert.Empty(t, tm.ListStatus())
}
