// Package ports implements the PortRegistry (C1): a process-wide allocator
// of unique preview-stream ports per camera.
package ports

import (
	"sync"

	"github.com/edgevision/aibox/internal/apperrors"
)

// Registry allocates ports from a contiguous range under a single internal
// lock. Re-allocation for a camera that was previously released may, but is
// not guaranteed to, return the same port.
type Registry struct {
	mu       sync.Mutex
	lo, hi   int
	byCamera map[string]int
	byPort   map[int]string
	nextHint int
}

// New constructs a Registry over the inclusive port range [lo, hi].
func New(lo, hi int) *Registry {
	return &Registry{
		lo:       lo,
		hi:       hi,
		byCamera: make(map[string]int),
		byPort:   make(map[int]string),
		nextHint: lo,
	}
}

// Allocate reserves a port for cameraID, returning the existing one if
// already allocated. Returns ResourceExhausted if the range is full.
func (r *Registry) Allocate(cameraID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.byCamera[cameraID]; ok {
		return p, nil
	}

	for i := 0; i <= r.hi-r.lo; i++ {
		p := r.lo + (r.nextHint-r.lo+i)%(r.hi-r.lo+1)
		if _, taken := r.byPort[p]; !taken {
			r.byCamera[cameraID] = p
			r.byPort[p] = cameraID
			r.nextHint = p + 1
			return p, nil
		}
	}
	return 0, apperrors.New(apperrors.ResourceExhausted, "ports.Allocate", nil)
}

// Release frees cameraID's port, if any. Idempotent.
func (r *Registry) Release(cameraID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byCamera[cameraID]
	if !ok {
		return
	}
	delete(r.byCamera, cameraID)
	delete(r.byPort, p)
}

// PortOf returns the port currently allocated to cameraID, if any.
func (r *Registry) PortOf(cameraID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byCamera[cameraID]
	return p, ok
}

// InUse reports how many ports are currently allocated.
func (r *Registry) InUse() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byCamera)
}
