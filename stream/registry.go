package stream

import (
	"sync"
	"sync/atomic"

	"github.com/skillsenselab/tickstream/errors"
)

// Registry enforces the per-instance connection ceiling. Reserve and
// Release are the only mutating operations; both are serialized on one
// mutex so there is no window between checking capacity and claiming a
// slot.
type Registry struct {
	mu     sync.Mutex
	active int
	max    int
}

// Slot is a claimed capacity unit. Release is idempotent: double
// release on concurrent disconnect and timeout paths is a no-op.
type Slot struct {
	registry *Registry
	released atomic.Bool
}

// NewRegistry creates a registry with the given ceiling.
func NewRegistry(maxConnections int) *Registry {
	return &Registry{max: maxConnections}
}

// Reserve claims a slot, or fails immediately with a CAPACITY_EXCEEDED
// error when the ceiling is reached. It never blocks waiting for a slot.
func (r *Registry) Reserve() (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active >= r.max {
		return nil, errors.CapacityExceeded(retryAfterSec)
	}
	r.active++
	return &Slot{registry: r}, nil
}

// Release returns the slot to the registry. Safe to call multiple
// times; only the first call decrements the counter.
func (s *Slot) Release() {
	if s == nil || !s.released.CompareAndSwap(false, true) {
		return
	}
	s.registry.mu.Lock()
	s.registry.active--
	s.registry.mu.Unlock()
}

// Active returns the current admitted connection count.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Max returns the configured ceiling.
func (r *Registry) Max() int {
	return r.max
}

// retryAfterSec is the Retry-After hint attached to capacity rejections.
const retryAfterSec = 10
