package stream

import (
	"fmt"
	"sync/atomic"
)

// Sequence issues the process-wide monotonic envelope IDs shared by the
// event composer and the per-connection heartbeat path.
type Sequence struct {
	n atomic.Uint64
}

// NewSequence creates a sequence starting at zero.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns the next ID. The fixed-width decimal rendering makes
// plain string comparison agree with numeric order.
func (s *Sequence) Next() string {
	return fmt.Sprintf("%020d", s.n.Add(1))
}

// Current returns the most recently issued ID, or the empty string if
// none has been issued yet.
func (s *Sequence) Current() string {
	n := s.n.Load()
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("%020d", n)
}
