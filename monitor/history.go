package monitor

import (
	"sync"

	"github.com/dlmmcore/engine/types"
)

// History is a bounded FIFO of price observations for one pool.
type History struct {
	mu       sync.RWMutex
	capacity int
	points   []types.PricePoint
}

// NewHistory returns a History holding at most capacity points.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 500
	}
	return &History{capacity: capacity, points: make([]types.PricePoint, 0, capacity)}
}

// Append adds a new observation, evicting the oldest if at capacity.
func (h *History) Append(p types.PricePoint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.points = append(h.points, p)
	if len(h.points) > h.capacity {
		h.points = h.points[len(h.points)-h.capacity:]
	}
}

// Recent returns up to n most recent points, oldest first.
func (h *History) Recent(n int) []types.PricePoint {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.points) {
		n = len(h.points)
	}
	out := make([]types.PricePoint, n)
	copy(out, h.points[len(h.points)-n:])
	return out
}

// Len returns the number of points currently held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.points)
}
