package admission

import (
	"sync"

	"github.com/google/uuid"
)

// RetryCounter tracks consecutive reconnect attempts per instance, the
// same per-key map + single mutex shape as the teacher's ConnectionManager
// connections map, narrowed to the one counter the Coordinator's retry-cap
// policy needs.
type RetryCounter struct {
	mu    sync.Mutex
	cap   int
	count map[uuid.UUID]int
}

// NewRetryCounter builds a counter that reports exhaustion once an
// instance's count reaches cap.
func NewRetryCounter(cap int) *RetryCounter {
	return &RetryCounter{cap: cap, count: make(map[uuid.UUID]int)}
}

// Increment records one more attempt for id and returns the new count.
func (r *RetryCounter) Increment(id uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count[id]++
	return r.count[id]
}

// Reset clears id's attempt count, called when id's socket reports open
// and when id is deleted.
func (r *RetryCounter) Reset(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.count, id)
}

// Value returns id's current attempt count without mutating it.
func (r *RetryCounter) Value(id uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count[id]
}

// Exhausted reports whether id has reached the configured retry cap.
func (r *RetryCounter) Exhausted(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count[id] >= r.cap
}
