package admission

import "context"

// Semaphore bounds how many reconnect attempts the fleet runs at once, a
// buffered-channel token bucket in the idiom the teacher reaches for
// wherever it needs a bounded worker count (see core/client.go's dial
// goroutines).
type Semaphore struct {
	tokens chan struct{}
}

// NewSemaphore builds a Semaphore admitting up to capacity concurrent
// holders.
func NewSemaphore(capacity int) *Semaphore {
	return &Semaphore{tokens: make(chan struct{}, capacity)}
}

// Acquire blocks until a token is free or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.tokens <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees one held token. A Release with no matching Acquire is a
// caller bug, but is dropped rather than blocking or panicking.
func (s *Semaphore) Release() {
	select {
	case <-s.tokens:
	default:
	}
}
