// Package admission holds the small guarded primitives the Fleet
// Coordinator consults before admitting a connect attempt: the cached
// protocol version, the per-instance retry counter, and the reconnection
// semaphore (spec.md §4.E "Admission control").
package admission

import (
	"context"
	"sync"
	"time"

	"whatsfleet/internal/domain/whatsapp"
)

// versionTTL is how long a fetched protocol version is trusted before the
// next connect attempt refetches it.
const versionTTL = time.Hour

// VersionCache memoizes the latest WhatsApp Web protocol version behind a
// single-flight refresh, the same shape the teacher's QRCodeManager uses
// for its per-key map guarded by one mutex, generalized here to one cached
// value instead of one entry per session.
type VersionCache struct {
	proto whatsapp.Protocol

	mu        sync.Mutex
	version   whatsapp.Version
	expiresAt time.Time
	fetching  chan struct{}
}

// NewVersionCache builds a cache that refreshes through proto.
func NewVersionCache(proto whatsapp.Protocol) *VersionCache {
	return &VersionCache{proto: proto}
}

// Get returns the cached version if it is still within its TTL, otherwise
// fetches a fresh one. Concurrent callers during a refresh block on the
// single in-flight fetch rather than each issuing their own request.
func (c *VersionCache) Get(ctx context.Context) (whatsapp.Version, error) {
	c.mu.Lock()
	if time.Now().Before(c.expiresAt) {
		v := c.version
		c.mu.Unlock()
		return v, nil
	}

	if c.fetching != nil {
		wait := c.fetching
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return whatsapp.Version{}, ctx.Err()
		}
		c.mu.Lock()
		v := c.version
		c.mu.Unlock()
		return v, nil
	}

	done := make(chan struct{})
	c.fetching = done
	c.mu.Unlock()

	v, err := c.proto.FetchLatestVersion(ctx)

	c.mu.Lock()
	if err == nil {
		c.version = v
		c.expiresAt = time.Now().Add(versionTTL)
	}
	c.fetching = nil
	c.mu.Unlock()
	close(done)

	if err != nil {
		return whatsapp.Version{}, err
	}
	return v, nil
}
