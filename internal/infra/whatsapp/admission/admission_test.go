package admission

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsfleet/internal/domain/whatsapp"
)

type fakeProtocol struct {
	calls   int32
	version whatsapp.Version
	err     error
}

func (f *fakeProtocol) NewSocket(ctx context.Context, instanceName string) (whatsapp.Socket, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProtocol) FetchLatestVersion(ctx context.Context) (whatsapp.Version, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.version, f.err
}

func TestVersionCacheFetchesOnceThenReusesUntilTTL(t *testing.T) {
	proto := &fakeProtocol{version: whatsapp.Version{Major: 2, Minor: 3000, Patch: 1}}
	cache := NewVersionCache(proto)

	v, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, proto.version, v)

	v, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, proto.version, v)
	assert.Equal(t, int32(1), atomic.LoadInt32(&proto.calls))
}

func TestVersionCacheRefetchesAfterExpiry(t *testing.T) {
	proto := &fakeProtocol{version: whatsapp.Version{Major: 2, Minor: 3000, Patch: 1}}
	cache := NewVersionCache(proto)
	cache.expiresAt = time.Now().Add(-time.Minute)
	cache.version = whatsapp.Version{Major: 1}

	v, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, proto.version, v)
	assert.Equal(t, int32(1), atomic.LoadInt32(&proto.calls))
}

func TestVersionCachePropagatesFetchError(t *testing.T) {
	proto := &fakeProtocol{err: errors.New("network down")}
	cache := NewVersionCache(proto)

	_, err := cache.Get(context.Background())
	assert.Error(t, err)
}

func TestRetryCounterIncrementResetExhausted(t *testing.T) {
	id := uuid.New()
	rc := NewRetryCounter(3)

	assert.False(t, rc.Exhausted(id))
	assert.Equal(t, 1, rc.Increment(id))
	assert.Equal(t, 2, rc.Increment(id))
	assert.False(t, rc.Exhausted(id))
	assert.Equal(t, 3, rc.Increment(id))
	assert.True(t, rc.Exhausted(id))

	rc.Reset(id)
	assert.Equal(t, 0, rc.Value(id))
	assert.False(t, rc.Exhausted(id))
}

func TestSemaphoreBoundsConcurrency(t *testing.T) {
	sem := NewSemaphore(2)
	ctx := context.Background()

	require.NoError(t, sem.Acquire(ctx))
	require.NoError(t, sem.Acquire(ctx))

	blockedCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := sem.Acquire(blockedCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	sem.Release()
	require.NoError(t, sem.Acquire(ctx))
}
