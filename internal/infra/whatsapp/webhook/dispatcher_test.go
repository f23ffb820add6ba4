package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsfleet/pkg/logger"
)

func TestFireDeliversEventPayload(t *testing.T) {
	var received Event
	var got int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&got, 1)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New("", logger.SetupForTest())
	instanceID := uuid.New()
	d.Fire(srv.URL, Event{
		InstanceID:   instanceID,
		InstanceName: "vendas-01",
		Event:        EventConnected,
		Timestamp:    time.Now(),
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&got) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, instanceID, received.InstanceID)
	assert.Equal(t, EventConnected, received.Event)
}

func TestFireSignsPayloadWhenSecretSet(t *testing.T) {
	var sig string
	var got int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&got, 1)
		sig = r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New("shh", logger.SetupForTest())
	d.Fire(srv.URL, Event{InstanceName: "vendas-01", Event: EventQR})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&got) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Contains(t, sig, "sha256=")
}

func TestFireWithEmptyURLIsNoop(t *testing.T) {
	d := New("", logger.SetupForTest())
	d.Fire("", Event{Event: EventQR})
}

func TestFireRetriesOnFailureThenGivesUp(t *testing.T) {
	var attempts int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := New("", logger.SetupForTest())
	d.retries = 2
	d.Fire(srv.URL, Event{Event: EventDisconnected})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&attempts) == 2
	}, 5*time.Second, 10*time.Millisecond)
}
