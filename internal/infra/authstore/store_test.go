package authstore

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsfleet/internal/infra/database"
)

// memRowStore is an in-memory RowStore fake, standing in for Postgres in
// these tests exactly as the domain whatsapp.Socket fake stands in for a
// live protocol connection.
type memRowStore struct {
	mu   sync.Mutex
	rows map[string]*database.SessionRow

	writes int
}

func newMemRowStore() *memRowStore {
	return &memRowStore{rows: make(map[string]*database.SessionRow)}
}

func (m *memRowStore) Get(_ context.Context, instanceName string) (*database.SessionRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[instanceName]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (m *memRowStore) Upsert(_ context.Context, row *database.SessionRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *row
	m.rows[row.ID] = &cp
	m.writes++
	return nil
}

func (m *memRowStore) Delete(_ context.Context, instanceName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, instanceName)
	return nil
}

func (m *memRowStore) List(_ context.Context) ([]*database.SessionRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*database.SessionRow, 0, len(m.rows))
	for _, row := range m.rows {
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memRowStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func TestBufferJSONRoundTrip(t *testing.T) {
	for i := 0; i < 20; i++ {
		n := rand.Intn(64)
		original := make([]byte, n)
		_, err := rand.Read(original)
		require.NoError(t, err)

		buf := NewBufferJSON(original)
		encoded, err := buf.MarshalJSON()
		require.NoError(t, err)

		var decoded BufferJSON
		require.NoError(t, decoded.UnmarshalJSON(encoded))

		if n == 0 {
			assert.Len(t, decoded.Bytes, 0)
		} else {
			assert.Equal(t, original, decoded.Bytes)
		}
	}
}

func TestBufferJSONNull(t *testing.T) {
	var b BufferJSON
	require.NoError(t, b.UnmarshalJSON([]byte("null")))
	assert.Nil(t, b.Bytes)
}

func TestBufferJSONRejectsWrongTag(t *testing.T) {
	var b BufferJSON
	err := b.UnmarshalJSON([]byte(`{"type":"NotABuffer","data":[1,2,3]}`))
	assert.Error(t, err)
}

func TestOpenMissingRowIsNotError(t *testing.T) {
	rows := newMemRowStore()
	state, err := Open(context.Background(), rows, "vendas-01", nil)
	require.NoError(t, err)
	assert.Equal(t, Creds{}, state.Creds())
}

func TestSaveCredsThenOpenRoundTrips(t *testing.T) {
	rows := newMemRowStore()
	ctx := context.Background()

	state, err := Open(ctx, rows, "vendas-01", nil)
	require.NoError(t, err)

	state.SetCreds(Creds{
		InstanceName: "vendas-01",
		JID:          "5511999999999:1@s.whatsapp.net",
		PushName:     "Vendas",
		RegisteredAt: time.Unix(1700000000, 0).UTC(),
	})
	require.NoError(t, state.SaveCreds(ctx))

	reopened, err := Open(ctx, rows, "vendas-01", nil)
	require.NoError(t, err)
	assert.Equal(t, "5511999999999:1@s.whatsapp.net", reopened.Creds().JID)
	assert.Equal(t, "Vendas", reopened.Creds().PushName)
}

func TestKeyStoreGetSetAndDelete(t *testing.T) {
	ks := newKeyStore()

	v1 := NewBufferJSON([]byte{1, 2, 3})
	v2 := NewBufferJSON([]byte{4, 5, 6})
	ks.Set(map[string]map[string]*BufferJSON{
		"prekey": {"1": &v1, "2": &v2},
	})

	got := ks.Get("prekey", []string{"1", "2", "3"})
	require.Len(t, got, 2)
	assert.Equal(t, []byte{1, 2, 3}, got["1"].Bytes)
	assert.Equal(t, []byte{4, 5, 6}, got["2"].Bytes)

	ks.Set(map[string]map[string]*BufferJSON{
		"prekey": {"1": nil},
	})
	got = ks.Get("prekey", []string{"1", "2"})
	assert.Len(t, got, 1)
	_, stillThere := got["1"]
	assert.False(t, stillThere)
}

func TestMarkKeysDirtyDebouncesToOneWrite(t *testing.T) {
	rows := newMemRowStore()
	ctx := context.Background()

	state, err := Open(ctx, rows, "vendas-01", nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		v := NewBufferJSON([]byte{byte(i)})
		state.keys.Set(map[string]map[string]*BufferJSON{
			"prekey": {"1": &v},
		})
		state.MarkKeysDirty(ctx)
		time.Sleep(50 * time.Millisecond)
	}

	require.NoError(t, state.Flush(ctx))
	assert.Equal(t, 1, rows.writeCount())

	row, err := rows.Get(ctx, "vendas-01")
	require.NoError(t, err)
	require.NotNil(t, row)

	reopened, err := Open(ctx, rows, "vendas-01", nil)
	require.NoError(t, err)
	got := reopened.Keys().Get("prekey", []string{"1"})
	require.Contains(t, got, "1")
	assert.Equal(t, []byte{4}, got["1"].Bytes)
}

func TestFlushWithNoPendingWriteIsNoop(t *testing.T) {
	rows := newMemRowStore()
	ctx := context.Background()

	state, err := Open(ctx, rows, "vendas-01", nil)
	require.NoError(t, err)

	require.NoError(t, state.Flush(ctx))
	assert.Equal(t, 0, rows.writeCount())
}

func TestRemoveSessionIsIdempotent(t *testing.T) {
	rows := newMemRowStore()
	ctx := context.Background()

	require.NoError(t, RemoveSession(ctx, rows, "never-paired"))
	require.NoError(t, RemoveSession(ctx, rows, "never-paired"))

	state, err := Open(ctx, rows, "vendas-01", nil)
	require.NoError(t, err)
	state.SetCreds(Creds{InstanceName: "vendas-01", JID: "x"})
	require.NoError(t, state.SaveCreds(ctx))

	require.NoError(t, RemoveSession(ctx, rows, "vendas-01"))
	row, err := rows.Get(ctx, "vendas-01")
	require.NoError(t, err)
	assert.Nil(t, row)
}
