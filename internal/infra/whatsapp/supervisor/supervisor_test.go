package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsfleet/internal/domain/instance"
	"whatsfleet/internal/domain/whatsapp"
	"whatsfleet/internal/infra/authstore"
	"whatsfleet/internal/infra/database"
	"whatsfleet/pkg/logger"
)

type fakeSocket struct {
	mu          sync.Mutex
	connected   bool
	loggedIn    bool
	ownID       string
	qrChan      chan whatsapp.QREvent
	handlers    map[uint32]func(evt interface{})
	nextHandler uint32
}

func newFakeSocket(loggedIn bool, ownID string) *fakeSocket {
	return &fakeSocket{
		loggedIn: loggedIn,
		ownID:    ownID,
		qrChan:   make(chan whatsapp.QREvent, 4),
		handlers: make(map[uint32]func(evt interface{})),
	}
}

func (f *fakeSocket) Connect() error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSocket) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeSocket) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSocket) IsLoggedIn() bool {
	return f.loggedIn
}

func (f *fakeSocket) GetQRChannel(ctx context.Context) (<-chan whatsapp.QREvent, error) {
	return f.qrChan, nil
}

func (f *fakeSocket) PairPhone(ctx context.Context, phone string) (string, error) {
	return "123-456", nil
}

func (f *fakeSocket) AddEventHandler(handler func(evt interface{})) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextHandler++
	f.handlers[f.nextHandler] = handler
	return f.nextHandler
}

func (f *fakeSocket) RemoveEventHandler(id uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[id]
	delete(f.handlers, id)
	return ok
}

func (f *fakeSocket) OwnID() string {
	return f.ownID
}

func (f *fakeSocket) emit(evt interface{}) {
	f.mu.Lock()
	handlers := make([]func(evt interface{}), 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

type fakeProto struct {
	sock whatsapp.Socket
}

func (f *fakeProto) NewSocket(ctx context.Context, instanceName string) (whatsapp.Socket, error) {
	return f.sock, nil
}

func (f *fakeProto) FetchLatestVersion(ctx context.Context) (whatsapp.Version, error) {
	return whatsapp.Version{Major: 2}, nil
}

type fakeRegistry struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*instance.Instance
	calls int
}

func newFakeRegistry(inst *instance.Instance) *fakeRegistry {
	return &fakeRegistry{byID: map[uuid.UUID]*instance.Instance{inst.ID: inst}}
}

func (r *fakeRegistry) Insert(ctx context.Context, inst *instance.Instance) error { return nil }

func (r *fakeRegistry) GetByID(ctx context.Context, id uuid.UUID) (*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.byID[id]
	if !ok {
		return nil, instance.NewNotFoundByID(id)
	}
	return inst, nil
}

func (r *fakeRegistry) GetByName(ctx context.Context, name string) (*instance.Instance, error) {
	return nil, instance.NewNotFoundByName(name)
}

func (r *fakeRegistry) List(ctx context.Context) ([]*instance.Instance, error) { return nil, nil }

func (r *fakeRegistry) Update(ctx context.Context, inst *instance.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.byID[inst.ID] = inst
	return nil
}

func (r *fakeRegistry) DeleteByID(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	return nil
}

func (r *fakeRegistry) ListRecoverable(ctx context.Context, limit int) ([]*instance.Instance, error) {
	return nil, nil
}

func (r *fakeRegistry) ExistsByName(ctx context.Context, name string) (bool, error) {
	return false, nil
}

func (r *fakeRegistry) ExistsByUserID(ctx context.Context, userID uuid.UUID) (bool, error) {
	return false, nil
}

type fakeRows struct {
	mu   sync.Mutex
	rows map[string]*database.SessionRow
}

func newFakeRows() *fakeRows {
	return &fakeRows{rows: make(map[string]*database.SessionRow)}
}

func (f *fakeRows) Get(ctx context.Context, instanceName string) (*database.SessionRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[instanceName]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (f *fakeRows) Upsert(ctx context.Context, row *database.SessionRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *row
	f.rows[row.ID] = &cp
	return nil
}

func (f *fakeRows) Delete(ctx context.Context, instanceName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, instanceName)
	return nil
}

func (f *fakeRows) List(ctx context.Context) ([]*database.SessionRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*database.SessionRow, 0, len(f.rows))
	for _, row := range f.rows {
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

type fakeReconnect struct {
	mu        sync.Mutex
	requested []uuid.UUID
}

func (f *fakeReconnect) RequestReconnect(instanceID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, instanceID)
}

type fakeQR struct {
	mu        sync.Mutex
	published map[uuid.UUID]string
	cleared   map[uuid.UUID]bool
}

func newFakeQR() *fakeQR {
	return &fakeQR{published: make(map[uuid.UUID]string), cleared: make(map[uuid.UUID]bool)}
}

func (f *fakeQR) PublishQR(instanceID uuid.UUID, dataURL string, status instance.ConnectionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[instanceID] = dataURL
}

func (f *fakeQR) ClearQR(instanceID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared[instanceID] = true
}

func noopLogger() logger.Logger {
	return logger.SetupForTest()
}

func TestSupervisorConnectUnauthenticatedGoesThroughQR(t *testing.T) {
	inst := instance.New(uuid.New(), "vendas-01", "https://n8n.example.com/hook")
	sock := newFakeSocket(false, "")
	proto := &fakeProto{sock: sock}
	registry := newFakeRegistry(inst)
	rows := newFakeRows()
	reconnect := &fakeReconnect{}
	qr := newFakeQR()

	sup := New(inst, registry, proto, rows, reconnect, qr, nil, noopLogger())
	require.NoError(t, sup.Connect(context.Background()))

	sock.qrChan <- whatsapp.QREvent{Event: "code", Code: "1@abc,def,ghi"}
	require.Eventually(t, func() bool {
		return inst.ConnectionStatus == instance.StatusQRPending
	}, time.Second, 10*time.Millisecond)

	assert.NotEmpty(t, inst.QRCode)
	assert.Contains(t, inst.QRCode, "data:image/png;base64,")
}

func TestSupervisorConnectedEventMarksConnected(t *testing.T) {
	inst := instance.New(uuid.New(), "vendas-01", "https://n8n.example.com/hook")
	sock := newFakeSocket(true, "5511999999999:1@s.whatsapp.net")
	proto := &fakeProto{sock: sock}
	registry := newFakeRegistry(inst)
	rows := newFakeRows()
	reconnect := &fakeReconnect{}
	qr := newFakeQR()

	sup := New(inst, registry, proto, rows, reconnect, qr, nil, noopLogger())
	require.NoError(t, sup.Connect(context.Background()))

	sock.emit(whatsapp.ConnectedEvent{OwnID: "5511999999999:1@s.whatsapp.net"})

	assert.Equal(t, instance.StatusConnected, inst.ConnectionStatus)
	assert.True(t, inst.IsConnected)
	assert.Equal(t, "5511999999999", inst.OwnerPhoneNumber)
	assert.True(t, qr.cleared[inst.ID])
}

func TestSupervisorLogoutWipesSessionAndDoesNotReconnect(t *testing.T) {
	inst := instance.New(uuid.New(), "vendas-01", "https://n8n.example.com/hook")
	sock := newFakeSocket(true, "5511999999999:1@s.whatsapp.net")
	proto := &fakeProto{sock: sock}
	registry := newFakeRegistry(inst)
	rows := newFakeRows()
	require.NoError(t, rows.Upsert(context.Background(), &database.SessionRow{ID: "vendas-01"}))
	reconnect := &fakeReconnect{}
	qr := newFakeQR()

	sup := New(inst, registry, proto, rows, reconnect, qr, nil, noopLogger())
	require.NoError(t, sup.Connect(context.Background()))

	sock.emit(whatsapp.DisconnectedEvent{
		Err: &whatsapp.ProtocolError{Reason: whatsapp.DisconnectLoggedOut, Err: errors.New("logged out")},
	})

	assert.Equal(t, instance.StatusDisconnected, inst.ConnectionStatus)
	row, err := rows.Get(context.Background(), "vendas-01")
	require.NoError(t, err)
	assert.Nil(t, row)
	assert.Empty(t, reconnect.requested)
}

func TestSupervisorNonFatalCloseRequestsReconnect(t *testing.T) {
	inst := instance.New(uuid.New(), "vendas-01", "https://n8n.example.com/hook")
	sock := newFakeSocket(true, "5511999999999:1@s.whatsapp.net")
	proto := &fakeProto{sock: sock}
	registry := newFakeRegistry(inst)
	rows := newFakeRows()
	reconnect := &fakeReconnect{}
	qr := newFakeQR()

	sup := New(inst, registry, proto, rows, reconnect, qr, nil, noopLogger())
	require.NoError(t, sup.Connect(context.Background()))

	sock.emit(whatsapp.DisconnectedEvent{
		Err: &whatsapp.ProtocolError{Reason: whatsapp.DisconnectStreamError, Err: errors.New("stream error")},
	})

	assert.Equal(t, instance.StatusConnecting, inst.ConnectionStatus)
	assert.Equal(t, []uuid.UUID{inst.ID}, reconnect.requested)
}

func TestOwnerPhoneFromJID(t *testing.T) {
	assert.Equal(t, "5511999999999", ownerPhoneFromJID("5511999999999:1@s.whatsapp.net"))
	assert.Equal(t, "5511999999999", ownerPhoneFromJID("5511999999999@s.whatsapp.net"))
	assert.Equal(t, "", ownerPhoneFromJID(""))
}
