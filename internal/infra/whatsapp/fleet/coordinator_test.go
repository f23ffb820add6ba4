package fleet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsfleet/internal/domain/instance"
	"whatsfleet/internal/domain/whatsapp"
	"whatsfleet/internal/infra/database"
	"whatsfleet/internal/infra/whatsapp/webhook"
	"whatsfleet/pkg/logger"
)

type memRegistry struct {
	mu           sync.Mutex
	byID         map[uuid.UUID]*instance.Instance
	names        map[string]bool
	owners       map[uuid.UUID]bool
	recoverable  []*instance.Instance
}

func newMemRegistry() *memRegistry {
	return &memRegistry{
		byID:   make(map[uuid.UUID]*instance.Instance),
		names:  make(map[string]bool),
		owners: make(map[uuid.UUID]bool),
	}
}

func (r *memRegistry) Insert(ctx context.Context, inst *instance.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.names[inst.Name] {
		return instance.NewConflictError(instance.ErrNameTaken)
	}
	if r.owners[inst.UserID] {
		return instance.NewConflictError(instance.ErrUserAlreadyOwns)
	}
	r.byID[inst.ID] = inst
	r.names[inst.Name] = true
	r.owners[inst.UserID] = true
	return nil
}

func (r *memRegistry) GetByID(ctx context.Context, id uuid.UUID) (*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.byID[id]
	if !ok {
		return nil, instance.NewNotFoundByID(id)
	}
	return inst, nil
}

func (r *memRegistry) GetByName(ctx context.Context, name string) (*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range r.byID {
		if inst.Name == name {
			return inst, nil
		}
	}
	return nil, instance.NewNotFoundByName(name)
}

func (r *memRegistry) List(ctx context.Context) ([]*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*instance.Instance, 0, len(r.byID))
	for _, inst := range r.byID {
		out = append(out, inst)
	}
	return out, nil
}

func (r *memRegistry) Update(ctx context.Context, inst *instance.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[inst.ID] = inst
	return nil
}

func (r *memRegistry) DeleteByID(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.byID[id]
	if !ok {
		return instance.NewNotFoundByID(id)
	}
	delete(r.byID, id)
	delete(r.names, inst.Name)
	delete(r.owners, inst.UserID)
	return nil
}

func (r *memRegistry) ListRecoverable(ctx context.Context, limit int) ([]*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit < len(r.recoverable) {
		return r.recoverable[:limit], nil
	}
	return r.recoverable, nil
}

func (r *memRegistry) ExistsByName(ctx context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.names[name], nil
}

func (r *memRegistry) ExistsByUserID(ctx context.Context, userID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owners[userID], nil
}

type memRows struct {
	mu   sync.Mutex
	rows map[string]*database.SessionRow
}

func newMemRows() *memRows {
	return &memRows{rows: make(map[string]*database.SessionRow)}
}

func (m *memRows) Get(ctx context.Context, instanceName string) (*database.SessionRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[instanceName]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (m *memRows) Upsert(ctx context.Context, row *database.SessionRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *row
	m.rows[row.ID] = &cp
	return nil
}

func (m *memRows) Delete(ctx context.Context, instanceName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, instanceName)
	return nil
}

func (m *memRows) List(ctx context.Context) ([]*database.SessionRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*database.SessionRow, 0, len(m.rows))
	for _, row := range m.rows {
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

type stubSocket struct {
	loggedIn bool
	qrChan   chan whatsapp.QREvent
}

func newStubSocket() *stubSocket {
	return &stubSocket{loggedIn: true, qrChan: make(chan whatsapp.QREvent, 1)}
}

func (s *stubSocket) Connect() error                          { return nil }
func (s *stubSocket) Disconnect()                             {}
func (s *stubSocket) IsConnected() bool                       { return true }
func (s *stubSocket) IsLoggedIn() bool                        { return s.loggedIn }
func (s *stubSocket) GetQRChannel(ctx context.Context) (<-chan whatsapp.QREvent, error) {
	return s.qrChan, nil
}
func (s *stubSocket) PairPhone(ctx context.Context, phone string) (string, error) { return "", nil }
func (s *stubSocket) AddEventHandler(handler func(evt interface{})) uint32        { return 1 }
func (s *stubSocket) RemoveEventHandler(id uint32) bool                          { return true }
func (s *stubSocket) OwnID() string                                               { return "" }

type stubProto struct{}

func (stubProto) NewSocket(ctx context.Context, instanceName string) (whatsapp.Socket, error) {
	return newStubSocket(), nil
}

func (stubProto) FetchLatestVersion(ctx context.Context) (whatsapp.Version, error) {
	return whatsapp.Version{Major: 2}, nil
}

func testConfig() Config {
	return Config{
		MaxInstances:       3,
		StaggeredBootDelay: 10 * time.Millisecond,
		ReconnectSemaphore: 2,
		RetryCap:           2,
	}
}

func newTestCoordinator() *Coordinator {
	return New(testConfig(), newMemRegistry(), newMemRows(), stubProto{}, webhook.New("", logger.SetupForTest()), logger.SetupForTest())
}

func TestCreateInstanceRejectsDuplicateName(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	_, err := c.CreateInstance(ctx, uuid.New(), "vendas-01", "https://n8n.example.com/hook")
	require.NoError(t, err)

	_, err = c.CreateInstance(ctx, uuid.New(), "vendas-01", "https://n8n.example.com/hook")
	var conflict *instance.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, conflict, instance.ErrNameTaken)
}

func TestCreateInstanceRejectsSecondOwnedByUser(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()
	userID := uuid.New()

	_, err := c.CreateInstance(ctx, userID, "vendas-01", "https://n8n.example.com/hook")
	require.NoError(t, err)

	_, err = c.CreateInstance(ctx, userID, "vendas-02", "https://n8n.example.com/hook")
	var conflict *instance.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, conflict, instance.ErrUserAlreadyOwns)
}

func TestCreateInstanceRejectsAtCapacity(t *testing.T) {
	c := newTestCoordinator()
	c.cfg.MaxInstances = 1
	ctx := context.Background()

	_, err := c.CreateInstance(ctx, uuid.New(), "vendas-01", "https://n8n.example.com/hook")
	require.NoError(t, err)

	_, err = c.CreateInstance(ctx, uuid.New(), "vendas-02", "https://n8n.example.com/hook")
	var conflict *instance.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, conflict, instance.ErrCapacityExhausted)
}

func TestDeleteInstanceOrderingWipesSessionAndRow(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	inst, err := c.CreateInstance(ctx, uuid.New(), "vendas-01", "https://n8n.example.com/hook")
	require.NoError(t, err)

	require.NoError(t, c.rows.Upsert(ctx, &database.SessionRow{ID: "vendas-01"}))

	require.NoError(t, c.DeleteInstance(ctx, inst.ID))

	_, err = c.registry.GetByID(ctx, inst.ID)
	assert.Error(t, err)

	row, err := c.rows.Get(ctx, "vendas-01")
	require.NoError(t, err)
	assert.Nil(t, row)

	c.mu.RLock()
	_, stillPresent := c.supervisors[inst.ID]
	c.mu.RUnlock()
	assert.False(t, stillPresent)
}

func TestGetQRPrefersInMemoryMirrorOverRow(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	inst, err := c.CreateInstance(ctx, uuid.New(), "vendas-01", "https://n8n.example.com/hook")
	require.NoError(t, err)

	c.PublishQR(inst.ID, "data:image/png;base64,AAAA", instance.StatusQRPending)

	dataURL, status, err := c.GetQR(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AAAA", dataURL)
	assert.Equal(t, instance.StatusQRPending, status)
}

func TestMarkFailedWritesTerminalStatus(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	inst, err := c.CreateInstance(ctx, uuid.New(), "vendas-01", "https://n8n.example.com/hook")
	require.NoError(t, err)

	c.markFailed(ctx, inst.ID)

	reloaded, err := c.registry.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.StatusFailed, reloaded.ConnectionStatus)
}

func TestBootstrapRecoversInBatches(t *testing.T) {
	registry := newMemRegistry()
	for i := 0; i < 7; i++ {
		inst := instance.New(uuid.New(), uuid.NewString(), "")
		inst.ConnectionStatus = instance.StatusConnected
		registry.byID[inst.ID] = inst
		registry.names[inst.Name] = true
		registry.owners[inst.UserID] = true
		registry.recoverable = append(registry.recoverable, inst)
	}

	c := New(testConfig(), registry, newMemRows(), stubProto{}, webhook.New("", logger.SetupForTest()), logger.SetupForTest())

	start := time.Now()
	require.NoError(t, c.Bootstrap(context.Background()))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, testConfig().StaggeredBootDelay)

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Len(t, c.supervisors, 7)
}

func TestBootstrapNoRecoverableRowsIsNoop(t *testing.T) {
	c := newTestCoordinator()
	require.NoError(t, c.Bootstrap(context.Background()))

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Empty(t, c.supervisors)
}
