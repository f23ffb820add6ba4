// Package fleet owns the whole set of live instances: admission
// (capacity, retries, jitter), the in-memory QR mirror, and the ordering
// of create/restart/delete against the Supervisor and Session State
// Store. Grounded on the teacher's core.Manager (zmeow's own name for its
// 1377-line create/list/delete/restore orchestrator), generalized from a
// single-tenant session-per-phone-number model to the fleet-capacity,
// staggered-boot, admission-controlled model this module implements.
package fleet

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"whatsfleet/internal/domain/instance"
	"whatsfleet/internal/domain/whatsapp"
	"whatsfleet/internal/infra/authstore"
	"whatsfleet/internal/infra/whatsapp/admission"
	"whatsfleet/internal/infra/whatsapp/supervisor"
	"whatsfleet/internal/infra/whatsapp/webhook"
	"whatsfleet/pkg/logger"
)

// Config holds the fleet-wide tunables spec.md §5/§6 name as environment
// configuration.
type Config struct {
	MaxInstances         int
	StaggeredBootDelay   time.Duration
	ReconnectSemaphore   int
	RetryCap             int
}

// qrMirror is the in-memory record published by a Supervisor's QR
// watcher and read back by GetQR, preferred over the row's possibly
// stale copy.
type qrMirror struct {
	dataURL string
	status  instance.ConnectionStatus
}

// Coordinator is the fleet-wide orchestrator. Its three maps — supervisors,
// qrCodes and reconnecting — are protected by one RWMutex rather than one
// lock per map, since the access rate is low. reconnect_attempts
// (admission.RetryCounter) and active_reconnections (admission.Semaphore)
// carry their own synchronization and are not guarded by mu.
type Coordinator struct {
	cfg      Config
	registry instance.Registry
	rows     authstore.RowStore
	proto    whatsapp.Protocol
	webhooks *webhook.Dispatcher
	log      logger.Logger

	retries *admission.RetryCounter
	sem     *admission.Semaphore

	mu          sync.RWMutex
	supervisors map[uuid.UUID]*supervisor.Supervisor
	qrCodes     map[uuid.UUID]qrMirror
	reconnecting map[uuid.UUID]bool
}

// New builds a Coordinator; call Bootstrap once after construction to
// recover any instances left in a connected/connecting/qr_pending state
// from a previous process.
func New(cfg Config, registry instance.Registry, rows authstore.RowStore, proto whatsapp.Protocol, webhooks *webhook.Dispatcher, log logger.Logger) *Coordinator {
	return &Coordinator{
		cfg:          cfg,
		registry:     registry,
		rows:         rows,
		proto:        proto,
		webhooks:     webhooks,
		log:          log.WithComponent("fleet-coordinator"),
		retries:      admission.NewRetryCounter(cfg.RetryCap),
		sem:          admission.NewSemaphore(cfg.ReconnectSemaphore),
		supervisors:  make(map[uuid.UUID]*supervisor.Supervisor),
		qrCodes:      make(map[uuid.UUID]qrMirror),
		reconnecting: make(map[uuid.UUID]bool),
	}
}

// CreateInstance validates fleet-level constraints, persists the row and
// starts its Supervisor. Conflict and capacity checks both happen before
// any row is inserted.
func (c *Coordinator) CreateInstance(ctx context.Context, userID uuid.UUID, name, webhookURL string) (*instance.Instance, error) {
	if name == "" {
		return nil, instance.NewValidationError("instance_name", "must not be empty")
	}

	c.mu.RLock()
	atCapacity := len(c.supervisors) >= c.cfg.MaxInstances
	c.mu.RUnlock()
	if atCapacity {
		return nil, instance.NewConflictError(instance.ErrCapacityExhausted)
	}

	taken, err := c.registry.ExistsByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, instance.NewConflictError(instance.ErrNameTaken)
	}
	owns, err := c.registry.ExistsByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if owns {
		return nil, instance.NewConflictError(instance.ErrUserAlreadyOwns)
	}

	inst := instance.New(userID, name, webhookURL)
	if err := c.registry.Insert(ctx, inst); err != nil {
		return nil, err
	}

	c.startSupervisor(inst)
	if err := c.supervisorFor(inst.ID).Connect(ctx); err != nil {
		c.log.WithError(err).WithField("instance", inst.Name).Error().Msg("start socket for new instance")
	}

	return inst, nil
}

// ListInstances returns every row, newest first.
func (c *Coordinator) ListInstances(ctx context.Context) ([]*instance.Instance, error) {
	return c.registry.List(ctx)
}

// GetInstance returns a single row by id.
func (c *Coordinator) GetInstance(ctx context.Context, id uuid.UUID) (*instance.Instance, error) {
	return c.registry.GetByID(ctx, id)
}

// GetQR returns the instance's current QR code and status, preferring the
// in-memory mirror over the row when present.
func (c *Coordinator) GetQR(ctx context.Context, id uuid.UUID) (string, instance.ConnectionStatus, error) {
	c.mu.RLock()
	mirror, ok := c.qrCodes[id]
	c.mu.RUnlock()
	if ok {
		return mirror.dataURL, mirror.status, nil
	}

	inst, err := c.registry.GetByID(ctx, id)
	if err != nil {
		return "", "", err
	}
	return inst.QRCode, inst.ConnectionStatus, nil
}

// RestartInstance tears the socket down and reconnects from scratch,
// preserving the session blob. It does not reset the retry counter: a
// restart is an operator action, not an automatic reconnect attempt, and
// spec.md is explicit that the counter only clears on open or delete.
func (c *Coordinator) RestartInstance(ctx context.Context, id uuid.UUID) error {
	inst, err := c.registry.GetByID(ctx, id)
	if err != nil {
		return err
	}

	sup := c.supervisorFor(id)
	if sup == nil {
		c.startSupervisor(inst)
		sup = c.supervisorFor(id)
	}
	return sup.Restart(ctx)
}

// DeleteInstance closes the socket, drops every in-memory mirror, wipes
// the session blob, then deletes the Registry row — exactly this order,
// since a late creds.update after the row delete would recreate it.
func (c *Coordinator) DeleteInstance(ctx context.Context, id uuid.UUID) error {
	inst, err := c.registry.GetByID(ctx, id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if sup, ok := c.supervisors[id]; ok {
		sup.Close()
	}
	delete(c.supervisors, id)
	delete(c.qrCodes, id)
	delete(c.reconnecting, id)
	c.mu.Unlock()
	c.retries.Reset(id)

	if err := authstore.RemoveSession(ctx, c.rows, inst.Name); err != nil {
		return err
	}
	return c.registry.DeleteByID(ctx, id)
}

// PublishQR implements supervisor.QRPublisher.
func (c *Coordinator) PublishQR(instanceID uuid.UUID, dataURL string, status instance.ConnectionStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.qrCodes[instanceID] = qrMirror{dataURL: dataURL, status: status}
}

// ClearQR implements supervisor.QRPublisher.
func (c *Coordinator) ClearQR(instanceID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.qrCodes, instanceID)
}

// RequestReconnect implements supervisor.ReconnectRequester: it runs the
// admission policy from spec.md §4.C on its own goroutine so the
// Supervisor's event-handling goroutine is never blocked on the jitter
// sleep or the semaphore wait.
func (c *Coordinator) RequestReconnect(instanceID uuid.UUID) {
	c.mu.Lock()
	if c.reconnecting[instanceID] {
		c.mu.Unlock()
		return
	}
	c.reconnecting[instanceID] = true
	c.mu.Unlock()

	go c.reconnect(instanceID)
}

func (c *Coordinator) reconnect(instanceID uuid.UUID) {
	defer func() {
		c.mu.Lock()
		delete(c.reconnecting, instanceID)
		c.mu.Unlock()
	}()

	ctx := context.Background()

	if c.retries.Increment(instanceID) > c.cfg.RetryCap {
		c.markFailed(ctx, instanceID)
		return
	}

	if err := c.sem.Acquire(ctx); err != nil {
		c.log.WithError(err).WithField("instance", instanceID).Error().Msg("acquire reconnection slot")
		return
	}
	defer c.sem.Release()

	jitter := time.Duration(1000+rand.Intn(4000)) * time.Millisecond
	time.Sleep(jitter)

	sup := c.supervisorFor(instanceID)
	if sup == nil {
		return
	}
	if err := sup.Connect(ctx); err != nil {
		c.log.WithError(err).WithField("instance", instanceID).Error().Msg("reconnect attempt failed")
	}
}

func (c *Coordinator) markFailed(ctx context.Context, instanceID uuid.UUID) {
	inst, err := c.registry.GetByID(ctx, instanceID)
	if err != nil {
		c.log.WithError(err).WithField("instance", instanceID).Error().Msg("load instance to mark failed")
		return
	}
	inst.SetFailed()
	if err := c.registry.Update(ctx, inst); err != nil {
		c.log.WithError(err).WithField("instance", instanceID).Error().Msg("write failed status")
	}
}

func (c *Coordinator) startSupervisor(inst *instance.Instance) {
	sup := supervisor.New(inst, c.registry, c.proto, c.rows, c, c, c, c.log)
	c.mu.Lock()
	c.supervisors[inst.ID] = sup
	c.mu.Unlock()
}

// Notify implements supervisor.Notifier: a "connected" event (the socket
// reported open) clears the instance's retry counter; then it looks up the
// instance's webhook_url and fires through the shared Dispatcher. A missing
// row or empty URL is silently skipped, not logged as an error — not every
// instance configures a webhook.
func (c *Coordinator) Notify(instanceID uuid.UUID, instanceName, event string) {
	if event == webhook.EventConnected {
		c.retries.Reset(instanceID)
	}
	if c.webhooks == nil {
		return
	}
	inst, err := c.registry.GetByID(context.Background(), instanceID)
	if err != nil {
		return
	}
	c.webhooks.Fire(inst.WebhookURL, webhook.Event{
		InstanceID:   instanceID,
		InstanceName: instanceName,
		Event:        event,
		Timestamp:    time.Now(),
	})
}

func (c *Coordinator) supervisorFor(id uuid.UUID) *supervisor.Supervisor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supervisors[id]
}

// Shutdown closes every live socket and flushes its pending key writes;
// called once from the top-level graceful-shutdown path.
func (c *Coordinator) Shutdown() {
	c.mu.RLock()
	sups := make([]*supervisor.Supervisor, 0, len(c.supervisors))
	for _, sup := range c.supervisors {
		sups = append(sups, sup)
	}
	c.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sup := range sups {
		wg.Add(1)
		go func(s *supervisor.Supervisor) {
			defer wg.Done()
			s.Close()
		}(sup)
	}
	wg.Wait()
}
