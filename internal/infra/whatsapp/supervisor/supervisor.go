// Package supervisor owns one fleet instance's live protocol socket across
// its entire life, including automatic re-entry after clean disconnects.
// It is the Go-native shape of the teacher's ConnectionManager, generalized
// from a per-session map keyed by uuid into one Supervisor value per
// instance, and rebuilt around the domain whatsapp.Socket boundary instead
// of a concrete *whatsmeow.Client field.
package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"whatsfleet/internal/domain/instance"
	"whatsfleet/internal/domain/whatsapp"
	"whatsfleet/internal/infra/authstore"
	"whatsfleet/pkg/logger"
)

// ReconnectRequester is the Coordinator-side hook the Supervisor calls on a
// non-fatal close; the Coordinator owns retry-cap checks, the semaphore
// and jitter (spec.md §4.C), so the Supervisor never sleeps or retries on
// its own.
type ReconnectRequester interface {
	RequestReconnect(instanceID uuid.UUID)
}

// QRPublisher is the Coordinator's in-memory QR mirror the Supervisor
// writes through on every QR event, independent of the row write.
type QRPublisher interface {
	PublishQR(instanceID uuid.UUID, dataURL string, status instance.ConnectionStatus)
	ClearQR(instanceID uuid.UUID)
}

// Notifier fires a lifecycle event at whatever transport the Coordinator
// wires it to (the webhook Dispatcher in production). Event is one of the
// webhook package's Event* constants; the Supervisor only names the event,
// it never knows whether anything is listening.
type Notifier interface {
	Notify(instanceID uuid.UUID, instanceName, event string)
}

// Supervisor drives one instance's socket lifecycle end to end.
type Supervisor struct {
	inst     *instance.Instance
	registry instance.Registry
	proto    whatsapp.Protocol
	rows     authstore.RowStore
	reconnect ReconnectRequester
	qr       QRPublisher
	notify   Notifier
	log      logger.Logger

	mu        sync.Mutex
	sock      whatsapp.Socket
	auth      *authstore.AuthState
	handlerID uint32
}

// New builds a Supervisor bound to inst; it does not connect until
// Connect is called.
func New(
	inst *instance.Instance,
	registry instance.Registry,
	proto whatsapp.Protocol,
	rows authstore.RowStore,
	reconnect ReconnectRequester,
	qr QRPublisher,
	notify Notifier,
	log logger.Logger,
) *Supervisor {
	return &Supervisor{
		inst:      inst,
		registry:  registry,
		proto:     proto,
		rows:      rows,
		reconnect: reconnect,
		qr:        qr,
		notify:    notify,
		log:       log.WithComponent("supervisor").WithField("instance", inst.Name),
	}
}

// Connect tears down any pre-existing socket, marks the instance
// connecting, opens the Session State Store, builds a fresh socket and
// subscribes to its event stream.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sock != nil {
		s.sock.Disconnect()
		s.sock = nil
	}

	s.inst.SetConnecting()
	if err := s.registry.Update(ctx, s.inst); err != nil {
		s.log.WithError(err).Error().Msg("write connecting status")
	}

	auth, err := authstore.Open(ctx, s.rows, s.inst.Name, s.log)
	if err != nil {
		return fmt.Errorf("open session state: %w", err)
	}
	s.auth = auth

	sock, err := s.proto.NewSocket(ctx, s.inst.Name)
	if err != nil {
		return fmt.Errorf("build socket: %w", err)
	}
	s.sock = sock
	s.handlerID = sock.AddEventHandler(s.handleEvent)

	if !sock.IsLoggedIn() {
		qrChan, err := sock.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("open qr channel: %w", err)
		}
		go s.watchQR(qrChan)
	}

	if err := sock.Connect(); err != nil {
		return fmt.Errorf("connect socket: %w", err)
	}

	return nil
}

// Restart tears down and reconnects from scratch, preserving the session
// blob (it does not call remove_session).
func (s *Supervisor) Restart(ctx context.Context) error {
	return s.Connect(ctx)
}

// Close terminates the socket without any status row side-effects; used
// by process shutdown, not by the reconnection or logout paths.
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sock != nil {
		s.sock.Disconnect()
	}
	if s.auth != nil {
		if err := s.auth.Flush(context.Background()); err != nil {
			s.log.WithError(err).Error().Msg("flush session keys on close")
		}
	}
}

func (s *Supervisor) watchQR(qrChan <-chan whatsapp.QREvent) {
	ctx := context.Background()
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			dataURL, err := renderQRDataURL(evt.Code)
			if err != nil {
				s.log.WithError(err).Error().Msg("render qr code")
				continue
			}

			s.mu.Lock()
			s.inst.SetQRPending(dataURL)
			if err := s.registry.Update(ctx, s.inst); err != nil {
				s.log.WithError(err).Error().Msg("write qr_pending status")
			}
			s.mu.Unlock()

			s.qr.PublishQR(s.inst.ID, dataURL, instance.StatusQRPending)
			s.notifyEvent("qr")
		case "success":
			s.qr.ClearQR(s.inst.ID)
		case "timeout":
			s.log.Warn().Msg("qr challenge expired without a scan")
			s.qr.ClearQR(s.inst.ID)
		case "error":
			s.log.WithError(evt.Error).Error().Msg("qr channel error")
			s.qr.ClearQR(s.inst.ID)
		}
	}
}

// handleEvent is the single dispatcher registered with the socket; the
// protocol library serializes delivery to it per connection, so no
// additional locking is required around the state machine transitions
// themselves beyond what already guards s.inst.
func (s *Supervisor) handleEvent(evt interface{}) {
	ctx := context.Background()

	switch e := evt.(type) {
	case whatsapp.ConnectedEvent:
		s.onConnected(ctx, e)
	case whatsapp.DisconnectedEvent:
		s.onDisconnected(ctx, e)
	case whatsapp.CredsUpdatedEvent:
		s.onCredsUpdated(ctx)
	}
}

func (s *Supervisor) onConnected(ctx context.Context, e whatsapp.ConnectedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	phone := ownerPhoneFromJID(e.OwnID)
	s.inst.SetConnected(phone)
	if err := s.registry.Update(ctx, s.inst); err != nil {
		s.log.WithError(err).Error().Msg("write connected status")
	}
	s.qr.ClearQR(s.inst.ID)
	s.notifyEvent("connected")
}

func (s *Supervisor) onDisconnected(ctx context.Context, e whatsapp.DisconnectedEvent) {
	if whatsapp.IsLogout(e.Err) {
		s.mu.Lock()
		s.inst.SetDisconnected()
		updateErr := s.registry.Update(ctx, s.inst)
		s.mu.Unlock()

		if updateErr != nil {
			s.log.WithError(updateErr).Error().Msg("write disconnected status on logout")
		}
		if err := authstore.RemoveSession(ctx, s.rows, s.inst.Name); err != nil {
			s.log.WithError(err).Error().Msg("remove session on logout")
		}
		s.notifyEvent("logged_out")
		return
	}

	s.mu.Lock()
	s.inst.SetConnecting()
	updateErr := s.registry.Update(ctx, s.inst)
	s.mu.Unlock()

	if updateErr != nil {
		s.log.WithError(updateErr).Error().Msg("write connecting status before reconnect")
	}
	s.notifyEvent("disconnected")
	s.reconnect.RequestReconnect(s.inst.ID)
}

func (s *Supervisor) notifyEvent(event string) {
	if s.notify == nil {
		return
	}
	s.notify.Notify(s.inst.ID, s.inst.Name, event)
}

func (s *Supervisor) onCredsUpdated(ctx context.Context) {
	if s.auth == nil {
		return
	}
	if err := s.auth.SaveCreds(ctx); err != nil {
		s.log.WithError(err).Error().Msg("save creds on update")
	}
}

// ownerPhoneFromJID extracts the phone number portion preceding the ":" in
// a WhatsApp JID's user part (spec.md §4.B).
func ownerPhoneFromJID(ownID string) string {
	user := ownID
	if at := strings.Index(user, "@"); at >= 0 {
		user = user[:at]
	}
	if colon := strings.Index(user, ":"); colon >= 0 {
		user = user[:colon]
	}
	return user
}
