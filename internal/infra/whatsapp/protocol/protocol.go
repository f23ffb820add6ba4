// Package protocol is the one place this module imports whatsmeow
// directly: every other package talks to internal/domain/whatsapp's
// Socket/Protocol interfaces instead, matching the "protocol library
// boundary" design note carried over from the teacher's connection
// manager, which is the only part of zmeow's WhatsApp integration that
// ever touches go.mau.fi/whatsmeow and go.mau.fi/whatsmeow/types.
package protocol

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waKeys "go.mau.fi/whatsmeow/util/keys"
	waLog "go.mau.fi/whatsmeow/util/log"

	"whatsfleet/internal/domain/whatsapp"
	"whatsfleet/internal/infra/authstore"
	"whatsfleet/internal/infra/whatsapp/admission"
	"whatsfleet/pkg/logger"
)

// WAProtocol is the production whatsapp.Protocol, backed by the real
// whatsmeow client library. Grounded on zmeow's ConnectionManager, which
// is itself the only collaborator in the teacher that reaches into
// go.mau.fi/whatsmeow; this package takes over exactly that role for the
// fleet, one Socket per instance instead of one Client per session.
type WAProtocol struct {
	rows     authstore.RowStore
	log      logger.Logger
	versions *admission.VersionCache
}

// New builds a WAProtocol. rows is the Session State Store's row backend;
// each NewSocket call opens (or creates) that instance's AuthState from it.
// The protocol version cache is seeded with this same WAProtocol, so every
// socket construction shares the one process-wide cached fetch spec.md
// §4.E describes.
func New(rows authstore.RowStore, log logger.Logger) *WAProtocol {
	p := &WAProtocol{rows: rows, log: log.WithComponent("whatsmeow")}
	p.versions = admission.NewVersionCache(p)
	return p
}

// FetchLatestVersion asks whatsmeow's own version-discovery endpoint for
// the current WhatsApp Web protocol version, exactly as the teacher's
// ConnectWithRetry consults whatsmeow.GetLatestVersion before building a
// client so newly paired devices don't present a stale version string.
func (p *WAProtocol) FetchLatestVersion(ctx context.Context) (whatsapp.Version, error) {
	v, err := whatsmeow.GetLatestVersion(ctx, nil)
	if err != nil {
		return whatsapp.Version{}, fmt.Errorf("fetch latest whatsmeow version: %w", err)
	}
	if len(v) < 3 {
		return whatsapp.Version{}, fmt.Errorf("unexpected version shape from whatsmeow: %v", v)
	}
	return whatsapp.Version{Major: v[0], Minor: v[1], Patch: v[2]}, nil
}

// NewSocket consults the shared VersionCache before doing anything else:
// every socket construction pins the client to the same cached protocol
// version, and a fetch failure aborts the build instead of letting
// whatsmeow fall back to its compiled-in default.
func (p *WAProtocol) NewSocket(ctx context.Context, instanceName string) (whatsapp.Socket, error) {
	version, err := p.versions.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve protocol version for %s: %w", instanceName, err)
	}
	store.SetWAVersion(store.WAVersionContainer{uint32(version.Major), uint32(version.Minor), uint32(version.Patch)})

	state, err := authstore.Open(ctx, p.rows, instanceName, p.log)
	if err != nil {
		return nil, fmt.Errorf("open session state for %s: %w", instanceName, err)
	}

	backend := newDeviceBackend(state)
	device, err := buildDevice(ctx, state, backend, p.log)
	if err != nil {
		return nil, fmt.Errorf("build device store for %s: %w", instanceName, err)
	}

	waClient := whatsmeow.NewClient(device, logger.NewWhatsAppLoggerAdapter(p.log.WithComponent(instanceName)))

	return &waSocket{
		client:       waClient,
		state:        state,
		instanceName: instanceName,
		log:          p.log.WithComponent(instanceName),
	}, nil
}

// buildDevice assembles a *store.Device over backend, generating and
// persisting an identity the first time instanceName connects.
func buildDevice(ctx context.Context, state *authstore.AuthState, backend *deviceBackend, log logger.Logger) (*store.Device, error) {
	creds := state.Creds()

	var id identityDoc
	if len(creds.Extra.Bytes) > 0 {
		if err := json.Unmarshal(creds.Extra.Bytes, &id); err != nil {
			return nil, fmt.Errorf("decode device identity: %w", err)
		}
	} else {
		id = identityDoc{
			NoiseKey:    randomKeyPair(),
			IdentityKey: randomKeyPair(),
		}
		regID := make([]byte, 4)
		if _, err := rand.Read(regID); err != nil {
			return nil, err
		}
		id.RegistrationID = uint32(regID[0])<<24 | uint32(regID[1])<<16 | uint32(regID[2])<<8 | uint32(regID[3])
		id.AdvSecretKey = make([]byte, 32)
		if _, err := rand.Read(id.AdvSecretKey); err != nil {
			return nil, err
		}

		encoded, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		creds.Extra = authstore.NewBufferJSON(encoded)
		if creds.InstanceName == "" {
			creds.InstanceName = state.InstanceName()
		}
		state.SetCreds(creds)
		if err := state.SaveCreds(ctx); err != nil {
			return nil, fmt.Errorf("persist generated device identity: %w", err)
		}
		log.WithField("instance", state.InstanceName()).Info().Msg("generated new device identity")
	}

	device := &store.Device{
		NoiseKey:       toKeyPair(id.NoiseKey),
		IdentityKey:    toKeyPair(id.IdentityKey),
		RegistrationID: id.RegistrationID,
		AdvSecretKey:   id.AdvSecretKey,

		Identities:           backend,
		Sessions:             backend,
		PreKeys:              backend,
		SenderKeys:           backend,
		AppStateKeys:         backend,
		AppStateMutationMACs: backend,
		Contacts:             backend,
		ChatSettings:         backend,
		MsgSecrets:           backend,
		PrivacyTokens:        backend,

		Log: waLog.Noop,
	}

	if creds.JID != "" {
		jid, err := types.ParseJID(creds.JID)
		if err != nil {
			return nil, fmt.Errorf("parse stored JID %q: %w", creds.JID, err)
		}
		device.ID = &jid
	}
	if creds.PushName != "" {
		device.PushName = creds.PushName
	}

	return device, nil
}

func randomKeyPair() keyPairDoc {
	priv := make([]byte, 32)
	_, _ = rand.Read(priv)
	return keyPairDoc{Priv: priv}
}

// toKeyPair rebuilds a whatsmeow key pair from its stored private half;
// whatsmeow derives the public half from it, so only Priv round-trips
// through the credential document.
func toKeyPair(doc keyPairDoc) *waKeys.KeyPair {
	var priv [32]byte
	copy(priv[:], doc.Priv)
	return waKeys.NewKeyPairFromPrivateKey(priv)
}

// waSocket wraps a *whatsmeow.Client to satisfy whatsapp.Socket, the
// domain boundary the Supervisor and Fleet Coordinator actually program
// against.
type waSocket struct {
	client       *whatsmeow.Client
	state        *authstore.AuthState
	instanceName string
	log          logger.Logger
}

func (s *waSocket) Connect() error {
	return s.client.Connect()
}

func (s *waSocket) Disconnect() {
	s.client.Disconnect()
}

func (s *waSocket) IsConnected() bool {
	return s.client.IsConnected()
}

func (s *waSocket) IsLoggedIn() bool {
	return s.client.IsLoggedIn()
}

// GetQRChannel proxies whatsmeow's own QR channel, translating its
// qrchan.Event into the domain's QREvent — the Supervisor never imports
// whatsmeow, so it cannot consume whatsmeow's event type directly.
func (s *waSocket) GetQRChannel(ctx context.Context) (<-chan whatsapp.QREvent, error) {
	raw, err := s.client.GetQRChannel(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan whatsapp.QREvent, 4)
	go func() {
		defer close(out)
		for evt := range raw {
			qrEvt := whatsapp.QREvent{Event: evt.Event, Code: evt.Code}
			if evt.Error != nil {
				qrEvt.Error = evt.Error
			}
			select {
			case out <- qrEvt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *waSocket) PairPhone(ctx context.Context, phone string) (string, error) {
	return s.client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
}

// AddEventHandler registers a handler and translates whatsmeow's concrete
// events.* structs into the domain's event types as they arrive; a type
// the domain doesn't model (e.g. events.Message, kept for LastSeen/webhook
// plumbing only) is passed through verbatim, letting the Supervisor's type
// switch decide whether it cares.
func (s *waSocket) AddEventHandler(handler func(evt interface{})) uint32 {
	return s.client.AddEventHandler(func(rawEvt interface{}) {
		switch evt := rawEvt.(type) {
		case *events.Connected:
			ownID := ""
			if s.client.Store.ID != nil {
				ownID = s.client.Store.ID.String()
			}
			handler(whatsapp.ConnectedEvent{OwnID: ownID})
		case *events.Disconnected:
			handler(whatsapp.DisconnectedEvent{Err: nil})
		case *events.LoggedOut:
			handler(whatsapp.DisconnectedEvent{
				Err: &whatsapp.ProtocolError{Reason: whatsapp.DisconnectLoggedOut, Err: fmt.Errorf("logged out: %v", evt.Reason)},
			})
		case *events.StreamError:
			handler(whatsapp.DisconnectedEvent{
				Err: &whatsapp.ProtocolError{Reason: whatsapp.DisconnectStreamError, Err: fmt.Errorf("stream error: %s", evt.Code)},
			})
		case *events.ClientOutdated:
			handler(whatsapp.DisconnectedEvent{
				Err: &whatsapp.ProtocolError{Reason: whatsapp.DisconnectClientOutdated, Err: fmt.Errorf("client outdated")},
			})
		case *events.PairSuccess:
			s.onPairSuccess(evt)
			handler(whatsapp.CredsUpdatedEvent{})
		default:
			handler(rawEvt)
		}
	})
}

// onPairSuccess persists the newly assigned JID and push name, the same
// save point the teacher's handleConnected/handlePairSuccess use for
// calling through to the database after a successful pairing.
func (s *waSocket) onPairSuccess(evt *events.PairSuccess) {
	creds := s.state.Creds()
	creds.InstanceName = s.instanceName
	creds.JID = evt.ID.String()
	if evt.BusinessName != "" {
		creds.PushName = evt.BusinessName
	}
	s.state.SetCreds(creds)
	if err := s.state.SaveCreds(context.Background()); err != nil {
		s.log.WithError(err).Error().Msg("persist credentials after pairing")
	}
}

func (s *waSocket) RemoveEventHandler(id uint32) bool {
	return s.client.RemoveEventHandler(id)
}

func (s *waSocket) OwnID() string {
	if s.client.Store.ID == nil {
		return ""
	}
	return s.client.Store.ID.String()
}
