package whatsapp

import (
	"context"
	"errors"
)

// Socket is the protocol-library boundary the Supervisor drives (spec.md
// §9 "Protocol library boundary" design note). It is implemented for real
// by a thin wrapper over *whatsmeow.Client, and in tests by an in-memory
// fake that injects synthetic QR / open / close events without a live
// connection to the upstream WhatsApp servers.
type Socket interface {
	// Connect opens the underlying connection; non-blocking, the result
	// of the handshake arrives later on the event stream.
	Connect() error

	// Disconnect tears the connection down without emitting a logout.
	Disconnect()

	// IsConnected reports whether the socket currently has an open
	// connection to the upstream server.
	IsConnected() bool

	// IsLoggedIn reports whether this socket's device store already
	// holds a paired identity (a reconnect can skip QR pairing).
	IsLoggedIn() bool

	// GetQRChannel requests the pairing challenge stream; only valid
	// before the first successful connect of an unauthenticated device.
	GetQRChannel(ctx context.Context) (<-chan QREvent, error)

	// PairPhone requests a numeric pairing code for phone instead of a
	// scannable QR challenge.
	PairPhone(ctx context.Context, phone string) (string, error)

	// AddEventHandler registers the Supervisor's single dispatcher and
	// returns a handle usable with RemoveEventHandler.
	AddEventHandler(handler func(evt interface{})) uint32

	// RemoveEventHandler unregisters a previously added handler.
	RemoveEventHandler(id uint32) bool

	// OwnID returns the socket's own JID string once authenticated, or
	// "" before pairing completes.
	OwnID() string
}

// QREvent mirrors whatsmeow's QRChannelItem shape without binding the
// domain package to the concrete protocol library type.
type QREvent struct {
	Event string // "code", "success", "timeout", "error"
	Code  string
	Error error
}

// Protocol is the socket factory + version-cache source the Fleet
// Coordinator and Admission primitives consult. One concrete
// implementation wraps whatsmeow; tests substitute an in-memory fake.
type Protocol interface {
	// NewSocket builds a Socket bound to the given instance's device
	// store, using the cached protocol version for its client payload.
	NewSocket(ctx context.Context, instanceName string) (Socket, error)

	// FetchLatestVersion fetches the current WhatsApp Web protocol
	// version; callers cache the result per spec.md §4.E.
	FetchLatestVersion(ctx context.Context) (Version, error)
}

// Version is an opaque, comparable protocol version stamp.
type Version struct {
	Major, Minor, Patch int
}

// DisconnectReason classifies a close event the way the Coordinator's
// reconnection policy needs to: only "logged out" is terminal.
type DisconnectReason int

const (
	DisconnectUnknown DisconnectReason = iota
	DisconnectLoggedOut
	DisconnectStreamError
	DisconnectClientOutdated
)

// ProtocolError wraps whatever the protocol library surfaces on a close
// event. The Coordinator's admission logic switches on Reason, not on the
// wrapped error's concrete type.
type ProtocolError struct {
	Reason DisconnectReason
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "protocol error"
	}
	return e.Err.Error()
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsLogout reports whether err represents a logged-out disconnect.
func IsLogout(err error) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Reason == DisconnectLoggedOut
	}
	return false
}

// ConnectedEvent is delivered through AddEventHandler once the socket's
// handshake completes, whether freshly paired or resumed from stored
// creds.
type ConnectedEvent struct {
	OwnID string
}

// DisconnectedEvent is delivered through AddEventHandler when the socket's
// connection drops, for any reason including a clean logout.
type DisconnectedEvent struct {
	Err error
}

// CredsUpdatedEvent is delivered through AddEventHandler whenever the
// protocol library rotates credential material that must be persisted.
type CredsUpdatedEvent struct{}

