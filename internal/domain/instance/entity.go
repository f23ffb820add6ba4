package instance

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ConnectionStatus is the lifecycle state of one fleet instance's socket.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusQRPending    ConnectionStatus = "qr_pending"
	StatusConnected    ConnectionStatus = "connected"
	StatusFailed       ConnectionStatus = "failed"
)

// qrValidity is how long a freshly issued QR code remains presentable
// before the core considers it stale (the protocol library re-issues a
// fresh one on its own timeout; the core never tears the socket down).
const qrValidity = 60 * time.Second

// Instance is one tenant's WhatsApp connection: a stable identity plus the
// durable mirror of its last observed connection state.
type Instance struct {
	bun.BaseModel `bun:"table:whatsapp_instances,alias:i"`

	ID               uuid.UUID        `bun:"id,pk,type:uuid" json:"id"`
	UserID           uuid.UUID        `bun:"user_id,type:uuid,notnull,unique" json:"user_id"`
	Name             string           `bun:"instance_name,type:varchar(100),notnull,unique" json:"instance_name"`
	WebhookURL       string           `bun:"webhook_url,type:text" json:"webhook_url,omitempty"`
	IsConnected      bool             `bun:"is_connected,type:boolean,notnull" json:"is_connected"`
	ConnectionStatus ConnectionStatus `bun:"connection_status,type:varchar(20),notnull" json:"connection_status"`
	QRCode           string           `bun:"qr_code,type:text" json:"qr_code,omitempty"`
	QRCodeExpiresAt  *time.Time       `bun:"qr_code_expires_at,type:timestamptz" json:"qr_code_expires_at,omitempty"`
	OwnerPhoneNumber string           `bun:"owner_phone_number,type:varchar(32)" json:"owner_phone_number,omitempty"`
	CreatedAt        time.Time        `bun:"created_at,type:timestamptz,notnull" json:"created_at"`
	UpdatedAt        time.Time        `bun:"updated_at,type:timestamptz,notnull" json:"updated_at"`
	LastConnectedAt  *time.Time       `bun:"last_connected_at,type:timestamptz" json:"last_connected_at,omitempty"`
}

func (*Instance) TableName() string {
	return "whatsapp_instances"
}

// New builds a fresh row for a just-validated create request.
func New(userID uuid.UUID, name, webhookURL string) *Instance {
	now := time.Now().UTC()
	return &Instance{
		ID:               uuid.New(),
		UserID:           userID,
		Name:             name,
		WebhookURL:       webhookURL,
		IsConnected:      false,
		ConnectionStatus: StatusDisconnected,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// SetConnecting marks the instance as attempting to establish a socket.
func (i *Instance) SetConnecting() {
	i.ConnectionStatus = StatusConnecting
	i.IsConnected = false
	i.QRCode = ""
	i.QRCodeExpiresAt = nil
	i.UpdatedAt = time.Now().UTC()
}

// SetQRPending publishes a freshly rendered QR code data URL.
func (i *Instance) SetQRPending(qrDataURL string) {
	expiresAt := time.Now().UTC().Add(qrValidity)
	i.ConnectionStatus = StatusQRPending
	i.IsConnected = false
	i.QRCode = qrDataURL
	i.QRCodeExpiresAt = &expiresAt
	i.UpdatedAt = time.Now().UTC()
}

// SetConnected records a successful handshake and clears any pending QR.
func (i *Instance) SetConnected(ownerPhoneNumber string) {
	now := time.Now().UTC()
	i.ConnectionStatus = StatusConnected
	i.IsConnected = true
	i.QRCode = ""
	i.QRCodeExpiresAt = nil
	i.OwnerPhoneNumber = ownerPhoneNumber
	i.LastConnectedAt = &now
	i.UpdatedAt = now
}

// SetDisconnected clears all session identity from the row; used on
// logout, where the underlying session blob is also wiped.
func (i *Instance) SetDisconnected() {
	i.ConnectionStatus = StatusDisconnected
	i.IsConnected = false
	i.QRCode = ""
	i.QRCodeExpiresAt = nil
	i.OwnerPhoneNumber = ""
	i.UpdatedAt = time.Now().UTC()
}

// SetFailed transitions a connecting instance whose retry budget is
// exhausted into its terminal state.
func (i *Instance) SetFailed() {
	i.ConnectionStatus = StatusFailed
	i.IsConnected = false
	i.UpdatedAt = time.Now().UTC()
}

// IsRecoverable reports whether this row's last observed status is one
// boot recovery should attempt to restore (spec.md §4.C cold-start).
func (i *Instance) IsRecoverable() bool {
	switch i.ConnectionStatus {
	case StatusConnected, StatusConnecting, StatusQRPending:
		return true
	default:
		return false
	}
}
