package database

import (
	"time"

	"github.com/uptrace/bun"
)

// SessionRow is the durable half of the Session State Store: one row per
// instance_name holding the credential document and the rotating key map,
// both serialized through the binary-aware codec before they ever reach
// this struct (see internal/infra/authstore).
type SessionRow struct {
	bun.BaseModel `bun:"table:whatsapp_sessions,alias:ws"`

	ID        string    `bun:"id,pk,type:text" json:"id"`
	Creds     []byte    `bun:"creds,type:jsonb" json:"creds,omitempty"`
	Keys      []byte    `bun:"keys,type:jsonb" json:"keys,omitempty"`
	CreatedAt time.Time `bun:"created_at,type:timestamptz,notnull" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,type:timestamptz,notnull" json:"updated_at"`
}

func (*SessionRow) TableName() string {
	return "whatsapp_sessions"
}
