package authstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"whatsfleet/internal/infra/database"
	"whatsfleet/pkg/logger"
)

// debounceWindow is how long a series of key-store mutations are coalesced
// into a single write. Generalized from the teacher's QR cleanup ticker
// (a recurring time.Ticker) into a one-shot resettable timer: every Set
// call pushes the deadline out via timer.Reset instead of waiting for the
// next tick.
const debounceWindow = 500 * time.Millisecond

// StoreError wraps a persistence failure surfaced by the Session State
// Store. SaveCreds and RemoveSession return it directly; debounced key
// writes never return it; they only log.
type StoreError struct {
	InstanceName string
	Op           string
	Err          error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("authstore: %s %s: %v", e.Op, e.InstanceName, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// RowStore is the persistence boundary AuthState writes through. The real
// implementation is backed by *bun.DB against whatsapp_sessions; tests
// substitute an in-memory map.
type RowStore interface {
	Get(ctx context.Context, instanceName string) (*database.SessionRow, error)
	Upsert(ctx context.Context, row *database.SessionRow) error
	Delete(ctx context.Context, instanceName string) error

	// List returns every session row, used by the /auth/sessions
	// inspection endpoints; it never decodes creds or keys.
	List(ctx context.Context) ([]*database.SessionRow, error)
}

// Creds is the structured form of the whatsapp_sessions.creds document.
// AppStateSyncKey material, which whatsmeow's own proto types would carry
// verbatim, is represented here as an opaque BufferJSON blob: this package
// never imports whatsmeow's internal proto packages, so the sync key
// payload is treated as bytes the real Socket implementation hands us
// pre-serialized, not as a structure this package understands.
type Creds struct {
	InstanceName string     `json:"instance_name"`
	JID          string     `json:"jid,omitempty"`
	PushName     string     `json:"push_name,omitempty"`
	RegisteredAt time.Time  `json:"registered_at,omitempty"`
	Extra        BufferJSON `json:"extra,omitempty"`
}

// KeyStore holds the rotating libsignal key material whatsmeow's
// store.Device would otherwise keep in its own sqlstore tables. Keyed by
// "<keyType>-<id>" exactly as spec.md §4.A describes it, so a single jsonb
// column can hold every key type whatsmeow asks for.
type KeyStore struct {
	mu   sync.RWMutex
	data map[string]BufferJSON
}

func newKeyStore() *KeyStore {
	return &KeyStore{data: make(map[string]BufferJSON)}
}

func compoundKey(keyType, id string) string {
	return keyType + "-" + id
}

// Get returns whatever values are present for the given ids under keyType.
// Missing ids are simply absent from the result, matching whatsmeow's
// "return what you have" key-store contract.
func (k *KeyStore) Get(keyType string, ids []string) map[string]BufferJSON {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make(map[string]BufferJSON, len(ids))
	for _, id := range ids {
		if v, ok := k.data[compoundKey(keyType, id)]; ok {
			out[id] = v
		}
	}
	return out
}

// Set applies a patch of keyType -> id -> value. A nil value deletes the
// entry; this is how whatsmeow signals a consumed one-time prekey or a
// rotated-out key should be forgotten.
func (k *KeyStore) Set(patch map[string]map[string]*BufferJSON) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for keyType, byID := range patch {
		for id, value := range byID {
			key := compoundKey(keyType, id)
			if value == nil {
				delete(k.data, key)
				continue
			}
			k.data[key] = *value
		}
	}
}

func (k *KeyStore) snapshot() map[string]BufferJSON {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make(map[string]BufferJSON, len(k.data))
	for key, v := range k.data {
		out[key] = v
	}
	return out
}

// AuthState is one instance's live session state: its credentials, its key
// material, and the debounce timer coalescing writes of the latter. The
// Fleet Coordinator holds exactly one of these per running instance.
type AuthState struct {
	instanceName string
	rows         RowStore
	log          logger.Logger

	mu    sync.Mutex
	creds Creds
	keys  *KeyStore
	timer *time.Timer
	dirty bool
}

// Open loads instanceName's session row if one exists, or starts a fresh
// AuthState for a first-time pairing. A missing row is not an error: it is
// the normal state of a brand-new instance before QR pairing completes.
func Open(ctx context.Context, rows RowStore, instanceName string, log logger.Logger) (*AuthState, error) {
	state := &AuthState{
		instanceName: instanceName,
		rows:         rows,
		log:          log,
		keys:         newKeyStore(),
	}

	row, err := rows.Get(ctx, instanceName)
	if err != nil {
		return nil, &StoreError{InstanceName: instanceName, Op: "open", Err: err}
	}
	if row == nil {
		return state, nil
	}

	if len(row.Creds) > 0 {
		var creds Creds
		if err := json.Unmarshal(row.Creds, &creds); err != nil {
			return nil, &StoreError{InstanceName: instanceName, Op: "decode creds", Err: err}
		}
		state.creds = creds
	}
	if len(row.Keys) > 0 {
		var raw map[string]BufferJSON
		if err := json.Unmarshal(row.Keys, &raw); err != nil {
			return nil, &StoreError{InstanceName: instanceName, Op: "decode keys", Err: err}
		}
		state.keys.mu.Lock()
		state.keys.data = raw
		state.keys.mu.Unlock()
	}

	return state, nil
}

// InstanceName returns the instance this state was opened for.
func (s *AuthState) InstanceName() string {
	return s.instanceName
}

// Creds returns a copy of the currently loaded credential document.
func (s *AuthState) Creds() Creds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

// Keys exposes the key store for whatsmeow's store.Device key-lookup
// callbacks to read and write.
func (s *AuthState) Keys() *KeyStore {
	return s.keys
}

// SetCreds replaces the in-memory credential document; callers still must
// call SaveCreds to persist it.
func (s *AuthState) SetCreds(c Creds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = c
}

// SaveCreds persists the credential document immediately and synchronously.
// Unlike key-store writes, credential changes (pairing, a new push name,
// registration) are never debounced: spec.md §7 requires they survive a
// crash that happens right after they occur.
func (s *AuthState) SaveCreds(ctx context.Context) error {
	s.mu.Lock()
	creds := s.creds
	s.mu.Unlock()

	credsJSON, err := json.Marshal(creds)
	if err != nil {
		return &StoreError{InstanceName: s.instanceName, Op: "encode creds", Err: err}
	}
	keysJSON, err := json.Marshal(s.keys.snapshot())
	if err != nil {
		return &StoreError{InstanceName: s.instanceName, Op: "encode keys", Err: err}
	}

	now := time.Now().UTC()
	row := &database.SessionRow{
		ID:        s.instanceName,
		Creds:     credsJSON,
		Keys:      keysJSON,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.rows.Upsert(ctx, row); err != nil {
		return &StoreError{InstanceName: s.instanceName, Op: "save creds", Err: err}
	}
	return nil
}

// MarkKeysDirty schedules a debounced key-store write debounceWindow from
// now, coalescing any calls that arrive before the timer fires into the
// single write that eventually runs. Failures from that write are logged,
// never returned: the caller (whatsmeow's key-store callback) has no
// useful way to react to a late, asynchronous write failure, and the
// in-memory KeyStore remains the source of truth for the rest of the
// process's lifetime regardless.
func (s *AuthState) MarkKeysDirty(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dirty = true
	if s.timer != nil {
		s.timer.Reset(debounceWindow)
		return
	}
	s.timer = time.AfterFunc(debounceWindow, func() {
		s.flushKeys(context.Background())
	})
}

// Flush forces any pending debounced key write to happen now, blocking
// until it completes. The Fleet Coordinator calls this on graceful
// instance shutdown so a stop doesn't race the debounce window.
func (s *AuthState) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	pending := s.dirty
	s.mu.Unlock()

	if !pending {
		return nil
	}
	return s.flushKeys(ctx)
}

func (s *AuthState) flushKeys(ctx context.Context) error {
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()

	keysJSON, err := json.Marshal(s.keys.snapshot())
	if err != nil {
		if s.log != nil {
			s.log.WithError(err).WithField("instance", s.instanceName).Error().Msg("encode session keys")
		}
		return err
	}

	row, err := s.rows.Get(ctx, s.instanceName)
	if err != nil {
		if s.log != nil {
			s.log.WithError(err).WithField("instance", s.instanceName).Error().Msg("load session row for key flush")
		}
		return err
	}

	now := time.Now().UTC()
	if row == nil {
		row = &database.SessionRow{ID: s.instanceName, CreatedAt: now}
	}
	row.Keys = keysJSON
	row.UpdatedAt = now

	if err := s.rows.Upsert(ctx, row); err != nil {
		if s.log != nil {
			s.log.WithError(err).WithField("instance", s.instanceName).Error().Msg("persist debounced session keys")
		}
		return err
	}
	return nil
}

// RemoveSession deletes instanceName's row outright. Idempotent: deleting
// an instance with no row (never paired, or already removed) is not an
// error, matching spec.md §4.D's "logout wipes session state" edge case
// where this can be called more than once for the same instance.
func RemoveSession(ctx context.Context, rows RowStore, instanceName string) error {
	if err := rows.Delete(ctx, instanceName); err != nil {
		return &StoreError{InstanceName: instanceName, Op: "remove session", Err: err}
	}
	return nil
}
