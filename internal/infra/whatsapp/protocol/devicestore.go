package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	waKeys "go.mau.fi/whatsmeow/util/keys"

	"whatsfleet/internal/infra/authstore"
)

// Signal key categories, matching the compound-key "<type>-<id>" scheme
// spec.md §4.A describes and whatsmeow's own sqlstore table names.
const (
	catIdentity    = "identity"
	catSession     = "session"
	catPreKey      = "prekey"
	catSenderKey   = "sender-key"
	catAppStateKey = "app-state-sync-key"
)

// identityDoc is the JSON shape of the device's long-lived key material,
// stored under Creds.Extra. whatsmeow's own sqlstore keeps this in typed
// SQL columns; this package keeps the Session State Store's "everything
// non-signal-key lives in one opaque document" contract from spec.md §4.A,
// so the keys round-trip through the same binary-aware codec as the
// signal keys.
type identityDoc struct {
	NoiseKey       keyPairDoc `json:"noise_key"`
	IdentityKey    keyPairDoc `json:"identity_key"`
	RegistrationID uint32     `json:"registration_id"`
	AdvSecretKey   []byte     `json:"adv_secret_key"`
}

type keyPairDoc struct {
	Priv []byte `json:"priv"`
}

// preKeyDoc is the JSON shape one one-time prekey takes under the
// "prekey" key-store category.
type preKeyDoc struct {
	Priv  []byte `json:"priv"`
	KeyID uint32 `json:"key_id"`
}

func preKeyCompoundID(id uint32) string {
	return fmt.Sprintf("%d", id)
}

// deviceBackend adapts one instance's *authstore.AuthState into every
// store interface whatsmeow's *store.Device composes. Signal key
// categories (identity, session, prekey, sender-key, app-state-sync-key)
// go through AuthState's KeyStore exactly as spec.md §4.A's
// key_store.get/set contract describes; the handful of ancillary stores
// whatsmeow also requires (contacts, chat settings, message secrets,
// privacy tokens) are out of this fleet manager's scope — it never routes
// messages or syncs a contact book — and are kept in memory only so the
// *store.Device satisfies whatsmeow's interfaces without a persisted
// table nothing ever reads.
type deviceBackend struct {
	state *authstore.AuthState

	mu              sync.Mutex
	contacts        map[types.JID]types.ContactInfo
	chats           map[types.JID]types.LocalChatSettings
	secrets         map[string][]byte
	tokens          map[types.JID]time.Time
	nextPreKeyID    uint32
	uploadedPreKeys uint32
}

func newDeviceBackend(state *authstore.AuthState) *deviceBackend {
	return &deviceBackend{
		state:    state,
		contacts: make(map[types.JID]types.ContactInfo),
		chats:    make(map[types.JID]types.LocalChatSettings),
		secrets:  make(map[string][]byte),
		tokens:   make(map[types.JID]time.Time),
	}
}

func decodeBuffer(b *authstore.BufferJSON) []byte {
	if b == nil {
		return nil
	}
	return b.Bytes
}

func encodeBuffer(b []byte) *authstore.BufferJSON {
	buf := authstore.NewBufferJSON(b)
	return &buf
}

// --- IdentityStore ---

func (d *deviceBackend) PutIdentity(_ context.Context, address string, key [32]byte) error {
	d.state.Keys().Set(map[string]map[string]*authstore.BufferJSON{
		catIdentity: {address: encodeBuffer(key[:])},
	})
	d.state.MarkKeysDirty(context.Background())
	return nil
}

func (d *deviceBackend) DeleteAllIdentities(_ context.Context, _ string) error {
	return nil
}

func (d *deviceBackend) DeleteIdentity(_ context.Context, address string) error {
	d.state.Keys().Set(map[string]map[string]*authstore.BufferJSON{
		catIdentity: {address: nil},
	})
	d.state.MarkKeysDirty(context.Background())
	return nil
}

func (d *deviceBackend) IsTrustedIdentity(_ context.Context, address string, key [32]byte) (bool, error) {
	got := d.state.Keys().Get(catIdentity, []string{address})
	stored, ok := got[address]
	if !ok {
		return true, nil
	}
	return string(stored.Bytes) == string(key[:]), nil
}

// --- SessionStore ---

func (d *deviceBackend) GetSession(_ context.Context, address string) ([]byte, error) {
	got := d.state.Keys().Get(catSession, []string{address})
	return decodeBuffer(got[address]), nil
}

func (d *deviceBackend) HasSession(_ context.Context, address string) (bool, error) {
	got := d.state.Keys().Get(catSession, []string{address})
	_, ok := got[address]
	return ok, nil
}

func (d *deviceBackend) PutSession(_ context.Context, address string, session []byte) error {
	d.state.Keys().Set(map[string]map[string]*authstore.BufferJSON{
		catSession: {address: encodeBuffer(session)},
	})
	d.state.MarkKeysDirty(context.Background())
	return nil
}

func (d *deviceBackend) DeleteAllSessions(_ context.Context, _ string) error {
	return nil
}

func (d *deviceBackend) DeleteSession(_ context.Context, address string) error {
	d.state.Keys().Set(map[string]map[string]*authstore.BufferJSON{
		catSession: {address: nil},
	})
	d.state.MarkKeysDirty(context.Background())
	return nil
}

func (d *deviceBackend) MigratePNToLID(_ context.Context, _, _ types.JID) error {
	return nil
}

// --- PreKeyStore ---

func (d *deviceBackend) GetOrGenPreKeys(ctx context.Context, count uint32) ([]*store.PreKey, error) {
	out := make([]*store.PreKey, 0, count)
	for i := uint32(0); i < count; i++ {
		pk, err := d.genPreKey(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, pk)
	}
	return out, nil
}

func (d *deviceBackend) GenOnePreKey(ctx context.Context) (*store.PreKey, error) {
	return d.genPreKey(ctx)
}

func (d *deviceBackend) genPreKey(_ context.Context) (*store.PreKey, error) {
	d.mu.Lock()
	d.nextPreKeyID++
	id := d.nextPreKeyID
	d.mu.Unlock()

	pair := waKeys.NewKeyPair()
	doc := preKeyDoc{Priv: pair.Priv[:], KeyID: id}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	d.state.Keys().Set(map[string]map[string]*authstore.BufferJSON{
		catPreKey: {preKeyCompoundID(id): encodeBuffer(encoded)},
	})
	d.state.MarkKeysDirty(context.Background())

	return &store.PreKey{KeyPair: *pair, KeyID: id}, nil
}

func (d *deviceBackend) GetPreKey(_ context.Context, id uint32) (*store.PreKey, error) {
	got := d.state.Keys().Get(catPreKey, []string{preKeyCompoundID(id)})
	raw, ok := got[preKeyCompoundID(id)]
	if !ok {
		return nil, nil
	}
	var doc preKeyDoc
	if err := json.Unmarshal(raw.Bytes, &doc); err != nil {
		return nil, err
	}
	var priv [32]byte
	copy(priv[:], doc.Priv)
	return &store.PreKey{KeyPair: *waKeys.NewKeyPairFromPrivateKey(priv), KeyID: doc.KeyID}, nil
}

func (d *deviceBackend) RemovePreKey(_ context.Context, id uint32) error {
	d.state.Keys().Set(map[string]map[string]*authstore.BufferJSON{
		catPreKey: {preKeyCompoundID(id): nil},
	})
	d.state.MarkKeysDirty(context.Background())
	return nil
}

func (d *deviceBackend) MarkPreKeysAsUploaded(_ context.Context, upToID uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if upToID > d.uploadedPreKeys {
		d.uploadedPreKeys = upToID
	}
	return nil
}

func (d *deviceBackend) UploadedPreKeyCount(_ context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int(d.uploadedPreKeys), nil
}

// --- SenderKeyStore ---

func (d *deviceBackend) PutSenderKey(_ context.Context, group, user string, session []byte) error {
	d.state.Keys().Set(map[string]map[string]*authstore.BufferJSON{
		catSenderKey: {group + "|" + user: encodeBuffer(session)},
	})
	d.state.MarkKeysDirty(context.Background())
	return nil
}

func (d *deviceBackend) GetSenderKey(_ context.Context, group, user string) ([]byte, error) {
	got := d.state.Keys().Get(catSenderKey, []string{group + "|" + user})
	return decodeBuffer(got[group+"|"+user]), nil
}

// --- AppStateSyncKeyStore ---
//
// spec.md §4.A calls this category out explicitly: the decoded keystore
// value must be lifted into the protocol library's structured form before
// it is handed back, since whatsmeow's AppStateSyncKey is itself a small
// struct (key material + fingerprint + timestamp), not a raw blob.

func (d *deviceBackend) PutAppStateSyncKey(_ context.Context, id []byte, key store.AppStateSyncKey) error {
	encoded, err := json.Marshal(key)
	if err != nil {
		return err
	}
	d.state.Keys().Set(map[string]map[string]*authstore.BufferJSON{
		catAppStateKey: {string(id): encodeBuffer(encoded)},
	})
	d.state.MarkKeysDirty(context.Background())
	return nil
}

func (d *deviceBackend) GetAppStateSyncKey(_ context.Context, id []byte) (*store.AppStateSyncKey, error) {
	got := d.state.Keys().Get(catAppStateKey, []string{string(id)})
	raw, ok := got[string(id)]
	if !ok {
		return nil, nil
	}
	var key store.AppStateSyncKey
	if err := json.Unmarshal(raw.Bytes, &key); err != nil {
		return nil, err
	}
	return &key, nil
}

func (d *deviceBackend) GetLatestAppStateSyncKeyID(_ context.Context) ([]byte, error) {
	return nil, nil
}

// --- AppStateMutationMACStore ---
//
// App state (contacts/chat mutation) sync is out of scope for a fleet
// manager that never reads a tenant's chat list; these MACs are not kept
// at all: Put and Delete discard their input and Get always returns nil.

func (d *deviceBackend) PutAppStateMutationMACs(_ context.Context, _ string, _ int, _ []store.AppStateMutationMAC) error {
	return nil
}

func (d *deviceBackend) DeleteAppStateMutationMACs(_ context.Context, _ string, _ [][]byte) error {
	return nil
}

func (d *deviceBackend) GetAppStateMutationMAC(_ context.Context, _ string, _ []byte) ([]byte, error) {
	return nil, nil
}

// --- ContactStore ---

func (d *deviceBackend) PutPushName(_ context.Context, user types.JID, pushName string) (bool, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.contacts[user]
	changed := prev.PushName != pushName
	prev.PushName = pushName
	d.contacts[user] = prev
	return changed, prev.PushName, nil
}

func (d *deviceBackend) PutBusinessName(_ context.Context, user types.JID, businessName string) (bool, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.contacts[user]
	changed := prev.BusinessName != businessName
	prev.BusinessName = businessName
	d.contacts[user] = prev
	return changed, prev.BusinessName, nil
}

func (d *deviceBackend) PutContactName(_ context.Context, user types.JID, fullName, firstName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.contacts[user]
	prev.FullName, prev.FirstName = fullName, firstName
	d.contacts[user] = prev
	return nil
}

func (d *deviceBackend) PutAllContactNames(_ context.Context, contacts []store.ContactEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range contacts {
		prev := d.contacts[c.JID]
		prev.FullName, prev.FirstName = c.FullName, c.FirstName
		d.contacts[c.JID] = prev
	}
	return nil
}

func (d *deviceBackend) GetContact(_ context.Context, user types.JID) (types.ContactInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.contacts[user], nil
}

func (d *deviceBackend) GetAllContacts(_ context.Context) (map[types.JID]types.ContactInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[types.JID]types.ContactInfo, len(d.contacts))
	for k, v := range d.contacts {
		out[k] = v
	}
	return out, nil
}

// --- ChatSettingsStore ---

func (d *deviceBackend) PutMutedUntil(_ context.Context, chat types.JID, mutedUntil time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.chats[chat]
	s.MutedUntil = mutedUntil
	d.chats[chat] = s
	return nil
}

func (d *deviceBackend) PutPinned(_ context.Context, chat types.JID, pinned bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.chats[chat]
	s.Pinned = pinned
	d.chats[chat] = s
	return nil
}

func (d *deviceBackend) PutArchived(_ context.Context, chat types.JID, archived bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.chats[chat]
	s.Archived = archived
	d.chats[chat] = s
	return nil
}

func (d *deviceBackend) GetChatSettings(_ context.Context, chat types.JID) (types.LocalChatSettings, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chats[chat], nil
}

// --- MessageSecretStore ---

func (d *deviceBackend) PutMessageSecrets(_ context.Context, inserts []store.MessageSecretInsert) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ins := range inserts {
		d.secrets[ins.Chat.String()+"|"+ins.Sender.String()+"|"+ins.ID] = ins.Secret
	}
	return nil
}

func (d *deviceBackend) GetMessageSecret(_ context.Context, chat, sender types.JID, id string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.secrets[chat.String()+"|"+sender.String()+"|"+id], nil
}

// --- PrivacyTokenStore ---

func (d *deviceBackend) PutPrivacyTokens(_ context.Context, tokens ...store.PrivacyToken) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range tokens {
		d.tokens[t.User] = t.Timestamp
	}
	return nil
}

func (d *deviceBackend) GetPrivacyToken(_ context.Context, user types.JID) (*store.PrivacyToken, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ts, ok := d.tokens[user]
	if !ok {
		return nil, nil
	}
	return &store.PrivacyToken{User: user, Timestamp: ts}, nil
}
