package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/agentrun/pkg/domain"
	"github.com/aretw0/agentrun/pkg/ports"
)

// EnvelopeKey is the shared-context key holding an encrypted snapshot.
const EnvelopeKey = "__encrypted__"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are older keys tried in order when decryption with ActiveKey fails.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.SessionStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts snapshots and trace events
// with AES-GCM. The stored records keep only what ordering and listing need: the session
// status on snapshots and seq, timestamp and action on events.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != 32 {
		return nil, errors.New("active key must be 32 bytes (AES-256)")
	}
	for i, k := range config.FallbackKeys {
		if len(k) != 32 {
			return nil, fmt.Errorf("fallback key %d must be 32 bytes (AES-256)", i)
		}
	}
	return func(next ports.SessionStore) ports.SessionStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}, nil
}

func (m *encryptionMiddleware) WriteSnapshot(ctx context.Context, sessionID string, session *domain.Session) error {
	blob, err := m.seal(session)
	if err != nil {
		return fmt.Errorf("failed to encrypt snapshot: %w", err)
	}

	// The envelope hides everything but the lifecycle stage.
	envelope := domain.NewSession(session.SessionID, "", session.StartTime)
	envelope.Status = session.Status
	envelope.SharedContext[EnvelopeKey] = blob

	return m.next.WriteSnapshot(ctx, sessionID, envelope)
}

func (m *encryptionMiddleware) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	envelope, err := m.next.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	blob, ok := envelope.SharedContext[EnvelopeKey].(string)
	if !ok {
		// Fail secure: a plain snapshot under an encrypting store is not trusted.
		return nil, errors.New("snapshot is missing encrypted data envelope")
	}

	var session domain.Session
	if err := m.open(blob, &session); err != nil {
		return nil, fmt.Errorf("failed to decrypt snapshot: %w", err)
	}
	return &session, nil
}

func (m *encryptionMiddleware) AppendEvent(ctx context.Context, sessionID string, event domain.Event) error {
	blob, err := m.seal(event)
	if err != nil {
		return fmt.Errorf("failed to encrypt event: %w", err)
	}
	return m.next.AppendEvent(ctx, sessionID, domain.Event{
		Seq:       event.Seq,
		Timestamp: event.Timestamp,
		Action:    event.Action,
		Value:     blob,
	})
}

func (m *encryptionMiddleware) LoadTrace(ctx context.Context, sessionID string) ([]domain.Event, error) {
	stored, err := m.next.LoadTrace(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	trace := make([]domain.Event, 0, len(stored))
	for _, envelope := range stored {
		blob, ok := envelope.Value.(string)
		if !ok {
			return nil, fmt.Errorf("event %d is missing encrypted data envelope", envelope.Seq)
		}
		var event domain.Event
		if err := m.open(blob, &event); err != nil {
			return nil, fmt.Errorf("failed to decrypt event %d: %w", envelope.Seq, err)
		}
		trace = append(trace, event)
	}
	return trace, nil
}

func (m *encryptionMiddleware) Delete(ctx context.Context, sessionID string) error {
	return m.next.Delete(ctx, sessionID)
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *encryptionMiddleware) seal(v any) (string, error) {
	plainText, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (m *encryptionMiddleware) open(blob string, v any) error {
	ciphertext, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return err
	}
	return json.Unmarshal(plainText, v)
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	for _, key := range append([][]byte{activeKey}, fallbackKeys...) {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
