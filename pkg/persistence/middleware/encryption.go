package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
)

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

// ParseKey decodes a base64 AES-256 key.
func ParseKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key encoding: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes (AES-256), got %d", len(key))
	}
	return key, nil
}

// encryptionMiddleware seals every attribute value. Metadata the store needs
// for versioning and queries stays in the clear.
type encryptionMiddleware struct {
	ports.Store
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts attribute values
// using AES-GCM. The attribute name is bound as additional data, so values
// cannot be swapped between names.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.Store) ports.Store {
		return &encryptionMiddleware{
			Store:  next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) Create(ctx context.Context, rec domain.Record) error {
	sealed, err := m.seal(rec)
	if err != nil {
		return err
	}
	return m.Store.Create(ctx, sealed)
}

func (m *encryptionMiddleware) Save(ctx context.Context, rec domain.Record) (int64, error) {
	sealed, err := m.seal(rec)
	if err != nil {
		return 0, err
	}
	return m.Store.Save(ctx, sealed)
}

func (m *encryptionMiddleware) Load(ctx context.Context, id string) (domain.Record, error) {
	rec, err := m.Store.Load(ctx, id)
	if err != nil {
		return domain.Record{}, err
	}

	plain := make(map[string][]byte, len(rec.Attributes))
	for name, ciphertext := range rec.Attributes {
		value, err := decryptWithRotation(ciphertext, []byte(name), m.config.ActiveKey, m.config.FallbackKeys)
		if err != nil {
			return domain.Record{}, fmt.Errorf("failed to decrypt attribute %q of session %s: %w", name, id, err)
		}
		plain[name] = value
	}
	rec.Attributes = plain
	return rec, nil
}

// seal returns a copy of rec with encrypted attributes; rec is untouched.
func (m *encryptionMiddleware) seal(rec domain.Record) (domain.Record, error) {
	sealed := make(map[string][]byte, len(rec.Attributes))
	for name, value := range rec.Attributes {
		ciphertext, err := encrypt(value, []byte(name), m.config.ActiveKey)
		if err != nil {
			return domain.Record{}, fmt.Errorf("failed to encrypt attribute %q: %w", name, err)
		}
		sealed[name] = ciphertext
	}
	rec.Attributes = sealed
	return rec, nil
}

// Helpers

func encrypt(plaintext, additional, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, additional), nil
}

func decryptWithRotation(ciphertext, additional, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	// Try active key first
	if plain, err := decrypt(ciphertext, additional, activeKey); err == nil {
		return plain, nil
	}

	// Try fallbacks in order
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, additional, key); err == nil {
			return plain, nil
		}
	}

	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext, additional, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	ciphertextBytes := ciphertext[gcm.NonceSize():]

	plain, err := gcm.Open(nil, nonce, ciphertextBytes, additional)
	if err != nil {
		return nil, err
	}
	if plain == nil {
		plain = []byte{}
	}
	return plain, nil
}
