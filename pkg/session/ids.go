package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
)

const (
	// IDBytes is the entropy carried by a session id.
	IDBytes = 24
	// IDLength is the encoded length of a session id.
	IDLength = 32
	// DefaultMaxAttempts bounds creation retries on id collision.
	DefaultMaxAttempts = 10
)

var idEncoding = base64.RawURLEncoding

// IDManager mints session ids and reserves them in the store.
type IDManager struct {
	store       ports.Store
	MaxAttempts int

	opts options
}

// NewIDManager creates an IDManager reserving ids in store.
func NewIDManager(store ports.Store, opts ...Option) *IDManager {
	return &IDManager{
		store:       store,
		MaxAttempts: DefaultMaxAttempts,
		opts:        buildOptions(opts),
	}
}

// Generate returns a fresh random id without touching the store.
func (m *IDManager) Generate() (string, error) {
	buf := make([]byte, IDBytes)
	if _, err := io.ReadFull(m.opts.random, buf); err != nil {
		return "", fmt.Errorf("failed to read session id entropy: %w", err)
	}
	return idEncoding.EncodeToString(buf), nil
}

// NewID assigns a fresh id to proto and creates it in the store, retrying on
// collision. The returned record is exactly what the store holds.
func (m *IDManager) NewID(ctx context.Context, proto domain.Record) (domain.Record, error) {
	attempts := m.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		id, err := m.Generate()
		if err != nil {
			return domain.Record{}, err
		}
		rec := proto.Clone()
		rec.ID = id

		err = m.store.Create(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return domain.Record{}, fmt.Errorf("failed to create session: %w", err)
		}
		m.opts.logger.Debug("Session id collision, retrying", "attempt", attempt)
	}
	return domain.Record{}, fmt.Errorf("%w after %d attempts", domain.ErrIDGenerationExhausted, attempts)
}

// Validate reports whether id has the shape of a generated session id.
func Validate(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
