package middleware_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"testing"
	"time"

	"github.com/aretw0/lattice/pkg/adapters/memory"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/persistence/middleware"
	"github.com/aretw0/lattice/pkg/ports"
	"github.com/aretw0/lattice/pkg/ports/storetest"
)

var epoch = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	key := generateKey(t)
	storetest.Run(t, func(t *testing.T) ports.Store {
		return middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key})(memory.NewStore())
	})
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	// Setup
	underlyingStore := memory.NewStore()
	key := generateKey(t)
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key})
	secureStore := mw(underlyingStore)

	ctx := context.Background()
	rec := domain.NewRecord("test-session", epoch, time.Hour, "node-a")
	rec.Attributes["secret"] = []byte("my-secret-sauce")
	rec.Attributes["empty"] = []byte{}

	// 1. Create
	if err := secureStore.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if string(rec.Attributes["secret"]) != "my-secret-sauce" {
		t.Fatal("Middleware modified the caller's record")
	}

	// 2. Verify Underlying Store directly (Should be encrypted)
	stored, err := underlyingStore.Load(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Underlying load failed: %v", err)
	}
	if bytes.Contains(stored.Attributes["secret"], []byte("my-secret-sauce")) {
		t.Fatalf("Expected secret to be hidden, found: %q", stored.Attributes["secret"])
	}
	if stored.LastNode != "node-a" || stored.Version != domain.InitialVersion {
		t.Errorf("Metadata must stay in the clear, got node=%q version=%d", stored.LastNode, stored.Version)
	}

	// 3. Load via Middleware (Should be decrypted)
	loaded, err := secureStore.Load(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Load via middleware failed: %v", err)
	}
	if !loaded.SameAttributes(rec) {
		t.Errorf("Expected %v, got %v", rec.Attributes, loaded.Attributes)
	}
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	// Setup
	underlyingStore := memory.NewStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)

	// Create middleware with OLD key to save initial state
	secureStoreOld := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})(underlyingStore)

	ctx := context.Background()
	rec := domain.NewRecord("rotation-session", epoch, time.Hour, "node-a")
	rec.Attributes["data"] = []byte("encrypted-with-old-key")

	// 1. Create with OLD key
	if err := secureStoreOld.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// 2. Load with NEW key (Active) + OLD key (Fallback)
	secureStoreNew := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(underlyingStore)

	loaded, err := secureStoreNew.Load(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Load with rotated key failed: %v", err)
	}
	if string(loaded.Attributes["data"]) != "encrypted-with-old-key" {
		t.Errorf("Decryption with fallback key failed")
	}

	// 3. Save again (Should now be sealed with NEW key)
	loaded.Attributes["data"] = []byte("encrypted-with-new-key")
	if _, err := secureStoreNew.Save(ctx, loaded); err != nil {
		t.Fatalf("Save with new key failed: %v", err)
	}

	// 4. Verify we CANNOT load with just OLD key anymore
	if _, err := secureStoreOld.Load(ctx, rec.ID); err == nil {
		t.Error("Expected failure when loading new-key encryption with old-key middleware")
	}
}

func TestEncryptionMiddleware_BindsAttributeName(t *testing.T) {
	underlyingStore := memory.NewStore()
	secureStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlyingStore)

	ctx := context.Background()
	rec := domain.NewRecord("swap-session", epoch, time.Hour, "node-a")
	rec.Attributes["role"] = []byte("user")
	rec.Attributes["admin"] = []byte("no")
	if err := secureStore.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Tamper underneath: move one ciphertext to another name.
	stored, _ := underlyingStore.Load(ctx, rec.ID)
	stored.Attributes["admin"] = stored.Attributes["role"]
	if _, err := underlyingStore.Save(ctx, stored); err != nil {
		t.Fatalf("Underlying save failed: %v", err)
	}

	if _, err := secureStore.Load(ctx, rec.ID); err == nil {
		t.Error("Expected swapped ciphertext to fail authentication")
	}
}

func TestParseKey(t *testing.T) {
	key := generateKey(t)
	parsed, err := middleware.ParseKey(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}
	if !bytes.Equal(key, parsed) {
		t.Error("ParseKey returned a different key")
	}

	if _, err := middleware.ParseKey(base64.StdEncoding.EncodeToString([]byte("short-key"))); err == nil {
		t.Error("Expected error for short key")
	}
	if _, err := middleware.ParseKey("not base64!"); err == nil {
		t.Error("Expected error for invalid encoding")
	}
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected panic for invalid key size")
		}
	}()
	middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
}
