package middleware_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/lattice/pkg/adapters/memory"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/persistence/middleware"
)

func TestPIIMiddleware_Masking(t *testing.T) {
	// Setup
	underlyingStore := memory.NewStore()
	// Mask attributes containing "password" or "ssn"
	mw := middleware.NewPIIMiddleware([]string{"password", "ssn"})
	secureStore := mw(underlyingStore)

	ctx := context.Background()
	rec := domain.NewRecord("pii-session", epoch, time.Hour, "node-a")

	// Populate with mixed data
	rec.Attributes["username"] = []byte("jdoe")
	rec.Attributes["user_password"] = []byte("secret123")
	rec.Attributes["ssn_number"] = []byte("999-99-9999")

	// 1. Create
	if err := secureStore.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Verify In-Memory Record is NOT MODIFIED (Immutability check)
	if string(rec.Attributes["user_password"]) != "secret123" {
		t.Error("Middleware modified original record in memory!")
	}

	// 2. Load from Underlying Store (Should be masked)
	stored, err := underlyingStore.Load(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Underlying load failed: %v", err)
	}

	// Check masking
	if string(stored.Attributes["username"]) != "jdoe" {
		t.Error("Username shouldn't be masked")
	}
	if string(stored.Attributes["user_password"]) != middleware.Mask {
		t.Errorf("Password should be masked, got: %s", stored.Attributes["user_password"])
	}
	if string(stored.Attributes["ssn_number"]) != middleware.Mask {
		t.Errorf("SSN should be masked, got: %s", stored.Attributes["ssn_number"])
	}

	// 3. Save goes through the same filter.
	stored.Attributes["password_hint"] = []byte("pet name")
	if _, err := secureStore.Save(ctx, stored); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	stored, _ = underlyingStore.Load(ctx, rec.ID)
	if string(stored.Attributes["password_hint"]) != middleware.Mask {
		t.Errorf("Saved password hint should be masked, got: %s", stored.Attributes["password_hint"])
	}
}
