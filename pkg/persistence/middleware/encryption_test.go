package middleware_test

import (
	"context"
	"crypto/rand"
	"io"
	"testing"
	"time"

	"github.com/aretw0/agentrun/pkg/adapters/memory"
	"github.com/aretw0/agentrun/pkg/domain"
	"github.com/aretw0/agentrun/pkg/persistence/middleware"
	"github.com/aretw0/agentrun/pkg/ports"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func encrypted(t *testing.T, next ports.SessionStore, cfg middleware.EncryptionConfig) ports.SessionStore {
	t.Helper()
	mw, err := middleware.NewEncryptionMiddleware(cfg)
	if err != nil {
		t.Fatalf("NewEncryptionMiddleware failed: %v", err)
	}
	return mw(next)
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	ports.RunSessionStoreContract(t, encrypted(t, memory.NewStore(), middleware.EncryptionConfig{ActiveKey: generateKey(t)}))
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	// Setup
	underlyingStore := memory.NewStore()
	secureStore := encrypted(t, underlyingStore, middleware.EncryptionConfig{ActiveKey: generateKey(t)})

	ctx := context.Background()
	sessionID := "test-session"
	session := domain.NewSession(sessionID, "/agents/writer", time.Now())
	event := session.Apply(domain.Event{Action: domain.ActionSharedContextSet, Key: "secret", Value: "my-secret-sauce"})

	// 1. Save
	if err := secureStore.AppendEvent(ctx, sessionID, event); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}
	if err := secureStore.WriteSnapshot(ctx, sessionID, session); err != nil {
		t.Fatalf("WriteSnapshot failed: %v", err)
	}

	// 2. Verify Underlying Store directly (Should be encrypted)
	stored, err := underlyingStore.Load(ctx, sessionID)
	if err != nil {
		t.Fatalf("Underlying load failed: %v", err)
	}
	if val, ok := stored.SharedContext["secret"]; ok {
		t.Fatalf("Expected secret to be hidden, found: %v", val)
	}
	if _, ok := stored.SharedContext[middleware.EnvelopeKey]; !ok {
		t.Fatal("Expected envelope field in shared context")
	}
	if stored.AgentPath != "" || len(stored.History) != 0 {
		t.Errorf("Envelope leaks details: %+v", stored)
	}

	storedTrace, err := underlyingStore.LoadTrace(ctx, sessionID)
	if err != nil {
		t.Fatalf("Underlying trace load failed: %v", err)
	}
	if len(storedTrace) != 1 || storedTrace[0].Key != "" || storedTrace[0].Seq != 1 {
		t.Fatalf("Expected one opaque event with seq 1, got %+v", storedTrace)
	}

	// 3. Load via Middleware (Should be decrypted)
	loaded, err := secureStore.Load(ctx, sessionID)
	if err != nil {
		t.Fatalf("Load via middleware failed: %v", err)
	}
	if loaded.SharedContext["secret"] != "my-secret-sauce" || loaded.AgentPath != "/agents/writer" {
		t.Errorf("Unexpected decrypted snapshot: %+v", loaded)
	}

	trace, err := secureStore.LoadTrace(ctx, sessionID)
	if err != nil {
		t.Fatalf("LoadTrace via middleware failed: %v", err)
	}
	if len(trace) != 1 || trace[0].Value != "my-secret-sauce" {
		t.Errorf("Unexpected decrypted trace: %+v", trace)
	}
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	// Setup
	underlyingStore := memory.NewStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)

	// Create middleware with OLD key to save initial state
	secureStoreOld := encrypted(t, underlyingStore, middleware.EncryptionConfig{ActiveKey: oldKey})

	ctx := context.Background()
	sessionID := "rotation-session"
	session := domain.NewSession(sessionID, "", time.Now())
	session.SharedContext["data"] = "encrypted-with-old-key"

	// 1. Save with OLD key
	if err := secureStoreOld.WriteSnapshot(ctx, sessionID, session); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// 2. Load with NEW key (Active) + OLD key (Fallback)
	secureStoreNew := encrypted(t, underlyingStore, middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})

	loaded, err := secureStoreNew.Load(ctx, sessionID)
	if err != nil {
		t.Fatalf("Load with rotated key failed: %v", err)
	}
	if loaded.SharedContext["data"] != "encrypted-with-old-key" {
		t.Errorf("Decryption with fallback key failed")
	}

	// 3. Save again (Should now be sealed with NEW key)
	loaded.SharedContext["data"] = "encrypted-with-new-key"
	if err := secureStoreNew.WriteSnapshot(ctx, sessionID, loaded); err != nil {
		t.Fatalf("Save with new key failed: %v", err)
	}

	// 4. Verify we CANNOT load with just OLD key anymore
	if _, err := secureStoreOld.Load(ctx, sessionID); err == nil {
		t.Error("Expected failure when loading new-key encryption with old-key middleware")
	}
}

func TestEncryptionMiddleware_PlainSnapshotRejected(t *testing.T) {
	underlyingStore := memory.NewStore()
	ctx := context.Background()
	if err := underlyingStore.WriteSnapshot(ctx, "plain", domain.NewSession("plain", "", time.Now())); err != nil {
		t.Fatal(err)
	}

	secureStore := encrypted(t, underlyingStore, middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	if _, err := secureStore.Load(ctx, "plain"); err == nil {
		t.Error("Expected plain snapshot to be rejected")
	}
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	if _, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")}); err == nil {
		t.Error("Expected error for invalid key size")
	}
	_, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    generateKey(t),
		FallbackKeys: [][]byte{[]byte("short")},
	})
	if err == nil {
		t.Error("Expected error for invalid fallback key size")
	}
}
