package middleware_test

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aretw0/redliner/pkg/adapters/memory"
	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/persistence/middleware"
	"github.com/aretw0/redliner/pkg/ports"
	"github.com/aretw0/redliner/pkg/session"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func secretSession(id string) *domain.Session {
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	return &domain.Session{
		ID:        id,
		UserID:    "alice",
		Filename:  "acquisition-nda.txt",
		CreatedAt: now,
		UpdatedAt: now,
		Status:    domain.StatusCompleted,
		Results: domain.StageResults{Ingestion: &domain.IngestionResult{
			NormalizedText: "my-secret-sauce",
		}},
	}
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ports.RunStateStoreContract(t, mw(memory.NewStore()))
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlyingStore := memory.NewStore()
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	secureStore := mw(underlyingStore)

	ctx := context.Background()
	sessionID := "test-session"

	// 1. Save
	if err := secureStore.Save(ctx, sessionID, secretSession(sessionID)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// 2. Verify Underlying Store directly (Should be encrypted)
	stored, err := underlyingStore.Load(ctx, sessionID)
	if err != nil {
		t.Fatalf("Underlying load failed: %v", err)
	}
	if stored.UserID != "" || stored.Filename != "" || stored.Results.Ingestion != nil {
		t.Fatalf("Expected private fields to be hidden, found: %+v", stored)
	}
	if len(stored.Sealed) == 0 {
		t.Fatal("Expected sealed payload in envelope")
	}
	if !stored.UpdatedAt.Equal(secretSession(sessionID).UpdatedAt) {
		t.Error("Expected envelope to keep UpdatedAt")
	}

	// 3. Load via Middleware (Should be decrypted)
	loaded, err := secureStore.Load(ctx, sessionID)
	if err != nil {
		t.Fatalf("Load via middleware failed: %v", err)
	}
	if loaded.Results.Ingestion == nil || loaded.Results.Ingestion.NormalizedText != "my-secret-sauce" {
		t.Errorf("Expected 'my-secret-sauce', got %+v", loaded.Results.Ingestion)
	}
	if len(loaded.Sealed) != 0 {
		t.Error("Expected decrypted session to carry no sealed payload")
	}
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlyingStore := memory.NewStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)

	secureStoreOld := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})(underlyingStore)

	ctx := context.Background()
	sessionID := "rotation-session"

	// 1. Save with OLD key
	if err := secureStoreOld.Save(ctx, sessionID, secretSession(sessionID)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// 2. Load with NEW key (Active) + OLD key (Fallback)
	secureStoreNew := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(underlyingStore)

	loaded, err := secureStoreNew.Load(ctx, sessionID)
	if err != nil {
		t.Fatalf("Load with rotated key failed: %v", err)
	}
	if loaded.UserID != "alice" {
		t.Errorf("Decryption with fallback key failed")
	}

	// 3. Save again (Should now be sealed with NEW key)
	loaded.Filename = "renamed.txt"
	if err := secureStoreNew.Save(ctx, sessionID, loaded); err != nil {
		t.Fatalf("Save with new key failed: %v", err)
	}

	// 4. Verify we CANNOT load with just OLD key anymore
	if _, err := secureStoreOld.Load(ctx, sessionID); err == nil {
		t.Error("Expected failure when loading new-key encryption with old-key middleware")
	}
}

func TestEncryptionMiddleware_RejectsPlainRecords(t *testing.T) {
	underlyingStore := memory.NewStore()
	ctx := context.Background()
	if err := underlyingStore.Save(ctx, "plain", secretSession("plain")); err != nil {
		t.Fatal(err)
	}

	secureStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlyingStore)
	if _, err := secureStore.Load(ctx, "plain"); !errors.Is(err, middleware.ErrNotSealed) {
		t.Errorf("Expected ErrNotSealed, got %v", err)
	}
}

func TestEncryptionMiddleware_WithManager(t *testing.T) {
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	m := session.NewManager(middleware.Chain(memory.NewStore(), mw))
	ctx := context.Background()

	id, err := m.Create(ctx, &domain.Session{UserID: "alice", Filename: "a.txt"})
	if err != nil {
		t.Fatal(err)
	}
	list, err := m.List(ctx, "alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].SessionID != id {
		t.Errorf("Expected the encrypted session in history, got %+v", list)
	}
}

func TestParseKey(t *testing.T) {
	key := generateKey(t)
	parsed, err := middleware.ParseKey(hex.EncodeToString(key))
	if err != nil || string(parsed) != string(key) {
		t.Fatalf("ParseKey roundtrip failed: %v", err)
	}
	if _, err := middleware.ParseKey("abcd"); err == nil {
		t.Error("Expected error for short key")
	}
	if _, err := middleware.ParseKey("zz"); err == nil {
		t.Error("Expected error for non-hex key")
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
