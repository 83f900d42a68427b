package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/triggerkit/triggerkit/internal/domain"
)

func newRecord(hash string) *domain.RuntimeRecord {
	return &domain.RuntimeRecord{
		RuntimeType:    "local",
		ConfigHash:     hash,
		CreationStatus: domain.CreationInProgress,
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	record := newRecord("h1")
	if err := store.Create(ctx, record); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if record.ID == "" {
		t.Error("Create did not assign an ID")
	}

	got, err := store.GetByHash(ctx, "h1")
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if got.ID != record.ID {
		t.Errorf("ID = %s, want %s", got.ID, record.ID)
	}

	// The returned record is a copy; mutating it must not affect the store.
	got.CreationStatus = domain.CreationFailed
	again, _ := store.GetByHash(ctx, "h1")
	if again.CreationStatus != domain.CreationInProgress {
		t.Error("mutation of a returned record leaked into the store")
	}

	if err := store.Create(ctx, newRecord("h1")); err == nil {
		t.Error("duplicate config hash must be rejected")
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.GetByHash(context.Background(), "nope"); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Errorf("error = %v, want ErrRecordNotFound", err)
	}
}

func TestMemoryStoreStatusTransitions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, newRecord("h1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := store.SetStatus(ctx, "h1", domain.CreationCompleted, []string{"done"}); err != nil {
		t.Fatalf("SetStatus COMPLETED: %v", err)
	}

	// COMPLETED is terminal.
	if err := store.SetStatus(ctx, "h1", domain.CreationFailed, nil); !errors.Is(err, domain.ErrRecordCompleted) {
		t.Errorf("error = %v, want ErrRecordCompleted", err)
	}

	got, _ := store.GetByHash(ctx, "h1")
	if len(got.CreationLogs) != 1 || got.CreationLogs[0] != "done" {
		t.Errorf("logs = %v, want [done]", got.CreationLogs)
	}
}

func TestMemoryStoreTouchAndListIdle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newRecord("idle")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.SetStatus(ctx, "idle", domain.CreationCompleted, nil); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if err := store.Create(ctx, newRecord("pending")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	idle, err := store.ListIdle(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("ListIdle: %v", err)
	}
	if len(idle) != 1 || idle[0].ConfigHash != "idle" {
		t.Fatalf("idle = %+v, want only the completed record", idle)
	}

	// A recent invocation removes it from the idle set.
	if err := store.TouchInvoked(ctx, "idle"); err != nil {
		t.Fatalf("TouchInvoked: %v", err)
	}
	idle, err = store.ListIdle(ctx, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ListIdle: %v", err)
	}
	if len(idle) != 0 {
		t.Errorf("idle = %+v, want empty after touch", idle)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newRecord("h1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Delete(ctx, "h1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.GetByHash(ctx, "h1"); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Errorf("record survived delete: %v", err)
	}

	// Deleting an absent record is not an error.
	if err := store.Delete(ctx, "h1"); err != nil {
		t.Errorf("repeat delete: %v", err)
	}
}
