package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchStorageDisconnectsReadySessionOnRemoval(t *testing.T) {
	storagePath := filepath.Join(t.TempDir(), "wa-session")
	if err := os.WriteFile(storagePath, []byte("session material"), 0o600); err != nil {
		t.Fatalf("write storage file: %v", err)
	}

	runtime := &fakeRuntime{}
	manager := newTestManager(t, ManagerConfig{Runtime: runtime, StoragePath: storagePath})
	stop, err := manager.WatchStorage()
	if err != nil {
		t.Fatalf("WatchStorage: %v", err)
	}
	defer func() {
		if err := stop(); err != nil {
			t.Errorf("stop watcher: %v", err)
		}
	}()

	if err := manager.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	runtime.handle(0).emit(RuntimeEvent{Kind: RuntimeEventReady})
	waitForState(t, manager, StateReady)

	if err := os.Remove(storagePath); err != nil {
		t.Fatalf("remove storage file: %v", err)
	}
	waitForState(t, manager, StateDisconnected)
	if !runtime.handle(0).wasClosed() {
		t.Fatalf("expected runtime closed after storage removal")
	}
}

func TestWatchStorageIgnoresRemovalBeforeReady(t *testing.T) {
	storagePath := filepath.Join(t.TempDir(), "wa-session")
	if err := os.WriteFile(storagePath, []byte("session material"), 0o600); err != nil {
		t.Fatalf("write storage file: %v", err)
	}

	manager := newTestManager(t, ManagerConfig{Runtime: &fakeRuntime{}, StoragePath: storagePath})
	stop, err := manager.WatchStorage()
	if err != nil {
		t.Fatalf("WatchStorage: %v", err)
	}
	defer func() { _ = stop() }()

	if err := os.Remove(storagePath); err != nil {
		t.Fatalf("remove storage file: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if manager.Status().State != StateUninitialized {
		t.Fatalf("expected no transition before ready, got %s", manager.Status().State)
	}
}

func TestWatchStorageWithoutPathIsNoOp(t *testing.T) {
	manager := newTestManager(t, ManagerConfig{Runtime: &fakeRuntime{}})
	stop, err := manager.WatchStorage()
	if err != nil {
		t.Fatalf("WatchStorage: %v", err)
	}
	if err := stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestWatchStorageAcceptsMissingStorageFile(t *testing.T) {
	storagePath := filepath.Join(t.TempDir(), "not-created-yet")
	manager := newTestManager(t, ManagerConfig{Runtime: &fakeRuntime{}, StoragePath: storagePath})
	stop, err := manager.WatchStorage()
	if err != nil {
		t.Fatalf("WatchStorage: %v", err)
	}
	if err := stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
