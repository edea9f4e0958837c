package session

import (
	"context"
	"os/exec"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestNewBridgeRuntimeRequiresCommand(t *testing.T) {
	if _, err := NewBridgeRuntime(nil); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestBridgeRuntimeDecodesLifecycleEvents(t *testing.T) {
	requireShell(t)
	script := `echo '{"event":"credential","payload":"qr-data"}'; echo '{"event":"ready"}'; cat >/dev/null`
	runtime, err := NewBridgeRuntime([]string{"sh", "-c", script})
	if err != nil {
		t.Fatalf("NewBridgeRuntime: %v", err)
	}

	handle, err := runtime.Start(context.Background(), "/tmp/ignored-storage")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = handle.Close(closeCtx)
	}()

	select {
	case event := <-handle.Events():
		if event.Kind != RuntimeEventCredential || event.Credential != "qr-data" {
			t.Fatalf("unexpected first event %#v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for credential event")
	}
	select {
	case event := <-handle.Events():
		if event.Kind != RuntimeEventReady {
			t.Fatalf("unexpected second event %#v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for ready event")
	}
}

func TestBridgeRuntimeSendCorrelation(t *testing.T) {
	requireShell(t)
	// The first command id issued by a fresh handle is cmd-1.
	script := `echo '{"event":"ready"}'; read line; echo '{"event":"sent","id":"cmd-1","message_id":"MID-1"}'; cat >/dev/null`
	runtime, err := NewBridgeRuntime([]string{"sh", "-c", script})
	if err != nil {
		t.Fatalf("NewBridgeRuntime: %v", err)
	}

	handle, err := runtime.Start(context.Background(), "/tmp/ignored-storage")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = handle.Close(closeCtx)
	}()

	select {
	case <-handle.Events():
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for ready event")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	messageID, err := handle.Send(ctx, "+251900000000", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if messageID != "MID-1" {
		t.Fatalf("expected message id MID-1, got %s", messageID)
	}
}

func TestBridgeRuntimeCloseTerminatesProcess(t *testing.T) {
	requireShell(t)
	runtime, err := NewBridgeRuntime([]string{"sh", "-c", `echo '{"event":"ready"}'; cat >/dev/null`})
	if err != nil {
		t.Fatalf("NewBridgeRuntime: %v", err)
	}
	handle, err := runtime.Start(context.Background(), "/tmp/ignored-storage")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-handle.Events():
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for ready event")
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := handle.Close(closeCtx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The event channel closes when the process exits.
	select {
	case _, ok := <-handle.Events():
		if ok {
			t.Fatalf("expected closed event channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event channel close")
	}
}
