package session

import "context"

// RuntimeEventKind tags events emitted by the automation runtime.
type RuntimeEventKind string

const (
	// RuntimeEventCredential carries the credential payload (QR code content)
	// the user must scan to authenticate.
	RuntimeEventCredential RuntimeEventKind = "credential"
	// RuntimeEventReady signals the authenticated session is usable.
	RuntimeEventReady RuntimeEventKind = "ready"
	// RuntimeEventAuthFailed signals the authentication exchange failed.
	RuntimeEventAuthFailed RuntimeEventKind = "auth_failed"
	// RuntimeEventDisconnected signals transport loss after authentication.
	RuntimeEventDisconnected RuntimeEventKind = "disconnected"
)

// RuntimeEvent is one lifecycle event from the automation runtime.
type RuntimeEvent struct {
	Kind       RuntimeEventKind
	Credential string
	Err        error
}

// Runtime boots the expensive automation resource backing the stateful
// delivery provider. Implementations persist session material under the
// storage path so later starts can skip the credential exchange.
type Runtime interface {
	Start(ctx context.Context, storagePath string) (RuntimeHandle, error)
}

// RuntimeHandle is one live automation runtime instance.
type RuntimeHandle interface {
	// Events yields lifecycle events until the runtime exits.
	Events() <-chan RuntimeEvent
	// Send delivers a text message and returns the transport message id.
	Send(ctx context.Context, recipient, message string) (string, error)
	// Close tears the runtime down. Callers bound it with a context deadline.
	Close(ctx context.Context) error
}
