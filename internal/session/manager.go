package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State enumerates the authentication state machine.
type State string

const (
	StateUninitialized      State = "uninitialized"
	StateAuthenticating     State = "authenticating"
	StateAwaitingCredential State = "awaiting_credential"
	StateReady              State = "ready"
	StateAuthFailed         State = "auth_failed"
	StateDisconnected       State = "disconnected"
)

const (
	defaultAuthTimeout   = 60 * time.Second
	defaultRestartDelay  = 5 * time.Second
	defaultLogoutTimeout = 10 * time.Second
)

var (
	errMissingRuntime = errors.New("automation runtime is required")

	// ErrAlreadyAuthenticating rejects a concurrent initialization attempt.
	ErrAlreadyAuthenticating = errors.New("session: initialization already in progress")
	// ErrAuthTimeout indicates the session did not become ready in time.
	ErrAuthTimeout = errors.New("session: authentication timed out")
	// ErrNotReady indicates a send was attempted before the session is ready.
	ErrNotReady = errors.New("session: not ready")

	errStorageRemoved = errors.New("session: persisted credentials removed")
)

// Status is a snapshot of the session state.
type Status struct {
	State               State  `json:"state"`
	CredentialPayload   string `json:"credential_payload,omitempty"`
	LastError           string `json:"last_error,omitempty"`
	LastActivitySeconds int64  `json:"last_activity_s,omitempty"`
}

// ManagerConfig wires a session Manager.
type ManagerConfig struct {
	Runtime           Runtime
	StoragePath       string
	AuthTimeout       time.Duration
	RestartOnAuthFail bool
	RestartDelay      time.Duration
	LogoutTimeout     time.Duration
	Clock             func() time.Time
	Logger            *zap.Logger
}

// Manager owns the process-wide authenticated session of the stateful
// delivery provider. At most one initialization may be in flight; the state
// machine only moves along the defined edges.
type Manager struct {
	runtime           Runtime
	storagePath       string
	authTimeout       time.Duration
	restartOnAuthFail bool
	restartDelay      time.Duration
	logoutTimeout     time.Duration
	clock             func() time.Time
	logger            *zap.Logger

	mu           sync.Mutex
	state        State
	initializing bool
	credential   string
	lastErr      error
	lastActivity time.Time
	handle       RuntimeHandle
	// attempt invalidates events, timeouts and restarts from prior attempts.
	attempt      uint64
	restartTimer *time.Timer
}

// NewManager validates the configuration and returns a Manager in the
// uninitialized state.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Runtime == nil {
		return nil, errMissingRuntime
	}
	authTimeout := cfg.AuthTimeout
	if authTimeout <= 0 {
		authTimeout = defaultAuthTimeout
	}
	restartDelay := cfg.RestartDelay
	if restartDelay <= 0 {
		restartDelay = defaultRestartDelay
	}
	logoutTimeout := cfg.LogoutTimeout
	if logoutTimeout <= 0 {
		logoutTimeout = defaultLogoutTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		runtime:           cfg.Runtime,
		storagePath:       cfg.StoragePath,
		authTimeout:       authTimeout,
		restartOnAuthFail: cfg.RestartOnAuthFail,
		restartDelay:      restartDelay,
		logoutTimeout:     logoutTimeout,
		clock:             clock,
		logger:            logger,
		state:             StateUninitialized,
	}, nil
}

// Initialize starts an authentication attempt. It is a no-op when the session
// is already ready and rejects a second call while one attempt is in flight.
// Readiness is observed by polling Status; a non-empty credential payload
// means "present this to the user, then keep waiting".
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateReady {
		m.mu.Unlock()
		return nil
	}
	if m.initializing {
		m.mu.Unlock()
		return fmt.Errorf("%w: call logout to abort the current attempt", ErrAlreadyAuthenticating)
	}
	m.initializing = true
	m.state = StateAuthenticating
	m.credential = ""
	m.lastErr = nil
	m.attempt++
	generation := m.attempt
	m.mu.Unlock()

	handle, err := m.runtime.Start(ctx, m.storagePath)
	if err != nil {
		m.mu.Lock()
		if m.attempt == generation {
			m.resetLocked(fmt.Errorf("session: runtime start: %w", err))
		}
		m.mu.Unlock()
		return fmt.Errorf("session: runtime start: %w", err)
	}

	m.mu.Lock()
	if m.attempt != generation {
		// A logout raced the start; discard the fresh runtime.
		m.mu.Unlock()
		m.closeHandle(handle)
		return fmt.Errorf("session: initialization aborted")
	}
	m.handle = handle
	m.mu.Unlock()

	go m.consumeEvents(generation, handle)
	time.AfterFunc(m.authTimeout, func() { m.expireAttempt(generation) })
	m.logger.Info("session initialization started")
	return nil
}

// Send delivers a message through the ready session. When the session was
// never initialized it kicks off initialization and reports not-ready so the
// caller can fall back.
func (m *Manager) Send(ctx context.Context, recipient, message string) (string, error) {
	m.mu.Lock()
	if m.state == StateUninitialized && !m.initializing {
		m.mu.Unlock()
		go func() {
			if err := m.Initialize(context.Background()); err != nil {
				m.logger.Warn("lazy session initialization failed", zap.Error(err))
			}
		}()
		return "", fmt.Errorf("%w: initialization started", ErrNotReady)
	}
	if m.state != StateReady || m.handle == nil {
		state := m.state
		m.mu.Unlock()
		return "", fmt.Errorf("%w: state %s", ErrNotReady, state)
	}
	handle := m.handle
	m.lastActivity = m.clock().UTC()
	m.mu.Unlock()
	return handle.Send(ctx, recipient, message)
}

// Logout tears the session down and resets to uninitialized. It is safe to
// call from any state; teardown errors are logged and swallowed, and the
// teardown itself is bounded by the logout timeout.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	m.attempt++
	handle := m.handle
	m.handle = nil
	if m.restartTimer != nil {
		m.restartTimer.Stop()
		m.restartTimer = nil
	}
	m.resetLocked(nil)
	m.mu.Unlock()

	if handle != nil {
		closeCtx, cancel := context.WithTimeout(ctx, m.logoutTimeout)
		defer cancel()
		if err := handle.Close(closeCtx); err != nil {
			m.logger.Warn("session teardown failed", zap.Error(err))
		}
	}
	m.logger.Info("session logged out")
}

// Status returns a snapshot of the session state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := Status{
		State:             m.state,
		CredentialPayload: m.credential,
	}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	if !m.lastActivity.IsZero() {
		status.LastActivitySeconds = m.lastActivity.Unix()
	}
	return status
}

func (m *Manager) consumeEvents(generation uint64, handle RuntimeHandle) {
	for event := range handle.Events() {
		m.mu.Lock()
		if m.attempt != generation {
			m.mu.Unlock()
			return
		}
		switch event.Kind {
		case RuntimeEventCredential:
			m.state = StateAwaitingCredential
			m.credential = event.Credential
			m.lastActivity = m.clock().UTC()
			m.mu.Unlock()
			m.logger.Info("session credential issued")
		case RuntimeEventReady:
			m.state = StateReady
			m.initializing = false
			m.credential = ""
			m.lastErr = nil
			m.lastActivity = m.clock().UTC()
			m.mu.Unlock()
			m.logger.Info("session ready")
		case RuntimeEventAuthFailed:
			m.state = StateAuthFailed
			m.initializing = false
			m.credential = ""
			m.lastErr = event.Err
			m.handle = nil
			m.scheduleRestartLocked()
			m.mu.Unlock()
			m.closeHandle(handle)
			m.logger.Warn("session authentication failed", zap.Error(event.Err))
		case RuntimeEventDisconnected:
			m.state = StateDisconnected
			m.initializing = false
			m.credential = ""
			m.lastErr = event.Err
			m.handle = nil
			m.scheduleRestartLocked()
			m.mu.Unlock()
			m.closeHandle(handle)
			m.logger.Warn("session disconnected", zap.Error(event.Err))
		default:
			m.mu.Unlock()
		}
	}

	m.mu.Lock()
	if m.attempt != generation {
		m.mu.Unlock()
		return
	}
	// Runtime exited without a terminal event.
	if m.state == StateReady || m.initializing {
		m.state = StateDisconnected
		m.initializing = false
		m.credential = ""
		m.handle = nil
		m.scheduleRestartLocked()
	}
	m.mu.Unlock()
}

// expireAttempt enforces the authentication timeout: a session that has not
// reached ready is fully reset so a later Initialize is accepted.
func (m *Manager) expireAttempt(generation uint64) {
	m.mu.Lock()
	if m.attempt != generation || m.state == StateReady {
		m.mu.Unlock()
		return
	}
	if m.state != StateAuthenticating && m.state != StateAwaitingCredential {
		m.mu.Unlock()
		return
	}
	handle := m.handle
	m.handle = nil
	m.attempt++
	m.resetLocked(ErrAuthTimeout)
	m.mu.Unlock()

	m.closeHandle(handle)
	m.logger.Warn("session authentication timed out")
}

// scheduleRestartLocked arms the auto-restart timer when configured.
func (m *Manager) scheduleRestartLocked() {
	if !m.restartOnAuthFail {
		return
	}
	generation := m.attempt
	m.restartTimer = time.AfterFunc(m.restartDelay, func() {
		m.mu.Lock()
		stale := m.attempt != generation
		if !stale {
			// Allow Initialize to run a fresh attempt.
			m.state = StateUninitialized
			m.initializing = false
		}
		m.mu.Unlock()
		if stale {
			return
		}
		if err := m.Initialize(context.Background()); err != nil {
			m.logger.Warn("session auto-restart failed", zap.Error(err))
		}
	})
}

// resetLocked returns the machine to uninitialized, clearing the credential
// payload and the in-flight guard.
func (m *Manager) resetLocked(cause error) {
	m.state = StateUninitialized
	m.initializing = false
	m.credential = ""
	m.lastErr = cause
}

func (m *Manager) closeHandle(handle RuntimeHandle) {
	if handle == nil {
		return
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), m.logoutTimeout)
	defer cancel()
	if err := handle.Close(closeCtx); err != nil {
		m.logger.Warn("runtime close failed", zap.Error(err))
	}
}

// markStorageRemoved transitions a ready session to disconnected after its
// persisted credentials disappeared from disk.
func (m *Manager) markStorageRemoved() {
	m.mu.Lock()
	if m.state != StateReady {
		m.mu.Unlock()
		return
	}
	handle := m.handle
	m.handle = nil
	m.state = StateDisconnected
	m.lastErr = errStorageRemoved
	m.scheduleRestartLocked()
	m.mu.Unlock()

	m.closeHandle(handle)
	m.logger.Warn("session storage removed, session disconnected")
}
