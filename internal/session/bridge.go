package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// BridgeRuntime launches an external automation bridge process and speaks a
// line-delimited JSON protocol with it. The bridge emits lifecycle events on
// stdout and accepts send commands on stdin:
//
//	out: {"event":"credential","payload":"<qr-content>"}
//	out: {"event":"ready"}
//	out: {"event":"auth_failed","error":"..."}
//	out: {"event":"disconnected","error":"..."}
//	out: {"event":"sent","id":"<command-id>","message_id":"..."}
//	out: {"event":"send_failed","id":"<command-id>","error":"..."}
//	in:  {"action":"send","id":"<command-id>","recipient":"...","message":"..."}
type BridgeRuntime struct {
	command []string
}

// NewBridgeRuntime constructs a Runtime that launches the given command with
// the storage path appended as its final argument.
func NewBridgeRuntime(command []string) (*BridgeRuntime, error) {
	if len(command) == 0 {
		return nil, errors.New("session: bridge command is required")
	}
	return &BridgeRuntime{command: command}, nil
}

// Start launches the bridge process and begins decoding its event stream.
func (r *BridgeRuntime) Start(ctx context.Context, storagePath string) (RuntimeHandle, error) {
	args := append(append([]string(nil), r.command[1:]...), storagePath)
	cmd := exec.Command(r.command[0], args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("session: bridge stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("session: bridge stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("session: bridge start: %w", err)
	}

	handle := &bridgeHandle{
		cmd:     cmd,
		stdin:   stdin,
		events:  make(chan RuntimeEvent, 8),
		pending: make(map[string]chan bridgeFrame),
	}
	go handle.readLoop(stdout)
	return handle, nil
}

type bridgeFrame struct {
	Event     string `json:"event"`
	Payload   string `json:"payload,omitempty"`
	ID        string `json:"id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type bridgeCommand struct {
	Action    string `json:"action"`
	ID        string `json:"id"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

type bridgeHandle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	events chan RuntimeEvent

	mu      sync.Mutex
	nextID  int64
	pending map[string]chan bridgeFrame
	closed  bool
}

func (h *bridgeHandle) Events() <-chan RuntimeEvent {
	return h.events
}

func (h *bridgeHandle) readLoop(stdout io.Reader) {
	defer close(h.events)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var frame bridgeFrame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			continue
		}
		switch frame.Event {
		case "credential":
			h.events <- RuntimeEvent{Kind: RuntimeEventCredential, Credential: frame.Payload}
		case "ready":
			h.events <- RuntimeEvent{Kind: RuntimeEventReady}
		case "auth_failed":
			h.events <- RuntimeEvent{Kind: RuntimeEventAuthFailed, Err: frameError(frame)}
		case "disconnected":
			h.events <- RuntimeEvent{Kind: RuntimeEventDisconnected, Err: frameError(frame)}
		case "sent", "send_failed":
			h.resolvePending(frame)
		}
	}
	h.failPending(errors.New("session: bridge process exited"))
}

func (h *bridgeHandle) Send(ctx context.Context, recipient, message string) (string, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return "", errors.New("session: bridge closed")
	}
	h.nextID++
	commandID := fmt.Sprintf("cmd-%d", h.nextID)
	waiter := make(chan bridgeFrame, 1)
	h.pending[commandID] = waiter
	h.mu.Unlock()

	command := bridgeCommand{Action: "send", ID: commandID, Recipient: recipient, Message: message}
	encoded, err := json.Marshal(command)
	if err != nil {
		h.dropPending(commandID)
		return "", err
	}
	if _, err := h.stdin.Write(append(encoded, '\n')); err != nil {
		h.dropPending(commandID)
		return "", fmt.Errorf("session: bridge write: %w", err)
	}

	select {
	case <-ctx.Done():
		h.dropPending(commandID)
		return "", ctx.Err()
	case frame := <-waiter:
		if frame.Event == "send_failed" {
			return "", frameError(frame)
		}
		return frame.MessageID, nil
	}
}

func (h *bridgeHandle) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	_ = h.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// Teardown is hanging; force it.
		_ = h.cmd.Process.Kill()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
		return ctx.Err()
	}
}

func (h *bridgeHandle) resolvePending(frame bridgeFrame) {
	h.mu.Lock()
	waiter, ok := h.pending[frame.ID]
	if ok {
		delete(h.pending, frame.ID)
	}
	h.mu.Unlock()
	if ok {
		waiter <- frame
	}
}

func (h *bridgeHandle) dropPending(commandID string) {
	h.mu.Lock()
	delete(h.pending, commandID)
	h.mu.Unlock()
}

func (h *bridgeHandle) failPending(cause error) {
	h.mu.Lock()
	waiters := h.pending
	h.pending = make(map[string]chan bridgeFrame)
	h.mu.Unlock()
	for id, waiter := range waiters {
		waiter <- bridgeFrame{Event: "send_failed", ID: id, Error: cause.Error()}
	}
}

func frameError(frame bridgeFrame) error {
	if frame.Error == "" {
		return errors.New("session: bridge reported failure")
	}
	return errors.New(frame.Error)
}
