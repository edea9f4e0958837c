package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoProvidersConfigured is returned by Dispatch when the chain is empty.
var ErrNoProvidersConfigured = errors.New("delivery: no providers configured")

// Receipt identifies a delivered message at the transport.
type Receipt struct {
	MessageID string
}

// Provider is one interchangeable delivery backend. Providers are transport
// only: they never retry internally and never re-render the message.
type Provider interface {
	Name() string
	Send(ctx context.Context, recipient, message string) (Receipt, error)
}

// Attempt records one walked chain entry.
type Attempt struct {
	Provider  string `json:"provider"`
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Result is the terminal outcome of one dispatch.
type Result struct {
	Success   bool      `json:"success"`
	Provider  string    `json:"provider,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Attempts  []Attempt `json:"attempts,omitempty"`
	Err       error     `json:"-"`
}

// ChainFailure aggregates the per-provider errors of a fully failed chain.
type ChainFailure struct {
	Attempts []Attempt
}

func (e *ChainFailure) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", attempt.Provider, attempt.Error))
	}
	return "delivery: all providers failed: " + strings.Join(parts, "; ")
}

// HTTPError is a non-2xx response from a provider transport endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, body)
}
