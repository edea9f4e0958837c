package delivery

import "context"

const sessionProviderName = "wasession"

// SessionSender is the ready-session send surface of the session manager.
type SessionSender interface {
	Send(ctx context.Context, recipient, message string) (string, error)
}

// sessionProvider delivers through the long-lived authenticated automation
// session. When the session is not ready the send fails immediately and the
// chain falls through; readiness is the session manager's concern.
type sessionProvider struct {
	sessions SessionSender
}

// NewSessionProvider constructs the stateful session-backed provider.
func NewSessionProvider(sessions SessionSender) Provider {
	return &sessionProvider{sessions: sessions}
}

func (p *sessionProvider) Name() string {
	return sessionProviderName
}

func (p *sessionProvider) Send(ctx context.Context, recipient, message string) (Receipt, error) {
	messageID, err := p.sessions.Send(ctx, recipient, message)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{MessageID: messageID}, nil
}
