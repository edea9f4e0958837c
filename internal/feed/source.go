package feed

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Conn is one live connection to the order change-feed.
type Conn interface {
	// Next blocks until the next event arrives or the connection fails.
	Next(ctx context.Context) (OrderEvent, error)
	Close() error
}

// Source opens connections to a change-feed transport.
type Source interface {
	Connect(ctx context.Context) (Conn, error)
}

// SourceFactory builds a Source for a feed URL.
type SourceFactory func(feedURL string) (Source, error)

var sourceFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]SourceFactory
}{
	factories: map[string]SourceFactory{},
}

// RegisterSourceFactory installs a factory for a feed URL scheme.
func RegisterSourceFactory(scheme string, factory SourceFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	sourceFactoryRegistry.mu.Lock()
	defer sourceFactoryRegistry.mu.Unlock()
	sourceFactoryRegistry.factories[scheme] = factory
}

func lookupSourceFactory(scheme string) (SourceFactory, bool) {
	scheme = normalizeScheme(scheme)
	sourceFactoryRegistry.mu.RLock()
	defer sourceFactoryRegistry.mu.RUnlock()
	factory, ok := sourceFactoryRegistry.factories[scheme]
	return factory, ok
}

// NewSource builds a change-feed source from a feed URL. Websocket URLs use
// the realtime protocol; postgres URLs use LISTEN/NOTIFY.
func NewSource(feedURL string) (Source, error) {
	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		return nil, fmt.Errorf("feed: feed url is required")
	}
	parsed, err := url.Parse(feedURL)
	if err != nil {
		return nil, fmt.Errorf("feed: invalid feed url: %w", err)
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupSourceFactory(scheme); ok {
		return factory(feedURL)
	}
	switch scheme {
	case "ws", "wss":
		return newWebsocketSource(feedURL), nil
	case "postgres", "postgresql":
		return newPostgresSource(feedURL, defaultNotifyChannel), nil
	default:
		return nil, fmt.Errorf("feed: unsupported feed url scheme: %s", scheme)
	}
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
