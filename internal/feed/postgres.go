package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const defaultNotifyChannel = "order_events"

const (
	listenerMinReconnect = time.Second
	listenerMaxReconnect = 10 * time.Second
)

var errListenerClosed = errors.New("feed: postgres listener closed")

// postgresSource consumes change events published with NOTIFY on a channel,
// one JSON change payload per notification.
type postgresSource struct {
	dsn     string
	channel string
}

func newPostgresSource(dsn, channel string) *postgresSource {
	if channel == "" {
		channel = defaultNotifyChannel
	}
	return &postgresSource{dsn: dsn, channel: channel}
}

func (s *postgresSource) Connect(ctx context.Context) (Conn, error) {
	listener := pq.NewListener(s.dsn, listenerMinReconnect, listenerMaxReconnect, nil)
	if err := listener.Listen(s.channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("feed: postgres listen %s: %w", s.channel, err)
	}
	return &postgresConn{listener: listener}, nil
}

type postgresConn struct {
	listener *pq.Listener
}

func (c *postgresConn) Next(ctx context.Context) (OrderEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return OrderEvent{}, ctx.Err()
		case notification, ok := <-c.listener.Notify:
			if !ok {
				return OrderEvent{}, errListenerClosed
			}
			// A nil notification marks a listener-internal reconnect.
			if notification == nil {
				continue
			}
			return DecodeChangePayload([]byte(notification.Extra))
		}
	}
}

func (c *postgresConn) Close() error {
	return c.listener.Close()
}
