package feed

import (
	"context"
	"fmt"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	subscribeTable  = "orders"
	subscribeEvent  = "*"
	subscribeFilter = "status=eq.pending"
)

type subscribeRequest struct {
	Table  string `json:"table"`
	Event  string `json:"event"`
	Filter string `json:"filter"`
}

type websocketSource struct {
	url string
}

func newWebsocketSource(feedURL string) *websocketSource {
	return &websocketSource{url: feedURL}
}

func (s *websocketSource) Connect(ctx context.Context) (Conn, error) {
	wsConn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: websocket dial: %w", err)
	}
	request := subscribeRequest{
		Table:  subscribeTable,
		Event:  subscribeEvent,
		Filter: subscribeFilter,
	}
	if err := wsjson.Write(ctx, wsConn, request); err != nil {
		_ = wsConn.Close(websocket.StatusProtocolError, "subscribe failed")
		return nil, fmt.Errorf("feed: websocket subscribe: %w", err)
	}
	return &websocketConn{conn: wsConn}, nil
}

type websocketConn struct {
	conn *websocket.Conn
}

func (c *websocketConn) Next(ctx context.Context) (OrderEvent, error) {
	var payload changePayload
	if err := wsjson.Read(ctx, c.conn, &payload); err != nil {
		return OrderEvent{}, fmt.Errorf("feed: websocket read: %w", err)
	}
	return payload.toEvent()
}

func (c *websocketConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "subscription disposed")
}
