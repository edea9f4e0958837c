package server

import (
	"context"
	"sync"
	"time"
)

const (
	StreamEventNotificationChanged = "notification-change"
	streamEventHeartbeat           = "heartbeat"
)

// StreamMessage is one notification state change pushed to connected clients.
type StreamMessage struct {
	EventType   string    `json:"-"`
	RecordID    string    `json:"record_id,omitempty"`
	UnreadCount int       `json:"unread_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// StreamDispatcher fans notification changes out to every connected stream.
// Visibility filtering happens at the read endpoints, so the dispatcher only
// broadcasts that state changed, never record contents.
type StreamDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*streamSubscriber
	nextID      int64
	bufferSize  int
}

type streamSubscriber struct {
	id     int64
	stream chan StreamMessage
}

// NewStreamDispatcher constructs an empty dispatcher.
func NewStreamDispatcher() *StreamDispatcher {
	return &StreamDispatcher{
		subscribers: make(map[int64]*streamSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream that is torn down when ctx ends.
func (d *StreamDispatcher) Subscribe(ctx context.Context) (<-chan StreamMessage, func()) {
	subscriber := &streamSubscriber{
		id:     d.nextSequence(),
		stream: make(chan StreamMessage, d.bufferSize),
	}
	d.mu.Lock()
	d.subscribers[subscriber.id] = subscriber
	d.mu.Unlock()

	cleanup := func() {
		d.mu.Lock()
		delete(d.subscribers, subscriber.id)
		d.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish broadcasts a message, dropping it for any subscriber whose buffer
// is full.
func (d *StreamDispatcher) Publish(message StreamMessage) {
	if message.EventType == "" {
		message.EventType = StreamEventNotificationChanged
	}
	d.mu.RLock()
	copies := make([]*streamSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *StreamDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}
