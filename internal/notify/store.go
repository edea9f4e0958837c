package notify

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/merkatolabs/merkato/backend/internal/auth"
	"github.com/merkatolabs/merkato/backend/internal/feed"
	"github.com/merkatolabs/merkato/backend/internal/orders"
)

const defaultRetentionCap = 50

// StoreConfig wires a notification Store.
type StoreConfig struct {
	// RetentionCap bounds the stored record list; oldest entries beyond the
	// cap are dropped on insert.
	RetentionCap int
	Clock        func() time.Time
	IDProvider   IDProvider
	Logger       *zap.Logger
}

// Store reduces order change events into an ordered notification list with an
// unread counter. All mutation goes through its methods.
type Store struct {
	mu      sync.Mutex
	records []Record
	unread  int

	cap        int
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// ApplyOutcome reports what a reduced event changed.
type ApplyOutcome struct {
	// Alert is set when the event should trigger an audible alert.
	Alert bool
	// Changed is set when the stored state was modified.
	Changed bool
}

// NewStore constructs a Store.
func NewStore(cfg StoreConfig) *Store {
	retentionCap := cfg.RetentionCap
	if retentionCap <= 0 {
		retentionCap = defaultRetentionCap
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		cap:        retentionCap,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
	}
}

// Apply reduces one change-feed event into the stored state. Events are
// processed in call order; records are keyed by order id so a later event for
// the same order replaces the earlier record.
func (s *Store) Apply(event feed.OrderEvent) ApplyOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	newStatus := orders.Status(event.Order.Status)
	switch event.Kind {
	case feed.EventInsert:
		if !newStatus.IsPending() {
			return ApplyOutcome{}
		}
		return s.upsertPendingLocked(event.Order)
	case feed.EventUpdate:
		return s.applyUpdateLocked(event, newStatus)
	case feed.EventDelete:
		if !orders.Status(event.Order.Status).IsPending() {
			return ApplyOutcome{}
		}
		removed := s.removeLocked(event.Order.ID)
		return ApplyOutcome{Changed: removed}
	default:
		return ApplyOutcome{}
	}
}

func (s *Store) applyUpdateLocked(event feed.OrderEvent, newStatus orders.Status) ApplyOutcome {
	wasPending := false
	if previous, ok := event.PreviousStatus(); ok {
		wasPending = previous.IsPending()
	} else {
		// Old row missing from the payload: fall back to stored state.
		_, wasPending = s.indexOfLocked(event.Order.ID)
	}

	switch {
	case !wasPending && newStatus.IsPending():
		return s.upsertPendingLocked(event.Order)
	case wasPending && !newStatus.IsPending():
		removed := s.removeLocked(event.Order.ID)
		return ApplyOutcome{Changed: removed}
	case wasPending && newStatus.IsPending():
		// Attribute-only change: replace in place, preserve position.
		if index, ok := s.indexOfLocked(event.Order.ID); ok {
			s.records[index] = s.orderRecordLocked(event.Order, s.records[index].ID, s.records[index].Read)
			return ApplyOutcome{Changed: true}
		}
		return s.upsertPendingLocked(event.Order)
	default:
		return ApplyOutcome{}
	}
}

// upsertPendingLocked prepends a new record for a pending order, or replaces
// the existing record for the same order without re-alerting.
func (s *Store) upsertPendingLocked(row orders.Order) ApplyOutcome {
	if index, ok := s.indexOfLocked(row.ID); ok {
		s.records[index] = s.orderRecordLocked(row, s.records[index].ID, s.records[index].Read)
		return ApplyOutcome{Changed: true}
	}
	record := s.orderRecordLocked(row, s.newIDLocked(), false)
	s.records = append([]Record{record}, s.records...)
	s.unread++
	s.evictLocked()
	return ApplyOutcome{Alert: true, Changed: true}
}

// Reconcile merges a reconciliation fetch into the store. Rows already
// present are refreshed in place; missing rows are appended without alerting.
// It returns the number of records added.
func (s *Store) Reconcile(rows []orders.Order) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, row := range rows {
		if !orders.Status(row.Status).IsPending() {
			continue
		}
		if index, ok := s.indexOfLocked(row.ID); ok {
			s.records[index] = s.orderRecordLocked(row, s.records[index].ID, s.records[index].Read)
			continue
		}
		record := s.orderRecordLocked(row, s.newIDLocked(), false)
		s.records = append(s.records, record)
		s.unread++
		added++
	}
	s.evictLocked()
	return added
}

// AddSystem stores a synthetic system notification.
func (s *Store) AddSystem(title, message string, priority Priority) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := Record{
		ID:               s.newIDLocked(),
		Type:             TypeSystem,
		Title:            title,
		Message:          message,
		TimestampSeconds: s.clock().UTC().Unix(),
		Priority:         priority,
	}
	s.records = append([]Record{record}, s.records...)
	s.unread++
	s.evictLocked()
	return record
}

// List returns the records visible to the viewer, newest first.
func (s *Store) List(viewer auth.Viewer) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	visible := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		if Visible(viewer.Role, viewer.Subject, record) {
			visible = append(visible, record)
		}
	}
	return visible
}

// UnreadCount returns the stored unread counter. It is never negative.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// MarkRead marks one record read, reporting whether it was found.
func (s *Store) MarkRead(recordID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for index := range s.records {
		if s.records[index].ID != recordID {
			continue
		}
		if !s.records[index].Read {
			s.records[index].Read = true
			s.decrementUnreadLocked()
		}
		return true
	}
	return false
}

// MarkAllRead marks every record read and zeroes the unread counter.
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for index := range s.records {
		s.records[index].Read = true
	}
	s.unread = 0
}

// Delete removes one record by id, reporting whether it was found.
func (s *Store) Delete(recordID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for index := range s.records {
		if s.records[index].ID != recordID {
			continue
		}
		if !s.records[index].Read {
			s.decrementUnreadLocked()
		}
		s.records = append(s.records[:index], s.records[index+1:]...)
		return true
	}
	return false
}

// Clear drops every record and resets the unread counter.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.unread = 0
}

func (s *Store) indexOfLocked(orderID string) (int, bool) {
	if orderID == "" {
		return 0, false
	}
	for index := range s.records {
		if s.records[index].Type == TypeOrder && s.records[index].SourceOrderID == orderID {
			return index, true
		}
	}
	return 0, false
}

// removeLocked drops the record for an order and decrements the unread
// counter, clamped at zero.
func (s *Store) removeLocked(orderID string) bool {
	index, ok := s.indexOfLocked(orderID)
	if !ok {
		return false
	}
	if !s.records[index].Read {
		s.decrementUnreadLocked()
	}
	s.records = append(s.records[:index], s.records[index+1:]...)
	return true
}

func (s *Store) evictLocked() {
	for len(s.records) > s.cap {
		evicted := s.records[len(s.records)-1]
		s.records = s.records[:len(s.records)-1]
		if !evicted.Read {
			s.decrementUnreadLocked()
		}
	}
}

func (s *Store) decrementUnreadLocked() {
	if s.unread > 0 {
		s.unread--
	}
}

func (s *Store) orderRecordLocked(row orders.Order, recordID string, read bool) Record {
	return Record{
		ID:                recordID,
		SourceOrderID:     row.ID,
		Type:              TypeOrder,
		Title:             "New order",
		Message:           fmt.Sprintf("Order %s from %s is awaiting confirmation", row.ID, customerLabel(row)),
		CustomerProfileID: row.CustomerProfileID,
		OrderStatus:       orders.Status(row.Status),
		TimestampSeconds:  s.clock().UTC().Unix(),
		Read:              read,
		Priority:          PriorityHigh,
	}
}

func (s *Store) newIDLocked() string {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logger.Warn("notification id generation failed", zap.Error(err))
		return fmt.Sprintf("notif-%d", s.clock().UTC().UnixNano())
	}
	return id
}

func customerLabel(row orders.Order) string {
	if row.CustomerName != "" {
		return row.CustomerName
	}
	if row.CustomerProfileID != "" {
		return row.CustomerProfileID
	}
	return "unknown customer"
}
