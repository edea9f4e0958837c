package orders

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

const defaultRecentLimit = 10

var (
	errMissingDatabase = errors.New("database handle is required")

	// ErrOrderNotFound indicates the requested order does not exist.
	ErrOrderNotFound = errors.New("orders: order not found")
)

// Store provides read access to persisted orders.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a Store backed by the provided database handle.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Store{db: db}, nil
}

// RecentPending returns the most recently created pending orders, newest
// first, bounded by limit. This is the reconciliation read performed after a
// change-feed (re)connect.
func (s *Store) RecentPending(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	var records []Order
	err := s.db.WithContext(ctx).
		Where("status = ?", string(StatusPending)).
		Order("created_at_s DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("orders: recent pending query: %w", err)
	}
	return records, nil
}

// Get loads one order with its line items.
func (s *Store) Get(ctx context.Context, orderID string) (Order, error) {
	var record Order
	err := s.db.WithContext(ctx).Preload("Items").Where("id = ?", orderID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return Order{}, fmt.Errorf("orders: get %s: %w", orderID, err)
	}
	return record, nil
}
