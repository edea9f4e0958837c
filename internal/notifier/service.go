package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/merkatolabs/merkato/backend/internal/delivery"
	"github.com/merkatolabs/merkato/backend/internal/feed"
	"github.com/merkatolabs/merkato/backend/internal/notify"
	"github.com/merkatolabs/merkato/backend/internal/orders"
)

const dispatchTimeout = 45 * time.Second

var errMissingStore = errors.New("notification store is required")

// ErrDispatchDisabled reports that outbound dispatch was disabled at startup,
// either by configuration or a missing admin phone.
var ErrDispatchDisabled = errors.New("notifier: outbound dispatch disabled")

// Change describes one observable mutation of the notification state, for
// consumers that stream updates to connected clients.
type Change struct {
	Record      notify.Record
	UnreadCount int
}

// AlertController triggers the audible alert.
type AlertController interface {
	MaybePlay(ctx context.Context)
}

// MessageDispatcher walks the provider chain.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, recipient, message string) delivery.Result
}

// OrderReader loads full orders for message rendering.
type OrderReader interface {
	Get(ctx context.Context, orderID string) (orders.Order, error)
}

// ServiceConfig wires the notifier Service.
type ServiceConfig struct {
	Store      *notify.Store
	Alerts     AlertController
	Dispatcher MessageDispatcher
	Orders     OrderReader
	AdminPhone string
	// Publish receives every notification state change; nil disables streaming.
	Publish func(Change)
	Logger  *zap.Logger
}

// Service reduces change-feed events into notification state and triggers the
// side effects: the audible alert and the outbound admin message.
type Service struct {
	store      *notify.Store
	alerts     AlertController
	dispatcher MessageDispatcher
	orders     OrderReader
	adminPhone string
	publish    func(Change)
	logger     *zap.Logger

	dispatchEnabled bool
}

// NewService validates the configuration and returns a Service. A missing
// admin phone is a configuration error: it is reported once here and outbound
// dispatch stays disabled, while inbound notification state keeps working.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dispatchEnabled := cfg.Dispatcher != nil
	if dispatchEnabled && strings.TrimSpace(cfg.AdminPhone) == "" {
		logger.Error("admin notification phone not configured, outbound dispatch disabled")
		dispatchEnabled = false
	}

	return &Service{
		store:           cfg.Store,
		alerts:          cfg.Alerts,
		dispatcher:      cfg.Dispatcher,
		orders:          cfg.Orders,
		adminPhone:      strings.TrimSpace(cfg.AdminPhone),
		publish:         cfg.Publish,
		logger:          logger,
		dispatchEnabled: dispatchEnabled,
	}, nil
}

// HandleEvent is the change-feed subscription callback.
func (s *Service) HandleEvent(event feed.OrderEvent) {
	outcome := s.store.Apply(event)
	if !outcome.Changed {
		return
	}
	s.publishChange()
	if !outcome.Alert {
		return
	}
	if s.alerts != nil {
		s.alerts.MaybePlay(context.Background())
	}
	if event.Kind == feed.EventInsert {
		go s.dispatchOrder(event.Order.ID)
	}
}

// HandleReconcile merges the post-reconnect reconciliation rows.
func (s *Service) HandleReconcile(rows []orders.Order) {
	if added := s.store.Reconcile(rows); added > 0 {
		s.logger.Info("reconciliation restored notifications", zap.Int("added", added))
		s.publishChange()
	}
}

// HandleFetchFailure surfaces an exhausted reconciliation fetch as a system
// notification instead of crashing or retrying forever.
func (s *Service) HandleFetchFailure(err error) {
	s.logger.Error("reconciliation fetch exhausted retries", zap.Error(err))
	record := s.store.AddSystem(
		"Order feed out of sync",
		fmt.Sprintf("Could not resynchronize recent orders: %v", err),
		notify.PriorityMedium,
	)
	if s.publish != nil {
		s.publish(Change{Record: record, UnreadCount: s.store.UnreadCount()})
	}
}

// DispatchOrder renders and dispatches the admin notification for an order.
func (s *Service) DispatchOrder(ctx context.Context, orderID string) (delivery.Result, error) {
	if !s.dispatchEnabled {
		return delivery.Result{Success: false, Err: ErrDispatchDisabled}, nil
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return delivery.Result{}, err
	}
	message := delivery.RenderOrderMessage(order)
	return s.dispatcher.Dispatch(ctx, s.adminPhone, message), nil
}

func (s *Service) dispatchOrder(orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	result, err := s.DispatchOrder(ctx, orderID)
	if err != nil {
		s.logger.Warn("order lookup for dispatch failed",
			zap.String("order_id", orderID),
			zap.Error(err))
		return
	}
	if !result.Success {
		s.logger.Warn("admin notification undelivered",
			zap.String("order_id", orderID),
			zap.Error(result.Err))
		return
	}
	s.logger.Info("admin notification delivered",
		zap.String("order_id", orderID),
		zap.String("provider", result.Provider),
		zap.String("message_id", result.MessageID))
}

func (s *Service) publishChange() {
	if s.publish == nil {
		return
	}
	s.publish(Change{UnreadCount: s.store.UnreadCount()})
}
