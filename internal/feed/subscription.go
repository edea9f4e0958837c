package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/merkatolabs/merkato/backend/internal/orders"
)

// ConnectionState tracks the lifecycle of one channel subscription.
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateSubscribed ConnectionState = "subscribed"
	StateError      ConnectionState = "error"
	StateTimedOut   ConnectionState = "timed_out"
	StateClosed     ConnectionState = "closed"
)

// ConnectionStatus is a snapshot of the subscription connection.
type ConnectionStatus struct {
	ChannelName string
	State       ConnectionState
	RetryCount  int
	LastError   string
}

var (
	errMissingSource  = errors.New("change-feed source is required")
	errMissingHandler = errors.New("event handler is required")
)

// SubscriptionConfig wires a Subscription.
type SubscriptionConfig struct {
	ChannelName string
	Source      Source

	// OnEvent receives decoded events in arrival order.
	OnEvent func(OrderEvent)
	// Fetch performs the bounded reconciliation read after each (re)connect.
	Fetch func(ctx context.Context) ([]orders.Order, error)
	// OnReconcile receives the reconciliation rows when the fetch succeeds.
	OnReconcile func([]orders.Order)
	// OnFetchFailure is invoked once when the fetch retries are exhausted.
	OnFetchFailure func(error)

	Reconnect  ReconnectPolicy
	FetchRetry RetryPolicy
	FetchLimit int

	Logger *zap.Logger

	// sleep is injected by tests; nil means real timers.
	sleep func(ctx context.Context, d time.Duration) bool
}

// Subscription maintains one logical subscription to the order change-feed,
// reconnecting on a fixed interval for as long as it stays open.
type Subscription struct {
	cfg    SubscriptionConfig
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) bool

	mu      sync.Mutex
	status  ConnectionStatus
	cancel  context.CancelFunc
	done    chan struct{}
	open    bool
}

// NewSubscription validates the configuration and returns a Subscription.
func NewSubscription(cfg SubscriptionConfig) (*Subscription, error) {
	if cfg.Source == nil {
		return nil, errMissingSource
	}
	if cfg.OnEvent == nil {
		return nil, errMissingHandler
	}
	if cfg.ChannelName == "" {
		cfg.ChannelName = subscribeTable
	}
	if cfg.Reconnect.Interval <= 0 {
		cfg.Reconnect = DefaultReconnect
	}
	if cfg.FetchRetry.MaxRetries <= 0 {
		cfg.FetchRetry = DefaultFetchRetry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := cfg.sleep
	if sleep == nil {
		sleep = sleepWithContext
	}
	return &Subscription{
		cfg:    cfg,
		logger: logger,
		sleep:  sleep,
		status: ConnectionStatus{ChannelName: cfg.ChannelName, State: StateConnecting},
	}, nil
}

// Open starts the subscription loop and returns a dispose function. Dispose
// unsubscribes, cancels pending reconnect timers, and is safe to call more
// than once.
func (s *Subscription) Open(ctx context.Context) func() {
	s.mu.Lock()
	if s.open {
		cancel := s.cancel
		s.mu.Unlock()
		return func() { cancel() }
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.open = true
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.run(runCtx)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			s.setState(StateClosed, nil)
			s.mu.Lock()
			s.open = false
			s.mu.Unlock()
		})
	}
}

// Status returns a snapshot of the connection state.
func (s *Subscription) Status() ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Subscription) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		s.setState(StateConnecting, nil)
		conn, err := s.cfg.Source.Connect(ctx)
		if err != nil {
			s.recordFailure(err)
			if !s.sleep(ctx, s.cfg.Reconnect.Interval) {
				return
			}
			continue
		}
		s.setState(StateSubscribed, nil)
		s.logger.Info("change-feed subscribed", zap.String("channel", s.cfg.ChannelName))

		reconcileCtx, cancelReconcile := context.WithCancel(ctx)
		go s.reconcile(reconcileCtx)

		err = s.consume(ctx, conn)
		cancelReconcile()
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		s.recordFailure(err)
		if !s.sleep(ctx, s.cfg.Reconnect.Interval) {
			return
		}
	}
}

func (s *Subscription) consume(ctx context.Context, conn Conn) error {
	for {
		event, err := conn.Next(ctx)
		if err != nil {
			return err
		}
		s.cfg.OnEvent(event)
	}
}

// reconcile runs the bounded-retry reconciliation fetch once per (re)connect.
func (s *Subscription) reconcile(ctx context.Context) {
	if s.cfg.Fetch == nil {
		return
	}
	var lastErr error
	for attempt := 0; attempt <= s.cfg.FetchRetry.MaxRetries; attempt++ {
		if attempt > 0 {
			if !s.sleep(ctx, s.cfg.FetchRetry.Delay(attempt)) {
				return
			}
		}
		rows, err := s.cfg.Fetch(ctx)
		if err == nil {
			if s.cfg.OnReconcile != nil {
				s.cfg.OnReconcile(rows)
			}
			return
		}
		lastErr = err
		s.logger.Warn("reconciliation fetch failed",
			zap.String("channel", s.cfg.ChannelName),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	s.setState(StateTimedOut, lastErr)
	if s.cfg.OnFetchFailure != nil {
		s.cfg.OnFetchFailure(lastErr)
	}
}

func (s *Subscription) setState(state ConnectionState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = state
	if err != nil {
		s.status.LastError = err.Error()
	}
}

func (s *Subscription) recordFailure(err error) {
	s.mu.Lock()
	s.status.State = StateError
	s.status.RetryCount++
	if err != nil {
		s.status.LastError = err.Error()
	}
	retryCount := s.status.RetryCount
	s.mu.Unlock()
	s.logger.Warn("change-feed connection lost",
		zap.String("channel", s.cfg.ChannelName),
		zap.Int("retry_count", retryCount),
		zap.Error(err))
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Registry enforces at most one open subscription per channel name. Opening a
// channel that is already open disposes the prior subscription first.
type Registry struct {
	mu   sync.Mutex
	live map[string]func()
}

// NewRegistry constructs an empty subscription registry.
func NewRegistry() *Registry {
	return &Registry{live: make(map[string]func())}
}

// Open starts the subscription and tracks it under its channel name.
func (r *Registry) Open(ctx context.Context, sub *Subscription) func() {
	channel := sub.cfg.ChannelName
	r.mu.Lock()
	prior := r.live[channel]
	r.mu.Unlock()
	if prior != nil {
		prior()
	}

	dispose := sub.Open(ctx)
	var once sync.Once
	tracked := func() {
		once.Do(func() {
			dispose()
			r.mu.Lock()
			delete(r.live, channel)
			r.mu.Unlock()
		})
	}
	r.mu.Lock()
	r.live[channel] = tracked
	r.mu.Unlock()
	return tracked
}

// Close disposes every tracked subscription.
func (r *Registry) Close() {
	r.mu.Lock()
	disposers := make([]func(), 0, len(r.live))
	for _, dispose := range r.live {
		disposers = append(disposers, dispose)
	}
	r.mu.Unlock()
	for _, dispose := range disposers {
		dispose()
	}
}
