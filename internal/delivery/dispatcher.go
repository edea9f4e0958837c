package delivery

import (
	"context"

	"go.uber.org/zap"
)

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	// Providers are walked in slice order; the order never changes at runtime.
	Providers []Provider
	Logger    *zap.Logger
}

// Dispatcher walks the provider chain in fixed priority order, stopping at
// the first success. Failures never cross the dispatch boundary as panics or
// errors in the control-flow sense; the Result value carries the outcome.
type Dispatcher struct {
	providers []Provider
	logger    *zap.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{providers: cfg.Providers, logger: logger}
}

// ProviderNames returns the configured chain order.
func (d *Dispatcher) ProviderNames() []string {
	names := make([]string, 0, len(d.providers))
	for _, provider := range d.providers {
		names = append(names, provider.Name())
	}
	return names
}

// Dispatch sends the already-rendered message to the recipient. Attempts are
// strictly sequential; a provider is never retried within one dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, recipient, message string) Result {
	if len(d.providers) == 0 {
		return Result{Success: false, Err: ErrNoProvidersConfigured}
	}

	attempts := make([]Attempt, 0, len(d.providers))
	for _, provider := range d.providers {
		receipt, err := provider.Send(ctx, recipient, message)
		if err != nil {
			attempts = append(attempts, Attempt{
				Provider: provider.Name(),
				Success:  false,
				Error:    err.Error(),
			})
			d.logger.Warn("provider send failed",
				zap.String("provider", provider.Name()),
				zap.Error(err))
			continue
		}
		attempts = append(attempts, Attempt{
			Provider:  provider.Name(),
			Success:   true,
			MessageID: receipt.MessageID,
		})
		d.logger.Info("message delivered",
			zap.String("provider", provider.Name()),
			zap.String("message_id", receipt.MessageID))
		return Result{
			Success:   true,
			Provider:  provider.Name(),
			MessageID: receipt.MessageID,
			Attempts:  attempts,
		}
	}

	return Result{
		Success:  false,
		Attempts: attempts,
		Err:      &ChainFailure{Attempts: attempts},
	}
}
