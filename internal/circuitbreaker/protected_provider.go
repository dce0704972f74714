package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/owenfields/lectern/internal/db"
)

// Provider mirrors the dispatch.Provider interface to avoid a circular
// import.
type Provider interface {
	Send(ctx context.Context, notif *db.Notification) error
	Name() string
}

// ProtectedProvider wraps an email provider with a CircuitBreaker. While
// the provider is down the dispatcher sees ErrCircuitOpen immediately
// and can leave entries pending instead of failing them terminally.
type ProtectedProvider struct {
	provider Provider
	breaker  *CircuitBreaker
	logger   *zap.Logger
}

// NewProtectedProvider wraps a provider with circuit breaker protection.
func NewProtectedProvider(provider Provider, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedProvider {
	return &ProtectedProvider{
		provider: provider,
		breaker:  breaker,
		logger:   logger,
	}
}

// Send attempts delivery through the breaker. Rejected requests return
// ErrCircuitOpen without touching the provider.
func (p *ProtectedProvider) Send(ctx context.Context, notif *db.Notification) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("notification_id", notif.ID.String()),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s provider unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	err := p.provider.Send(ctx, notif)
	if err != nil {
		p.breaker.RecordFailure()
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// Name delegates to the underlying provider.
func (p *ProtectedProvider) Name() string {
	return p.provider.Name()
}

// Breaker exposes the underlying breaker for monitoring.
func (p *ProtectedProvider) Breaker() *CircuitBreaker {
	return p.breaker
}
