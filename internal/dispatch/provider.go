package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/owenfields/lectern/internal/db"
)

// Provider is the external email-delivery service. It is opaque beyond
// this contract: nil means the provider accepted the message, an error
// carries the diagnostic stored verbatim on the ledger entry.
type Provider interface {
	Send(ctx context.Context, notif *db.Notification) error
	Name() string
}

// LogProvider writes notifications to the log instead of sending them.
// Used in development and as a safe default when no provider is
// configured.
type LogProvider struct {
	logger *zap.Logger
}

// NewLogProvider creates a provider that only logs.
func NewLogProvider(logger *zap.Logger) *LogProvider {
	return &LogProvider{logger: logger}
}

func (p *LogProvider) Send(ctx context.Context, notif *db.Notification) error {
	p.logger.Info("logging notification (development mode)",
		zap.String("id", notif.ID.String()),
		zap.String("to", notif.Email),
		zap.String("subject", notif.Subject),
		zap.String("reason", notif.Reason),
	)
	return nil
}

func (p *LogProvider) Name() string {
	return "log"
}
