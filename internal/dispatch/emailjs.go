package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/owenfields/lectern/internal/db"
)

// EmailJSConfig holds the template-based delivery API settings.
type EmailJSConfig struct {
	BaseURL    string // API endpoint, e.g. https://api.emailjs.com/api/v1.0/email/send
	ServiceID  string
	TemplateID string
	PublicKey  string
	Timeout    time.Duration
}

// EmailJSProvider delivers reminder emails through the EmailJS HTTP API.
type EmailJSProvider struct {
	config EmailJSConfig
	client *http.Client
	logger *zap.Logger
}

type emailJSRequest struct {
	ServiceID      string            `json:"service_id"`
	TemplateID     string            `json:"template_id"`
	UserID         string            `json:"user_id"`
	TemplateParams map[string]string `json:"template_params"`
}

// NewEmailJSProvider creates the HTTP provider with a bounded client
// timeout.
func NewEmailJSProvider(cfg EmailJSConfig, logger *zap.Logger) *EmailJSProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.emailjs.com/api/v1.0/email/send"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &EmailJSProvider{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Send posts one notification to the delivery API. A non-2xx response is
// a failure; the response body is returned verbatim so the dispatcher
// can store it as the error detail.
func (p *EmailJSProvider) Send(ctx context.Context, notif *db.Notification) error {
	payload := emailJSRequest{
		ServiceID:  p.config.ServiceID,
		TemplateID: p.config.TemplateID,
		UserID:     p.config.PublicKey,
		TemplateParams: map[string]string{
			"to_email": notif.Email,
			"subject":  notif.Subject,
			"message":  notif.Message,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal provider request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(respBody))
	}

	p.logger.Info("email delivered",
		zap.String("id", notif.ID.String()),
		zap.String("to", notif.Email),
		zap.Int("status_code", resp.StatusCode),
	)

	return nil
}

func (p *EmailJSProvider) Name() string {
	return "emailjs"
}
