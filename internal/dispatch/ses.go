package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/owenfields/lectern/internal/db"
)

// SESProvider delivers reminder emails via AWS SES.
type SESProvider struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

// SESConfig holds SES provider settings.
type SESConfig struct {
	Region    string
	FromEmail string
}

// NewSESProvider creates an SES-backed provider.
func NewSESProvider(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESProvider, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &SESProvider{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Send delivers one notification using the captured email, subject and
// message.
func (p *SESProvider) Send(ctx context.Context, notif *db.Notification) error {
	if notif.Email == "" {
		return fmt.Errorf("notification %s has no recipient email", notif.ID)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(p.from),
		Destination: &types.Destination{
			ToAddresses: []string{notif.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(notif.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(notif.Message),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	p.logger.Info("email sent via SES",
		zap.String("id", notif.ID.String()),
		zap.String("to", notif.Email),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

func (p *SESProvider) Name() string {
	return "ses"
}
