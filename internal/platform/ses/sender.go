// Package ses delivers notification messages through AWS Simple Email
// Service (v2 API).
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/phrazzld/safe-notify/internal/platform/logger"
	"github.com/phrazzld/safe-notify/internal/task"
)

// ErrMissingFromAddress is returned when the sender has no from address.
var ErrMissingFromAddress = errors.New("ses from address is not set")

// Config holds the SES settings.
type Config struct {
	FromAddress string
	// Region overrides the region from the default AWS credential chain.
	Region string
}

// emailClient is the subset of *sesv2.Client the sender uses.
type emailClient interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Sender implements task.Sender over SES.
type Sender struct {
	client emailClient
	from   string
	logger *slog.Logger
}

var _ task.Sender = (*Sender)(nil)

// NewSender loads the default AWS configuration and builds an SES client.
func NewSender(ctx context.Context, cfg Config, logger *slog.Logger) (*Sender, error) {
	if cfg.FromAddress == "" {
		return nil, ErrMissingFromAddress
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return newSender(sesv2.NewFromConfig(awsCfg), cfg.FromAddress, logger), nil
}

func newSender(client emailClient, from string, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		client: client,
		from:   from,
		logger: logger.With(slog.String("component", "ses_sender")),
	}
}

// Send implements task.Sender.
func (s *Sender) Send(ctx context.Context, msg task.Message) error {
	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send email: %w", err)
	}

	logger.FromContextOrDefault(ctx, s.logger).Debug("email accepted by ses",
		"message_id", aws.ToString(out.MessageId))
	return nil
}
