package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pkglogger "github.com/BradenHooton/warden/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// EmailSender delivers a templated email
type EmailSender interface {
	Send(ctx context.Context, templateID, recipient string, vars map[string]string) error
}

// AWSSESEmailSender sends emails using AWS SES
type AWSSESEmailSender struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESEmailSender creates a new AWS SES email sender
func NewAWSSESEmailSender(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*AWSSESEmailSender, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailSender{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

func (s *AWSSESEmailSender) Send(ctx context.Context, templateID, recipient string, vars map[string]string) error {
	email, err := renderEmail(templateID, vars)
	if err != nil {
		return err
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(email.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(email.HTML),
					Charset: aws.String("UTF-8"),
				},
				Text: &types.Content{
					Data:    aws.String(email.Text),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("template", templateID),
		slog.String("email", pkglogger.SanitizedEmail(recipient)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

// LogEmailSender writes emails to the log instead of delivering them. Links are
// only shown in development.
type LogEmailSender struct {
	logger *slog.Logger
	env    string
}

func NewLogEmailSender(logger *slog.Logger, env string) *LogEmailSender {
	return &LogEmailSender{logger: logger, env: env}
}

func (s *LogEmailSender) Send(ctx context.Context, templateID, recipient string, vars map[string]string) error {
	email, err := renderEmail(templateID, vars)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "email captured",
		slog.String("template", templateID),
		slog.String("subject", email.Subject),
		slog.String("email", pkglogger.SanitizedEmail(recipient)),
		pkglogger.RedactedAttr("url", vars["url"], s.env))

	return nil
}

// MailQueue delivers emails in the background so that a slow or failing mail
// provider never affects the response of the flow that queued the email.
type MailQueue struct {
	sender  EmailSender
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewMailQueue(sender EmailSender, timeout time.Duration, logger *slog.Logger) *MailQueue {
	return &MailQueue{
		sender:  sender,
		timeout: timeout,
		logger:  logger,
	}
}

// Enqueue starts delivery and returns immediately. Failures are logged.
func (q *MailQueue) Enqueue(templateID, recipient string, vars map[string]string) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		defer cancel()

		if err := q.sender.Send(ctx, templateID, recipient, vars); err != nil {
			q.logger.Error("failed to deliver email",
				slog.String("template", templateID),
				slog.String("email", pkglogger.SanitizedEmail(recipient)),
				slog.Any("error", err))
		}
	}()
}

// Wait blocks until every queued email has been attempted
func (q *MailQueue) Wait() {
	q.wg.Wait()
}
