package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/BradenHooton/dragonbane-auth/pkg/logger"
)

// LockoutNotifier tells an account owner that their account was locked
type LockoutNotifier interface {
	NotifyLockout(ctx context.Context, email string, lockedUntil time.Time) error
}

// SESSender is the subset of the SES client used for notifications
type SESSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESLockoutNotifier sends lockout emails using AWS SES
type SESLockoutNotifier struct {
	sesClient   SESSender
	fromAddress string
	logger      *slog.Logger
}

// NewSESLockoutNotifier creates a notifier from the default AWS credential chain
func NewSESLockoutNotifier(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESLockoutNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESLockoutNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

// NewSESLockoutNotifierWithClient creates a notifier around an existing client
func NewSESLockoutNotifierWithClient(client SESSender, fromAddress string, logger *slog.Logger) *SESLockoutNotifier {
	return &SESLockoutNotifier{
		sesClient:   client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

// NotifyLockout sends the lockout email
func (n *SESLockoutNotifier) NotifyLockout(ctx context.Context, email string, lockedUntil time.Time) error {
	until := lockedUntil.UTC().Format("15:04 MST on Jan 2, 2006")

	textBody := fmt.Sprintf(`Your account has been temporarily locked

We noticed several unsuccessful sign-in attempts on your account, so sign-in has been paused until %s.

If this was you, wait until then and try again.
If this was not you, consider changing your password once the lock lifts.

This is an automated message. Please do not reply to this email.
`, until)

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <h1>Your account has been temporarily locked</h1>
    <p>We noticed several unsuccessful sign-in attempts on your account, so sign-in has been paused until <strong>%s</strong>.</p>
    <p>If this was you, wait until then and try again.<br>
    If this was not you, consider changing your password once the lock lifts.</p>
    <p style="color: #666; font-size: 12px;">This is an automated message. Please do not reply to this email.</p>
</body>
</html>
`, until)

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Your account has been temporarily locked"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := n.sesClient.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Info("lockout email sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}
