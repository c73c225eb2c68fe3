package dispatch

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/mrz1836/postmark"

	"github.com/soundrise/notify/notification"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// AddressResolver maps a user ID to the address a channel delivers to.
// Returning an error wrapped with ErrPermanent stops retries for that user.
type AddressResolver func(ctx context.Context, userID string) (string, error)

// EmailConfig configures the Postmark-backed email transport.
type EmailConfig struct {
	ServerToken  string `env:"POSTMARK_SERVER_TOKEN,required"`
	AccountToken string `env:"POSTMARK_ACCOUNT_TOKEN,required"`
	SenderEmail  string `env:"EMAIL_SENDER,required"`
}

// EmailTransport delivers notifications through Postmark's transactional API.
type EmailTransport struct {
	client  *postmark.Client
	sender  string
	resolve AddressResolver
}

// NewEmailTransport creates the email transport. Configuration is validated
// up front so a misconfigured transport fails at startup, not mid-delivery.
func NewEmailTransport(cfg EmailConfig, resolve AddressResolver) (*EmailTransport, error) {
	if cfg.ServerToken == "" {
		return nil, errors.New("email transport: ServerToken is required")
	}
	if cfg.AccountToken == "" {
		return nil, errors.New("email transport: AccountToken is required")
	}
	if !emailRegex.MatchString(cfg.SenderEmail) {
		return nil, fmt.Errorf("email transport: invalid sender address %q", cfg.SenderEmail)
	}
	if resolve == nil {
		return nil, errors.New("email transport: address resolver is required")
	}

	return &EmailTransport{
		client:  postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		sender:  cfg.SenderEmail,
		resolve: resolve,
	}, nil
}

func (t *EmailTransport) Deliver(ctx context.Context, n notification.Notification) error {
	addr, err := t.resolve(ctx, n.UserID)
	if err != nil {
		return err
	}
	if !emailRegex.MatchString(addr) {
		// A malformed address will never succeed; do not waste retries on it.
		return fmt.Errorf("%w: invalid recipient address %q", ErrPermanent, addr)
	}

	resp, err := t.client.SendEmail(ctx, postmark.Email{
		From:     t.sender,
		To:       addr,
		Subject:  n.Title,
		Tag:      string(n.Category),
		TextBody: n.Message,
	})
	if err != nil {
		return fmt.Errorf("postmark send failed: %w", err)
	}
	if resp.ErrorCode > 0 {
		// Postmark's inactive-recipient class of errors is not recoverable.
		if resp.ErrorCode == 406 {
			return fmt.Errorf("%w: postmark rejected recipient: %s", ErrPermanent, resp.Message)
		}
		return fmt.Errorf("postmark error %d: %s", resp.ErrorCode, resp.Message)
	}
	return nil
}
