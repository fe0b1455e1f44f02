package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pisafe/pisafe/internal/config"
	"github.com/rs/zerolog"
)

// SMSSender sends one text message
type SMSSender interface {
	Send(ctx context.Context, to, text string) error
}

// SMSGateway posts messages to a Twilio-compatible HTTP API
type SMSGateway struct {
	logger    zerolog.Logger
	client    *http.Client
	url       string
	accountID string
	token     string
	from      string
}

// NewSMSGateway creates a gateway client. Credentials are read from the
// environment variables named in config.
func NewSMSGateway(cfg config.SMSConfig, logger zerolog.Logger) *SMSGateway {
	var sid, token string
	if cfg.AccountSIDEnv != "" {
		sid = os.Getenv(cfg.AccountSIDEnv)
	}
	if cfg.AuthTokenEnv != "" {
		token = os.Getenv(cfg.AuthTokenEnv)
	}
	return &SMSGateway{
		logger: logger.With().Str("component", "sms").Logger(),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		url:       strings.ReplaceAll(cfg.GatewayURL, "{account_sid}", sid),
		accountID: sid,
		token:     token,
		from:      cfg.FromNumber,
	}
}

// Send posts one message
func (g *SMSGateway) Send(ctx context.Context, to, text string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("Body", text)
	if g.from != "" {
		form.Set("From", g.from)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if g.accountID != "" || g.token != "" {
		req.SetBasicAuth(g.accountID, g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sms gateway error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// SMSChannel texts every resolved recipient that has a phone number
type SMSChannel struct {
	sender SMSSender
	logger zerolog.Logger
}

// NewSMSChannel creates a new SMS channel
func NewSMSChannel(sender SMSSender, logger zerolog.Logger) *SMSChannel {
	return &SMSChannel{sender: sender, logger: logger.With().Str("component", "sms").Logger()}
}

// Name implements Channel
func (c *SMSChannel) Name() string { return "sms" }

// Deliver sends to each recipient in turn; a failure does not stop the rest
func (c *SMSChannel) Deliver(ctx context.Context, d Delivery) (int, int, error) {
	targets, delivered := 0, 0
	var errs []error
	for _, r := range d.Recipients {
		if r.Phone == "" {
			continue
		}
		targets++
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := c.sender.Send(ctx, r.Phone, d.Text); err != nil {
			c.logger.Error().
				Err(err).
				Str("recipient", r.Name).
				Str("alert_id", d.AlertID).
				Msg("Failed to send SMS")
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, err))
			continue
		}
		delivered++
		c.logger.Info().
			Str("recipient", r.Name).
			Str("alert_id", d.AlertID).
			Msg("SMS sent")
	}
	if len(errs) > 0 {
		return targets, delivered, &ChannelError{Channel: c.Name(), Failed: len(errs), Err: errors.Join(errs...)}
	}
	return targets, delivered, nil
}
