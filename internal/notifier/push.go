package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Publisher pushes a payload to a live topic
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// PushMessage is the payload published for every recipient topic
type PushMessage struct {
	Type      string    `json:"type"`
	AlertID   string    `json:"alert_id"`
	Text      string    `json:"text"`
	Area      string    `json:"area,omitempty"`
	Recipient string    `json:"recipient"`
	SentAt    time.Time `json:"sent_at"`
}

// PushChannel publishes each recipient's alert on every configured transport
type PushChannel struct {
	publishers []Publisher
	logger     zerolog.Logger
}

// NewPushChannel creates a new push channel
func NewPushChannel(logger zerolog.Logger, publishers ...Publisher) *PushChannel {
	return &PushChannel{
		publishers: publishers,
		logger:     logger.With().Str("component", "push").Logger(),
	}
}

// Name implements Channel
func (c *PushChannel) Name() string { return "push" }

// Deliver counts a recipient as delivered only if every transport accepted it
func (c *PushChannel) Deliver(ctx context.Context, d Delivery) (int, int, error) {
	targets, delivered := 0, 0
	var errs []error
	for _, r := range d.Recipients {
		if r.PushTopic == "" {
			continue
		}
		targets++

		payload, err := json.Marshal(PushMessage{
			Type:      "alert",
			AlertID:   d.AlertID,
			Text:      d.Text,
			Area:      d.Area,
			Recipient: r.Name,
			SentAt:    time.Now().UTC(),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: marshal: %w", r.Name, err))
			continue
		}

		ok := true
		for _, p := range c.publishers {
			if err := p.Publish(ctx, r.PushTopic, payload); err != nil {
				ok = false
				errs = append(errs, fmt.Errorf("%s: %w", r.Name, err))
				c.logger.Error().
					Err(err).
					Str("topic", r.PushTopic).
					Str("alert_id", d.AlertID).
					Msg("Failed to publish push notification")
			}
		}
		if ok {
			delivered++
		}
	}
	if len(errs) > 0 {
		return targets, delivered, &ChannelError{Channel: c.Name(), Failed: targets - delivered, Err: errors.Join(errs...)}
	}
	return targets, delivered, nil
}
