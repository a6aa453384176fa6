package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Notification is the payload published for a notify-me rule action.
type Notification struct {
	Strategy string    `json:"strategy"`
	Rule     string    `json:"rule"`
	Channel  string    `json:"channel"`
	Message  string    `json:"message"`
	SentAt   time.Time `json:"sentAt"`
}

// Notifier publishes rule notifications to the BACKTEST JetStream
// stream. With no NATS connection it degrades to log-only, so
// backtests keep working offline.
type Notifier struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

func New(js nats.JetStreamContext, logger *zap.Logger) *Notifier {
	return &Notifier{js: js, logger: logger}
}

func (n *Notifier) Notify(ctx context.Context, strategy, rule, channel, message string) error {
	if channel == "" {
		channel = "default"
	}

	payload := Notification{
		Strategy: strategy,
		Rule:     rule,
		Channel:  channel,
		Message:  message,
		SentAt:   time.Now(),
	}

	if n.js == nil {
		n.logger.Info("notification",
			zap.String("strategy", strategy),
			zap.String("rule", rule),
			zap.String("channel", channel),
			zap.String("message", message),
		)
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	subject := fmt.Sprintf("backtest.notify.%s", channel)
	if _, err := n.js.Publish(subject, data); err != nil {
		return fmt.Errorf("publish notification to %s: %w", subject, err)
	}
	return nil
}
