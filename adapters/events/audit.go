package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/botcha/ports"
)

// Topics lists every topic the publisher writes to
var Topics = []string{TopicIssued, TopicRefreshed, TopicRevoked}

// LogEvents subscribes to all token topics and writes each event to logger
// until ctx is done. Subscriptions are established before it returns.
func LogEvents(ctx context.Context, sub message.Subscriber, logger *slog.Logger) error {
	for _, topic := range Topics {
		messages, err := sub.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		go logTopic(topic, messages, logger)
	}
	return nil
}

func logTopic(topic string, messages <-chan *message.Message, logger *slog.Logger) {
	for msg := range messages {
		var event ports.TokenEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			logger.Warn("dropping malformed token event", "topic", topic, "message_id", msg.UUID, "error", err)
			msg.Ack()
			continue
		}

		logger.Info("token event",
			"topic", topic,
			"challenge_id", event.ChallengeID,
			"token_id", event.TokenID,
			"refresh_id", event.RefreshID,
			"app_id", event.AppID,
			"audience", event.Audience,
		)
		msg.Ack()
	}
}
