package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/botcha/ports"
)

const (
	TopicIssued    = "botcha.token.issued"
	TopicRefreshed = "botcha.token.refreshed"
	TopicRevoked   = "botcha.token.revoked"
)

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishIssued publishes an event for a token minted from a solved challenge
func (p *WatermillPublisher) PublishIssued(ctx context.Context, event ports.TokenEvent) error {
	return p.publish(ctx, TopicIssued, event)
}

// PublishRefreshed publishes an event for an access token minted from a refresh token
func (p *WatermillPublisher) PublishRefreshed(ctx context.Context, event ports.TokenEvent) error {
	return p.publish(ctx, TopicRefreshed, event)
}

// PublishRevoked publishes an event for a revoked refresh token
func (p *WatermillPublisher) PublishRevoked(ctx context.Context, event ports.TokenEvent) error {
	return p.publish(ctx, TopicRevoked, event)
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, event ports.TokenEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) PublishIssued(context.Context, ports.TokenEvent) error    { return nil }
func (NopPublisher) PublishRefreshed(context.Context, ports.TokenEvent) error { return nil }
func (NopPublisher) PublishRevoked(context.Context, ports.TokenEvent) error   { return nil }
