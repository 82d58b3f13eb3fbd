package ports

import "context"

// TokenEvent describes a token lifecycle change
type TokenEvent struct {
	ChallengeID string `json:"challenge_id"`
	TokenID     string `json:"token_id"`
	RefreshID   string `json:"refresh_id,omitempty"`
	AppID       string `json:"app_id,omitempty"`
	Audience    string `json:"audience,omitempty"`
}

// EventPublisher publishes events to notify other instances
type EventPublisher interface {
	PublishIssued(ctx context.Context, event TokenEvent) error
	PublishRefreshed(ctx context.Context, event TokenEvent) error
	PublishRevoked(ctx context.Context, event TokenEvent) error
}
