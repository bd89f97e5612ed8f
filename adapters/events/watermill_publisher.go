package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/layer-3/wallethub/core"
	"github.com/layer-3/wallethub/ports"
)

// KeyEvent is the wire payload for a session-key lifecycle event
type KeyEvent struct {
	Event         string    `json:"event"`
	KeyID         string    `json:"key_id"`
	WalletAddress string    `json:"wallet_address"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		topic:     "wallethub.sessionkeys",
	}
}

// PublishKeyEvent publishes a session-key lifecycle event
func (p *WatermillPublisher) PublishKeyEvent(ctx context.Context, event string, key *core.SessionKey) error {
	payload, err := json.Marshal(KeyEvent{
		Event:         event,
		KeyID:         key.ID,
		WalletAddress: key.WalletAddress,
		Status:        string(key.Status),
		ExpiresAt:     key.ExpiresAt,
		OccurredAt:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(key.ID, payload)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
