package ports

import (
	"context"

	"github.com/layer-3/wallethub/core"
)

// Lifecycle event names published on the session-key topic
const (
	EventKeyIssued  = "sessionkey.issued"
	EventKeyRevoked = "sessionkey.revoked"
	EventKeyExpired = "sessionkey.expired"
)

// EventPublisher publishes session-key lifecycle events to notify other
// instances. Publish failures must never fail the originating operation.
type EventPublisher interface {
	PublishKeyEvent(ctx context.Context, event string, key *core.SessionKey) error
}
