package billing

import (
	"context"

	"webnova-backend/sections/models"
)

// Notifier fans a stored notification out to the external notification
// surface. Publishing is best effort; the durable row is the contract.
type Notifier interface {
	PublishNotification(ctx context.Context, n *models.Notification) error
}

// NoopNotifier discards notifications. Used when no fan-out backend is wired.
type NoopNotifier struct{}

func (NoopNotifier) PublishNotification(ctx context.Context, n *models.Notification) error {
	return nil
}
