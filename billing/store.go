package billing

import (
	"context"
	"time"

	"webnova-backend/sections/models"
)

// Store is the narrow datastore contract the engine consumes. Lookup methods
// return (nil, nil) when no row matches; every storage failure is wrapped as a
// *DatastoreError by implementations.
//
// CreateWebhookLog must enforce the unique constraint on the event id
// atomically and return ErrDuplicateEvent on conflict: that insert is the only
// mutual-exclusion primitive the engine relies on.
type Store interface {
	GetUser(ctx context.Context, id uint) (*models.User, error)
	GetUserByCustomerID(ctx context.Context, customerID string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error

	GetUserSubscription(ctx context.Context, userID uint) (*models.Subscription, error)
	GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	GetSubscriptionByCustomerID(ctx context.Context, customerID string) (*models.Subscription, error)
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error

	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentsByUser(ctx context.Context, userID uint) ([]models.Payment, error)
	GetPaymentByIntentID(ctx context.Context, paymentIntentID string) (*models.Payment, error)

	CreatePaymentRetry(ctx context.Context, retry *models.PaymentRetry) error
	UpdatePaymentRetry(ctx context.Context, retry *models.PaymentRetry) error
	GetPaymentRetriesBySubscription(ctx context.Context, subscriptionID uint) ([]models.PaymentRetry, error)
	// GetPendingPaymentRetries returns pending rows due at now and still inside
	// their grace period.
	GetPendingPaymentRetries(ctx context.Context, now time.Time) ([]models.PaymentRetry, error)

	CreateSubscriptionEvent(ctx context.Context, event *models.SubscriptionEvent) error

	// CreateRefund returns ErrDuplicateRefund when the payment already has one.
	CreateRefund(ctx context.Context, refund *models.Refund) error
	GetRefundByPaymentID(ctx context.Context, paymentID uint) (*models.Refund, error)

	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotificationsByUser(ctx context.Context, userID uint) ([]models.Notification, error)

	CreateWebhookLog(ctx context.Context, log *models.WebhookLog) error
	UpdateWebhookLog(ctx context.Context, log *models.WebhookLog) error
	GetWebhookLogByEventID(ctx context.Context, eventID string) (*models.WebhookLog, error)
	GetRecentWebhookLogs(ctx context.Context, limit int) ([]models.WebhookLog, error)
}
