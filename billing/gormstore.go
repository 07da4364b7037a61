package billing

import (
	"context"
	"errors"
	"time"

	"webnova-backend/sections/models"

	"gorm.io/gorm"
)

// GormStore is the PostgreSQL-backed Store. It relies on gorm's TranslateError
// mode so unique-constraint violations surface as gorm.ErrDuplicatedKey.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a Store backed by the given gorm database.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, datastoreError("get user", err)
	}
	return &user, nil
}

func (s *GormStore) GetUserByCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("stripe_customer_id = ?", customerID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, datastoreError("get user by customer id", err)
	}
	return &user, nil
}

func (s *GormStore) UpdateUser(ctx context.Context, user *models.User) error {
	if err := s.db.WithContext(ctx).Save(user).Error; err != nil {
		return datastoreError("update user", err)
	}
	return nil
}

func (s *GormStore) GetUserSubscription(ctx context.Context, userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, datastoreError("get user subscription", err)
	}
	return &sub, nil
}

func (s *GormStore) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).Where("stripe_subscription_id = ?", stripeSubscriptionID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, datastoreError("get subscription by stripe id", err)
	}
	return &sub, nil
}

func (s *GormStore) GetSubscriptionByCustomerID(ctx context.Context, customerID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).Where("stripe_customer_id = ?", customerID).Order("id DESC").First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, datastoreError("get subscription by customer id", err)
	}
	return &sub, nil
}

func (s *GormStore) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		return datastoreError("create subscription", err)
	}
	return nil
}

func (s *GormStore) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := s.db.WithContext(ctx).Save(sub).Error; err != nil {
		return datastoreError("update subscription", err)
	}
	return nil
}

func (s *GormStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if err := s.db.WithContext(ctx).Create(payment).Error; err != nil {
		return datastoreError("create payment", err)
	}
	return nil
}

func (s *GormStore) GetPaymentsByUser(ctx context.Context, userID uint) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&payments).Error
	if err != nil {
		return nil, datastoreError("get payments by user", err)
	}
	return payments, nil
}

func (s *GormStore) GetPaymentByIntentID(ctx context.Context, paymentIntentID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).Where("stripe_payment_intent_id = ?", paymentIntentID).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, datastoreError("get payment by intent id", err)
	}
	return &payment, nil
}

func (s *GormStore) CreatePaymentRetry(ctx context.Context, retry *models.PaymentRetry) error {
	if err := s.db.WithContext(ctx).Create(retry).Error; err != nil {
		return datastoreError("create payment retry", err)
	}
	return nil
}

func (s *GormStore) UpdatePaymentRetry(ctx context.Context, retry *models.PaymentRetry) error {
	if err := s.db.WithContext(ctx).Save(retry).Error; err != nil {
		return datastoreError("update payment retry", err)
	}
	return nil
}

func (s *GormStore) GetPaymentRetriesBySubscription(ctx context.Context, subscriptionID uint) ([]models.PaymentRetry, error) {
	var retries []models.PaymentRetry
	err := s.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).Find(&retries).Error
	if err != nil {
		return nil, datastoreError("get payment retries by subscription", err)
	}
	return retries, nil
}

func (s *GormStore) GetPendingPaymentRetries(ctx context.Context, now time.Time) ([]models.PaymentRetry, error) {
	var retries []models.PaymentRetry
	err := s.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ? AND grace_period_end > ?", models.RetryPending, now, now).
		Find(&retries).Error
	if err != nil {
		return nil, datastoreError("get pending payment retries", err)
	}
	return retries, nil
}

func (s *GormStore) CreateSubscriptionEvent(ctx context.Context, event *models.SubscriptionEvent) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return datastoreError("create subscription event", err)
	}
	return nil
}

func (s *GormStore) CreateRefund(ctx context.Context, refund *models.Refund) error {
	err := s.db.WithContext(ctx).Create(refund).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateRefund
	}
	if err != nil {
		return datastoreError("create refund", err)
	}
	return nil
}

func (s *GormStore) GetRefundByPaymentID(ctx context.Context, paymentID uint) (*models.Refund, error) {
	var refund models.Refund
	err := s.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&refund).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, datastoreError("get refund by payment id", err)
	}
	return &refund, nil
}

func (s *GormStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return datastoreError("create notification", err)
	}
	return nil
}

func (s *GormStore) GetNotificationsByUser(ctx context.Context, userID uint) ([]models.Notification, error) {
	var notifications []models.Notification
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Limit(100).Find(&notifications).Error
	if err != nil {
		return nil, datastoreError("get notifications by user", err)
	}
	return notifications, nil
}

func (s *GormStore) CreateWebhookLog(ctx context.Context, log *models.WebhookLog) error {
	err := s.db.WithContext(ctx).Create(log).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateEvent
	}
	if err != nil {
		return datastoreError("create webhook log", err)
	}
	return nil
}

func (s *GormStore) UpdateWebhookLog(ctx context.Context, log *models.WebhookLog) error {
	if err := s.db.WithContext(ctx).Save(log).Error; err != nil {
		return datastoreError("update webhook log", err)
	}
	return nil
}

func (s *GormStore) GetWebhookLogByEventID(ctx context.Context, eventID string) (*models.WebhookLog, error) {
	var log models.WebhookLog
	err := s.db.WithContext(ctx).Where("event_id = ?", eventID).First(&log).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, datastoreError("get webhook log by event id", err)
	}
	return &log, nil
}

func (s *GormStore) GetRecentWebhookLogs(ctx context.Context, limit int) ([]models.WebhookLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var logs []models.WebhookLog
	err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&logs).Error
	if err != nil {
		return nil, datastoreError("get recent webhook logs", err)
	}
	return logs, nil
}
