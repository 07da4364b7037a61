package models

import (
	"time"

	"gorm.io/gorm"
)

// Subscription status values. cancelled is terminal.
const (
	SubscriptionPending   = "pending"
	SubscriptionActive    = "active"
	SubscriptionPastDue   = "past_due"
	SubscriptionPaused    = "paused"
	SubscriptionCancelled = "cancelled"
)

// Payment ledger status values
const (
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
)

// PaymentRetry status values
const (
	RetryPending   = "pending"
	RetrySucceeded = "succeeded"
)

// WebhookLog records every inbound provider event and its processing outcome.
// The unique index on EventID is the mutual-exclusion gate for concurrent
// deliveries of the same event; rows are never deleted.
type WebhookLog struct {
	gorm.Model
	EventID       string     `gorm:"uniqueIndex;size:255;not null" json:"eventId"`
	EventType     string     `gorm:"size:100;not null;index" json:"eventType"`
	Provider      string     `gorm:"size:50;not null;default:'stripe'" json:"provider"`
	PayloadHash   string     `gorm:"size:64" json:"payloadHash"`
	Payload       string     `gorm:"type:jsonb" json:"payload,omitempty"`
	Processed     bool       `gorm:"not null;default:false;index" json:"processed"`
	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	LastAttemptAt time.Time  `gorm:"not null" json:"lastAttemptAt"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
	RelatedUserID *uint      `gorm:"index" json:"relatedUserId,omitempty"`
	ErrorMessage  string     `gorm:"size:1000" json:"errorMessage,omitempty"`
}

// TableName returns the table name
func (WebhookLog) TableName() string {
	return "webhook_logs"
}

// Subscription represents a recurring subscription
type Subscription struct {
	gorm.Model
	UserID uint   `gorm:"not null;index" json:"userId"`
	PlanID string `gorm:"size:100;not null" json:"planId"`

	// Stripe fields
	StripeSubscriptionID string `gorm:"uniqueIndex;size:255" json:"stripeSubscriptionId"`
	StripeCustomerID     string `gorm:"size:255;index" json:"stripeCustomerId"`

	Status       string `gorm:"size:50;not null;default:'pending'" json:"status"`
	BillingCycle string `gorm:"size:20;not null;default:'monthly'" json:"billingCycle"` // monthly, yearly

	CurrentPeriodStart time.Time  `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time  `json:"currentPeriodEnd"`
	CancelledAt        *time.Time `json:"cancelledAt,omitempty"`

	// Relations
	User User `gorm:"foreignKey:UserID" json:"-"`
}

// TableName returns the table name
func (Subscription) TableName() string {
	return "subscriptions"
}

// Payment is an append-only ledger row; never mutated after creation
type Payment struct {
	gorm.Model
	UserID         uint  `gorm:"not null;index" json:"userId"`
	SubscriptionID *uint `gorm:"index" json:"subscriptionId,omitempty"`

	StripePaymentIntentID string `gorm:"size:255;index" json:"stripePaymentIntentId"`
	Amount                int64  `gorm:"not null" json:"amount"` // Amount in cents
	Currency              string `gorm:"size:3;not null;default:'usd'" json:"currency"`
	Status                string `gorm:"size:50;not null" json:"status"` // completed, failed
	Description           string `gorm:"size:500" json:"description"`
	Metadata              string `gorm:"type:jsonb" json:"metadata,omitempty"`

	// Relations
	User User `gorm:"foreignKey:UserID" json:"-"`
}

// TableName returns the table name
func (Payment) TableName() string {
	return "payments"
}

// PaymentRetry tracks a scheduled re-attempt of a failed invoice payment
type PaymentRetry struct {
	gorm.Model
	UserID         uint   `gorm:"not null;index" json:"userId"`
	SubscriptionID uint   `gorm:"not null;index" json:"subscriptionId"`
	StripeInvoiceID string `gorm:"size:255;index" json:"stripeInvoiceId"`

	Amount        int64  `gorm:"not null" json:"amount"`
	Currency      string `gorm:"size:3;not null;default:'usd'" json:"currency"`
	AttemptNumber int    `gorm:"not null;default:1" json:"attemptNumber"`

	NextRetryAt       time.Time `gorm:"not null;index" json:"nextRetryAt"`
	GracePeriodEnd    time.Time `gorm:"not null" json:"gracePeriodEnd"`
	LastFailureReason string    `gorm:"size:500" json:"lastFailureReason,omitempty"`
	Status            string    `gorm:"size:50;not null;default:'pending';index" json:"status"` // pending, succeeded
}

// TableName returns the table name
func (PaymentRetry) TableName() string {
	return "payment_retries"
}

// SubscriptionEvent is an append-only audit entry for subscription changes
type SubscriptionEvent struct {
	gorm.Model
	SubscriptionID uint   `gorm:"not null;index" json:"subscriptionId"`
	UserID         uint   `gorm:"not null;index" json:"userId"`
	EventType      string `gorm:"size:100;not null" json:"eventType"`
	PreviousPlan   string `gorm:"size:100" json:"previousPlan,omitempty"`
	NewPlan        string `gorm:"size:100" json:"newPlan"`
}

// TableName returns the table name
func (SubscriptionEvent) TableName() string {
	return "subscription_events"
}

// Refund records a provider refund against a prior payment. The unique index
// on PaymentID guards against double refunds delivered under distinct event ids.
type Refund struct {
	gorm.Model
	PaymentID uint   `gorm:"uniqueIndex;not null" json:"paymentId"`
	UserID    uint   `gorm:"not null;index" json:"userId"`
	Amount    int64  `gorm:"not null" json:"amount"`
	Currency  string `gorm:"size:3;not null;default:'usd'" json:"currency"`
	Reason    string `gorm:"size:255" json:"reason"`
	Status    string `gorm:"size:50;not null" json:"status"`

	StripeRefundID string     `gorm:"size:255" json:"stripeRefundId"`
	ProcessedAt    *time.Time `json:"processedAt,omitempty"`

	// Relations
	Payment Payment `gorm:"foreignKey:PaymentID" json:"-"`
}

// TableName returns the table name
func (Refund) TableName() string {
	return "refunds"
}

// Notification is write-only here; an external surface consumes it
type Notification struct {
	gorm.Model
	UserID    uint   `gorm:"not null;index" json:"userId"`
	Title     string `gorm:"size:255;not null" json:"title"`
	TitleAr   string `gorm:"size:255" json:"titleAr"`
	Message   string `gorm:"size:1000" json:"message"`
	MessageAr string `gorm:"size:1000" json:"messageAr"`
	Type      string `gorm:"size:50;not null" json:"type"`
}

// TableName returns the table name
func (Notification) TableName() string {
	return "notifications"
}
