package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a user in the system
type User struct {
	gorm.Model
	Email           string     `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash    string     `gorm:"size:255" json:"-"`
	FirstName       string     `gorm:"size:100" json:"firstName"`
	LastName        string     `gorm:"size:100" json:"lastName"`
	EmailVerified   bool       `gorm:"default:false" json:"emailVerified"`
	EmailVerifiedAt *time.Time `json:"emailVerifiedAt,omitempty"`
	LastLoginAt     *time.Time `json:"lastLoginAt,omitempty"`
	Active          bool       `gorm:"default:true" json:"active"`

	// Role is derived from the active plan by the billing engine
	Role string `gorm:"size:50;not null;default:'free'" json:"role"`

	// Stripe fields, bound on first successful checkout
	StripeCustomerID     *string `gorm:"uniqueIndex;size:255" json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID *string `gorm:"size:255" json:"stripeSubscriptionId,omitempty"`
}

// TableName returns the table name
func (User) TableName() string {
	return "users"
}
