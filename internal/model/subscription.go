package model

import (
	"time"

	"gorm.io/gorm"
)

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusInactive = "inactive"
	SubscriptionStatusExpired  = "expired"
)

const (
	PaymentStatusActive    = "active"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
)

const PaymentSucceeded = "succeeded"

// Subscription mirrors one Stripe subscription. Rows transition status instead of
// being deleted.
type Subscription struct {
	gorm.Model
	UserID               uint       `json:"user_id" gorm:"not null;index"`
	StripeSubscriptionID string     `json:"stripe_subscription_id" gorm:"uniqueIndex;not null"`
	StripeCustomerID     string     `json:"stripe_customer_id" gorm:"index"`
	Status               string     `json:"status" gorm:"not null;default:'active'"`
	PaymentStatus        string     `json:"payment_status" gorm:"not null;default:'active'"`
	Plan                 string     `json:"plan"`
	Interval             string     `json:"interval"`
	StartDate            time.Time  `json:"start_date"`
	EndDate              time.Time  `json:"end_date"`
	LastPaymentID        string     `json:"last_payment_id"`
	CancelledAt          *time.Time `json:"cancelled_at"`

	User     UserProfile `json:"-" gorm:"foreignKey:UserID"`
	Payments []Payment   `json:"-" gorm:"foreignKey:SubscriptionID"`
}

// Payment is an append-only record of one captured invoice.
type Payment struct {
	ID                    uint      `json:"id" gorm:"primaryKey"`
	UserID                uint      `json:"user_id" gorm:"not null;index"`
	SubscriptionID        uint      `json:"subscription_id" gorm:"not null;index"`
	Amount                int64     `json:"amount" gorm:"not null"`
	Currency              string    `json:"currency" gorm:"size:3"`
	StripeInvoiceID       string    `json:"stripe_invoice_id" gorm:"uniqueIndex;not null"`
	StripePaymentIntentID string    `json:"stripe_payment_intent_id"`
	Status                string    `json:"status" gorm:"not null;default:'succeeded'"`
	PaidAt                time.Time `json:"paid_at"`
	CreatedAt             time.Time `json:"created_at" gorm:"autoCreateTime"`
}
