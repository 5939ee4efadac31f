package model

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent records every verified Stripe delivery so redeliveries of an event that
// already applied cleanly are acknowledged without touching the ledger again.
type WebhookEvent struct {
	ID              uint           `json:"id" gorm:"primaryKey"`
	StripeEventID   string         `json:"stripe_event_id" gorm:"size:191;uniqueIndex;not null"`
	EventType       string         `json:"event_type" gorm:"size:100;not null;index"`
	Payload         datatypes.JSON `json:"payload"`
	ProcessedAt     *time.Time     `json:"processed_at"`
	ProcessingError string         `json:"processing_error" gorm:"type:text"`
	CreatedAt       time.Time      `json:"created_at" gorm:"autoCreateTime;index"`
	UpdatedAt       time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// Applied reports whether the event has already been applied without error.
func (e *WebhookEvent) Applied() bool {
	return e.ProcessedAt != nil && e.ProcessingError == ""
}
