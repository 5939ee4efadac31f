package model

import "time"

const (
	NewsletterActive       = "active"
	NewsletterUnsubscribed = "unsubscribed"
)

type NewsletterSubscriber struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	Email          string     `json:"email" gorm:"uniqueIndex;not null"`
	Name           string     `json:"name" gorm:"size:255"`
	Source         string     `json:"source" gorm:"size:50"` // website, footer, registration, ...
	Status         string     `json:"status" gorm:"size:20;not null;default:'active'"`
	UserID         *uint      `json:"user_id" gorm:"index"`
	SubscribedAt   time.Time  `json:"subscribed_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at"`
	CreatedAt      time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

func (NewsletterSubscriber) TableName() string {
	return "newsletter_users"
}
