package model

import (
	"strings"

	"gorm.io/gorm"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// UserProfile is the local profile of an identity. Its ID is the user identifier used
// across the ledger and as the checkout correlation key.
type UserProfile struct {
	gorm.Model
	Email        string `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string `json:"-" gorm:"not null"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Role         string `json:"role" gorm:"default:'user'"`
	Avatar       string `json:"avatar"`

	TermsAccepted        bool    `json:"terms_accepted" gorm:"default:false"`
	NewsletterSubscribed bool    `json:"newsletter_subscribed" gorm:"default:false"`
	StripeCustomerID     *string `json:"-" gorm:"uniqueIndex"`

	Subscriptions []Subscription `json:"-" gorm:"foreignKey:UserID"`
}

func (UserProfile) TableName() string {
	return "user_profiles"
}

func (u *UserProfile) GetFullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// CustomerID returns the billing-customer reference or "" when none has been created yet.
func (u *UserProfile) CustomerID() string {
	if u.StripeCustomerID == nil {
		return ""
	}
	return *u.StripeCustomerID
}

func (u *UserProfile) GetPublicProfile() map[string]interface{} {
	return map[string]interface{}{
		"id":                    u.ID,
		"email":                 u.Email,
		"first_name":            u.FirstName,
		"last_name":             u.LastName,
		"full_name":             u.GetFullName(),
		"role":                  u.Role,
		"avatar":                u.Avatar,
		"terms_accepted":        u.TermsAccepted,
		"newsletter_subscribed": u.NewsletterSubscribed,
	}
}
