package payment

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"finresearch_backend/internal/model"
)

// Repository is the ledger store used by the service. Lookups return
// gorm.ErrRecordNotFound when no row matches.
type Repository interface {
	GetProfile(ctx context.Context, userID uint) (*model.UserProfile, error)
	SetCustomerID(ctx context.Context, userID uint, customerID string) error

	// CreateSubscriptionIfNotExists inserts sub unless a row with the same Stripe
	// subscription id exists, then loads the stored row into sub.
	CreateSubscriptionIfNotExists(ctx context.Context, sub *model.Subscription) (bool, error)
	GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*model.Subscription, error)
	LatestSubscription(ctx context.Context, userID uint) (*model.Subscription, error)
	UpdateSubscription(ctx context.Context, id uint, updates map[string]interface{}) error

	// CreatePaymentIfNotExists inserts p unless a payment for the same invoice exists.
	CreatePaymentIfNotExists(ctx context.Context, p *model.Payment) (bool, error)

	RecordWebhookEvent(ctx context.Context, event *model.WebhookEvent) (*model.WebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetProfile(ctx context.Context, userID uint) (*model.UserProfile, error) {
	var profile model.UserProfile
	if err := r.db.WithContext(ctx).First(&profile, userID).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *gormRepository) SetCustomerID(ctx context.Context, userID uint, customerID string) error {
	return r.db.WithContext(ctx).Model(&model.UserProfile{}).
		Where("id = ?", userID).
		Update("stripe_customer_id", customerID).Error
}

func (r *gormRepository) CreateSubscriptionIfNotExists(ctx context.Context, sub *model.Subscription) (bool, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_subscription_id"}},
		DoNothing: true,
	}).Create(sub)
	if tx.Error != nil {
		return false, tx.Error
	}

	created := tx.RowsAffected > 0
	if err := db.Where("stripe_subscription_id = ?", sub.StripeSubscriptionID).First(sub).Error; err != nil {
		return false, err
	}
	return created, nil
}

func (r *gormRepository) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) LatestSubscription(ctx context.Context, userID uint) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("end_date DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) UpdateSubscription(ctx context.Context, id uint, updates map[string]interface{}) error {
	tx := r.db.WithContext(ctx).Model(&model.Subscription{}).Where("id = ?", id).Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormRepository) CreatePaymentIfNotExists(ctx context.Context, p *model.Payment) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_invoice_id"}},
		DoNothing: true,
	}).Create(p)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) RecordWebhookEvent(ctx context.Context, event *model.WebhookEvent) (*model.WebhookEvent, error) {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_event_id"}},
		DoNothing: true,
	}).Create(event).Error; err != nil {
		return nil, err
	}

	var stored model.WebhookEvent
	if err := db.Where("stripe_event_id = ?", event.StripeEventID).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed_at":     &now,
			"processing_error": processingError,
		}).Error
}
