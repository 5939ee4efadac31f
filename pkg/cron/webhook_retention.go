package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"finresearch_backend/internal/model"
)

const defaultWebhookRetention = 30 * 24 * time.Hour

// WebhookRetention deletes webhook events that applied cleanly and are older than
// MaxAge. Failed events are kept for inspection.
type WebhookRetention struct {
	DB     *gorm.DB
	MaxAge time.Duration
	Now    func() time.Time
}

func (r *WebhookRetention) Job() Job {
	return Job{Name: "webhook-retention", Spec: "0 3 * * *", Run: r.Run}
}

func (r *WebhookRetention) Run(ctx context.Context) error {
	res := r.DB.WithContext(ctx).
		Where("processed_at IS NOT NULL AND (processing_error = '' OR processing_error IS NULL) AND created_at < ?", r.cutoff()).
		Delete(&model.WebhookEvent{})
	if res.Error != nil {
		return fmt.Errorf("delete processed webhook events: %w", res.Error)
	}

	log.Infof("[Cron] Deleted %d processed webhook events", res.RowsAffected)
	return nil
}

func (r *WebhookRetention) cutoff() time.Time {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	maxAge := r.MaxAge
	if maxAge <= 0 {
		maxAge = defaultWebhookRetention
	}
	return now().Add(-maxAge)
}
