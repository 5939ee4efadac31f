package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"finresearch_backend/internal/model"
	"finresearch_backend/pkg/email"
)

// Mailer accepts emails for background delivery.
type Mailer interface {
	Enqueue(msg email.Message) error
}

var expiryWarningDays = []int{7, 3}

// ExpiryWarnings emails users whose cancelled subscription ends in 7 or 3 days.
type ExpiryWarnings struct {
	DB       *gorm.DB
	Mailer   Mailer
	Template int64
	Now      func() time.Time
}

func (w *ExpiryWarnings) Job() Job {
	return Job{Name: "subscription-expiry-warnings", Spec: "0 9 * * *", Run: w.Run}
}

func (w *ExpiryWarnings) Run(ctx context.Context) error {
	if w.Template == 0 {
		log.Warn("[Cron] No expiry warning template configured, skipping")
		return nil
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}

	for _, days := range expiryWarningDays {
		from, to := expiryWindow(now(), days)

		var subs []model.Subscription
		err := w.DB.WithContext(ctx).
			Preload("User").
			Where("status = ? AND cancelled_at IS NOT NULL AND end_date >= ? AND end_date < ?",
				model.SubscriptionStatusActive, from, to).
			Find(&subs).Error
		if err != nil {
			return fmt.Errorf("fetch subscriptions expiring in %d days: %w", days, err)
		}

		log.Infof("[Cron] Found %d subscriptions expiring in %d days", len(subs), days)

		for i := range subs {
			msg := expiryMessage(&subs[i], days, w.Template)
			if err := w.Mailer.Enqueue(msg); err != nil {
				log.Errorf("[Cron] Could not queue expiry warning for subscription %s: %v", subs[i].StripeSubscriptionID, err)
			}
		}
	}
	return nil
}

// expiryWindow is the UTC calendar day that lies days after now.
func expiryWindow(now time.Time, days int) (time.Time, time.Time) {
	y, m, d := now.UTC().AddDate(0, 0, days).Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 0, 1)
}

func expiryMessage(sub *model.Subscription, days int, template int64) email.Message {
	return email.Message{
		To:         sub.User.Email,
		ToName:     sub.User.GetFullName(),
		Subject:    fmt.Sprintf("Your subscription ends in %d days", days),
		TemplateID: template,
		Variables: map[string]interface{}{
			"name":      sub.User.GetFullName(),
			"plan":      sub.Plan,
			"days_left": days,
			"end_date":  sub.EndDate.Format("2006-01-02"),
		},
	}
}
