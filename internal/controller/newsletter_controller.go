package controller

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"finresearch_backend/internal/model"
	"finresearch_backend/pkg/email"
)

// Mailer accepts emails for background delivery.
type Mailer interface {
	Enqueue(msg email.Message) error
}

type NewsletterSubscriptionInput struct {
	Name   string `json:"name" validate:"max=255"`
	Email  string `json:"email" validate:"required,email"`
	Source string `json:"source" validate:"max=50"`
}

type NewsletterUnsubscribeInput struct {
	Email string `json:"email" validate:"required,email"`
}

const (
	SourceNewsletterForm = "newsletter_form"
	SourceRegistration   = "registration"
	SourceSettings       = "settings"
)

type NewsletterController struct {
	db              *gorm.DB
	mailer          Mailer
	welcomeTemplate int64
}

func NewNewsletterController(db *gorm.DB, mailer Mailer, welcomeTemplate int64) *NewsletterController {
	return &NewsletterController{db: db, mailer: mailer, welcomeTemplate: welcomeTemplate}
}

// Subscribe creates or reactivates a subscriber and links it to a profile with the same email.
func (nc *NewsletterController) Subscribe(c *fiber.Ctx) error {
	var input NewsletterSubscriptionInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input format",
		})
	}
	input.Email = normalizeEmail(input.Email)
	if err := validate.Struct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Invalid email format",
			"details": validationMessage(err),
		})
	}
	source := input.Source
	if source == "" {
		source = SourceNewsletterForm
	}

	var (
		subscriber *model.NewsletterSubscriber
		changed    bool
	)
	err := nc.db.Transaction(func(tx *gorm.DB) error {
		var profile model.UserProfile
		var userID *uint
		switch err := tx.Where("email = ?", input.Email).First(&profile).Error; {
		case err == nil:
			userID = &profile.ID
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		var err error
		subscriber, changed, err = subscribeEmail(tx, input.Email, input.Name, source, userID)
		return err
	})
	if err != nil {
		log.Errorf("Newsletter subscribe %s: %v", input.Email, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not complete subscription",
		})
	}

	if !changed {
		return c.JSON(fiber.Map{
			"message": "Already subscribed",
			"status":  subscriber.Status,
		})
	}

	nc.sendWelcome(subscriber)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Successfully subscribed to newsletter",
		"source":  subscriber.Source,
	})
}

func (nc *NewsletterController) Unsubscribe(c *fiber.Ctx) error {
	var input NewsletterUnsubscribeInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input format",
		})
	}
	input.Email = normalizeEmail(input.Email)
	if err := validate.Struct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid email format",
		})
	}

	found := true
	err := nc.db.Transaction(func(tx *gorm.DB) error {
		err := unsubscribeEmail(tx, input.Email)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		log.Errorf("Newsletter unsubscribe %s: %v", input.Email, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not unsubscribe",
		})
	}
	if !found {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Subscriber not found",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Successfully unsubscribed",
	})
}

// GetSubscribers lists subscribers for admins, optionally filtered by ?status=.
func (nc *NewsletterController) GetSubscribers(c *fiber.Ctx) error {
	query := nc.db.Model(&model.NewsletterSubscriber{})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var subscribers []model.NewsletterSubscriber
	if err := query.Order("subscribed_at DESC").Find(&subscribers).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch subscribers",
		})
	}

	return c.JSON(fiber.Map{
		"subscribers": subscribers,
		"total":       len(subscribers),
	})
}

// GetStats reports daily signups for the last week plus active and monthly totals.
func (nc *NewsletterController) GetStats(c *fiber.Ctx) error {
	var dailyStats []struct {
		Date  string `json:"date"`
		Count int64  `json:"count"`
	}

	err := nc.db.Raw(`
        SELECT
            TO_CHAR(DATE(subscribed_at), 'YYYY-MM-DD') as date,
            COUNT(*) as count
        FROM newsletter_users
        WHERE subscribed_at >= CURRENT_DATE - INTERVAL '7 days'
        GROUP BY DATE(subscribed_at)
        ORDER BY date DESC
    `).Scan(&dailyStats).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch newsletter statistics",
		})
	}

	var activeSubscribers int64
	nc.db.Model(&model.NewsletterSubscriber{}).
		Where("status = ?", model.NewsletterActive).
		Count(&activeSubscribers)

	var monthlySubscribers int64
	nc.db.Model(&model.NewsletterSubscriber{}).
		Where("status = ? AND subscribed_at >= ?", model.NewsletterActive, time.Now().AddDate(0, 0, -30)).
		Count(&monthlySubscribers)

	return c.JSON(fiber.Map{
		"daily_stats":         dailyStats,
		"active_subscribers":  activeSubscribers,
		"monthly_subscribers": monthlySubscribers,
	})
}

func (nc *NewsletterController) sendWelcome(s *model.NewsletterSubscriber) {
	if nc.mailer == nil || nc.welcomeTemplate == 0 {
		return
	}
	err := nc.mailer.Enqueue(email.Message{
		To:         s.Email,
		ToName:     s.Name,
		Subject:    "Welcome to the FinResearch newsletter",
		TemplateID: nc.welcomeTemplate,
		Variables:  map[string]interface{}{"name": s.Name},
	})
	if err != nil {
		log.Warnf("Could not queue newsletter welcome for %s: %v", s.Email, err)
	}
}

// subscribeEmail makes email an active subscriber. changed is false when it already was.
// A linked profile has its newsletter flag set.
func subscribeEmail(tx *gorm.DB, address, name, source string, userID *uint) (*model.NewsletterSubscriber, bool, error) {
	now := time.Now()

	var sub model.NewsletterSubscriber
	err := tx.Where("email = ?", address).First(&sub).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		sub = model.NewsletterSubscriber{
			Email:        address,
			Name:         name,
			Source:       source,
			Status:       model.NewsletterActive,
			UserID:       userID,
			SubscribedAt: now,
		}
		if err := tx.Create(&sub).Error; err != nil {
			return nil, false, err
		}
	case err != nil:
		return nil, false, err
	default:
		if sub.Status == model.NewsletterActive && (userID == nil || sub.UserID != nil) {
			return &sub, false, nil
		}
		updates := map[string]interface{}{}
		if sub.Status != model.NewsletterActive {
			updates["status"] = model.NewsletterActive
			updates["subscribed_at"] = now
			updates["unsubscribed_at"] = nil
			updates["source"] = source
		}
		if userID != nil && sub.UserID == nil {
			updates["user_id"] = *userID
		}
		if name != "" && sub.Name == "" {
			updates["name"] = name
		}
		reactivated := sub.Status != model.NewsletterActive
		if err := tx.Model(&sub).Updates(updates).Error; err != nil {
			return nil, false, err
		}
		if !reactivated {
			// Only linked to a profile; still the same subscription.
			return &sub, false, setProfileNewsletter(tx, userID, true)
		}
	}

	return &sub, true, setProfileNewsletter(tx, userID, true)
}

func unsubscribeEmail(tx *gorm.DB, address string) error {
	var sub model.NewsletterSubscriber
	if err := tx.Where("email = ?", address).First(&sub).Error; err != nil {
		return err
	}
	if sub.Status != model.NewsletterUnsubscribed {
		err := tx.Model(&sub).Updates(map[string]interface{}{
			"status":          model.NewsletterUnsubscribed,
			"unsubscribed_at": time.Now(),
		}).Error
		if err != nil {
			return err
		}
	}
	return tx.Model(&model.UserProfile{}).
		Where("email = ?", address).
		Update("newsletter_subscribed", false).Error
}

func setProfileNewsletter(tx *gorm.DB, userID *uint, subscribed bool) error {
	if userID == nil {
		return nil
	}
	return tx.Model(&model.UserProfile{}).
		Where("id = ?", *userID).
		Update("newsletter_subscribed", subscribed).Error
}

func normalizeEmail(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
