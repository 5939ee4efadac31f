package controller

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"finresearch_backend/internal/middleware"
	"finresearch_backend/internal/model"
	"finresearch_backend/pkg/utils/jwt"
)

type RegisterInput struct {
	Email         string `json:"email" validate:"required,email"`
	Password      string `json:"password" validate:"required,min=8,max=72"`
	FirstName     string `json:"first_name" validate:"required,max=100"`
	LastName      string `json:"last_name" validate:"max=100"`
	TermsAccepted bool   `json:"terms_accepted"`
	Newsletter    bool   `json:"newsletter"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SubscriptionReader returns a user's most recent subscription, or nil when there is none.
type SubscriptionReader interface {
	CurrentSubscription(ctx context.Context, userID uint) (*model.Subscription, error)
}

type AuthController struct {
	db            *gorm.DB
	tokens        *jwt.Manager
	subscriptions SubscriptionReader
}

func NewAuthController(db *gorm.DB, tokens *jwt.Manager, subscriptions SubscriptionReader) *AuthController {
	return &AuthController{db: db, tokens: tokens, subscriptions: subscriptions}
}

func (ac *AuthController) Register(c *fiber.Ctx) error {
	input := new(RegisterInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}
	input.Email = normalizeEmail(input.Email)
	if err := validate.Struct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Invalid input",
			"details": validationMessage(err),
		})
	}
	if !input.TermsAccepted {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Terms must be accepted",
		})
	}

	var existing model.UserProfile
	if err := ac.db.Where("email = ?", input.Email).First(&existing).Error; err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Email already exists",
		})
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not hash password",
		})
	}

	user := model.UserProfile{
		Email:         input.Email,
		PasswordHash:  string(hashedPassword),
		FirstName:     input.FirstName,
		LastName:      input.LastName,
		Role:          model.RoleUser,
		TermsAccepted: true,
	}

	err = ac.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		if input.Newsletter {
			if _, _, err := subscribeEmail(tx, user.Email, user.GetFullName(), SourceRegistration, &user.ID); err != nil {
				return err
			}
			user.NewsletterSubscribed = true
		}
		return nil
	})
	if err != nil {
		log.Errorf("Register %s: %v", input.Email, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not create user",
		})
	}

	token, err := ac.tokens.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not generate token",
		})
	}

	log.Infof("Registered user %d", user.ID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Registration successful",
		"token":   token,
		"user":    user.GetPublicProfile(),
	})
}

func (ac *AuthController) Login(c *fiber.Ctx) error {
	input := new(LoginInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}
	input.Email = normalizeEmail(input.Email)
	if err := validate.Struct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}

	var user model.UserProfile
	if err := ac.db.Where("email = ?", input.Email).First(&user).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	token, err := ac.tokens.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not generate token",
		})
	}

	return c.JSON(fiber.Map{
		"token": token,
		"user":  user.GetPublicProfile(),
	})
}

// GetMe returns the caller's profile with their latest subscription row.
func (ac *AuthController) GetMe(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	var user model.UserProfile
	if err := ac.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "User not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch user",
		})
	}

	sub, err := ac.subscriptions.CurrentSubscription(c.UserContext(), userID)
	if err != nil {
		log.Errorf("Current subscription of user %d: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch subscription",
		})
	}

	return c.JSON(fiber.Map{
		"user":         user.GetPublicProfile(),
		"subscription": sub,
		"created_at":   user.CreatedAt,
	})
}
