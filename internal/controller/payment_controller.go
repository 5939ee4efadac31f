package controller

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"finresearch_backend/internal/middleware"
	"finresearch_backend/internal/model"
	"finresearch_backend/pkg/payment"
)

// PaymentService is the part of payment.Service the HTTP layer uses.
type PaymentService interface {
	CreateCheckout(ctx context.Context, userID uint, priceID string) (string, error)
	CancelSubscription(ctx context.Context, userID uint) (*model.Subscription, error)
	VerifySession(ctx context.Context, userID uint, sessionID string) (*payment.SessionVerification, error)
	PaymentMethod(ctx context.Context, userID uint) (*payment.CardSummary, error)
	CreateSetupIntent(ctx context.Context, userID uint) (string, error)
	CurrentSubscription(ctx context.Context, userID uint) (*model.Subscription, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*payment.WebhookResult, error)
}

type CheckoutInput struct {
	PriceID string `json:"priceId" validate:"required"`
}

type PaymentController struct {
	payments   PaymentService
	production bool
}

func NewPaymentController(payments PaymentService, production bool) *PaymentController {
	return &PaymentController{payments: payments, production: production}
}

func (pc *PaymentController) CreateCheckoutSession(c *fiber.Ctx) error {
	input := new(CheckoutInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}
	if err := validate.Struct(input); err != nil {
		return pc.fail(c, fiber.StatusBadRequest, "Price ID is required", err)
	}

	url, err := pc.payments.CreateCheckout(c.UserContext(), middleware.UserID(c), input.PriceID)
	if err != nil {
		return pc.serviceError(c, "Could not create checkout session", err)
	}

	return c.JSON(fiber.Map{"url": url})
}

func (pc *PaymentController) CancelSubscription(c *fiber.Ctx) error {
	if _, err := pc.payments.CancelSubscription(c.UserContext(), middleware.UserID(c)); err != nil {
		return pc.serviceError(c, "Could not cancel subscription", err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (pc *PaymentController) VerifySession(c *fiber.Ctx) error {
	result, err := pc.payments.VerifySession(c.UserContext(), middleware.UserID(c), c.Query("session_id"))
	if err != nil {
		return pc.serviceError(c, "Could not verify session", err)
	}
	return c.JSON(result)
}

func (pc *PaymentController) GetSubscription(c *fiber.Ctx) error {
	sub, err := pc.payments.CurrentSubscription(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return pc.serviceError(c, "Could not fetch subscription", err)
	}
	return c.JSON(fiber.Map{"subscription": sub})
}

// GetPaymentMethod answers with the card summary or JSON null.
func (pc *PaymentController) GetPaymentMethod(c *fiber.Ctx) error {
	card, err := pc.payments.PaymentMethod(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return pc.serviceError(c, "Could not fetch payment method", err)
	}
	return c.JSON(card)
}

func (pc *PaymentController) CreateSetupIntent(c *fiber.Ctx) error {
	secret, err := pc.payments.CreateSetupIntent(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return pc.serviceError(c, "Could not create setup intent", err)
	}
	return c.JSON(fiber.Map{"clientSecret": secret})
}

// Webhook receives Stripe deliveries. Stripe retries anything that is not a 2xx.
func (pc *PaymentController) Webhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)
	signature := c.Get("Stripe-Signature")

	result, err := pc.payments.HandleWebhook(c.UserContext(), payload, signature)
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"received": true, "status": result.Status})
	case errors.Is(err, payment.ErrSignature), errors.Is(err, payment.ErrValidation):
		log.Warnf("Rejected Stripe webhook: %v", err)
		return c.Status(fiber.StatusBadRequest).SendString("Webhook Error: " + err.Error())
	case errors.Is(err, payment.ErrEventInFlight):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Event is already being processed",
		})
	default:
		log.Errorf("Stripe webhook failed: %v", err)
		message := "Webhook handler failed"
		if !pc.production {
			message = err.Error()
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": message})
	}
}

func (pc *PaymentController) serviceError(c *fiber.Ctx, message string, err error) error {
	switch {
	case errors.Is(err, payment.ErrUnauthorized):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	case errors.Is(err, payment.ErrValidation):
		return pc.fail(c, fiber.StatusBadRequest, message, err)
	case errors.Is(err, payment.ErrNotFound):
		return pc.fail(c, fiber.StatusNotFound, message, err)
	default:
		log.Errorf("%s: %v", message, err)
		return pc.fail(c, fiber.StatusInternalServerError, message, err)
	}
}

// fail writes {error, details}; details are omitted in production.
func (pc *PaymentController) fail(c *fiber.Ctx, status int, message string, err error) error {
	body := fiber.Map{"error": message}
	if !pc.production && err != nil {
		body["details"] = err.Error()
	}
	return c.Status(status).JSON(body)
}
