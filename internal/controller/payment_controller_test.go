package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finresearch_backend/internal/middleware"
	"finresearch_backend/internal/model"
	"finresearch_backend/pkg/payment"
	"finresearch_backend/pkg/utils/jwt"
)

type stubPayments struct {
	checkoutURL string
	err         error
	card        *payment.CardSummary
	webhook     *payment.WebhookResult

	gotUserID    uint
	gotPriceID   string
	gotSignature string
	gotPayload   string
}

func (s *stubPayments) CreateCheckout(_ context.Context, userID uint, priceID string) (string, error) {
	s.gotUserID, s.gotPriceID = userID, priceID
	return s.checkoutURL, s.err
}

func (s *stubPayments) CancelSubscription(_ context.Context, userID uint) (*model.Subscription, error) {
	s.gotUserID = userID
	if s.err != nil {
		return nil, s.err
	}
	return &model.Subscription{StripeSubscriptionID: "sub_123"}, nil
}

func (s *stubPayments) VerifySession(_ context.Context, userID uint, sessionID string) (*payment.SessionVerification, error) {
	s.gotUserID = userID
	if s.err != nil {
		return nil, s.err
	}
	return &payment.SessionVerification{Success: true, Status: "complete", PaymentStatus: "paid"}, nil
}

func (s *stubPayments) PaymentMethod(context.Context, uint) (*payment.CardSummary, error) {
	return s.card, s.err
}

func (s *stubPayments) CreateSetupIntent(context.Context, uint) (string, error) {
	return "seti_secret", s.err
}

func (s *stubPayments) CurrentSubscription(context.Context, uint) (*model.Subscription, error) {
	return nil, s.err
}

func (s *stubPayments) HandleWebhook(_ context.Context, payload []byte, signature string) (*payment.WebhookResult, error) {
	s.gotPayload, s.gotSignature = string(payload), signature
	return s.webhook, s.err
}

type paymentHarness struct {
	app   *fiber.App
	stub  *stubPayments
	token string
}

func newPaymentHarness(t *testing.T, production bool) *paymentHarness {
	t.Helper()
	tokens, err := jwt.NewManager("secret", time.Hour)
	require.NoError(t, err)
	token, err := tokens.GenerateToken(7, "ana@example.com", model.RoleUser)
	require.NoError(t, err)

	stub := &stubPayments{checkoutURL: "https://checkout.stripe.com/c/pay/cs_1"}
	pc := NewPaymentController(stub, production)

	app := fiber.New()
	api := app.Group("/api/payments")
	api.Post("/webhook", pc.Webhook)
	protected := api.Group("", middleware.Protected(tokens))
	protected.Post("/create-checkout-session", pc.CreateCheckoutSession)
	protected.Post("/cancel-subscription", pc.CancelSubscription)
	protected.Get("/verify-session", pc.VerifySession)
	protected.Get("/payment-method", pc.GetPaymentMethod)
	protected.Post("/setup-intent", pc.CreateSetupIntent)

	return &paymentHarness{app: app, stub: stub, token: token}
}

func (h *paymentHarness) do(t *testing.T, method, path, body string, auth bool) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if auth {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+h.token)
	}
	resp, err := h.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestCreateCheckoutSessionEndpoint(t *testing.T) {
	h := newPaymentHarness(t, false)

	status, body := h.do(t, http.MethodPost, "/api/payments/create-checkout-session", `{"priceId":"price_123"}`, true)
	assert.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"url":"https://checkout.stripe.com/c/pay/cs_1"}`, body)
	assert.Equal(t, uint(7), h.stub.gotUserID)
	assert.Equal(t, "price_123", h.stub.gotPriceID)

	status, _ = h.do(t, http.MethodPost, "/api/payments/create-checkout-session", `{}`, true)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = h.do(t, http.MethodPost, "/api/payments/create-checkout-session", `{"priceId":"price_123"}`, false)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestServiceErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{payment.ErrUnauthorized, fiber.StatusUnauthorized},
		{fmt.Errorf("%w: priceId", payment.ErrValidation), fiber.StatusBadRequest},
		{fmt.Errorf("%w: no active subscription", payment.ErrNotFound), fiber.StatusNotFound},
		{errors.New("stripe down"), fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := newPaymentHarness(t, false)
			h.stub.err = tt.err
			status, _ := h.do(t, http.MethodPost, "/api/payments/cancel-subscription", "", true)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestErrorDetailsHiddenInProduction(t *testing.T) {
	for _, production := range []bool{false, true} {
		h := newPaymentHarness(t, production)
		h.stub.err = errors.New("db password rejected")

		status, body := h.do(t, http.MethodPost, "/api/payments/setup-intent", "", true)
		require.Equal(t, fiber.StatusInternalServerError, status)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(body), &resp))
		assert.Equal(t, "Could not create setup intent", resp["error"])
		_, hasDetails := resp["details"]
		assert.Equal(t, !production, hasDetails)
	}
}

func TestCancelAndSetupIntentResponses(t *testing.T) {
	h := newPaymentHarness(t, false)

	status, body := h.do(t, http.MethodPost, "/api/payments/cancel-subscription", "", true)
	assert.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"success":true}`, body)

	status, body = h.do(t, http.MethodPost, "/api/payments/setup-intent", "", true)
	assert.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"clientSecret":"seti_secret"}`, body)
}

func TestPaymentMethodEndpoint(t *testing.T) {
	h := newPaymentHarness(t, false)

	status, body := h.do(t, http.MethodGet, "/api/payments/payment-method", "", true)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "null", body)

	h.stub.card = &payment.CardSummary{Last4: "4242", Brand: "visa", ExpMonth: 12, ExpYear: 2030}
	_, body = h.do(t, http.MethodGet, "/api/payments/payment-method", "", true)
	assert.JSONEq(t, `{"last4":"4242","brand":"visa","exp_month":12,"exp_year":2030}`, body)
}

func TestVerifySessionEndpoint(t *testing.T) {
	h := newPaymentHarness(t, false)

	status, body := h.do(t, http.MethodGet, "/api/payments/verify-session?session_id=cs_1", "", true)
	assert.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"success":true,"status":"complete","paymentStatus":"paid","subscription":null}`, body)
}

func TestWebhookEndpoint(t *testing.T) {
	t.Run("acknowledged", func(t *testing.T) {
		h := newPaymentHarness(t, false)
		h.stub.webhook = &payment.WebhookResult{EventID: "evt_1", Status: payment.WebhookProcessed}

		req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", strings.NewReader(`{"id":"evt_1"}`))
		req.Header.Set("Stripe-Signature", "t=1,v1=abc")
		resp, err := h.app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, `{"id":"evt_1"}`, h.stub.gotPayload)
		assert.Equal(t, "t=1,v1=abc", h.stub.gotSignature)
	})

	t.Run("bad signature", func(t *testing.T) {
		h := newPaymentHarness(t, false)
		h.stub.err = fmt.Errorf("%w: no valid signature", payment.ErrSignature)

		status, body := h.do(t, http.MethodPost, "/api/payments/webhook", `{}`, false)
		assert.Equal(t, fiber.StatusBadRequest, status)
		assert.True(t, strings.HasPrefix(body, "Webhook Error: "))
	})

	t.Run("in flight", func(t *testing.T) {
		h := newPaymentHarness(t, false)
		h.stub.err = payment.ErrEventInFlight

		status, _ := h.do(t, http.MethodPost, "/api/payments/webhook", `{}`, false)
		assert.Equal(t, fiber.StatusConflict, status)
	})

	t.Run("processing failure asks for redelivery", func(t *testing.T) {
		h := newPaymentHarness(t, false)
		h.stub.err = errors.New("update subscription 1: connection reset")

		status, body := h.do(t, http.MethodPost, "/api/payments/webhook", `{}`, false)
		assert.Equal(t, fiber.StatusInternalServerError, status)
		assert.JSONEq(t, `{"error":"update subscription 1: connection reset"}`, body)
	})

	t.Run("processing failure in production", func(t *testing.T) {
		h := newPaymentHarness(t, true)
		h.stub.err = errors.New("update subscription 1: connection reset")

		status, body := h.do(t, http.MethodPost, "/api/payments/webhook", `{}`, false)
		assert.Equal(t, fiber.StatusInternalServerError, status)
		assert.JSONEq(t, `{"error":"Webhook handler failed"}`, body)
	})
}
