package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v74"
	"gorm.io/gorm"

	"finresearch_backend/internal/model"
	"finresearch_backend/pkg/email"
	"finresearch_backend/pkg/plan"
)

// Mailer accepts emails for background delivery.
type Mailer interface {
	Enqueue(msg email.Message) error
}

type Options struct {
	Gateway    Gateway
	Repository Repository
	Mailer     Mailer
	Locker     Locker
	Plans      *plan.Catalog
	Retry      *RetryPolicy

	WebhookSecret string
	SuccessURL    string
	CancelURL     string

	// Email template id for the checkout confirmation.
	CheckoutConfirmedTemplate int64

	Now func() time.Time
}

// Service keeps the local Subscription/Payment ledger consistent with Stripe and
// runs the customer-facing checkout operations.
type Service struct {
	gateway Gateway
	repo    Repository
	mailer  Mailer
	locker  Locker
	plans   *plan.Catalog
	retry   RetryPolicy

	webhookSecret             string
	successURL                string
	cancelURL                 string
	checkoutConfirmedTemplate int64

	now func() time.Time
}

func NewService(opts Options) *Service {
	retry := DefaultRetryPolicy()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	if retry.ShouldRetry == nil {
		retry.ShouldRetry = isTransient
	}
	locker := opts.Locker
	if locker == nil {
		locker = NewMemoryLocker()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		gateway:                   opts.Gateway,
		repo:                      opts.Repository,
		mailer:                    opts.Mailer,
		locker:                    locker,
		plans:                     opts.Plans,
		retry:                     retry,
		webhookSecret:             opts.WebhookSecret,
		successURL:                opts.SuccessURL,
		cancelURL:                 opts.CancelURL,
		checkoutConfirmedTemplate: opts.CheckoutConfirmedTemplate,
		now:                       now,
	}
}

// isTransient excludes lookups that found nothing; retrying them cannot help.
func isTransient(err error) bool {
	return !errors.Is(err, gorm.ErrRecordNotFound) && !errors.Is(err, context.Canceled)
}

// CreateCheckout returns the hosted checkout URL for userID subscribing to priceID,
// creating and persisting a Stripe customer first when the profile has none.
func (s *Service) CreateCheckout(ctx context.Context, userID uint, priceID string) (string, error) {
	if userID == 0 {
		return "", ErrUnauthorized
	}
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return "", fmt.Errorf("%w: priceId is required", ErrValidation)
	}

	profile, err := s.profile(ctx, userID)
	if err != nil {
		return "", err
	}

	customerID, err := s.ensureCustomer(ctx, profile)
	if err != nil {
		return "", err
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, CheckoutRequest{
		CustomerID: customerID,
		PriceID:    priceID,
		UserID:     userID,
		SuccessURL: s.successURL,
		CancelURL:  s.cancelURL,
	})
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}

	log.Infof("Created checkout session %s for user %d (price %s)", session.ID, userID, priceID)
	return session.URL, nil
}

// CancelSubscription asks Stripe to cancel the user's active subscription at the end
// of the current period, then stamps cancelled_at on the local row. The two writes are
// not atomic: if the local stamp fails the provider has already accepted the request
// and the row converges on the next subscription webhook.
func (s *Service) CancelSubscription(ctx context.Context, userID uint) (*model.Subscription, error) {
	if userID == 0 {
		return nil, ErrUnauthorized
	}

	profile, err := s.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	customerID := profile.CustomerID()
	if customerID == "" {
		return nil, fmt.Errorf("%w: no billing customer", ErrNotFound)
	}

	remote, err := s.gateway.ActiveSubscription(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("lookup active subscription: %w", err)
	}
	if remote == nil {
		return nil, fmt.Errorf("%w: no active subscription", ErrNotFound)
	}

	row, err := s.repo.GetSubscriptionByStripeID(ctx, remote.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: subscription %s has no local record", ErrNotFound, remote.ID)
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.gateway.CancelAtPeriodEnd(ctx, remote.ID); err != nil {
		return nil, fmt.Errorf("cancel subscription %s: %w", remote.ID, err)
	}

	now := s.now()
	if err := s.repo.UpdateSubscription(ctx, row.ID, map[string]interface{}{"cancelled_at": now}); err != nil {
		log.Errorf("Subscription %s cancelled at Stripe but local stamp failed: %v", remote.ID, err)
		return nil, fmt.Errorf("stamp cancellation: %w", err)
	}
	row.CancelledAt = &now

	log.Infof("Subscription %s for user %d set to cancel at period end", remote.ID, userID)
	return row, nil
}

type SessionVerification struct {
	Success       bool                `json:"success"`
	Status        string              `json:"status"`
	PaymentStatus string              `json:"paymentStatus"`
	Subscription  *model.Subscription `json:"subscription"`
}

// VerifySession reports whether a checkout session completed and was paid, along with
// the local subscription row if the webhook has already created it.
func (s *Service) VerifySession(ctx context.Context, userID uint, sessionID string) (*SessionVerification, error) {
	if userID == 0 {
		return nil, ErrUnauthorized
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrValidation)
	}

	session, err := s.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session: %w", err)
	}
	if ref := session.ClientReferenceID; ref != "" && ref != formatUserID(userID) {
		return nil, fmt.Errorf("%w: checkout session", ErrNotFound)
	}

	result := &SessionVerification{
		Status:        string(session.Status),
		PaymentStatus: string(session.PaymentStatus),
	}
	result.Success = result.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusPaid) &&
		result.Status == string(stripe.CheckoutSessionStatusComplete)

	if session.Subscription != nil && session.Subscription.ID != "" {
		row, err := s.repo.GetSubscriptionByStripeID(ctx, session.Subscription.ID)
		switch {
		case err == nil:
			result.Subscription = row
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, err
		}
	}
	return result, nil
}

type CardSummary struct {
	Last4    string `json:"last4"`
	Brand    string `json:"brand"`
	ExpMonth int64  `json:"exp_month"`
	ExpYear  int64  `json:"exp_year"`
}

// PaymentMethod returns the customer's default card, falling back to the first card on
// file. It returns nil when the user has no customer or no card.
func (s *Service) PaymentMethod(ctx context.Context, userID uint) (*CardSummary, error) {
	if userID == 0 {
		return nil, ErrUnauthorized
	}
	profile, err := s.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	customerID := profile.CustomerID()
	if customerID == "" {
		return nil, nil
	}

	cust, err := s.gateway.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("retrieve customer: %w", err)
	}
	if cust.InvoiceSettings != nil {
		if card := summarizeCard(cust.InvoiceSettings.DefaultPaymentMethod); card != nil {
			return card, nil
		}
	}

	pm, err := s.gateway.FirstCard(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return summarizeCard(pm), nil
}

// CreateSetupIntent starts collecting a new card for the user without charging it.
func (s *Service) CreateSetupIntent(ctx context.Context, userID uint) (string, error) {
	if userID == 0 {
		return "", ErrUnauthorized
	}
	profile, err := s.profile(ctx, userID)
	if err != nil {
		return "", err
	}
	customerID, err := s.ensureCustomer(ctx, profile)
	if err != nil {
		return "", err
	}

	intent, err := s.gateway.CreateSetupIntent(ctx, customerID)
	if err != nil {
		return "", fmt.Errorf("create setup intent: %w", err)
	}
	return intent.ClientSecret, nil
}

// CurrentSubscription returns the user's most recent ledger row, or nil.
func (s *Service) CurrentSubscription(ctx context.Context, userID uint) (*model.Subscription, error) {
	if userID == 0 {
		return nil, ErrUnauthorized
	}
	sub, err := s.repo.LatestSubscription(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return sub, err
}

func (s *Service) profile(ctx context.Context, userID uint) (*model.UserProfile, error) {
	profile, err := s.repo.GetProfile(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: profile %d", ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return profile, nil
}

func (s *Service) ensureCustomer(ctx context.Context, profile *model.UserProfile) (string, error) {
	if id := profile.CustomerID(); id != "" {
		return id, nil
	}

	cust, err := s.gateway.CreateCustomer(ctx, profile.Email, profile.GetFullName(), profile.ID)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	if err := s.repo.SetCustomerID(ctx, profile.ID, cust.ID); err != nil {
		return "", fmt.Errorf("persist customer %s: %w", cust.ID, err)
	}
	profile.StripeCustomerID = &cust.ID

	log.Infof("Created Stripe customer %s for user %d", cust.ID, profile.ID)
	return cust.ID, nil
}

func summarizeCard(pm *stripe.PaymentMethod) *CardSummary {
	if pm == nil || pm.Card == nil {
		return nil
	}
	return &CardSummary{
		Last4:    pm.Card.Last4,
		Brand:    string(pm.Card.Brand),
		ExpMonth: int64(pm.Card.ExpMonth),
		ExpYear:  int64(pm.Card.ExpYear),
	}
}
