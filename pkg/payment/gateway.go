package payment

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

// CheckoutRequest describes a hosted subscription checkout for one customer and price.
type CheckoutRequest struct {
	CustomerID string
	PriceID    string
	UserID     uint
	SuccessURL string
	CancelURL  string
}

// Gateway is the subset of the Stripe API the service depends on.
type Gateway interface {
	CreateCustomer(ctx context.Context, email, name string, userID uint) (*stripe.Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*stripe.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	// ActiveSubscription returns the customer's single active subscription, or nil.
	ActiveSubscription(ctx context.Context, customerID string) (*stripe.Subscription, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	GetInvoice(ctx context.Context, invoiceID string) (*stripe.Invoice, error)
	// FirstCard returns the first card attached to the customer, or nil.
	FirstCard(ctx context.Context, customerID string) (*stripe.PaymentMethod, error)
	CreateSetupIntent(ctx context.Context, customerID string) (*stripe.SetupIntent, error)
}

type stripeGateway struct {
	api *client.API
}

// NewStripeGateway builds a Gateway over its own Stripe client instead of the
// package-level stripe.Key.
func NewStripeGateway(secretKey string) Gateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &stripeGateway{api: api}
}

func (g *stripeGateway) CreateCustomer(ctx context.Context, email, name string, userID uint) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	if name != "" {
		params.Name = stripe.String(name)
	}
	params.Context = ctx
	params.AddMetadata("user_id", strconv.FormatUint(uint64(userID), 10))
	return g.api.Customers.New(params)
}

func (g *stripeGateway) GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	params.AddExpand("invoice_settings.default_payment_method")
	return g.api.Customers.Get(customerID, params)
}

func (g *stripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*stripe.CheckoutSession, error) {
	userID := strconv.FormatUint(uint64(req.UserID), 10)
	params := &stripe.CheckoutSessionParams{
		Customer:          stripe.String(req.CustomerID),
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(userID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(req.PriceID),
			Quantity: stripe.Int64(1),
		}},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": userID},
		},
	}
	params.Context = ctx
	params.AddMetadata("user_id", userID)
	params.AddMetadata("price_id", req.PriceID)
	return g.api.CheckoutSessions.New(params)
}

func (g *stripeGateway) GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	return g.api.CheckoutSessions.Get(sessionID, params)
}

func (g *stripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	return g.api.Subscriptions.Get(subscriptionID, params)
}

func (g *stripeGateway) ActiveSubscription(ctx context.Context, customerID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	it := g.api.Subscriptions.List(params)
	if it.Next() {
		return it.Subscription(), nil
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return nil, nil
}

func (g *stripeGateway) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	return g.api.Subscriptions.Update(subscriptionID, params)
}

func (g *stripeGateway) GetInvoice(ctx context.Context, invoiceID string) (*stripe.Invoice, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	return g.api.Invoices.Get(invoiceID, params)
}

func (g *stripeGateway) FirstCard(ctx context.Context, customerID string) (*stripe.PaymentMethod, error) {
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	it := g.api.PaymentMethods.List(params)
	if it.Next() {
		return it.PaymentMethod(), nil
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	return nil, nil
}

func (g *stripeGateway) CreateSetupIntent(ctx context.Context, customerID string) (*stripe.SetupIntent, error) {
	params := &stripe.SetupIntentParams{
		Customer:           stripe.String(customerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Usage:              stripe.String(string(stripe.SetupIntentUsageOffSession)),
	}
	params.Context = ctx
	return g.api.SetupIntents.New(params)
}
