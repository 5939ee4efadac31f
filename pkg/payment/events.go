package payment

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v74"
)

const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.payment_succeeded"
	EventInvoiceFailed       = "invoice.payment_failed"
)

// Event is a decoded Stripe event. The concrete type is one of CheckoutCompleted,
// SubscriptionDeleted, InvoicePaid, InvoiceFailed or Unhandled.
type Event interface {
	EventID() string
	EventType() string
}

type eventMeta struct {
	ID   string
	Type string
}

func (m eventMeta) EventID() string   { return m.ID }
func (m eventMeta) EventType() string { return m.Type }

type CheckoutCompleted struct {
	eventMeta
	Session *stripe.CheckoutSession
}

type SubscriptionDeleted struct {
	eventMeta
	Subscription *stripe.Subscription
}

type InvoicePaid struct {
	eventMeta
	Invoice *stripe.Invoice
}

type InvoiceFailed struct {
	eventMeta
	Invoice *stripe.Invoice
}

// Unhandled is any event type the service does not act on. It is acknowledged.
type Unhandled struct {
	eventMeta
}

// Decode turns a verified Stripe event into its typed variant.
func Decode(ev stripe.Event) (Event, error) {
	meta := eventMeta{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data == nil {
		return nil, fmt.Errorf("event %s has no data", ev.ID)
	}

	switch meta.Type {
	case EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		return CheckoutCompleted{eventMeta: meta, Session: &session}, nil
	case EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		return SubscriptionDeleted{eventMeta: meta, Subscription: &sub}, nil
	case EventInvoicePaid, EventInvoiceFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		if meta.Type == EventInvoicePaid {
			return InvoicePaid{eventMeta: meta, Invoice: &inv}, nil
		}
		return InvoiceFailed{eventMeta: meta, Invoice: &inv}, nil
	default:
		return Unhandled{eventMeta: meta}, nil
	}
}
