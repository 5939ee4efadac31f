package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"finresearch_backend/internal/model"
	"finresearch_backend/pkg/email"
)

const (
	WebhookProcessed = "processed"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
)

type WebhookResult struct {
	EventID   string
	EventType string
	Status    string
}

// HandleWebhook verifies and applies one Stripe delivery. Signature failures return
// ErrSignature before anything is parsed or written. A delivery whose event already
// applied cleanly is acknowledged as a duplicate.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	if s.webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret is not configured", ErrSignature)
	}
	if err := webhook.ValidatePayload(payload, signature, s.webhookSecret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: malformed event: %v", ErrValidation, err)
	}
	result := &WebhookResult{EventID: event.ID, EventType: string(event.Type)}

	ok, err := s.locker.Acquire(ctx, event.ID)
	if err != nil {
		log.Warnf("Event lock unavailable for %s, continuing unlocked: %v", event.ID, err)
	} else if !ok {
		return nil, ErrEventInFlight
	} else {
		defer func() {
			if err := s.locker.Release(context.Background(), event.ID); err != nil {
				log.Warnf("Release event lock %s: %v", event.ID, err)
			}
		}()
	}

	stored, err := s.repo.RecordWebhookEvent(ctx, &model.WebhookEvent{
		StripeEventID: event.ID,
		EventType:     result.EventType,
		Payload:       datatypes.JSON(payload),
	})
	if err != nil {
		return nil, fmt.Errorf("record event %s: %w", event.ID, err)
	}
	if stored.Applied() {
		log.Infof("Stripe event %s (%s) already applied, acknowledging", event.ID, result.EventType)
		result.Status = WebhookDuplicate
		return result, nil
	}

	log.Infof("Processing Stripe webhook event %s (%s)", event.ID, result.EventType)

	decoded, err := Decode(event)
	if err == nil {
		err = s.apply(ctx, decoded)
	}
	if markErr := s.repo.MarkWebhookProcessed(ctx, stored.ID, errorString(err)); markErr != nil {
		log.Errorf("Mark event %s processed: %v", event.ID, markErr)
	}
	if err != nil {
		log.Errorf("Stripe event %s (%s) failed: %v", event.ID, result.EventType, err)
		return nil, err
	}

	result.Status = WebhookProcessed
	if _, unhandled := decoded.(Unhandled); unhandled {
		result.Status = WebhookIgnored
	}
	return result, nil
}

func (s *Service) apply(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case CheckoutCompleted:
		return s.applyCheckoutCompleted(ctx, e)
	case SubscriptionDeleted:
		return s.applySubscriptionDeleted(ctx, e)
	case InvoicePaid:
		return s.applyInvoicePaid(ctx, e)
	case InvoiceFailed:
		return s.applyInvoiceFailed(ctx, e)
	case Unhandled:
		log.Infof("Stripe event %s ignored (unhandled type %s)", e.EventID(), e.EventType())
		return nil
	default:
		return fmt.Errorf("unknown event variant %T", ev)
	}
}

func (s *Service) applyCheckoutCompleted(ctx context.Context, e CheckoutCompleted) error {
	session := e.Session
	if session.ClientReferenceID == "" {
		log.Warnf("Checkout session %s has no client_reference_id, skipping", session.ID)
		return nil
	}
	userID, err := parseUserID(session.ClientReferenceID)
	if err != nil {
		log.Warnf("Checkout session %s has invalid client_reference_id %q, skipping", session.ID, session.ClientReferenceID)
		return nil
	}
	if session.Subscription == nil || session.Subscription.ID == "" {
		log.Warnf("Checkout session %s has no subscription, skipping", session.ID)
		return nil
	}

	profile, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("load profile %d: %w", userID, err)
	}

	remote, err := s.gateway.GetSubscription(ctx, session.Subscription.ID)
	if err != nil {
		return fmt.Errorf("retrieve subscription %s: %w", session.Subscription.ID, err)
	}

	customerID := customerOf(session.Customer, remote.Customer)
	if customerID != "" && profile.CustomerID() == "" {
		if err := s.repo.SetCustomerID(ctx, userID, customerID); err != nil {
			return fmt.Errorf("persist customer %s: %w", customerID, err)
		}
	}

	priceID, interval := subscriptionPrice(remote)
	p := s.plans.Resolve(priceID, interval)

	row := &model.Subscription{
		UserID:               userID,
		StripeSubscriptionID: remote.ID,
		StripeCustomerID:     customerID,
		Status:               model.SubscriptionStatusActive,
		PaymentStatus:        model.PaymentStatusActive,
		Plan:                 p.Name,
		Interval:             p.Interval,
		StartDate:            unixTime(remote.CurrentPeriodStart),
		EndDate:              unixTime(remote.CurrentPeriodEnd),
	}

	var inv *stripe.Invoice
	if remote.LatestInvoice != nil && remote.LatestInvoice.ID != "" {
		inv, err = s.gateway.GetInvoice(ctx, remote.LatestInvoice.ID)
		if err != nil {
			return fmt.Errorf("retrieve invoice %s: %w", remote.LatestInvoice.ID, err)
		}
		row.LastPaymentID = inv.ID
	}

	created, err := s.repo.CreateSubscriptionIfNotExists(ctx, row)
	if err != nil {
		return fmt.Errorf("create subscription %s: %w", remote.ID, err)
	}

	if inv != nil {
		if _, err := s.repo.CreatePaymentIfNotExists(ctx, paymentFromInvoice(inv, userID, row.ID)); err != nil {
			return fmt.Errorf("create payment for invoice %s: %w", inv.ID, err)
		}
	}

	if !created {
		log.Infof("Subscription %s already recorded, skipping confirmation email", remote.ID)
		return nil
	}

	log.Infof("Subscription %s created for user %d (%s)", remote.ID, userID, p.Name)
	s.enqueueCheckoutConfirmation(profile, row, inv)
	return nil
}

func (s *Service) applySubscriptionDeleted(ctx context.Context, e SubscriptionDeleted) error {
	remote := e.Subscription
	row, err := s.lookupSubscription(ctx, remote.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("Deleted subscription %s has no local record, skipping", remote.ID)
		return nil
	}
	if err != nil {
		return err
	}

	end := remote.CurrentPeriodEnd
	if end == 0 {
		end = remote.EndedAt
	}
	updates := map[string]interface{}{
		"status":         model.SubscriptionStatusExpired,
		"payment_status": model.PaymentStatusCancelled,
	}
	if end != 0 {
		updates["end_date"] = unixTime(end)
	}

	if err := s.updateSubscription(ctx, row.ID, updates); err != nil {
		return err
	}
	log.Infof("Subscription %s expired", remote.ID)
	return nil
}

func (s *Service) applyInvoicePaid(ctx context.Context, e InvoicePaid) error {
	inv := e.Invoice
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		log.Infof("Invoice %s is not for a subscription, skipping", inv.ID)
		return nil
	}

	row, err := s.lookupSubscription(ctx, inv.Subscription.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("Invoice %s references unknown subscription %s, skipping", inv.ID, inv.Subscription.ID)
		return nil
	}
	if err != nil {
		return err
	}

	p := paymentFromInvoice(inv, row.UserID, row.ID)
	var created bool
	err = s.retry.Do(ctx, "create payment "+inv.ID, func(ctx context.Context) error {
		var err error
		created, err = s.repo.CreatePaymentIfNotExists(ctx, p)
		return err
	})
	if err != nil {
		return fmt.Errorf("create payment for invoice %s: %w", inv.ID, err)
	}
	if !created {
		log.Infof("Payment for invoice %s already recorded", inv.ID)
	}

	end := row.EndDate
	if periodEnd := invoicePeriodEnd(inv); periodEnd.After(end) {
		end = periodEnd
	}
	updates := map[string]interface{}{
		"status":          model.SubscriptionStatusActive,
		"payment_status":  model.PaymentStatusActive,
		"end_date":        end,
		"last_payment_id": inv.ID,
	}
	if err := s.updateSubscription(ctx, row.ID, updates); err != nil {
		return err
	}

	log.Infof("Subscription %s renewed until %s", inv.Subscription.ID, end.Format(time.RFC3339))
	return nil
}

func (s *Service) applyInvoiceFailed(ctx context.Context, e InvoiceFailed) error {
	inv := e.Invoice
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		log.Infof("Failed invoice %s is not for a subscription, skipping", inv.ID)
		return nil
	}

	row, err := s.lookupSubscription(ctx, inv.Subscription.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("Failed invoice %s references unknown subscription %s, skipping", inv.ID, inv.Subscription.ID)
		return nil
	}
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"status":         model.SubscriptionStatusInactive,
		"payment_status": model.PaymentStatusFailed,
	}
	if err := s.updateSubscription(ctx, row.ID, updates); err != nil {
		return err
	}

	log.Warnf("Payment failed for subscription %s (invoice %s)", inv.Subscription.ID, inv.ID)
	return nil
}

func (s *Service) lookupSubscription(ctx context.Context, stripeSubscriptionID string) (*model.Subscription, error) {
	var row *model.Subscription
	err := s.retry.Do(ctx, "lookup subscription "+stripeSubscriptionID, func(ctx context.Context) error {
		var err error
		row, err = s.repo.GetSubscriptionByStripeID(ctx, stripeSubscriptionID)
		return err
	})
	return row, err
}

func (s *Service) updateSubscription(ctx context.Context, id uint, updates map[string]interface{}) error {
	err := s.retry.Do(ctx, fmt.Sprintf("update subscription %d", id), func(ctx context.Context) error {
		return s.repo.UpdateSubscription(ctx, id, updates)
	})
	if err != nil {
		return fmt.Errorf("update subscription %d: %w", id, err)
	}
	return nil
}

func (s *Service) enqueueCheckoutConfirmation(profile *model.UserProfile, row *model.Subscription, inv *stripe.Invoice) {
	if s.mailer == nil {
		return
	}

	vars := map[string]interface{}{
		"name":     profile.GetFullName(),
		"plan":     row.Plan,
		"interval": row.Interval,
		"end_date": row.EndDate.Format("2006-01-02"),
	}
	if inv != nil {
		vars["amount"] = fmt.Sprintf("%.2f", float64(inv.AmountPaid)/100)
		vars["currency"] = string(inv.Currency)
	}

	err := s.mailer.Enqueue(email.Message{
		To:         profile.Email,
		ToName:     profile.GetFullName(),
		Subject:    "Your subscription is active",
		TemplateID: s.checkoutConfirmedTemplate,
		Variables:  vars,
	})
	if err != nil {
		log.Errorf("Could not queue confirmation email for subscription %s: %v", row.StripeSubscriptionID, err)
	}
}

func paymentFromInvoice(inv *stripe.Invoice, userID, subscriptionID uint) *model.Payment {
	p := &model.Payment{
		UserID:          userID,
		SubscriptionID:  subscriptionID,
		Amount:          inv.AmountPaid,
		Currency:        string(inv.Currency),
		StripeInvoiceID: inv.ID,
		Status:          model.PaymentSucceeded,
		PaidAt:          unixTime(inv.Created),
	}
	if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt != 0 {
		p.PaidAt = unixTime(inv.StatusTransitions.PaidAt)
	}
	if inv.PaymentIntent != nil {
		p.StripePaymentIntentID = inv.PaymentIntent.ID
	}
	return p
}

// invoicePeriodEnd is the end of the subscription period the invoice pays for.
// Invoice-level period_end refers to the previous period, so line items win.
func invoicePeriodEnd(inv *stripe.Invoice) time.Time {
	var end int64
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line.Period != nil && line.Period.End > end {
				end = line.Period.End
			}
		}
	}
	if end == 0 {
		end = inv.PeriodEnd
	}
	return unixTime(end)
}

func subscriptionPrice(sub *stripe.Subscription) (priceID, interval string) {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return "", ""
	}
	price := sub.Items.Data[0].Price
	if price == nil {
		return "", ""
	}
	if price.Recurring != nil {
		interval = string(price.Recurring.Interval)
	}
	return price.ID, interval
}

func customerOf(candidates ...*stripe.Customer) string {
	for _, c := range candidates {
		if c != nil && c.ID != "" {
			return c.ID
		}
	}
	return ""
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func parseUserID(ref string) (uint, error) {
	id, err := strconv.ParseUint(ref, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid user id %q", ref)
	}
	return uint(id), nil
}

func formatUserID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
