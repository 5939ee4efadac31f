package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v74"
	"gorm.io/gorm"

	"finresearch_backend/internal/model"
	"finresearch_backend/pkg/email"
	"finresearch_backend/pkg/plan"
)

const testSecret = "whsec_test"

type fakeRepo struct {
	mu sync.Mutex

	profiles map[uint]*model.UserProfile
	subs     map[uint]*model.Subscription
	payments []*model.Payment
	events   map[string]*model.WebhookEvent

	nextSubID   uint
	nextEventID uint
	writes      int

	// failUpdates makes the next n UpdateSubscription calls fail.
	failUpdates int
	updateCalls int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		profiles: make(map[uint]*model.UserProfile),
		subs:     make(map[uint]*model.Subscription),
		events:   make(map[string]*model.WebhookEvent),
	}
}

func (r *fakeRepo) addProfile(p *model.UserProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.ID] = p
}

func (r *fakeRepo) addSubscription(s *model.Subscription) *model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSubID++
	s.ID = r.nextSubID
	r.subs[s.ID] = s
	return s
}

func (r *fakeRepo) subscription(stripeID string) *model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.StripeSubscriptionID == stripeID {
			cp := *s
			return &cp
		}
	}
	return nil
}

func (r *fakeRepo) paymentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payments)
}

func (r *fakeRepo) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *fakeRepo) GetProfile(_ context.Context, userID uint) (*model.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakeRepo) SetCustomerID(_ context.Context, userID uint, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	p, ok := r.profiles[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	p.StripeCustomerID = &customerID
	return nil
}

func (r *fakeRepo) CreateSubscriptionIfNotExists(_ context.Context, sub *model.Subscription) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	for _, s := range r.subs {
		if s.StripeSubscriptionID == sub.StripeSubscriptionID {
			*sub = *s
			return false, nil
		}
	}
	r.nextSubID++
	sub.ID = r.nextSubID
	cp := *sub
	r.subs[sub.ID] = &cp
	return true, nil
}

func (r *fakeRepo) GetSubscriptionByStripeID(_ context.Context, stripeSubscriptionID string) (*model.Subscription, error) {
	if s := r.subscription(stripeSubscriptionID); s != nil {
		return s, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) LatestSubscription(_ context.Context, userID uint) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *model.Subscription
	for _, s := range r.subs {
		if s.UserID == userID && (latest == nil || s.EndDate.After(latest.EndDate)) {
			latest = s
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *fakeRepo) UpdateSubscription(_ context.Context, id uint, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCalls++
	if r.failUpdates > 0 {
		r.failUpdates--
		return errors.New("connection reset by peer")
	}
	s, ok := r.subs[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	r.writes++
	for k, v := range updates {
		switch k {
		case "status":
			s.Status = v.(string)
		case "payment_status":
			s.PaymentStatus = v.(string)
		case "end_date":
			s.EndDate = v.(time.Time)
		case "last_payment_id":
			s.LastPaymentID = v.(string)
		case "cancelled_at":
			t := v.(time.Time)
			s.CancelledAt = &t
		default:
			return fmt.Errorf("unexpected column %q", k)
		}
	}
	return nil
}

func (r *fakeRepo) CreatePaymentIfNotExists(_ context.Context, p *model.Payment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.payments {
		if existing.StripeInvoiceID == p.StripeInvoiceID {
			return false, nil
		}
	}
	r.writes++
	p.ID = uint(len(r.payments) + 1)
	cp := *p
	r.payments = append(r.payments, &cp)
	return true, nil
}

func (r *fakeRepo) RecordWebhookEvent(_ context.Context, event *model.WebhookEvent) (*model.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.events[event.StripeEventID]; ok {
		cp := *stored
		return &cp, nil
	}
	r.writes++
	r.nextEventID++
	event.ID = r.nextEventID
	cp := *event
	r.events[event.StripeEventID] = &cp
	return event, nil
}

func (r *fakeRepo) MarkWebhookProcessed(_ context.Context, id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

type fakeGateway struct {
	mu sync.Mutex

	customers     []string
	subscriptions map[string]*stripe.Subscription
	invoices      map[string]*stripe.Invoice
	sessions      map[string]*stripe.CheckoutSession
	active        map[string]*stripe.Subscription
	customer      *stripe.Customer
	card          *stripe.PaymentMethod

	checkoutRequests []CheckoutRequest
	cancelled        []string
	cancelErr        error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		subscriptions: make(map[string]*stripe.Subscription),
		invoices:      make(map[string]*stripe.Invoice),
		sessions:      make(map[string]*stripe.CheckoutSession),
		active:        make(map[string]*stripe.Subscription),
	}
}

func (g *fakeGateway) CreateCustomer(_ context.Context, _, _ string, _ uint) (*stripe.Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := fmt.Sprintf("cus_new%d", len(g.customers)+1)
	g.customers = append(g.customers, id)
	return &stripe.Customer{ID: id}, nil
}

func (g *fakeGateway) GetCustomer(_ context.Context, customerID string) (*stripe.Customer, error) {
	if g.customer == nil {
		return &stripe.Customer{ID: customerID}, nil
	}
	return g.customer, nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (*stripe.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkoutRequests = append(g.checkoutRequests, req)
	return &stripe.CheckoutSession{
		ID:  "cs_test_1",
		URL: "https://checkout.stripe.com/c/pay/cs_test_1",
	}, nil
}

func (g *fakeGateway) GetCheckoutSession(_ context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	s, ok := g.sessions[sessionID]
	if !ok {
		return nil, errors.New("no such checkout session")
	}
	return s, nil
}

func (g *fakeGateway) GetSubscription(_ context.Context, subscriptionID string) (*stripe.Subscription, error) {
	s, ok := g.subscriptions[subscriptionID]
	if !ok {
		return nil, errors.New("no such subscription")
	}
	return s, nil
}

func (g *fakeGateway) ActiveSubscription(_ context.Context, customerID string) (*stripe.Subscription, error) {
	return g.active[customerID], nil
}

func (g *fakeGateway) CancelAtPeriodEnd(_ context.Context, subscriptionID string) (*stripe.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	g.cancelled = append(g.cancelled, subscriptionID)
	return &stripe.Subscription{ID: subscriptionID, CancelAtPeriodEnd: true}, nil
}

func (g *fakeGateway) GetInvoice(_ context.Context, invoiceID string) (*stripe.Invoice, error) {
	inv, ok := g.invoices[invoiceID]
	if !ok {
		return nil, errors.New("no such invoice")
	}
	return inv, nil
}

func (g *fakeGateway) FirstCard(context.Context, string) (*stripe.PaymentMethod, error) {
	return g.card, nil
}

func (g *fakeGateway) CreateSetupIntent(_ context.Context, customerID string) (*stripe.SetupIntent, error) {
	return &stripe.SetupIntent{ID: "seti_1", Customer: &stripe.Customer{ID: customerID}, ClientSecret: "seti_1_secret_abc"}, nil
}

type fakeMailer struct {
	mu       sync.Mutex
	messages []email.Message
	err      error
}

func (m *fakeMailer) Enqueue(msg email.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

type testEnv struct {
	svc     *Service
	repo    *fakeRepo
	gateway *fakeGateway
	mailer  *fakeMailer
	sleeps  []time.Duration
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:    newFakeRepo(),
		gateway: newFakeGateway(),
		mailer:  &fakeMailer{},
	}
	retry := DefaultRetryPolicy()
	retry.Sleep = func(_ context.Context, d time.Duration) error {
		env.sleeps = append(env.sleeps, d)
		return nil
	}
	env.svc = NewService(Options{
		Gateway:                   env.gateway,
		Repository:                env.repo,
		Mailer:                    env.mailer,
		Locker:                    NewMemoryLocker(),
		Plans:                     plan.NewCatalog("price_123", "price_456"),
		Retry:                     &retry,
		WebhookSecret:             testSecret,
		SuccessURL:                "https://example.com/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:                 "https://example.com/subscribe",
		CheckoutConfirmedTemplate: 4242,
		Now:                       func() time.Time { return fixedNow },
	})
	return env
}

func customerRef(id string) *string { return &id }

func eventPayload(t *testing.T, id, eventType string, object interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"id":     id,
		"object": "event",
		"type":   eventType,
		"data":   map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return b
}

func sign(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
