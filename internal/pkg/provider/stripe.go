package provider

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/abeldemoz/birrledger/app/models"
	"github.com/abeldemoz/birrledger/internal/pkg/env"
	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeAdapter implements the full adapter contract against the Stripe API.
type StripeAdapter struct {
	sc         *client.API
	successURL string
	cancelURL  string
}

// NewStripeAdapterFromEnv builds a Stripe adapter from STRIPE_* env vars.
func NewStripeAdapterFromEnv() *StripeAdapter {
	sc := &client.API{}
	sc.Init(strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")), nil)
	return &StripeAdapter{
		sc:         sc,
		successURL: env.GetEnv("STRIPE_SUCCESS_URL", "https://example.com/checkout/success"),
		cancelURL:  env.GetEnv("STRIPE_CANCEL_URL", "https://example.com/checkout/cancel"),
	}
}

func (a *StripeAdapter) Name() string { return models.ProviderStripe }

// wrap classifies a Stripe SDK error into the adapter error taxonomy.
func (a *StripeAdapter) wrap(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode >= 500 || se.HTTPStatusCode == 429 {
			return Transient(a.Name(), op, err)
		}
		return Rejected(a.Name(), op, err)
	}
	// Network-level failures without a Stripe error body are retryable.
	return Transient(a.Name(), op, err)
}

func (a *StripeAdapter) GetOrCreateCustomer(ctx context.Context, in CustomerParams) (*Customer, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(in.Email),
		Name:  stripe.String(in.Name),
	}
	params.Context = ctx
	params.AddMetadata("user_id", strconv.FormatUint(uint64(in.UserID), 10))
	cus, err := a.sc.Customers.New(params)
	if err != nil {
		return nil, a.wrap("GetOrCreateCustomer", err)
	}
	return &Customer{ExternalID: cus.ID, Email: in.Email}, nil
}

func (a *StripeAdapter) EnsurePlanExists(ctx context.Context, plan models.SubscriptionPlan) (string, error) {
	prodParams := &stripe.ProductParams{Name: stripe.String(plan.Name)}
	prodParams.Context = ctx
	prod, err := a.sc.Products.New(prodParams)
	if err != nil {
		return "", a.wrap("EnsurePlanExists", err)
	}

	price := plan.Price()
	priceParams := &stripe.PriceParams{
		Product:    stripe.String(prod.ID),
		Currency:   stripe.String(strings.ToLower(price.Currency)),
		UnitAmount: stripe.Int64(price.MinorUnits()),
		Recurring: &stripe.PriceRecurringParams{
			Interval:      stripe.String(plan.IntervalUnit),
			IntervalCount: stripe.Int64(int64(plan.IntervalValue)),
		},
	}
	priceParams.Context = ctx
	pr, err := a.sc.Prices.New(priceParams)
	if err != nil {
		return "", a.wrap("EnsurePlanExists", err)
	}
	return pr.ID, nil
}

func (a *StripeAdapter) InitializeSubscriptionPayment(ctx context.Context, in InitializeParams) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(a.successURL),
		CancelURL:  stripe.String(a.cancelURL),
		Customer:   stripe.String(in.CustomerID),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(in.PlanRef),
			Quantity: stripe.Int64(1),
		}},
	}
	params.Context = ctx
	params.AddMetadata("user_id", strconv.FormatUint(uint64(in.UserID), 10))
	params.AddMetadata("plan_id", strconv.FormatUint(uint64(in.Plan.ID), 10))
	params.AddMetadata("reference", in.Reference)
	if in.CouponCode != "" {
		params.AddMetadata("coupon_code", in.CouponCode)
	}
	sess, err := a.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, a.wrap("InitializeSubscriptionPayment", err)
	}
	return &CheckoutSession{Reference: in.Reference, ExternalID: sess.ID, RedirectURL: sess.URL}, nil
}

func (a *StripeAdapter) CreatePayment(ctx context.Context, in PaymentParams) (*Payment, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(in.Amount.MinorUnits()),
		Currency: stripe.String(strings.ToLower(in.Amount.Currency)),
	}
	params.Context = ctx
	if in.CustomerID != "" {
		params.Customer = stripe.String(in.CustomerID)
	}
	params.AddMetadata("reference", in.Reference)
	pi, err := a.sc.PaymentIntents.New(params)
	if err != nil {
		return nil, a.wrap("CreatePayment", err)
	}
	return a.paymentFromIntent(pi), nil
}

func (a *StripeAdapter) GetPayment(ctx context.Context, externalID string) (*Payment, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := a.sc.PaymentIntents.Get(externalID, params)
	if err != nil {
		return nil, a.wrap("GetPayment", err)
	}
	return a.paymentFromIntent(pi), nil
}

// VerifyPayment reads remote payment state without side effects.
func (a *StripeAdapter) VerifyPayment(ctx context.Context, reference string) (*Payment, error) {
	return a.GetPayment(ctx, reference)
}

func (a *StripeAdapter) RefundPayment(ctx context.Context, externalID string, amount models.Money) (*Payment, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(externalID),
		Amount:        stripe.Int64(amount.MinorUnits()),
	}
	params.Context = ctx
	if _, err := a.sc.Refunds.New(params); err != nil {
		return nil, a.wrap("RefundPayment", err)
	}
	return a.GetPayment(ctx, externalID)
}

func (a *StripeAdapter) CreateSubscription(ctx context.Context, in SubscriptionParams) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(in.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{{
			Price: stripe.String(in.PlanRef),
		}},
	}
	params.Context = ctx
	sub, err := a.sc.Subscriptions.New(params)
	if err != nil {
		return nil, a.wrap("CreateSubscription", err)
	}
	return a.subscriptionFromStripe(sub), nil
}

func (a *StripeAdapter) GetSubscription(ctx context.Context, externalID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := a.sc.Subscriptions.Get(externalID, params)
	if err != nil {
		return nil, a.wrap("GetSubscription", err)
	}
	return a.subscriptionFromStripe(sub), nil
}

func (a *StripeAdapter) CancelSubscription(ctx context.Context, externalID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := a.sc.Subscriptions.Cancel(externalID, params); err != nil {
		return a.wrap("CancelSubscription", err)
	}
	return nil
}

func (a *StripeAdapter) ChangePlan(ctx context.Context, externalID, planRef string) (*Subscription, error) {
	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx
	raw, err := a.sc.Subscriptions.Get(externalID, getParams)
	if err != nil {
		return nil, a.wrap("ChangePlan", err)
	}
	if raw.Items == nil || len(raw.Items.Data) == 0 {
		return nil, Rejected(a.Name(), "ChangePlan", errors.New("subscription has no items"))
	}
	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{{
			ID:    stripe.String(raw.Items.Data[0].ID),
			Price: stripe.String(planRef),
		}},
	}
	params.Context = ctx
	updated, err := a.sc.Subscriptions.Update(externalID, params)
	if err != nil {
		return nil, a.wrap("ChangePlan", err)
	}
	return a.subscriptionFromStripe(updated), nil
}

func (a *StripeAdapter) paymentFromIntent(pi *stripe.PaymentIntent) *Payment {
	status := PaymentStatusPending
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = PaymentStatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = PaymentStatusFailed
	}
	p := &Payment{
		Provider:   a.Name(),
		ExternalID: pi.ID,
		Reference:  pi.Metadata["reference"],
		Amount:     models.NewMoney(decimalFromMinorUnits(pi.Amount, string(pi.Currency)), string(pi.Currency)),
		Status:     status,
	}
	if pi.Customer != nil {
		p.CustomerID = pi.Customer.ID
	}
	if status == PaymentStatusSucceeded {
		t := time.Unix(pi.Created, 0).UTC()
		p.PaidAt = &t
	}
	return p
}

func (a *StripeAdapter) subscriptionFromStripe(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ExternalID: sub.ID,
		Status:     string(sub.Status),
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PlanRef = sub.Items.Data[0].Price.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		out.CurrentPeriodEnd = &t
	}
	return out
}
