package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/abeldemoz/birrledger/app/models"
)

// Event is the provider-independent form of a webhook delivery. Fields a
// provider does not report stay zero; the processor resolves missing user
// context from stored gateway references.
type Event struct {
	Provider               string
	ExternalEventID        string
	Type                   string
	ReceivedAt             time.Time
	UserID                 uint
	PlanID                 uint
	ProviderSubscriptionID string
	ExternalPaymentID      string
	Amount                 *models.Money
	PaidAt                 time.Time
	CouponCode             string
	Trialing               bool
	CurrentPeriodEnd       *time.Time
}

// Normalize parses a verified provider payload into a canonical Event.
// Unrecognized native event names normalize to EventUnknown rather than an
// error so they can be acknowledged and archived.
func Normalize(providerName string, body []byte, receivedAt time.Time) (*Event, error) {
	var (
		ev  *Event
		err error
	)
	switch providerName {
	case models.ProviderStripe:
		ev, err = normalizeStripe(body)
	case models.ProviderPaystack:
		ev, err = normalizePaystack(body)
	case models.ProviderChapa:
		ev, err = normalizeChapa(body)
	case models.ProviderFlutterwave:
		ev, err = normalizeFlutterwave(body)
	case models.ProviderPayPal:
		ev, err = normalizePayPal(body)
	default:
		return nil, fmt.Errorf("normalize: unknown provider %q", providerName)
	}
	if err != nil {
		return nil, err
	}

	ev.Provider = providerName
	ev.ReceivedAt = receivedAt
	if ev.ExternalEventID == "" {
		// Providers without a delivery ID still dedup on content.
		sum := sha256.Sum256(body)
		ev.ExternalEventID = "sha256:" + hex.EncodeToString(sum[:])
	}
	return ev, nil
}

// metadata is the string map attached to checkouts by this service.
type metadata struct {
	UserID     string `json:"user_id"`
	PlanID     string `json:"plan_id"`
	CouponCode string `json:"coupon_code"`
}

func (m metadata) userID() uint { return atoiUint(m.UserID) }
func (m metadata) planID() uint { return atoiUint(m.PlanID) }

func atoiUint(s string) uint {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return uint(n)
}

func normalizeStripe(body []byte) (*Event, error) {
	var envelope struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parse stripe event: %w", err)
	}
	ev := &Event{ExternalEventID: envelope.ID}

	switch envelope.Type {
	case "customer.subscription.created":
		var sub struct {
			ID               string   `json:"id"`
			Status           string   `json:"status"`
			CurrentPeriodEnd int64    `json:"current_period_end"`
			Metadata         metadata `json:"metadata"`
		}
		if err := json.Unmarshal(envelope.Data.Object, &sub); err != nil {
			return nil, fmt.Errorf("parse stripe subscription: %w", err)
		}
		ev.Type = models.EventSubscriptionCreated
		ev.ProviderSubscriptionID = sub.ID
		ev.Trialing = sub.Status == "trialing"
		ev.UserID = sub.Metadata.userID()
		ev.PlanID = sub.Metadata.planID()
		ev.CouponCode = sub.Metadata.CouponCode
		if sub.CurrentPeriodEnd > 0 {
			end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
			ev.CurrentPeriodEnd = &end
		}

	case "customer.subscription.deleted", "customer.subscription.paused", "customer.subscription.resumed":
		var sub struct {
			ID       string   `json:"id"`
			Metadata metadata `json:"metadata"`
		}
		if err := json.Unmarshal(envelope.Data.Object, &sub); err != nil {
			return nil, fmt.Errorf("parse stripe subscription: %w", err)
		}
		switch envelope.Type {
		case "customer.subscription.deleted":
			ev.Type = models.EventSubscriptionCancelled
		case "customer.subscription.paused":
			ev.Type = models.EventSubscriptionPaused
		case "customer.subscription.resumed":
			ev.Type = models.EventSubscriptionResumed
		}
		ev.ProviderSubscriptionID = sub.ID
		ev.UserID = sub.Metadata.userID()

	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		var inv struct {
			ID                string `json:"id"`
			Subscription      string `json:"subscription"`
			PaymentIntent     string `json:"payment_intent"`
			AmountPaid        int64  `json:"amount_paid"`
			Currency          string `json:"currency"`
			PeriodEnd         int64  `json:"period_end"`
			StatusTransitions struct {
				PaidAt int64 `json:"paid_at"`
			} `json:"status_transitions"`
			SubscriptionDetails struct {
				Metadata metadata `json:"metadata"`
			} `json:"subscription_details"`
		}
		if err := json.Unmarshal(envelope.Data.Object, &inv); err != nil {
			return nil, fmt.Errorf("parse stripe invoice: %w", err)
		}
		if envelope.Type == "invoice.payment_failed" {
			ev.Type = models.EventInvoicePaymentFailed
		} else {
			ev.Type = models.EventInvoicePaid
		}
		ev.ProviderSubscriptionID = inv.Subscription
		ev.ExternalPaymentID = inv.PaymentIntent
		if ev.ExternalPaymentID == "" {
			ev.ExternalPaymentID = inv.ID
		}
		ev.UserID = inv.SubscriptionDetails.Metadata.userID()
		ev.PlanID = inv.SubscriptionDetails.Metadata.planID()
		ev.CouponCode = inv.SubscriptionDetails.Metadata.CouponCode
		if inv.AmountPaid > 0 {
			amount := models.MoneyFromMinorUnits(inv.AmountPaid, inv.Currency)
			ev.Amount = &amount
		}
		if inv.StatusTransitions.PaidAt > 0 {
			ev.PaidAt = time.Unix(inv.StatusTransitions.PaidAt, 0).UTC()
		}
		if inv.PeriodEnd > 0 {
			end := time.Unix(inv.PeriodEnd, 0).UTC()
			ev.CurrentPeriodEnd = &end
		}

	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi struct {
			ID       string   `json:"id"`
			Amount   int64    `json:"amount"`
			Currency string   `json:"currency"`
			Created  int64    `json:"created"`
			Metadata metadata `json:"metadata"`
		}
		if err := json.Unmarshal(envelope.Data.Object, &pi); err != nil {
			return nil, fmt.Errorf("parse stripe payment intent: %w", err)
		}
		if envelope.Type == "payment_intent.succeeded" {
			ev.Type = models.EventPaymentSucceeded
		} else {
			ev.Type = models.EventPaymentFailed
		}
		ev.ExternalPaymentID = pi.ID
		ev.UserID = pi.Metadata.userID()
		ev.PlanID = pi.Metadata.planID()
		ev.CouponCode = pi.Metadata.CouponCode
		if pi.Amount > 0 {
			amount := models.MoneyFromMinorUnits(pi.Amount, pi.Currency)
			ev.Amount = &amount
		}
		if pi.Created > 0 {
			ev.PaidAt = time.Unix(pi.Created, 0).UTC()
		}

	case "charge.refunded":
		var ch struct {
			ID            string `json:"id"`
			PaymentIntent string `json:"payment_intent"`
		}
		if err := json.Unmarshal(envelope.Data.Object, &ch); err != nil {
			return nil, fmt.Errorf("parse stripe charge: %w", err)
		}
		ev.Type = models.EventRefundSucceeded
		ev.ExternalPaymentID = ch.PaymentIntent
		if ev.ExternalPaymentID == "" {
			ev.ExternalPaymentID = ch.ID
		}

	default:
		ev.Type = models.EventUnknown
	}
	return ev, nil
}

func normalizePaystack(body []byte) (*Event, error) {
	var envelope struct {
		Event string `json:"event"`
		Data  struct {
			ID               json.Number `json:"id"`
			Reference        string      `json:"reference"`
			Amount           int64       `json:"amount"`
			Currency         string      `json:"currency"`
			PaidAt           string      `json:"paid_at"`
			Metadata         metadata    `json:"metadata"`
			SubscriptionCode string      `json:"subscription_code"`
			NextPaymentDate  string      `json:"next_payment_date"`
			Subscription     struct {
				SubscriptionCode string `json:"subscription_code"`
			} `json:"subscription"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parse paystack event: %w", err)
	}

	ev := &Event{
		UserID:     envelope.Data.Metadata.userID(),
		PlanID:     envelope.Data.Metadata.planID(),
		CouponCode: envelope.Data.Metadata.CouponCode,
	}
	ev.ProviderSubscriptionID = envelope.Data.SubscriptionCode
	if ev.ProviderSubscriptionID == "" {
		ev.ProviderSubscriptionID = envelope.Data.Subscription.SubscriptionCode
	}
	ev.ExternalPaymentID = envelope.Data.Reference
	if envelope.Data.Amount > 0 {
		amount := models.MoneyFromMinorUnits(envelope.Data.Amount, envelope.Data.Currency)
		ev.Amount = &amount
	}
	if t, err := time.Parse(time.RFC3339, envelope.Data.PaidAt); err == nil {
		ev.PaidAt = t
	}
	if t, err := time.Parse(time.RFC3339, envelope.Data.NextPaymentDate); err == nil {
		ev.CurrentPeriodEnd = &t
	}

	switch envelope.Event {
	case "charge.success":
		if ev.ProviderSubscriptionID != "" {
			ev.Type = models.EventInvoicePaid
		} else {
			ev.Type = models.EventPaymentSucceeded
		}
	case "subscription.create":
		ev.Type = models.EventSubscriptionCreated
	case "subscription.disable", "subscription.not_renew":
		ev.Type = models.EventSubscriptionCancelled
	case "invoice.payment_failed":
		ev.Type = models.EventInvoicePaymentFailed
	case "refund.processed":
		ev.Type = models.EventRefundSucceeded
	default:
		ev.Type = models.EventUnknown
	}
	return ev, nil
}

func normalizeChapa(body []byte) (*Event, error) {
	var payload struct {
		Event     string   `json:"event"`
		Status    string   `json:"status"`
		TxRef     string   `json:"tx_ref"`
		Reference string   `json:"reference"`
		Amount    string   `json:"amount"`
		Currency  string   `json:"currency"`
		CreatedAt string   `json:"created_at"`
		Meta      metadata `json:"meta"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse chapa event: %w", err)
	}

	ev := &Event{
		UserID:     payload.Meta.userID(),
		PlanID:     payload.Meta.planID(),
		CouponCode: payload.Meta.CouponCode,
	}
	ev.ExternalPaymentID = payload.TxRef
	if ev.ExternalPaymentID == "" {
		ev.ExternalPaymentID = payload.Reference
	}
	if payload.Amount != "" {
		if amount, err := models.MoneyFromString(payload.Amount, payload.Currency); err == nil {
			ev.Amount = &amount
		}
	}
	if t, err := time.Parse(time.RFC3339, payload.CreatedAt); err == nil {
		ev.PaidAt = t
	}

	switch {
	case payload.Event == "charge.success" || payload.Status == "success":
		ev.Type = models.EventPaymentSucceeded
	case payload.Event == "charge.failed" || payload.Status == "failed":
		ev.Type = models.EventPaymentFailed
	case payload.Event == "charge.refunded":
		ev.Type = models.EventRefundSucceeded
	default:
		ev.Type = models.EventUnknown
	}
	return ev, nil
}

func normalizeFlutterwave(body []byte) (*Event, error) {
	var envelope struct {
		Event string `json:"event"`
		Data  struct {
			ID          json.Number `json:"id"`
			TxRef       string      `json:"tx_ref"`
			Status      string      `json:"status"`
			Amount      json.Number `json:"amount"`
			Currency    string      `json:"currency"`
			CreatedAt   string      `json:"created_at"`
			Meta        metadata    `json:"meta"`
			PaymentPlan json.Number `json:"payment_plan"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parse flutterwave event: %w", err)
	}

	ev := &Event{
		UserID:     envelope.Data.Meta.userID(),
		PlanID:     envelope.Data.Meta.planID(),
		CouponCode: envelope.Data.Meta.CouponCode,
	}
	if id := envelope.Data.ID.String(); id != "" && id != "0" {
		ev.ExternalEventID = "flw-" + id
	}
	ev.ExternalPaymentID = envelope.Data.TxRef
	if envelope.Data.Amount.String() != "" {
		if amount, err := models.MoneyFromString(envelope.Data.Amount.String(), envelope.Data.Currency); err == nil {
			ev.Amount = &amount
		}
	}
	if t, err := time.Parse(time.RFC3339, envelope.Data.CreatedAt); err == nil {
		ev.PaidAt = t
	}
	subscribed := envelope.Data.PaymentPlan.String() != "" && envelope.Data.PaymentPlan.String() != "0"

	switch envelope.Event {
	case "charge.completed":
		switch {
		case envelope.Data.Status != "successful":
			ev.Type = models.EventPaymentFailed
		case subscribed:
			ev.Type = models.EventInvoicePaid
		default:
			ev.Type = models.EventPaymentSucceeded
		}
	case "subscription.cancelled":
		ev.Type = models.EventSubscriptionCancelled
	case "transfer.completed":
		ev.Type = models.EventUnknown
	default:
		ev.Type = models.EventUnknown
	}
	return ev, nil
}

func normalizePayPal(body []byte) (*Event, error) {
	var envelope struct {
		ID         string `json:"id"`
		EventType  string `json:"event_type"`
		CreateTime string `json:"create_time"`
		Resource   struct {
			ID       string `json:"id"`
			Status   string `json:"status"`
			CustomID string `json:"custom_id"`
			Amount   struct {
				CurrencyCode string `json:"currency_code"`
				Value        string `json:"value"`
			} `json:"amount"`
			BillingAgreementID string `json:"billing_agreement_id"`
			BillingInfo        struct {
				NextBillingTime string `json:"next_billing_time"`
			} `json:"billing_info"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parse paypal event: %w", err)
	}

	ev := &Event{ExternalEventID: envelope.ID}
	ev.UserID = atoiUint(envelope.Resource.CustomID)
	ev.ExternalPaymentID = envelope.Resource.ID
	if envelope.Resource.Amount.Value != "" {
		if amount, err := models.MoneyFromString(envelope.Resource.Amount.Value, envelope.Resource.Amount.CurrencyCode); err == nil {
			ev.Amount = &amount
		}
	}
	if t, err := time.Parse(time.RFC3339, envelope.CreateTime); err == nil {
		ev.PaidAt = t
	}
	if t, err := time.Parse(time.RFC3339, envelope.Resource.BillingInfo.NextBillingTime); err == nil {
		ev.CurrentPeriodEnd = &t
	}

	switch envelope.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		ev.Type = models.EventPaymentSucceeded
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		ev.Type = models.EventPaymentFailed
	case "PAYMENT.SALE.COMPLETED":
		ev.Type = models.EventInvoicePaid
		ev.ProviderSubscriptionID = envelope.Resource.BillingAgreementID
	case "BILLING.SUBSCRIPTION.CREATED":
		ev.Type = models.EventSubscriptionCreated
		ev.ProviderSubscriptionID = envelope.Resource.ID
	case "BILLING.SUBSCRIPTION.CANCELLED", "BILLING.SUBSCRIPTION.EXPIRED":
		ev.Type = models.EventSubscriptionCancelled
		ev.ProviderSubscriptionID = envelope.Resource.ID
	case "BILLING.SUBSCRIPTION.SUSPENDED":
		ev.Type = models.EventSubscriptionPaused
		ev.ProviderSubscriptionID = envelope.Resource.ID
	case "BILLING.SUBSCRIPTION.ACTIVATED":
		ev.Type = models.EventSubscriptionResumed
		ev.ProviderSubscriptionID = envelope.Resource.ID
	case "PAYMENT.CAPTURE.REFUNDED", "PAYMENT.SALE.REFUNDED":
		ev.Type = models.EventRefundSucceeded
	default:
		ev.Type = models.EventUnknown
	}
	return ev, nil
}
