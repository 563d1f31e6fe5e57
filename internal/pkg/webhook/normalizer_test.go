package webhook

import (
	"strings"
	"testing"
	"time"

	"github.com/abeldemoz/birrledger/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStripeInvoicePaid(t *testing.T) {
	body := []byte(`{
		"id": "evt_1",
		"type": "invoice.paid",
		"data": {"object": {
			"id": "in_1",
			"subscription": "sub_123",
			"payment_intent": "pi_9",
			"amount_paid": 1000,
			"currency": "usd",
			"period_end": 1767225600,
			"status_transitions": {"paid_at": 1756728000},
			"subscription_details": {"metadata": {"user_id": "7", "plan_id": "2", "coupon_code": "SAVE20"}}
		}}
	}`)

	ev, err := Normalize(models.ProviderStripe, body, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ExternalEventID)
	assert.Equal(t, models.EventInvoicePaid, ev.Type)
	assert.Equal(t, "sub_123", ev.ProviderSubscriptionID)
	assert.Equal(t, "pi_9", ev.ExternalPaymentID)
	assert.EqualValues(t, 7, ev.UserID)
	assert.EqualValues(t, 2, ev.PlanID)
	assert.Equal(t, "SAVE20", ev.CouponCode)
	require.NotNil(t, ev.Amount)
	assert.Equal(t, "10.00 USD", ev.Amount.String())
	require.NotNil(t, ev.CurrentPeriodEnd)
}

func TestNormalizeStripeSubscriptionLifecycle(t *testing.T) {
	tests := []struct {
		native string
		want   string
	}{
		{"customer.subscription.created", models.EventSubscriptionCreated},
		{"customer.subscription.deleted", models.EventSubscriptionCancelled},
		{"customer.subscription.paused", models.EventSubscriptionPaused},
		{"customer.subscription.resumed", models.EventSubscriptionResumed},
	}
	for _, tc := range tests {
		t.Run(tc.native, func(t *testing.T) {
			body := []byte(`{"id":"evt_2","type":"` + tc.native + `","data":{"object":{"id":"sub_123","status":"active","metadata":{"user_id":"7"}}}}`)
			ev, err := Normalize(models.ProviderStripe, body, time.Now())
			require.NoError(t, err)
			assert.Equal(t, tc.want, ev.Type)
			assert.Equal(t, "sub_123", ev.ProviderSubscriptionID)
		})
	}
}

func TestNormalizePaystackChargeSuccess(t *testing.T) {
	body := []byte(`{
		"event": "charge.success",
		"data": {
			"id": 302961,
			"reference": "ref_abc",
			"amount": 50000,
			"currency": "NGN",
			"paid_at": "2026-09-01T12:00:00Z",
			"metadata": {"user_id": "7", "plan_id": "2"}
		}
	}`)

	ev, err := Normalize(models.ProviderPaystack, body, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.EventPaymentSucceeded, ev.Type)
	assert.Equal(t, "ref_abc", ev.ExternalPaymentID)
	assert.Equal(t, "500.00 NGN", ev.Amount.String())
	// Paystack sends no delivery ID; dedup falls back to a content hash.
	assert.True(t, strings.HasPrefix(ev.ExternalEventID, "sha256:"), "got %s", ev.ExternalEventID)
}

func TestNormalizePaystackSubscriptionCharge(t *testing.T) {
	body := []byte(`{
		"event": "charge.success",
		"data": {
			"reference": "ref_sub",
			"amount": 1000,
			"currency": "USD",
			"subscription_code": "SUB_x1",
			"metadata": {"user_id": "7"}
		}
	}`)

	ev, err := Normalize(models.ProviderPaystack, body, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.EventInvoicePaid, ev.Type)
	assert.Equal(t, "SUB_x1", ev.ProviderSubscriptionID)
}

func TestNormalizeChapaChargeSuccess(t *testing.T) {
	body := []byte(`{
		"event": "charge.success",
		"status": "success",
		"tx_ref": "tx-007",
		"amount": "250.00",
		"currency": "ETB",
		"meta": {"user_id": "7"}
	}`)

	ev, err := Normalize(models.ProviderChapa, body, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.EventPaymentSucceeded, ev.Type)
	assert.Equal(t, "tx-007", ev.ExternalPaymentID)
	assert.Equal(t, "250.00 ETB", ev.Amount.String())
}

func TestNormalizeFlutterwaveChargeCompleted(t *testing.T) {
	body := []byte(`{
		"event": "charge.completed",
		"data": {
			"id": 1234,
			"tx_ref": "flw-tx-1",
			"status": "successful",
			"amount": 95,
			"currency": "USD",
			"payment_plan": 18,
			"meta": {"user_id": "7"}
		}
	}`)

	ev, err := Normalize(models.ProviderFlutterwave, body, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.EventInvoicePaid, ev.Type)
	assert.Equal(t, "flw-1234", ev.ExternalEventID)
	assert.Equal(t, "95.00 USD", ev.Amount.String())
}

func TestNormalizePayPalSaleCompleted(t *testing.T) {
	body := []byte(`{
		"id": "WH-1",
		"event_type": "PAYMENT.SALE.COMPLETED",
		"create_time": "2026-09-01T12:00:00Z",
		"resource": {
			"id": "SALE-1",
			"custom_id": "7",
			"billing_agreement_id": "I-ABC",
			"amount": {"currency_code": "USD", "value": "10.00"}
		}
	}`)

	ev, err := Normalize(models.ProviderPayPal, body, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.EventInvoicePaid, ev.Type)
	assert.Equal(t, "WH-1", ev.ExternalEventID)
	assert.Equal(t, "I-ABC", ev.ProviderSubscriptionID)
	assert.EqualValues(t, 7, ev.UserID)
}

func TestNormalizeUnknownEventTypeArchivesAsUnknown(t *testing.T) {
	body := []byte(`{"id":"evt_x","type":"account.updated","data":{"object":{}}}`)
	ev, err := Normalize(models.ProviderStripe, body, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.EventUnknown, ev.Type)
}
