package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/abeldemoz/birrledger/app/models"
)

func TestRegistryDispatch(t *testing.T) {
	stripe := NewStripeAdapterFromEnv()
	chapa := NewChapaAdapterFromEnv()
	reg := NewRegistry(stripe, chapa)

	got, err := reg.Get(models.ProviderStripe)
	if err != nil {
		t.Fatalf("Get(stripe): %v", err)
	}
	if got.Name() != models.ProviderStripe {
		t.Fatalf("Get(stripe).Name() = %q", got.Name())
	}

	if _, err := reg.Get("skrill"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("Get(skrill): got %v, want ErrUnknownProvider", err)
	}
}

func TestUnimplementedVerbsReportNotImplemented(t *testing.T) {
	// Chapa has no remote subscription objects; the verbs must fail typed,
	// not panic, so the orchestrator can branch.
	a := NewChapaAdapterFromEnv()
	ctx := context.Background()

	if _, err := a.CreateSubscription(ctx, SubscriptionParams{}); !IsNotImplemented(err) {
		t.Fatalf("CreateSubscription: got %v, want NotImplemented", err)
	}
	if err := a.CancelSubscription(ctx, "sub_1"); !IsNotImplemented(err) {
		t.Fatalf("CancelSubscription: got %v, want NotImplemented", err)
	}
	if _, err := a.ChangePlan(ctx, "sub_1", "plan_2"); !IsNotImplemented(err) {
		t.Fatalf("ChangePlan: got %v, want NotImplemented", err)
	}
	if _, err := a.EnsurePlanExists(ctx, models.SubscriptionPlan{}); !IsNotImplemented(err) {
		t.Fatalf("EnsurePlanExists: got %v, want NotImplemented", err)
	}
}

func TestErrorKindClassification(t *testing.T) {
	transient := wrapHTTP("paystack", "VerifyPayment", &apiError{status: 503})
	if !IsTransient(transient) {
		t.Fatalf("503 should be transient, got %v", transient)
	}
	throttled := wrapHTTP("paystack", "VerifyPayment", &apiError{status: 429})
	if !IsTransient(throttled) {
		t.Fatalf("429 should be transient, got %v", throttled)
	}
	rejected := wrapHTTP("paystack", "VerifyPayment", &apiError{status: 400})
	if IsTransient(rejected) || IsNotImplemented(rejected) {
		t.Fatalf("400 should be rejected, got %v", rejected)
	}
	network := wrapHTTP("paystack", "VerifyPayment", errors.New("connection reset"))
	if !IsTransient(network) {
		t.Fatalf("transport error should be transient, got %v", network)
	}
}

func TestNotImplementedErrorMessage(t *testing.T) {
	err := NotImplemented("paypal", "GetOrCreateCustomer")
	want := "paypal GetOrCreateCustomer (not_implemented)"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
