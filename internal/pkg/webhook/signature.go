package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/abeldemoz/birrledger/app/models"
	"github.com/abeldemoz/birrledger/internal/pkg/env"
	"github.com/abeldemoz/birrledger/internal/pkg/provider"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrInvalidSignature rejects a delivery whose signature does not verify.
// No side effects may happen before this check passes.
var ErrInvalidSignature = errors.New("webhook signature verification failed")

// Verifier authenticates inbound webhook deliveries per provider.
type Verifier struct {
	stripeSecret    string
	paystackSecret  string
	chapaSecret     string
	flutterwaveHash string
	paypalWebhookID string
}

// NewVerifierFromEnv reads each provider's webhook secret from the
// environment. Providers without a configured secret reject every delivery.
func NewVerifierFromEnv() *Verifier {
	return &Verifier{
		stripeSecret:    env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		paystackSecret:  env.GetEnv("PAYSTACK_SECRET_KEY", ""),
		chapaSecret:     env.GetEnv("CHAPA_WEBHOOK_SECRET", ""),
		flutterwaveHash: env.GetEnv("FLUTTERWAVE_WEBHOOK_HASH", ""),
		paypalWebhookID: env.GetEnv("PAYPAL_WEBHOOK_ID", ""),
	}
}

// Verify checks the delivery's authenticity. headers carries the raw HTTP
// headers of the delivery, lowercased keys.
func (v *Verifier) Verify(providerName string, body []byte, headers map[string]string) error {
	switch providerName {
	case models.ProviderStripe:
		return v.verifyStripe(body, headers["stripe-signature"])
	case models.ProviderPaystack:
		return v.verifyHMAC(body, headers["x-paystack-signature"], v.paystackSecret, sha512HMAC)
	case models.ProviderChapa:
		return v.verifyHMAC(body, headers["chapa-signature"], v.chapaSecret, sha256HMAC)
	case models.ProviderFlutterwave:
		return v.verifyFlutterwave(headers["verif-hash"])
	case models.ProviderPayPal:
		// Full verification goes through PayPal's verify-webhook-signature
		// API; here the transmission signature is checked as an HMAC keyed
		// with the webhook ID.
		return v.verifyHMAC(body, headers["paypal-transmission-sig"], v.paypalWebhookID, sha256HMAC)
	default:
		return fmt.Errorf("%w: %s", provider.ErrUnknownProvider, providerName)
	}
}

func (v *Verifier) verifyStripe(body []byte, sigHeader string) error {
	if v.stripeSecret == "" || sigHeader == "" {
		return ErrInvalidSignature
	}
	if _, err := webhook.ConstructEvent(body, sigHeader, v.stripeSecret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func (v *Verifier) verifyFlutterwave(got string) error {
	if v.flutterwaveHash == "" || got == "" {
		return ErrInvalidSignature
	}
	if !hmac.Equal([]byte(got), []byte(v.flutterwaveHash)) {
		return ErrInvalidSignature
	}
	return nil
}

func (v *Verifier) verifyHMAC(body []byte, got, secret string, mac func(body []byte, secret string) string) error {
	if secret == "" || got == "" {
		return ErrInvalidSignature
	}
	want := mac(body, secret)
	if !hmac.Equal([]byte(got), []byte(want)) {
		return ErrInvalidSignature
	}
	return nil
}

func sha512HMAC(body []byte, secret string) string {
	h := hmac.New(sha512.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func sha256HMAC(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
