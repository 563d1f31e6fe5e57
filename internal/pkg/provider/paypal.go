package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/abeldemoz/birrledger/app/models"
	"github.com/abeldemoz/birrledger/internal/pkg/env"
	"github.com/shopspring/decimal"
)

const defaultPayPalBaseURL = "https://api-m.sandbox.paypal.com"

// PayPalAdapter covers orders (one-time payments) and billing subscriptions.
// PayPal has no standalone customer object in these flows, so
// GetOrCreateCustomer reports NotImplemented and buyers are identified at
// approval time.
type PayPalAdapter struct {
	unimplemented
	httpClient   *http.Client
	baseURL      string
	clientID     string
	clientSecret string
}

func NewPayPalAdapterFromEnv() *PayPalAdapter {
	return &PayPalAdapter{
		unimplemented: unimplemented{provider: models.ProviderPayPal},
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		baseURL:       strings.TrimRight(env.GetEnv("PAYPAL_BASE_API_URL", defaultPayPalBaseURL), "/"),
		clientID:      strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_ID", "")),
		clientSecret:  strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_SECRET", "")),
	}
}

func (a *PayPalAdapter) Name() string { return models.ProviderPayPal }

func (a *PayPalAdapter) accessToken(ctx context.Context) (string, error) {
	auth := base64.StdEncoding.EncodeToString([]byte(a.clientID + ":" + a.clientSecret))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/oauth2/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &apiError{status: resp.StatusCode}
	}

	var res struct {
		AccessToken string `json:"access_token"`
	}
	if err := jsonDecode(resp.Body, &res); err != nil {
		return "", err
	}
	if res.AccessToken == "" {
		return "", fmt.Errorf("paypal token response missing access_token")
	}
	return res.AccessToken, nil
}

func (a *PayPalAdapter) authHeaders(ctx context.Context, op string) (map[string]string, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, wrapHTTP(a.Name(), op, err)
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

func (a *PayPalAdapter) CreatePayment(ctx context.Context, in PaymentParams) (*Payment, error) {
	headers, err := a.authHeaders(ctx, "CreatePayment")
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{{
			"reference_id": in.Reference,
			"amount": map[string]string{
				"currency_code": in.Amount.Currency,
				"value":         in.Amount.Amount.StringFixed(in.Amount.MinorUnitExponent()),
			},
		}},
	}
	var res paypalOrder
	if err := doJSON(ctx, a.httpClient, http.MethodPost, a.baseURL+"/v2/checkout/orders", headers, payload, &res); err != nil {
		return nil, wrapHTTP(a.Name(), "CreatePayment", err)
	}
	return a.paymentFromOrder(res), nil
}

type paypalOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		Amount      struct {
			CurrencyCode string `json:"currency_code"`
			Value        string `json:"value"`
		} `json:"amount"`
	} `json:"purchase_units"`
	UpdateTime string `json:"update_time"`
}

func (a *PayPalAdapter) paymentFromOrder(res paypalOrder) *Payment {
	status := PaymentStatusPending
	switch res.Status {
	case "COMPLETED":
		status = PaymentStatusSucceeded
	case "VOIDED":
		status = PaymentStatusFailed
	}
	p := &Payment{
		Provider:   a.Name(),
		ExternalID: res.ID,
		Status:     status,
	}
	if len(res.PurchaseUnits) > 0 {
		pu := res.PurchaseUnits[0]
		p.Reference = pu.ReferenceID
		if amt, err := decimal.NewFromString(pu.Amount.Value); err == nil {
			p.Amount = models.NewMoney(amt, pu.Amount.CurrencyCode)
		}
	}
	if t, err := time.Parse(time.RFC3339, res.UpdateTime); err == nil && status == PaymentStatusSucceeded {
		p.PaidAt = &t
	}
	return p
}

func (a *PayPalAdapter) GetPayment(ctx context.Context, externalID string) (*Payment, error) {
	headers, err := a.authHeaders(ctx, "GetPayment")
	if err != nil {
		return nil, err
	}
	var res paypalOrder
	if err := doJSON(ctx, a.httpClient, http.MethodGet, a.baseURL+"/v2/checkout/orders/"+externalID, headers, nil, &res); err != nil {
		return nil, wrapHTTP(a.Name(), "GetPayment", err)
	}
	return a.paymentFromOrder(res), nil
}

// VerifyPayment reads order state by ID without side effects.
func (a *PayPalAdapter) VerifyPayment(ctx context.Context, reference string) (*Payment, error) {
	return a.GetPayment(ctx, reference)
}

func (a *PayPalAdapter) RefundPayment(ctx context.Context, externalID string, amount models.Money) (*Payment, error) {
	headers, err := a.authHeaders(ctx, "RefundPayment")
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"amount": map[string]string{
			"currency_code": amount.Currency,
			"value":         amount.Amount.StringFixed(amount.MinorUnitExponent()),
		},
	}
	// PayPal refunds address the capture, not the order.
	if err := doJSON(ctx, a.httpClient, http.MethodPost, a.baseURL+"/v2/payments/captures/"+externalID+"/refund", headers, payload, nil); err != nil {
		return nil, wrapHTTP(a.Name(), "RefundPayment", err)
	}
	return &Payment{Provider: a.Name(), ExternalID: externalID, Amount: amount, Status: PaymentStatusRefunded}, nil
}

func paypalIntervalUnit(unit string) string {
	switch unit {
	case models.IntervalUnitDay:
		return "DAY"
	case models.IntervalUnitYear:
		return "YEAR"
	default:
		return "MONTH"
	}
}

func (a *PayPalAdapter) EnsurePlanExists(ctx context.Context, plan models.SubscriptionPlan) (string, error) {
	headers, err := a.authHeaders(ctx, "EnsurePlanExists")
	if err != nil {
		return "", err
	}

	var product struct {
		ID string `json:"id"`
	}
	if err := doJSON(ctx, a.httpClient, http.MethodPost, a.baseURL+"/v1/catalogs/products", headers,
		map[string]interface{}{"name": plan.Name, "type": "SERVICE"}, &product); err != nil {
		return "", wrapHTTP(a.Name(), "EnsurePlanExists", err)
	}

	price := plan.Price()
	payload := map[string]interface{}{
		"product_id": product.ID,
		"name":       plan.Name,
		"billing_cycles": []map[string]interface{}{{
			"frequency": map[string]interface{}{
				"interval_unit":  paypalIntervalUnit(plan.IntervalUnit),
				"interval_count": plan.IntervalValue,
			},
			"tenure_type": "REGULAR",
			"sequence":    1,
			"total_cycles": 0,
			"pricing_scheme": map[string]interface{}{
				"fixed_price": map[string]string{
					"currency_code": price.Currency,
					"value":         price.Amount.StringFixed(price.MinorUnitExponent()),
				},
			},
		}},
		"payment_preferences": map[string]interface{}{
			"auto_bill_outstanding": true,
		},
	}
	var billingPlan struct {
		ID string `json:"id"`
	}
	if err := doJSON(ctx, a.httpClient, http.MethodPost, a.baseURL+"/v1/billing/plans", headers, payload, &billingPlan); err != nil {
		return "", wrapHTTP(a.Name(), "EnsurePlanExists", err)
	}
	return billingPlan.ID, nil
}

func (a *PayPalAdapter) InitializeSubscriptionPayment(ctx context.Context, in InitializeParams) (*CheckoutSession, error) {
	headers, err := a.authHeaders(ctx, "InitializeSubscriptionPayment")
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"plan_id":   in.PlanRef,
		"custom_id": in.Reference,
	}
	if in.CallbackURL != "" {
		payload["application_context"] = map[string]string{"return_url": in.CallbackURL}
	}
	var res struct {
		ID    string `json:"id"`
		Links []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := doJSON(ctx, a.httpClient, http.MethodPost, a.baseURL+"/v1/billing/subscriptions", headers, payload, &res); err != nil {
		return nil, wrapHTTP(a.Name(), "InitializeSubscriptionPayment", err)
	}
	out := &CheckoutSession{Reference: in.Reference, ExternalID: res.ID}
	for _, link := range res.Links {
		if link.Rel == "approve" {
			out.RedirectURL = link.Href
			break
		}
	}
	return out, nil
}

func (a *PayPalAdapter) GetSubscription(ctx context.Context, externalID string) (*Subscription, error) {
	headers, err := a.authHeaders(ctx, "GetSubscription")
	if err != nil {
		return nil, err
	}
	var res struct {
		ID          string `json:"id"`
		PlanID      string `json:"plan_id"`
		Status      string `json:"status"`
		BillingInfo struct {
			NextBillingTime string `json:"next_billing_time"`
		} `json:"billing_info"`
	}
	if err := doJSON(ctx, a.httpClient, http.MethodGet, a.baseURL+"/v1/billing/subscriptions/"+externalID, headers, nil, &res); err != nil {
		return nil, wrapHTTP(a.Name(), "GetSubscription", err)
	}
	out := &Subscription{ExternalID: res.ID, PlanRef: res.PlanID, Status: strings.ToLower(res.Status)}
	if t, err := time.Parse(time.RFC3339, res.BillingInfo.NextBillingTime); err == nil {
		out.CurrentPeriodEnd = &t
	}
	return out, nil
}

func (a *PayPalAdapter) CancelSubscription(ctx context.Context, externalID string) error {
	headers, err := a.authHeaders(ctx, "CancelSubscription")
	if err != nil {
		return err
	}
	payload := map[string]string{"reason": "canceled by user"}
	if err := doJSON(ctx, a.httpClient, http.MethodPost, a.baseURL+"/v1/billing/subscriptions/"+externalID+"/cancel", headers, payload, nil); err != nil {
		return wrapHTTP(a.Name(), "CancelSubscription", err)
	}
	return nil
}
