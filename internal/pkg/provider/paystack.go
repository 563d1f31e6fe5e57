package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/abeldemoz/birrledger/app/models"
	"github.com/abeldemoz/birrledger/internal/pkg/env"
)

const defaultPaystackBaseURL = "https://api.paystack.co"

// PaystackAdapter covers Paystack's transaction, plan and subscription APIs.
// Direct card charges require client-side tokenization and stay unimplemented.
type PaystackAdapter struct {
	unimplemented
	httpClient *http.Client
	baseURL    string
	secretKey  string
}

func NewPaystackAdapterFromEnv() *PaystackAdapter {
	return &PaystackAdapter{
		unimplemented: unimplemented{provider: models.ProviderPaystack},
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		baseURL:       strings.TrimRight(env.GetEnv("PAYSTACK_BASE_URL", defaultPaystackBaseURL), "/"),
		secretKey:     strings.TrimSpace(env.GetEnv("PAYSTACK_SECRET_KEY", "")),
	}
}

func (a *PaystackAdapter) Name() string { return models.ProviderPaystack }

func (a *PaystackAdapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.secretKey}
}

func (a *PaystackAdapter) InitializeSubscriptionPayment(ctx context.Context, in InitializeParams) (*CheckoutSession, error) {
	payload := map[string]interface{}{
		"email":     in.Email,
		"amount":    in.Amount.MinorUnits(),
		"currency":  in.Amount.Currency,
		"reference": in.Reference,
	}
	if in.PlanRef != "" {
		payload["plan"] = in.PlanRef
	}
	if in.CallbackURL != "" {
		payload["callback_url"] = in.CallbackURL
	}

	var res struct {
		Data struct {
			AuthorizationURL string `json:"authorization_url"`
			AccessCode       string `json:"access_code"`
			Reference        string `json:"reference"`
		} `json:"data"`
	}
	if err := doJSON(ctx, a.httpClient, http.MethodPost, a.baseURL+"/transaction/initialize", a.headers(), payload, &res); err != nil {
		return nil, wrapHTTP(a.Name(), "InitializeSubscriptionPayment", err)
	}
	return &CheckoutSession{
		Reference:   res.Data.Reference,
		ExternalID:  res.Data.AccessCode,
		RedirectURL: res.Data.AuthorizationURL,
	}, nil
}

// paystackTransaction is the shared shape of verify/fetch responses.
type paystackTransaction struct {
	Data struct {
		ID       int64  `json:"id"`
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		PaidAt   string `json:"paid_at"`
		Customer struct {
			CustomerCode string `json:"customer_code"`
		} `json:"customer"`
	} `json:"data"`
}

func (a *PaystackAdapter) paymentFromTransaction(reference string, res paystackTransaction) *Payment {
	status := PaymentStatusPending
	switch res.Data.Status {
	case "success":
		status = PaymentStatusSucceeded
	case "failed", "abandoned", "reversed":
		status = PaymentStatusFailed
	}
	p := &Payment{
		Provider:   a.Name(),
		ExternalID: fmt.Sprintf("%d", res.Data.ID),
		Reference:  reference,
		Amount:     models.NewMoney(decimalFromMinorUnits(res.Data.Amount, res.Data.Currency), res.Data.Currency),
		Status:     status,
		CustomerID: res.Data.Customer.CustomerCode,
	}
	if t, err := time.Parse(time.RFC3339, res.Data.PaidAt); err == nil {
		p.PaidAt = &t
	}
	return p
}

func (a *PaystackAdapter) VerifyPayment(ctx context.Context, reference string) (*Payment, error) {
	var res paystackTransaction
	if err := doJSON(ctx, a.httpClient, http.MethodGet, a.baseURL+"/transaction/verify/"+reference, a.headers(), nil, &res); err != nil {
		return nil, wrapHTTP(a.Name(), "VerifyPayment", err)
	}
	return a.paymentFromTransaction(reference, res), nil
}

func (a *PaystackAdapter) GetPayment(ctx context.Context, externalID string) (*Payment, error) {
	var res paystackTransaction
	if err := doJSON(ctx, a.httpClient, http.MethodGet, a.baseURL+"/transaction/"+externalID, a.headers(), nil, &res); err != nil {
		return nil, wrapHTTP(a.Name(), "GetPayment", err)
	}
	return a.paymentFromTransaction("", res), nil
}

func (a *PaystackAdapter) RefundPayment(ctx context.Context, externalID string, amount models.Money) (*Payment, error) {
	payload := map[string]interface{}{
		"transaction": externalID,
		"amount":      amount.MinorUnits(),
	}
	if err := doJSON(ctx, a.httpClient, http.MethodPost, a.baseURL+"/refund", a.headers(), payload, nil); err != nil {
		return nil, wrapHTTP(a.Name(), "RefundPayment", err)
	}
	return a.GetPayment(ctx, externalID)
}

func (a *PaystackAdapter) GetOrCreateCustomer(ctx context.Context, in CustomerParams) (*Customer, error) {
	payload := map[string]interface{}{"email": in.Email}
	if in.Name != "" {
		payload["first_name"] = in.Name
	}
	var res struct {
		Data struct {
			CustomerCode string `json:"customer_code"`
		} `json:"data"`
	}
	// Paystack upserts customers by email, so repeated calls are safe.
	if err := doJSON(ctx, a.httpClient, http.MethodPost, a.baseURL+"/customer", a.headers(), payload, &res); err != nil {
		return nil, wrapHTTP(a.Name(), "GetOrCreateCustomer", err)
	}
	return &Customer{ExternalID: res.Data.CustomerCode, Email: in.Email}, nil
}

func paystackInterval(unit string, value int) string {
	switch unit {
	case models.IntervalUnitDay:
		return "daily"
	case models.IntervalUnitYear:
		return "annually"
	default:
		if value >= 3 {
			return "quarterly"
		}
		return "monthly"
	}
}

func (a *PaystackAdapter) EnsurePlanExists(ctx context.Context, plan models.SubscriptionPlan) (string, error) {
	price := plan.Price()
	payload := map[string]interface{}{
		"name":     plan.Name,
		"amount":   price.MinorUnits(),
		"currency": price.Currency,
		"interval": paystackInterval(plan.IntervalUnit, plan.IntervalValue),
	}
	var res struct {
		Data struct {
			PlanCode string `json:"plan_code"`
		} `json:"data"`
	}
	if err := doJSON(ctx, a.httpClient, http.MethodPost, a.baseURL+"/plan", a.headers(), payload, &res); err != nil {
		return "", wrapHTTP(a.Name(), "EnsurePlanExists", err)
	}
	return res.Data.PlanCode, nil
}

func (a *PaystackAdapter) CreateSubscription(ctx context.Context, in SubscriptionParams) (*Subscription, error) {
	payload := map[string]interface{}{
		"customer": in.CustomerID,
		"plan":     in.PlanRef,
	}
	var res struct {
		Data struct {
			SubscriptionCode string `json:"subscription_code"`
			Status           string `json:"status"`
			NextPaymentDate  string `json:"next_payment_date"`
		} `json:"data"`
	}
	if err := doJSON(ctx, a.httpClient, http.MethodPost, a.baseURL+"/subscription", a.headers(), payload, &res); err != nil {
		return nil, wrapHTTP(a.Name(), "CreateSubscription", err)
	}
	out := &Subscription{ExternalID: res.Data.SubscriptionCode, PlanRef: in.PlanRef, Status: res.Data.Status}
	if t, err := time.Parse(time.RFC3339, res.Data.NextPaymentDate); err == nil {
		out.CurrentPeriodEnd = &t
	}
	return out, nil
}

func (a *PaystackAdapter) GetSubscription(ctx context.Context, externalID string) (*Subscription, error) {
	sub, _, err := a.fetchSubscription(ctx, externalID)
	return sub, err
}

func (a *PaystackAdapter) fetchSubscription(ctx context.Context, externalID string) (*Subscription, string, error) {
	var res struct {
		Data struct {
			SubscriptionCode string `json:"subscription_code"`
			Status           string `json:"status"`
			EmailToken       string `json:"email_token"`
			NextPaymentDate  string `json:"next_payment_date"`
			Plan             struct {
				PlanCode string `json:"plan_code"`
			} `json:"plan"`
		} `json:"data"`
	}
	if err := doJSON(ctx, a.httpClient, http.MethodGet, a.baseURL+"/subscription/"+externalID, a.headers(), nil, &res); err != nil {
		return nil, "", wrapHTTP(a.Name(), "GetSubscription", err)
	}
	out := &Subscription{
		ExternalID: res.Data.SubscriptionCode,
		PlanRef:    res.Data.Plan.PlanCode,
		Status:     res.Data.Status,
	}
	if t, err := time.Parse(time.RFC3339, res.Data.NextPaymentDate); err == nil {
		out.CurrentPeriodEnd = &t
	}
	return out, res.Data.EmailToken, nil
}

func (a *PaystackAdapter) CancelSubscription(ctx context.Context, externalID string) error {
	// Disabling requires the subscription's email token, so fetch first.
	sub, token, err := a.fetchSubscription(ctx, externalID)
	if err != nil {
		return err
	}
	payload := map[string]interface{}{
		"code":  sub.ExternalID,
		"token": token,
	}
	if err := doJSON(ctx, a.httpClient, http.MethodPost, a.baseURL+"/subscription/disable", a.headers(), payload, nil); err != nil {
		return wrapHTTP(a.Name(), "CancelSubscription", err)
	}
	return nil
}
