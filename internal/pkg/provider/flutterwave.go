package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/abeldemoz/birrledger/app/models"
	"github.com/abeldemoz/birrledger/internal/pkg/env"
	"github.com/shopspring/decimal"
)

const defaultFlutterwaveBaseURL = "https://api.flutterwave.com/v3"

// FlutterwaveAdapter covers hosted payments, verification, payment plans and
// subscription cancellation. Customer objects and plan changes have no
// Flutterwave API equivalent and report NotImplemented.
type FlutterwaveAdapter struct {
	unimplemented
	httpClient *http.Client
	baseURL    string
	secretKey  string
}

func NewFlutterwaveAdapterFromEnv() *FlutterwaveAdapter {
	return &FlutterwaveAdapter{
		unimplemented: unimplemented{provider: models.ProviderFlutterwave},
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		baseURL:       strings.TrimRight(env.GetEnv("FLW_BASE_URL", defaultFlutterwaveBaseURL), "/"),
		secretKey:     strings.TrimSpace(env.GetEnv("FLW_SECRET_KEY", "")),
	}
}

func (a *FlutterwaveAdapter) Name() string { return models.ProviderFlutterwave }

func (a *FlutterwaveAdapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.secretKey}
}

func (a *FlutterwaveAdapter) InitializeSubscriptionPayment(ctx context.Context, in InitializeParams) (*CheckoutSession, error) {
	payload := map[string]interface{}{
		"tx_ref":   in.Reference,
		"amount":   in.Amount.Amount.String(),
		"currency": in.Amount.Currency,
		"customer": map[string]string{"email": in.Email},
	}
	if in.PlanRef != "" {
		payload["payment_plan"] = in.PlanRef
	}
	if in.CallbackURL != "" {
		payload["redirect_url"] = in.CallbackURL
	}

	var res struct {
		Data struct {
			Link string `json:"link"`
		} `json:"data"`
	}
	if err := doJSON(ctx, a.httpClient, http.MethodPost, a.baseURL+"/payments", a.headers(), payload, &res); err != nil {
		return nil, wrapHTTP(a.Name(), "InitializeSubscriptionPayment", err)
	}
	return &CheckoutSession{Reference: in.Reference, RedirectURL: res.Data.Link}, nil
}

type flutterwaveTransaction struct {
	Data struct {
		ID        int64           `json:"id"`
		TxRef     string          `json:"tx_ref"`
		Status    string          `json:"status"`
		Amount    decimal.Decimal `json:"amount"`
		Currency  string          `json:"currency"`
		CreatedAt string          `json:"created_at"`
	} `json:"data"`
}

func (a *FlutterwaveAdapter) paymentFromTransaction(res flutterwaveTransaction) *Payment {
	status := PaymentStatusPending
	switch res.Data.Status {
	case "successful":
		status = PaymentStatusSucceeded
	case "failed":
		status = PaymentStatusFailed
	}
	p := &Payment{
		Provider:   a.Name(),
		ExternalID: fmt.Sprintf("%d", res.Data.ID),
		Reference:  res.Data.TxRef,
		Amount:     models.NewMoney(res.Data.Amount, res.Data.Currency),
		Status:     status,
	}
	if t, err := time.Parse(time.RFC3339, res.Data.CreatedAt); err == nil {
		p.PaidAt = &t
	}
	return p
}

func (a *FlutterwaveAdapter) VerifyPayment(ctx context.Context, reference string) (*Payment, error) {
	var res flutterwaveTransaction
	url := a.baseURL + "/transactions/verify_by_reference?tx_ref=" + reference
	if err := doJSON(ctx, a.httpClient, http.MethodGet, url, a.headers(), nil, &res); err != nil {
		return nil, wrapHTTP(a.Name(), "VerifyPayment", err)
	}
	return a.paymentFromTransaction(res), nil
}

func (a *FlutterwaveAdapter) GetPayment(ctx context.Context, externalID string) (*Payment, error) {
	var res flutterwaveTransaction
	if err := doJSON(ctx, a.httpClient, http.MethodGet, a.baseURL+"/transactions/"+externalID+"/verify", a.headers(), nil, &res); err != nil {
		return nil, wrapHTTP(a.Name(), "GetPayment", err)
	}
	return a.paymentFromTransaction(res), nil
}

func (a *FlutterwaveAdapter) RefundPayment(ctx context.Context, externalID string, amount models.Money) (*Payment, error) {
	payload := map[string]interface{}{"amount": amount.Amount.String()}
	if err := doJSON(ctx, a.httpClient, http.MethodPost, a.baseURL+"/transactions/"+externalID+"/refund", a.headers(), payload, nil); err != nil {
		return nil, wrapHTTP(a.Name(), "RefundPayment", err)
	}
	return a.GetPayment(ctx, externalID)
}

func flutterwaveInterval(unit string) string {
	switch unit {
	case models.IntervalUnitDay:
		return "daily"
	case models.IntervalUnitYear:
		return "yearly"
	default:
		return "monthly"
	}
}

func (a *FlutterwaveAdapter) EnsurePlanExists(ctx context.Context, plan models.SubscriptionPlan) (string, error) {
	price := plan.Price()
	payload := map[string]interface{}{
		"name":     plan.Name,
		"amount":   price.Amount.String(),
		"currency": price.Currency,
		"interval": flutterwaveInterval(plan.IntervalUnit),
	}
	var res struct {
		Data struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	if err := doJSON(ctx, a.httpClient, http.MethodPost, a.baseURL+"/payment-plans", a.headers(), payload, &res); err != nil {
		return "", wrapHTTP(a.Name(), "EnsurePlanExists", err)
	}
	return fmt.Sprintf("%d", res.Data.ID), nil
}

func (a *FlutterwaveAdapter) GetSubscription(ctx context.Context, externalID string) (*Subscription, error) {
	var res struct {
		Data []struct {
			ID     int64  `json:"id"`
			Status string `json:"status"`
			Plan   int64  `json:"plan"`
		} `json:"data"`
	}
	if err := doJSON(ctx, a.httpClient, http.MethodGet, a.baseURL+"/subscriptions?subscription_id="+externalID, a.headers(), nil, &res); err != nil {
		return nil, wrapHTTP(a.Name(), "GetSubscription", err)
	}
	if len(res.Data) == 0 {
		return nil, Rejected(a.Name(), "GetSubscription", fmt.Errorf("subscription %s not found", externalID))
	}
	return &Subscription{
		ExternalID: fmt.Sprintf("%d", res.Data[0].ID),
		PlanRef:    fmt.Sprintf("%d", res.Data[0].Plan),
		Status:     res.Data[0].Status,
	}, nil
}

func (a *FlutterwaveAdapter) CancelSubscription(ctx context.Context, externalID string) error {
	if err := doJSON(ctx, a.httpClient, http.MethodPut, a.baseURL+"/subscriptions/"+externalID+"/cancel", a.headers(), nil, nil); err != nil {
		return wrapHTTP(a.Name(), "CancelSubscription", err)
	}
	return nil
}
