package provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/abeldemoz/birrledger/app/models"
	"github.com/abeldemoz/birrledger/internal/pkg/env"
	"github.com/shopspring/decimal"
)

const defaultChapaBaseURL = "https://api.chapa.co/v1"

// ChapaAdapter covers Chapa's hosted checkout and verification APIs. Chapa
// has no remote plan or subscription objects, so those verbs report
// NotImplemented and recurring billing is driven locally off payment events.
type ChapaAdapter struct {
	unimplemented
	httpClient *http.Client
	baseURL    string
	secretKey  string
}

func NewChapaAdapterFromEnv() *ChapaAdapter {
	return &ChapaAdapter{
		unimplemented: unimplemented{provider: models.ProviderChapa},
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		baseURL:       strings.TrimRight(env.GetEnv("CHAPA_BASE_URL", defaultChapaBaseURL), "/"),
		secretKey:     strings.TrimSpace(env.GetEnv("CHAPA_SECRET_KEY", "")),
	}
}

func (a *ChapaAdapter) Name() string { return models.ProviderChapa }

func (a *ChapaAdapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.secretKey}
}

func (a *ChapaAdapter) InitializeSubscriptionPayment(ctx context.Context, in InitializeParams) (*CheckoutSession, error) {
	payload := map[string]interface{}{
		"amount":   in.Amount.Amount.String(),
		"currency": in.Amount.Currency,
		"email":    in.Email,
		"tx_ref":   in.Reference,
	}
	if in.CallbackURL != "" {
		payload["callback_url"] = in.CallbackURL
	}

	var res struct {
		Data struct {
			CheckoutURL string `json:"checkout_url"`
		} `json:"data"`
	}
	if err := doJSON(ctx, a.httpClient, http.MethodPost, a.baseURL+"/transaction/initialize", a.headers(), payload, &res); err != nil {
		return nil, wrapHTTP(a.Name(), "InitializeSubscriptionPayment", err)
	}
	return &CheckoutSession{Reference: in.Reference, RedirectURL: res.Data.CheckoutURL}, nil
}

func (a *ChapaAdapter) VerifyPayment(ctx context.Context, reference string) (*Payment, error) {
	var res struct {
		Data struct {
			Status        string `json:"status"`
			Amount        string `json:"amount"`
			Currency      string `json:"currency"`
			ReferenceID   string `json:"reference"`
			CreatedAtISO  string `json:"created_at"`
			TransactionID string `json:"tx_ref"`
		} `json:"data"`
	}
	if err := doJSON(ctx, a.httpClient, http.MethodGet, a.baseURL+"/transaction/verify/"+reference, a.headers(), nil, &res); err != nil {
		return nil, wrapHTTP(a.Name(), "VerifyPayment", err)
	}

	status := PaymentStatusPending
	switch res.Data.Status {
	case "success":
		status = PaymentStatusSucceeded
	case "failed":
		status = PaymentStatusFailed
	}
	amount, err := decimal.NewFromString(res.Data.Amount)
	if err != nil {
		amount = decimal.Zero
	}
	p := &Payment{
		Provider:   a.Name(),
		ExternalID: res.Data.ReferenceID,
		Reference:  reference,
		Amount:     models.NewMoney(amount, res.Data.Currency),
		Status:     status,
	}
	if t, parseErr := time.Parse(time.RFC3339, res.Data.CreatedAtISO); parseErr == nil {
		p.PaidAt = &t
	}
	return p, nil
}

// GetPayment resolves by reference; Chapa indexes transactions by tx_ref.
func (a *ChapaAdapter) GetPayment(ctx context.Context, externalID string) (*Payment, error) {
	return a.VerifyPayment(ctx, externalID)
}
