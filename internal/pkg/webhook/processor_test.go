package webhook

import (
	"errors"
	"testing"
	"time"

	"github.com/abeldemoz/birrledger/app/models"
	"github.com/abeldemoz/birrledger/app/repository"
	"github.com/abeldemoz/birrledger/internal/pkg/coupon"
	"github.com/abeldemoz/birrledger/internal/pkg/notification"
	"github.com/abeldemoz/birrledger/internal/pkg/provider"
	"github.com/abeldemoz/birrledger/internal/pkg/receipt"
	"github.com/abeldemoz/birrledger/internal/pkg/subscription"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type memEventRepo struct {
	events []*models.WebhookEvent
	nextID uint
}

func (r *memEventRepo) WithTx(tx *gorm.DB) repository.WebhookEventRepository { return r }

func (r *memEventRepo) CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	for _, e := range r.events {
		if e.Provider == event.Provider && e.ExternalEventID == event.ExternalEventID {
			cp := *e
			return false, &cp, nil
		}
	}
	r.nextID++
	event.ID = r.nextID
	cp := *event
	r.events = append(r.events, &cp)
	return true, event, nil
}

func (r *memEventRepo) MarkProcessed(id uint, processingError string) error {
	for _, e := range r.events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

type memSubRepo struct {
	subs []*models.UserSubscription
}

func (r *memSubRepo) WithTx(tx *gorm.DB) repository.SubscriptionRepository { return r }

func (r *memSubRepo) GetByUserID(userID uint) (*models.UserSubscription, error) {
	for _, s := range r.subs {
		if s.UserID == userID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memSubRepo) GetByProviderSubscriptionID(providerName, externalID string) (*models.UserSubscription, error) {
	for _, s := range r.subs {
		if s.Provider == providerName && s.ProviderSubscriptionID == externalID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memSubRepo) Create(sub *models.UserSubscription) error {
	sub.ID = uint(len(r.subs) + 1)
	cp := *sub
	r.subs = append(r.subs, &cp)
	return nil
}

func (r *memSubRepo) Save(sub *models.UserSubscription) error {
	for i, s := range r.subs {
		if s.ID == sub.ID {
			cp := *sub
			r.subs[i] = &cp
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

type memReceiptRepo struct {
	receipts  []*models.Receipt
	createErr error
}

func (r *memReceiptRepo) WithTx(tx *gorm.DB) repository.ReceiptRepository { return r }

func (r *memReceiptRepo) GetByExternalPayment(providerName, externalPaymentID string) (*models.Receipt, error) {
	for _, rc := range r.receipts {
		if rc.Provider == providerName && rc.ExternalPaymentID == externalPaymentID {
			cp := *rc
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memReceiptRepo) Create(rc *models.Receipt) error {
	if r.createErr != nil {
		return r.createErr
	}
	rc.ID = uint(len(r.receipts) + 1)
	cp := *rc
	r.receipts = append(r.receipts, &cp)
	return nil
}

func (r *memReceiptRepo) ListByUser(userID uint) ([]models.Receipt, error) { return nil, nil }

type memCouponRepo struct {
	coupons  map[string]*models.Coupon
	usages   []*models.CouponUsage
	countErr error
}

func (r *memCouponRepo) WithTx(tx *gorm.DB) repository.CouponRepository { return r }
func (r *memCouponRepo) GetByCode(code string) (*models.Coupon, error) {
	if c, ok := r.coupons[code]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}
func (r *memCouponRepo) GetTemplateByID(id uint) (*models.CouponTemplate, error) {
	return nil, gorm.ErrRecordNotFound
}
func (r *memCouponRepo) CreateTemplate(t *models.CouponTemplate) error { return nil }
func (r *memCouponRepo) CreateCoupon(c *models.Coupon) error           { return nil }
func (r *memCouponRepo) CountUsagesByUser(couponID, userID uint) (int64, error) {
	if r.countErr != nil {
		return 0, r.countErr
	}
	var n int64
	for _, u := range r.usages {
		if u.CouponID == couponID && u.UserID == userID {
			n++
		}
	}
	return n, nil
}
func (r *memCouponRepo) GetUsageByReference(couponID, userID uint, ref string) (*models.CouponUsage, error) {
	for _, u := range r.usages {
		if u.CouponID == couponID && u.UserID == userID && u.PaymentReference == ref {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}
func (r *memCouponRepo) IncrementUsage(couponID uint, version int) (bool, error) {
	for _, c := range r.coupons {
		if c.ID == couponID && c.Version == version {
			c.CurrentUsageCount++
			c.Version++
			return true, nil
		}
	}
	return false, nil
}
func (r *memCouponRepo) CreateUsage(usage *models.CouponUsage) error {
	cp := *usage
	r.usages = append(r.usages, &cp)
	return nil
}

type memCustomerRepo struct{}

func (memCustomerRepo) GetByUserID(userID uint) (*models.Customer, error) {
	return nil, gorm.ErrRecordNotFound
}
func (memCustomerRepo) Upsert(customer *models.Customer) error { return nil }
func (memCustomerRepo) GetProviderCustomerRef(providerName string, userID uint) (string, error) {
	return "", nil
}
func (memCustomerRepo) SaveProviderCustomerRef(providerName string, userID uint, externalID string) error {
	return nil
}

type memRefRepo struct {
	refs []models.PaymentGatewayRef
}

func (r *memRefRepo) WithTx(tx *gorm.DB) repository.GatewayRefRepository { return r }

func (r *memRefRepo) Upsert(providerName, externalID, kind string) error {
	for _, ref := range r.refs {
		if ref.Provider == providerName && ref.ExternalID == externalID && ref.Kind == kind {
			return nil
		}
	}
	r.refs = append(r.refs, models.PaymentGatewayRef{Provider: providerName, ExternalID: externalID, Kind: kind})
	return nil
}

type noteRecorder struct {
	receipts    []notification.ReceiptIssued
	transitions []notification.SubscriptionStatusChanged
}

func (n *noteRecorder) NotifyReceiptIssued(ev notification.ReceiptIssued) {
	n.receipts = append(n.receipts, ev)
}

func (n *noteRecorder) NotifySubscriptionStatusChanged(ev notification.SubscriptionStatusChanged) {
	n.transitions = append(n.transitions, ev)
}

type harness struct {
	processor *Processor
	events    *memEventRepo
	subs      *memSubRepo
	receipts  *memReceiptRepo
	coupons   *memCouponRepo
	notes     *noteRecorder
}

func newHarness() *harness {
	events := &memEventRepo{}
	subs := &memSubRepo{}
	receipts := &memReceiptRepo{}
	coupons := &memCouponRepo{coupons: map[string]*models.Coupon{}}
	notes := &noteRecorder{}
	repos := &repository.Repositories{
		Subscription: subs,
		Coupon:       coupons,
		Receipt:      receipts,
		WebhookEvent: events,
		GatewayRef:   &memRefRepo{},
	}
	verifier := &Verifier{
		paystackSecret: "sk_test_secret",
		chapaSecret:    "chapa_secret",
	}
	p := NewProcessor(
		nil,
		repos,
		verifier,
		coupon.NewService(nil, coupons, memCustomerRepo{}),
		subscription.NewService(subs),
		receipt.NewService(receipts, notes),
		notes,
	)
	return &harness{processor: p, events: events, subs: subs, receipts: receipts, coupons: coupons, notes: notes}
}

func paystackCharge() ([]byte, map[string]string) {
	body := []byte(`{
		"event": "charge.success",
		"data": {
			"reference": "ref_once",
			"amount": 1000,
			"currency": "USD",
			"metadata": {"user_id": "7"}
		}
	}`)
	headers := map[string]string{
		"x-paystack-signature": sha512HMAC(body, "sk_test_secret"),
	}
	return body, headers
}

func TestProcessRejectsBadSignature(t *testing.T) {
	h := newHarness()
	body, _ := paystackCharge()

	err := h.processor.Process(models.ProviderPaystack, body, map[string]string{
		"x-paystack-signature": "deadbeef",
	})
	require.True(t, errors.Is(err, ErrInvalidSignature))
	assert.Empty(t, h.events.events, "rejected delivery must leave no trace")
	assert.Empty(t, h.receipts.receipts)
}

func TestProcessRejectsUnknownProvider(t *testing.T) {
	h := newHarness()
	err := h.processor.Process("skrill", []byte(`{}`), nil)
	require.True(t, errors.Is(err, provider.ErrUnknownProvider))
}

func TestProcessIssuesReceiptOnce(t *testing.T) {
	h := newHarness()
	body, headers := paystackCharge()

	require.NoError(t, h.processor.Process(models.ProviderPaystack, body, headers))
	require.NoError(t, h.processor.Process(models.ProviderPaystack, body, headers))

	assert.Len(t, h.receipts.receipts, 1, "duplicate delivery must not produce a second receipt")
	assert.Len(t, h.notes.receipts, 1, "only the first issuance announces")
	require.Len(t, h.events.events, 1)
	assert.NotNil(t, h.events.events[0].ProcessedAt)
}

func TestProcessTransientFailureAllowsRedelivery(t *testing.T) {
	h := newHarness()
	body, headers := paystackCharge()

	h.receipts.createErr = errors.New("connection reset")
	err := h.processor.Process(models.ProviderPaystack, body, headers)
	require.Error(t, err)
	require.Len(t, h.events.events, 1)
	assert.Nil(t, h.events.events[0].ProcessedAt, "failed event must stay reprocessable")
	assert.Empty(t, h.notes.receipts, "a failed attempt must not announce a receipt")

	h.receipts.createErr = nil
	require.NoError(t, h.processor.Process(models.ProviderPaystack, body, headers))
	assert.Len(t, h.receipts.receipts, 1)
	assert.Len(t, h.notes.receipts, 1)
	assert.NotNil(t, h.events.events[0].ProcessedAt)
}

// A coupon-bearing payment whose eligibility lookup hits a database outage is
// not a rejected coupon; the delivery must stay pending so redelivery can
// settle it.
func TestProcessCouponLookupOutageAllowsRedelivery(t *testing.T) {
	h := newHarness()
	now := time.Now()
	h.coupons.coupons["SAVE20"] = &models.Coupon{
		ID:                 1,
		Code:               "SAVE20",
		DiscountPercentage: decimal.NewFromInt(20),
		Currency:           "USD",
		RecipientCategory:  models.RecipientAll,
		MaxUsageCount:      100,
		MaxUsagePerUser:    1,
		IsActive:           true,
		ValidFrom:          now.Add(-time.Hour),
		ValidUntil:         now.Add(time.Hour),
	}
	h.coupons.countErr = errors.New("driver: bad connection")

	body := []byte(`{
		"event": "charge.success",
		"data": {
			"reference": "ref_coupon",
			"amount": 1000,
			"currency": "USD",
			"metadata": {"user_id": "7", "coupon_code": "SAVE20"}
		}
	}`)
	headers := map[string]string{"x-paystack-signature": sha512HMAC(body, "sk_test_secret")}

	err := h.processor.Process(models.ProviderPaystack, body, headers)
	require.Error(t, err)
	var re *coupon.RedeemError
	assert.False(t, errors.As(err, &re), "an outage must not look like a business rejection")
	require.Len(t, h.events.events, 1)
	assert.Nil(t, h.events.events[0].ProcessedAt, "outage must leave the delivery pending")
	assert.Empty(t, h.receipts.receipts)

	h.coupons.countErr = nil
	require.NoError(t, h.processor.Process(models.ProviderPaystack, body, headers))
	assert.NotNil(t, h.events.events[0].ProcessedAt)
	assert.Len(t, h.receipts.receipts, 1)
	assert.Len(t, h.coupons.usages, 1)
}

func TestProcessSubscriptionLifecycleViaChapaUnknownEvent(t *testing.T) {
	h := newHarness()
	body := []byte(`{"event":"payout.success","tx_ref":"tx-1"}`)
	headers := map[string]string{"chapa-signature": sha256HMAC(body, "chapa_secret")}

	require.NoError(t, h.processor.Process(models.ProviderChapa, body, headers))
	require.Len(t, h.events.events, 1)
	assert.Equal(t, models.EventUnknown, h.events.events[0].EventType)
	assert.NotNil(t, h.events.events[0].ProcessedAt)
	assert.Empty(t, h.receipts.receipts)
}

func TestProcessCancellationBeatsLatePayment(t *testing.T) {
	h := newHarness()
	now := time.Now()
	last := now
	h.subs.subs = append(h.subs.subs, &models.UserSubscription{
		ID:                     1,
		UserID:                 7,
		Provider:               models.ProviderPaystack,
		ProviderSubscriptionID: "SUB_x1",
		Status:                 models.SubStatusCanceled,
		LastEventAt:            &last,
	})

	body := []byte(`{
		"event": "charge.success",
		"data": {
			"reference": "ref_late",
			"amount": 1000,
			"currency": "USD",
			"subscription_code": "SUB_x1",
			"metadata": {"user_id": "7"}
		}
	}`)
	headers := map[string]string{"x-paystack-signature": sha512HMAC(body, "sk_test_secret")}

	require.NoError(t, h.processor.Process(models.ProviderPaystack, body, headers))
	sub, err := h.subs.GetByUserID(7)
	require.NoError(t, err)
	assert.Equal(t, models.SubStatusCanceled, sub.Status)
}
