package coupon

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/abeldemoz/birrledger/app/models"
	"github.com/abeldemoz/birrledger/app/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeCouponRepo struct {
	mu      sync.Mutex
	coupons map[string]*models.Coupon
	usages  []*models.CouponUsage
	nextID  uint

	// failIncrement forces every compare-and-swap to lose its race.
	failIncrement bool
	// countErr makes the per-user usage count fail like a dropped connection.
	countErr error
}

func newFakeCouponRepo(coupons ...*models.Coupon) *fakeCouponRepo {
	r := &fakeCouponRepo{coupons: make(map[string]*models.Coupon)}
	for _, c := range coupons {
		r.coupons[c.Code] = c
	}
	return r
}

func (r *fakeCouponRepo) WithTx(tx *gorm.DB) repository.CouponRepository { return r }

func (r *fakeCouponRepo) GetByCode(code string) (*models.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[code]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCouponRepo) GetTemplateByID(id uint) (*models.CouponTemplate, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeCouponRepo) CreateTemplate(t *models.CouponTemplate) error { return nil }

func (r *fakeCouponRepo) CreateCoupon(c *models.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coupons[c.Code] = c
	return nil
}

func (r *fakeCouponRepo) CountUsagesByUser(couponID, userID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
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

func (r *fakeCouponRepo) GetUsageByReference(couponID, userID uint, paymentReference string) (*models.CouponUsage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.usages {
		if u.CouponID == couponID && u.UserID == userID && u.PaymentReference == paymentReference {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeCouponRepo) IncrementUsage(couponID uint, version int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failIncrement {
		return false, nil
	}
	for _, c := range r.coupons {
		if c.ID == couponID && c.Version == version {
			c.CurrentUsageCount++
			c.Version++
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeCouponRepo) CreateUsage(usage *models.CouponUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.usages {
		if u.CouponID == usage.CouponID && u.UserID == usage.UserID && u.PaymentReference == usage.PaymentReference {
			return gorm.ErrDuplicatedKey
		}
	}
	r.nextID++
	usage.ID = r.nextID
	cp := *usage
	r.usages = append(r.usages, &cp)
	return nil
}

type fakeCustomerRepo struct {
	customers map[uint]*models.Customer
	getErr    error
}

func (r *fakeCustomerRepo) GetByUserID(userID uint) (*models.Customer, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	c, ok := r.customers[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return c, nil
}

func (r *fakeCustomerRepo) Upsert(customer *models.Customer) error { return nil }

func (r *fakeCustomerRepo) GetProviderCustomerRef(providerName string, userID uint) (string, error) {
	return "", nil
}

func (r *fakeCustomerRepo) SaveProviderCustomerRef(providerName string, userID uint, externalID string) error {
	return nil
}

func usd(amount string) models.Money {
	m, err := models.MoneyFromString(amount, "USD")
	if err != nil {
		panic(err)
	}
	return m
}

func save20() *models.Coupon {
	now := time.Now()
	return &models.Coupon{
		ID:                 1,
		Code:               "SAVE20",
		DiscountPercentage: decimal.NewFromInt(20),
		MinPurchaseAmount:  decimal.NewFromInt(5),
		Currency:           "USD",
		RecipientCategory:  models.RecipientAll,
		MaxUsageCount:      100,
		MaxUsagePerUser:    1,
		IsActive:           true,
		ValidFrom:          now.Add(-time.Hour),
		ValidUntil:         now.Add(24 * time.Hour),
	}
}

func newTestService(coupons *fakeCouponRepo, customers *fakeCustomerRepo) *Service {
	if customers == nil {
		customers = &fakeCustomerRepo{customers: map[uint]*models.Customer{}}
	}
	return NewService(nil, coupons, customers)
}

func TestValidateComputesDiscount(t *testing.T) {
	svc := newTestService(newFakeCouponRepo(save20()), nil)

	res, err := svc.Validate("SAVE20", 7, usd("10.00"))
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Equal(t, "2", res.DiscountAmount.Amount.String())
	assert.Equal(t, "8", res.FinalAmount.Amount.String())
	assert.Equal(t, "USD", res.FinalAmount.Currency)
}

func TestValidateReasonCodes(t *testing.T) {
	now := time.Now()

	expired := save20()
	expired.Code = "OLD"
	expired.ValidUntil = now.Add(-time.Hour)

	inactive := save20()
	inactive.Code = "OFF"
	inactive.IsActive = false

	exhausted := save20()
	exhausted.Code = "FULL"
	exhausted.MaxUsageCount = 3
	exhausted.CurrentUsageCount = 3

	students := save20()
	students.Code = "STUDENT20"
	students.RecipientCategory = models.RecipientStudent

	repo := newFakeCouponRepo(save20(), expired, inactive, exhausted, students)
	customers := &fakeCustomerRepo{customers: map[uint]*models.Customer{
		7: {UserID: 7, Category: models.RecipientFreelancer},
	}}
	svc := newTestService(repo, customers)

	tests := []struct {
		name     string
		code     string
		purchase models.Money
		reason   string
	}{
		{"unknown code", "NOPE", usd("10.00"), ReasonNotFound},
		{"expired window", "OLD", usd("10.00"), ReasonExpired},
		{"deactivated", "OFF", usd("10.00"), ReasonInvalid},
		{"below minimum", "SAVE20", usd("3.00"), ReasonBelowMinimum},
		{"currency mismatch", "SAVE20", models.NewMoney(decimal.NewFromInt(10), "EUR"), ReasonInvalid},
		{"global cap reached", "FULL", usd("10.00"), ReasonUsageLimitReached},
		{"wrong recipient category", "STUDENT20", usd("10.00"), ReasonNotEligible},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := svc.Validate(tc.code, 7, tc.purchase)
			require.NoError(t, err)
			assert.False(t, res.OK)
			assert.Equal(t, tc.reason, res.Reason)
		})
	}
}

func TestValidatePerUserLimit(t *testing.T) {
	repo := newFakeCouponRepo(save20())
	svc := newTestService(repo, nil)

	_, err := svc.Redeem("SAVE20", 7, usd("10.00"), "pay_1")
	require.NoError(t, err)

	res, err := svc.Validate("SAVE20", 7, usd("10.00"))
	require.NoError(t, err)
	assert.Equal(t, ReasonUserLimitReached, res.Reason)

	// A different user is unaffected.
	res, err = svc.Validate("SAVE20", 8, usd("10.00"))
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestRedeemRecordsUsage(t *testing.T) {
	repo := newFakeCouponRepo(save20())
	svc := newTestService(repo, nil)

	usage, err := svc.Redeem("SAVE20", 7, usd("10.00"), "pay_abc")
	require.NoError(t, err)
	assert.Equal(t, "2", usage.DiscountAmount.String())
	assert.Equal(t, "8", usage.FinalAmount.String())

	c, err := repo.GetByCode("SAVE20")
	require.NoError(t, err)
	assert.Equal(t, 1, c.CurrentUsageCount)
	assert.Equal(t, 1, c.Version)
}

func TestRedeemReplaySameReferenceIsNoOp(t *testing.T) {
	repo := newFakeCouponRepo(save20())
	svc := newTestService(repo, nil)

	first, err := svc.Redeem("SAVE20", 7, usd("10.00"), "pay_abc")
	require.NoError(t, err)

	second, err := svc.Redeem("SAVE20", 7, usd("10.00"), "pay_abc")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	c, err := repo.GetByCode("SAVE20")
	require.NoError(t, err)
	assert.Equal(t, 1, c.CurrentUsageCount)
	assert.Len(t, repo.usages, 1)
}

func TestRedeemTypedFailures(t *testing.T) {
	repo := newFakeCouponRepo(save20())
	svc := newTestService(repo, nil)

	_, err := svc.Redeem("SAVE20", 7, usd("3.00"), "pay_low")
	var re *RedeemError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, ReasonBelowMinimum, re.Reason)

	_, err = svc.Redeem("NOPE", 7, usd("10.00"), "pay_x")
	require.True(t, errors.As(err, &re))
	assert.Equal(t, ReasonNotFound, re.Reason)
}

// A database that cannot answer a lookup is not a rejected coupon. The error
// must stay untyped so webhook handling leaves the delivery unacknowledged
// instead of archiving it.
func TestRedeemLookupFailureIsNotARejection(t *testing.T) {
	dbDown := errors.New("driver: bad connection")

	t.Run("customer lookup fails", func(t *testing.T) {
		students := save20()
		students.RecipientCategory = models.RecipientStudent
		repo := newFakeCouponRepo(students)
		customers := &fakeCustomerRepo{getErr: dbDown}
		svc := newTestService(repo, customers)

		_, err := svc.Redeem("SAVE20", 7, usd("10.00"), "pay_down")
		require.ErrorIs(t, err, dbDown)
		var re *RedeemError
		assert.False(t, errors.As(err, &re))
		assert.Empty(t, repo.usages)
	})

	t.Run("usage count fails", func(t *testing.T) {
		repo := newFakeCouponRepo(save20())
		repo.countErr = dbDown
		svc := newTestService(repo, nil)

		_, err := svc.Redeem("SAVE20", 7, usd("10.00"), "pay_down")
		require.ErrorIs(t, err, dbDown)
		var re *RedeemError
		assert.False(t, errors.As(err, &re))

		_, err = svc.Validate("SAVE20", 7, usd("10.00"))
		require.ErrorIs(t, err, dbDown)
	})

	// A genuinely absent customer row is still a business outcome.
	t.Run("missing customer row stays not_eligible", func(t *testing.T) {
		students := save20()
		students.RecipientCategory = models.RecipientStudent
		repo := newFakeCouponRepo(students)
		svc := newTestService(repo, nil)

		_, err := svc.Redeem("SAVE20", 7, usd("10.00"), "pay_anon")
		var re *RedeemError
		require.True(t, errors.As(err, &re))
		assert.Equal(t, ReasonNotEligible, re.Reason)
	})
}

func TestRedeemExhaustedRetriesReportConflict(t *testing.T) {
	repo := newFakeCouponRepo(save20())
	repo.failIncrement = true
	svc := newTestService(repo, nil)

	_, err := svc.Redeem("SAVE20", 7, usd("10.00"), "pay_race")
	var re *RedeemError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, ReasonConflict, re.Reason)
	assert.Empty(t, repo.usages)
}

// Hammer a capped coupon from many goroutines and check the committed usage
// count never exceeds the cap.
func TestRedeemConcurrentUsageNeverExceedsCap(t *testing.T) {
	const maxUses = 5
	const attempts = 60

	c := save20()
	c.MaxUsageCount = maxUses
	c.MaxUsagePerUser = 0
	repo := newFakeCouponRepo(c)
	svc := newTestService(repo, nil)

	var wg sync.WaitGroup
	var succeeded int64
	var mu sync.Mutex
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Redeem("SAVE20", uint(100+i), usd("10.00"), fmt.Sprintf("pay_%d", i))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	final, err := repo.GetByCode("SAVE20")
	require.NoError(t, err)
	assert.LessOrEqual(t, final.CurrentUsageCount, maxUses)
	assert.EqualValues(t, final.CurrentUsageCount, succeeded)
	assert.EqualValues(t, succeeded, len(repo.usages))
}
