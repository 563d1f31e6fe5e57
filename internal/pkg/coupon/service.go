package coupon

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/abeldemoz/birrledger/app/models"
	"github.com/abeldemoz/birrledger/app/repository"
	"gorm.io/gorm"
)

// Validation/redemption reason codes surfaced to the request layer.
const (
	ReasonNotFound          = "not_found"
	ReasonExpired           = "expired"
	ReasonInvalid           = "invalid"
	ReasonBelowMinimum      = "below_minimum"
	ReasonUsageLimitReached = "usage_limit_reached"
	ReasonUserLimitReached  = "user_limit_reached"
	ReasonNotEligible       = "not_eligible"
	ReasonConflict          = "concurrent_usage_conflict"
)

// defaultMaxAttempts bounds the optimistic retry loop. Contention windows are
// sub-millisecond, so no backoff between attempts.
const defaultMaxAttempts = 3

// errVersionConflict signals a lost compare-and-swap race inside one attempt.
var errVersionConflict = errors.New("coupon version conflict")

// ValidationResult is the read-only answer of Validate. It may be stale by
// the time redemption runs; Redeem re-validates atomically.
type ValidationResult struct {
	OK             bool            `json:"ok"`
	Reason         string          `json:"reason,omitempty"`
	DiscountAmount *models.Money   `json:"discount_amount,omitempty"`
	FinalAmount    *models.Money   `json:"final_amount,omitempty"`
	Coupon         *models.Coupon  `json:"-"`
}

// RedeemError is a typed redemption failure carrying a UI-usable reason code.
type RedeemError struct {
	Reason string
}

func (e *RedeemError) Error() string {
	return "coupon redemption failed: " + e.Reason
}

// Service validates coupon eligibility and commits redemptions under
// optimistic concurrency.
type Service struct {
	db          *gorm.DB
	coupons     repository.CouponRepository
	customers   repository.CustomerRepository
	maxAttempts int
	now         func() time.Time
}

// NewService creates a coupon service from injected repositories.
func NewService(db *gorm.DB, coupons repository.CouponRepository, customers repository.CustomerRepository) *Service {
	return &Service{
		db:          db,
		coupons:     coupons,
		customers:   customers,
		maxAttempts: defaultMaxAttempts,
		now:         time.Now,
	}
}

// NewServiceFromDB creates a coupon service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(db, repository.NewCouponRepository(db), repository.NewCustomerRepository(db))
}

// WithTx returns a service whose writes run inside the given transaction
// instead of opening its own.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{
		coupons:     s.coupons.WithTx(tx),
		customers:   s.customers,
		maxAttempts: s.maxAttempts,
		now:         s.now,
	}
}

// inTx runs fn inside one database transaction. With a nil handle (bound to
// an outer transaction, or unit tests against fakes) fn runs directly.
func (s *Service) inTx(fn func(tx *gorm.DB) error) error {
	if s.db == nil {
		return fn(nil)
	}
	return s.db.Transaction(fn)
}

func (s *Service) txCoupons(tx *gorm.DB) repository.CouponRepository {
	if tx == nil {
		return s.coupons
	}
	return s.coupons.WithTx(tx)
}

// Validate runs the eligibility checks in a fixed order without writing
// anything. Expected business outcomes come back as reason codes, never as
// errors.
func (s *Service) Validate(code string, userID uint, purchase models.Money) (*ValidationResult, error) {
	c, err := s.coupons.GetByCode(code)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ValidationResult{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load coupon %q: %w", code, err)
	}
	reason, err := s.checkCoupon(s.coupons, c, userID, purchase)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return &ValidationResult{Reason: reason}, nil
	}

	discount := purchase.Percent(c.DiscountPercentage)
	final, err := purchase.Sub(discount)
	if err != nil {
		return &ValidationResult{Reason: ReasonInvalid}, nil
	}
	return &ValidationResult{OK: true, DiscountAmount: &discount, FinalAmount: &final, Coupon: c}, nil
}

// checkCoupon applies every policy check against a freshly read row and
// returns the first failing reason, or "" when the coupon is redeemable.
// Lookup failures come back as errors, never as reason codes, so callers can
// tell a rejected coupon from a database that could not answer.
func (s *Service) checkCoupon(coupons repository.CouponRepository, c *models.Coupon, userID uint, purchase models.Money) (string, error) {
	now := s.now()
	if !c.IsActive {
		return ReasonInvalid, nil
	}
	if !c.ValidAt(now) {
		return ReasonExpired, nil
	}

	if purchase.Currency != c.Currency {
		return ReasonInvalid, nil
	}
	if !c.MinPurchaseAmount.IsZero() {
		enough, err := purchase.GreaterThanOrEqual(c.MinPurchase())
		if err != nil || !enough {
			return ReasonBelowMinimum, nil
		}
	}

	if c.UsageExhausted() {
		return ReasonUsageLimitReached, nil
	}

	if c.MaxUsagePerUser > 0 {
		used, err := coupons.CountUsagesByUser(c.ID, userID)
		if err != nil {
			return "", fmt.Errorf("count usages for coupon=%d user=%d: %w", c.ID, userID, err)
		}
		if used >= int64(c.MaxUsagePerUser) {
			return ReasonUserLimitReached, nil
		}
	}

	if c.RecipientCategory != "" && c.RecipientCategory != models.RecipientAll {
		customer, err := s.customers.GetByUserID(userID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ReasonNotEligible, nil
		}
		if err != nil {
			return "", fmt.Errorf("load customer %d: %w", userID, err)
		}
		if customer.Category != c.RecipientCategory {
			return ReasonNotEligible, nil
		}
	}
	return "", nil
}

// Redeem commits a redemption as one atomic unit: re-validate against the
// fresh row, compute the discount, bump the usage counter conditioned on the
// version token, and insert the audit row inside one transaction. A lost
// race retries the whole unit; a replayed paymentReference returns the
// existing usage row unchanged.
func (s *Service) Redeem(code string, userID uint, purchase models.Money, paymentReference string) (*models.CouponUsage, error) {
	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		usage, err := s.redeemOnce(code, userID, purchase, paymentReference)
		if errors.Is(err, errVersionConflict) {
			lastErr = err
			continue
		}
		return usage, err
	}
	log.Printf("[coupon] redemption of %q exhausted %d attempts: %v", code, s.maxAttempts, lastErr)
	return nil, &RedeemError{Reason: ReasonConflict}
}

func (s *Service) redeemOnce(code string, userID uint, purchase models.Money, paymentReference string) (*models.CouponUsage, error) {
	var out *models.CouponUsage

	err := s.inTx(func(tx *gorm.DB) error {
		coupons := s.txCoupons(tx)

		c, err := coupons.GetByCode(code)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &RedeemError{Reason: ReasonNotFound}
		}
		if err != nil {
			return fmt.Errorf("load coupon %q: %w", code, err)
		}

		// Webhook replays carry the same payment reference; the earlier
		// redemption already counted, so hand back its row untouched.
		if existing, err := coupons.GetUsageByReference(c.ID, userID, paymentReference); err == nil {
			out = existing
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check existing usage: %w", err)
		}

		reason, err := s.checkCoupon(coupons, c, userID, purchase)
		if err != nil {
			return err
		}
		if reason != "" {
			return &RedeemError{Reason: reason}
		}

		discount := purchase.Percent(c.DiscountPercentage)
		final, err := purchase.Sub(discount)
		if err != nil {
			return &RedeemError{Reason: ReasonInvalid}
		}

		swapped, err := coupons.IncrementUsage(c.ID, c.Version)
		if err != nil {
			return fmt.Errorf("increment usage: %w", err)
		}
		if !swapped {
			return errVersionConflict
		}

		usage := &models.CouponUsage{
			CouponID:         c.ID,
			UserID:           userID,
			PaymentReference: paymentReference,
			OriginalAmount:   purchase.Amount,
			DiscountAmount:   discount.Amount,
			FinalAmount:      final.Amount,
			Currency:         purchase.Currency,
			UsedAt:           s.now(),
		}
		if err := coupons.CreateUsage(usage); err != nil {
			// Two replays can race past the reference check; the unique
			// constraint decides, and the loser adopts the winner's row.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errVersionConflict
			}
			return fmt.Errorf("record usage: %w", err)
		}
		out = usage
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
