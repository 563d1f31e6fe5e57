package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CouponTemplate defines the redemption policy coupons are minted from.
// Immutable after minting except for IsActive.
type CouponTemplate struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	Name               string          `gorm:"type:varchar(100);not null" json:"name"`
	DiscountPercentage decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"discount_percentage"`
	MinPurchaseAmount  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"min_purchase_amount"`
	Currency           string          `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	RecipientCategory  string          `gorm:"type:varchar(30);not null;default:'all'" json:"recipient_category"`
	// MaxUsageCount/MaxUsagePerUser of 0 mean unbounded.
	MaxUsageCount   int       `gorm:"not null;default:0" json:"max_usage_count"`
	MaxUsagePerUser int       `gorm:"not null;default:0" json:"max_usage_per_user"`
	ValidityDays    int       `gorm:"not null;default:30" json:"validity_days"`
	IsActive        bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Coupon is a redeemable code minted from a template. Version is the
// optimistic-concurrency token guarding CurrentUsageCount; the committed
// invariant CurrentUsageCount <= MaxUsageCount (when bounded) is enforced by
// the redemption engine's conditional update, never by plain reads.
type Coupon struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	Code               string          `gorm:"type:varchar(50);not null;uniqueIndex" json:"code"`
	TemplateID         uint            `gorm:"not null;index" json:"template_id"`
	DiscountPercentage decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"discount_percentage"`
	MinPurchaseAmount  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"min_purchase_amount"`
	Currency           string          `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	RecipientCategory  string          `gorm:"type:varchar(30);not null;default:'all'" json:"recipient_category"`
	MaxUsageCount      int             `gorm:"not null;default:0" json:"max_usage_count"`
	MaxUsagePerUser    int             `gorm:"not null;default:0" json:"max_usage_per_user"`
	CurrentUsageCount  int             `gorm:"not null;default:0" json:"current_usage_count"`
	Version            int             `gorm:"not null;default:0" json:"version"`
	ValidFrom          time.Time       `gorm:"type:timestamp;not null" json:"valid_from"`
	ValidUntil         time.Time       `gorm:"type:timestamp;not null" json:"valid_until"`
	IsActive           bool            `gorm:"default:true;index" json:"is_active"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// MinPurchase returns the minimum purchase threshold as Money.
func (c *Coupon) MinPurchase() Money {
	return NewMoney(c.MinPurchaseAmount, c.Currency)
}

// ValidAt reports whether the coupon window covers the given instant.
func (c *Coupon) ValidAt(t time.Time) bool {
	return !t.Before(c.ValidFrom) && !t.After(c.ValidUntil)
}

// UsageExhausted reports whether the global usage cap is reached.
func (c *Coupon) UsageExhausted() bool {
	return c.MaxUsageCount > 0 && c.CurrentUsageCount >= c.MaxUsageCount
}

// CouponUsage is the append-only redemption audit log. The unique index on
// (coupon_id, user_id, payment_reference) rejects webhook replays.
type CouponUsage struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	CouponID         uint            `gorm:"not null;index:ux_coupon_usages_ref,unique,priority:1" json:"coupon_id"`
	UserID           uint            `gorm:"not null;index:ux_coupon_usages_ref,unique,priority:2" json:"user_id"`
	PaymentReference string          `gorm:"type:varchar(191);not null;index:ux_coupon_usages_ref,unique,priority:3" json:"payment_reference"`
	OriginalAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"original_amount"`
	DiscountAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"discount_amount"`
	FinalAmount      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"final_amount"`
	Currency         string          `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	UsedAt           time.Time       `gorm:"autoCreateTime" json:"used_at"`
}
