package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Plan name constants. Plans are immutable once referenced by an active
// subscription; changing limits never retroactively changes entitlements.
const (
	PlanFree     = "free"
	PlanPro      = "pro"
	PlanBusiness = "business"
)

const (
	IntervalUnitDay   = "day"
	IntervalUnitMonth = "month"
	IntervalUnitYear  = "year"
)

// SubscriptionPlan is the local plan catalog entry. Provider-side plan IDs are
// tracked separately in ProviderPlanRef so a plan can exist on several gateways.
type SubscriptionPlan struct {
	ID                  uint            `gorm:"primaryKey" json:"id"`
	Name                string          `gorm:"type:varchar(50);not null;uniqueIndex" json:"name"`
	PriceAmount         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price_amount"`
	PriceCurrency       string          `gorm:"type:varchar(3);not null;default:'USD'" json:"price_currency"`
	IntervalUnit        string          `gorm:"type:varchar(10);not null;default:'month'" json:"interval_unit"`
	IntervalValue       int             `gorm:"not null;default:1" json:"interval_value"`
	DocumentUploadLimit int             `gorm:"not null;default:0" json:"document_upload_limit"`
	OCRPageLimit        int             `gorm:"not null;default:0" json:"ocr_page_limit"`
	IsActive            bool            `gorm:"default:true;index" json:"is_active"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Price returns the plan price as a Money value.
func (p SubscriptionPlan) Price() Money {
	return NewMoney(p.PriceAmount, p.PriceCurrency)
}

// ProviderPlanRef memoizes the provider-side identifier created by
// EnsurePlanExists, one row per (provider, plan).
type ProviderPlanRef struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Provider   string    `gorm:"type:varchar(20);not null;index:ux_provider_plan_refs,unique,priority:1" json:"provider"`
	PlanID     uint      `gorm:"not null;index:ux_provider_plan_refs,unique,priority:2" json:"plan_id"`
	ExternalID string    `gorm:"type:varchar(191);not null" json:"external_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
