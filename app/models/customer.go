package models

import "time"

// Recipient categories a coupon template can target.
const (
	RecipientAll          = "all"
	RecipientNewUser      = "new_user"
	RecipientStudent      = "student"
	RecipientFreelancer   = "freelancer"
	RecipientSmallBiz     = "small_business"
	RecipientEnterprise   = "enterprise"
	RecipientNGO          = "ngo"
	RecipientGovernment   = "government"
	RecipientEarlyAdopter = "early_adopter"
)

// Customer is the billing-owned view of a user: the recipient category used
// for coupon targeting plus per-provider customer identifiers. Account
// management proper lives outside this service.
type Customer struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex" json:"user_id"`
	Email     string    `gorm:"type:varchar(200);not null;default:''" json:"email"`
	Category  string    `gorm:"type:varchar(30);not null;default:'all';index" json:"category"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProviderCustomerRef stores the provider-side customer ID created by
// GetOrCreateCustomer, one row per (provider, user).
type ProviderCustomerRef struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Provider   string    `gorm:"type:varchar(20);not null;index:ux_provider_customer_refs,unique,priority:1" json:"provider"`
	UserID     uint      `gorm:"not null;index:ux_provider_customer_refs,unique,priority:2" json:"user_id"`
	ExternalID string    `gorm:"type:varchar(191);not null" json:"external_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
