package models

import "time"

// Payment provider constants used across billing models.
const (
	ProviderStripe      = "stripe"
	ProviderPaystack    = "paystack"
	ProviderChapa       = "chapa"
	ProviderFlutterwave = "flutterwave"
	ProviderPayPal      = "paypal"
)

// KnownProviders lists every supported gateway in routing-preference order.
var KnownProviders = []string{
	ProviderStripe,
	ProviderPaystack,
	ProviderChapa,
	ProviderFlutterwave,
	ProviderPayPal,
}

// IsKnownProvider reports whether p names a supported gateway.
func IsKnownProvider(p string) bool {
	for _, known := range KnownProviders {
		if p == known {
			return true
		}
	}
	return false
}

// Subscription status constants. Canceled is terminal.
const (
	SubStatusIncomplete = "incomplete"
	SubStatusTrialing   = "trialing"
	SubStatusActive     = "active"
	SubStatusPastDue    = "past_due"
	SubStatusUnpaid     = "unpaid"
	SubStatusPaused     = "paused"
	SubStatusCanceled   = "canceled"
)

// GatewayRef kinds distinguish what a provider's opaque ID points at.
const (
	GatewayRefKindPayment      = "payment"
	GatewayRefKindSubscription = "subscription"
	GatewayRefKindCustomer     = "customer"
)

// PaymentGatewayRef maps a provider-side opaque identifier to a local entity.
// Unique per (provider, external_id, kind).
type PaymentGatewayRef struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Provider   string    `gorm:"type:varchar(20);not null;index:ux_gateway_refs,unique,priority:1" json:"provider"`
	ExternalID string    `gorm:"type:varchar(191);not null;index:ux_gateway_refs,unique,priority:2" json:"external_id"`
	Kind       string    `gorm:"type:varchar(20);not null;index:ux_gateway_refs,unique,priority:3" json:"kind"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// UserSubscription mirrors the provider subscription state for a user. One
// active row per user; rows are never hard-deleted, cancellation is a status.
type UserSubscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	PlanID                 uint       `gorm:"not null;index" json:"plan_id"`
	Provider               string     `gorm:"type:varchar(20);not null;index:ux_user_subs_provider_subid,unique,priority:1" json:"provider"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;index:ux_user_subs_provider_subid,unique,priority:2" json:"provider_subscription_id"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'incomplete';index" json:"status"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	// LastEventAt is the provider receivedAt of the last applied webhook event.
	// Older events must never override newer state (out-of-order delivery guard).
	LastEventAt *time.Time `gorm:"type:timestamp(6);default:null" json:"last_event_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the subscription can never leave its status.
func (s *UserSubscription) IsTerminal() bool {
	return s.Status == SubStatusCanceled
}
