package repository

import (
	"github.com/abeldemoz/birrledger/app/models"
	"gorm.io/gorm"
)

// PlanRepository defines plan catalog and provider plan-ref operations.
type PlanRepository interface {
	GetByID(id uint) (*models.SubscriptionPlan, error)
	GetByName(name string) (*models.SubscriptionPlan, error)
	ListActive() ([]models.SubscriptionPlan, error)
	GetProviderPlanRef(providerName string, planID uint) (string, error)
	SaveProviderPlanRef(providerName string, planID uint, externalID string) error
}

// CustomerRepository defines billing customer operations.
type CustomerRepository interface {
	GetByUserID(userID uint) (*models.Customer, error)
	Upsert(customer *models.Customer) error
	GetProviderCustomerRef(providerName string, userID uint) (string, error)
	SaveProviderCustomerRef(providerName string, userID uint, externalID string) error
}

// SubscriptionRepository defines user subscription persistence. WithTx binds
// the repository to an open transaction so webhook processing writes
// atomically.
type SubscriptionRepository interface {
	WithTx(tx *gorm.DB) SubscriptionRepository
	GetByUserID(userID uint) (*models.UserSubscription, error)
	GetByProviderSubscriptionID(providerName, externalID string) (*models.UserSubscription, error)
	Create(sub *models.UserSubscription) error
	Save(sub *models.UserSubscription) error
}

// CouponRepository defines coupon, template and usage persistence.
type CouponRepository interface {
	WithTx(tx *gorm.DB) CouponRepository
	GetByCode(code string) (*models.Coupon, error)
	GetTemplateByID(id uint) (*models.CouponTemplate, error)
	CreateTemplate(t *models.CouponTemplate) error
	CreateCoupon(c *models.Coupon) error
	CountUsagesByUser(couponID, userID uint) (int64, error)
	GetUsageByReference(couponID, userID uint, paymentReference string) (*models.CouponUsage, error)
	// IncrementUsage bumps current_usage_count conditioned on the version
	// token being unchanged; false means a concurrent writer won the race.
	IncrementUsage(couponID uint, version int) (bool, error)
	CreateUsage(usage *models.CouponUsage) error
}

// ReceiptRepository defines receipt persistence.
type ReceiptRepository interface {
	WithTx(tx *gorm.DB) ReceiptRepository
	GetByExternalPayment(providerName, externalPaymentID string) (*models.Receipt, error)
	Create(receipt *models.Receipt) error
	ListByUser(userID uint) ([]models.Receipt, error)
}

// WebhookEventRepository defines webhook event dedup persistence.
type WebhookEventRepository interface {
	WithTx(tx *gorm.DB) WebhookEventRepository
	// CreateIfNotExists inserts the event unless (provider, external_event_id)
	// already exists; the bool reports whether the row was created now.
	CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
}

// GatewayRefRepository records provider-side identifiers seen by this service.
type GatewayRefRepository interface {
	WithTx(tx *gorm.DB) GatewayRefRepository
	Upsert(providerName, externalID, kind string) error
}
