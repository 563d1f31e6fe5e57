package repository

import (
	"github.com/abeldemoz/birrledger/app/models"
	"gorm.io/gorm"
)

type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a subscription repository backed by GORM.
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) WithTx(tx *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: tx}
}

func (r *subscriptionRepository) GetByUserID(userID uint) (*models.UserSubscription, error) {
	var sub models.UserSubscription
	if err := r.db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetByProviderSubscriptionID(providerName, externalID string) (*models.UserSubscription, error) {
	var sub models.UserSubscription
	err := r.db.
		Where("provider = ? AND provider_subscription_id = ?", providerName, externalID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) Create(sub *models.UserSubscription) error {
	return r.db.Create(sub).Error
}

func (r *subscriptionRepository) Save(sub *models.UserSubscription) error {
	return r.db.Save(sub).Error
}
