package repository

import (
	"errors"

	"github.com/abeldemoz/birrledger/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type customerRepository struct {
	db *gorm.DB
}

// NewCustomerRepository creates a customer repository backed by GORM.
func NewCustomerRepository(db *gorm.DB) CustomerRepository {
	return &customerRepository{db: db}
}

func (r *customerRepository) GetByUserID(userID uint) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.Where("user_id = ?", userID).First(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *customerRepository) Upsert(customer *models.Customer) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email",
			"category",
			"updated_at",
		}),
	}).Create(customer).Error; err != nil {
		return err
	}
	return r.db.Where("user_id = ?", customer.UserID).First(customer).Error
}

func (r *customerRepository) GetProviderCustomerRef(providerName string, userID uint) (string, error) {
	var ref models.ProviderCustomerRef
	err := r.db.Where("provider = ? AND user_id = ?", providerName, userID).First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return ref.ExternalID, nil
}

func (r *customerRepository) SaveProviderCustomerRef(providerName string, userID uint, externalID string) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "user_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"external_id"}),
	}).Create(&models.ProviderCustomerRef{
		Provider:   providerName,
		UserID:     userID,
		ExternalID: externalID,
	}).Error
}
