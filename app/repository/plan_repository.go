package repository

import (
	"errors"

	"github.com/abeldemoz/birrledger/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a plan repository backed by GORM.
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

func (r *planRepository) GetByID(id uint) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	if err := r.db.First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *planRepository) GetByName(name string) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	if err := r.db.Where("name = ?", name).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *planRepository) ListActive() ([]models.SubscriptionPlan, error) {
	var plans []models.SubscriptionPlan
	err := r.db.Where("is_active = ?", true).Order("id").Find(&plans).Error
	return plans, err
}

func (r *planRepository) GetProviderPlanRef(providerName string, planID uint) (string, error) {
	var ref models.ProviderPlanRef
	err := r.db.Where("provider = ? AND plan_id = ?", providerName, planID).First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return ref.ExternalID, nil
}

func (r *planRepository) SaveProviderPlanRef(providerName string, planID uint, externalID string) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "plan_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"external_id"}),
	}).Create(&models.ProviderPlanRef{
		Provider:   providerName,
		PlanID:     planID,
		ExternalID: externalID,
	}).Error
}
