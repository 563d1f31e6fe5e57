package database

import (
	"github.com/abeldemoz/birrledger/app/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// seedPlans inserts the default plan catalog. Existing rows are left untouched
// so operator edits survive restarts.
func seedPlans(db *gorm.DB) error {
	plans := []models.SubscriptionPlan{
		{
			Name:                models.PlanFree,
			PriceAmount:         decimal.Zero,
			PriceCurrency:       "USD",
			IntervalUnit:        models.IntervalUnitMonth,
			IntervalValue:       1,
			DocumentUploadLimit: 10,
			OCRPageLimit:        20,
			IsActive:            true,
		},
		{
			Name:                models.PlanPro,
			PriceAmount:         decimal.NewFromInt(10),
			PriceCurrency:       "USD",
			IntervalUnit:        models.IntervalUnitMonth,
			IntervalValue:       1,
			DocumentUploadLimit: 200,
			OCRPageLimit:        500,
			IsActive:            true,
		},
		{
			Name:                models.PlanBusiness,
			PriceAmount:         decimal.NewFromInt(29),
			PriceCurrency:       "USD",
			IntervalUnit:        models.IntervalUnitMonth,
			IntervalValue:       1,
			DocumentUploadLimit: 2000,
			OCRPageLimit:        5000,
			IsActive:            true,
		},
	}

	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&plans).Error
}
