package repository

import (
	"github.com/abeldemoz/birrledger/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gatewayRefRepository struct {
	db *gorm.DB
}

// NewGatewayRefRepository creates a gateway ref repository backed by GORM.
func NewGatewayRefRepository(db *gorm.DB) GatewayRefRepository {
	return &gatewayRefRepository{db: db}
}

func (r *gatewayRefRepository) WithTx(tx *gorm.DB) GatewayRefRepository {
	return &gatewayRefRepository{db: tx}
}

func (r *gatewayRefRepository) Upsert(providerName, externalID, kind string) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "external_id"},
			{Name: "kind"},
		},
		DoNothing: true,
	}).Create(&models.PaymentGatewayRef{
		Provider:   providerName,
		ExternalID: externalID,
		Kind:       kind,
	}).Error
}
