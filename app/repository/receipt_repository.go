package repository

import (
	"github.com/abeldemoz/birrledger/app/models"
	"gorm.io/gorm"
)

type receiptRepository struct {
	db *gorm.DB
}

// NewReceiptRepository creates a receipt repository backed by GORM.
func NewReceiptRepository(db *gorm.DB) ReceiptRepository {
	return &receiptRepository{db: db}
}

func (r *receiptRepository) WithTx(tx *gorm.DB) ReceiptRepository {
	return &receiptRepository{db: tx}
}

func (r *receiptRepository) GetByExternalPayment(providerName, externalPaymentID string) (*models.Receipt, error) {
	var receipt models.Receipt
	err := r.db.
		Where("provider = ? AND external_payment_id = ?", providerName, externalPaymentID).
		First(&receipt).Error
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (r *receiptRepository) Create(receipt *models.Receipt) error {
	return r.db.Create(receipt).Error
}

func (r *receiptRepository) ListByUser(userID uint) ([]models.Receipt, error) {
	var receipts []models.Receipt
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&receipts).Error
	return receipts, err
}
