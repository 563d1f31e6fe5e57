package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Receipt records a settled payment. The unique index on
// (provider, external_payment_id) is the idempotency anchor: a webhook
// delivered twice can only ever produce one receipt.
type Receipt struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	UserID            uint            `gorm:"not null;index" json:"user_id"`
	ReceiptNumber     string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"receipt_number"`
	Provider          string          `gorm:"type:varchar(20);not null;index:ux_receipts_provider_payment,unique,priority:1" json:"provider"`
	ExternalPaymentID string          `gorm:"type:varchar(191);not null;index:ux_receipts_provider_payment,unique,priority:2" json:"external_payment_id"`
	Amount            decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency          string          `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	PaidAt            time.Time       `gorm:"type:timestamp;not null" json:"paid_at"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// Total returns the receipt amount as Money.
func (r *Receipt) Total() Money {
	return NewMoney(r.Amount, r.Currency)
}
