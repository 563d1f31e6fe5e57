package provider

import (
	"github.com/abeldemoz/birrledger/app/models"
	"github.com/shopspring/decimal"
)

// decimalFromMinorUnits converts a provider's smallest-unit amount (cents,
// kobo) back to a decimal major-unit amount for the given currency.
func decimalFromMinorUnits(v int64, currency string) decimal.Decimal {
	exp := models.NewMoney(decimal.Zero, currency).MinorUnitExponent()
	return decimal.NewFromInt(v).Shift(-exp)
}
