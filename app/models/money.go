package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrCurrencyMismatch is returned when arithmetic mixes two currencies.
var ErrCurrencyMismatch = errors.New("currency mismatch")

// zeroDecimalCurrencies lists ISO-4217 codes whose minor unit is the whole unit.
var zeroDecimalCurrencies = map[string]struct{}{
	"JPY": {}, "KRW": {}, "VND": {}, "XAF": {}, "XOF": {}, "CLP": {}, "UGX": {}, "RWF": {},
}

// Money is an immutable amount in a single ISO-4217 currency.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney builds a Money value with an upper-cased currency code.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToUpper(strings.TrimSpace(currency))}
}

// MoneyFromString parses a decimal string like "10.00".
func MoneyFromString(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("invalid money amount %q: %w", amount, err)
	}
	return NewMoney(d, currency), nil
}

// MoneyFromMinorUnits builds a Money from the currency's smallest unit,
// the representation most provider payloads carry.
func MoneyFromMinorUnits(v int64, currency string) Money {
	m := NewMoney(decimal.New(v, 0), currency)
	m.Amount = m.Amount.Shift(-m.MinorUnitExponent())
	return m
}

// MinorUnitExponent returns the number of decimal places for the currency.
func (m Money) MinorUnitExponent() int32 {
	if _, ok := zeroDecimalCurrencies[m.Currency]; ok {
		return 0
	}
	return 2
}

func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// Percent returns pct% of m, floored to the currency's minor unit.
func (m Money) Percent(pct decimal.Decimal) Money {
	raw := m.Amount.Mul(pct).Div(decimal.NewFromInt(100))
	return Money{Amount: raw.RoundDown(m.MinorUnitExponent()), Currency: m.Currency}
}

// GreaterThanOrEqual compares amounts of the same currency.
func (m Money) GreaterThanOrEqual(other Money) (bool, error) {
	if m.Currency != other.Currency {
		return false, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return m.Amount.GreaterThanOrEqual(other.Amount), nil
}

func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

func (m Money) String() string {
	return m.Amount.StringFixed(m.MinorUnitExponent()) + " " + m.Currency
}

// MinorUnits returns the amount in the currency's smallest unit (e.g. cents),
// the representation most provider APIs expect.
func (m Money) MinorUnits() int64 {
	exp := m.MinorUnitExponent()
	return m.Amount.Shift(exp).RoundDown(0).IntPart()
}
