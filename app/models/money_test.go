package models

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMoneyRejectsMixedCurrencies(t *testing.T) {
	usd := NewMoney(decimal.NewFromInt(10), "USD")
	etb := NewMoney(decimal.NewFromInt(10), "ETB")

	if _, err := usd.Add(etb); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("Add across currencies: got %v, want ErrCurrencyMismatch", err)
	}
	if _, err := usd.Sub(etb); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("Sub across currencies: got %v, want ErrCurrencyMismatch", err)
	}
	if _, err := usd.GreaterThanOrEqual(etb); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("compare across currencies: got %v, want ErrCurrencyMismatch", err)
	}
}

func TestMoneyPercentFloorsToMinorUnit(t *testing.T) {
	m := NewMoney(decimal.RequireFromString("9.99"), "USD")
	got := m.Percent(decimal.NewFromInt(15)) // 1.4985 -> 1.49
	if got.Amount.String() != "1.49" {
		t.Fatalf("Percent(15) of 9.99 USD = %s, want 1.49", got.Amount)
	}

	jpy := NewMoney(decimal.NewFromInt(1000), "JPY")
	gotJPY := jpy.Percent(decimal.RequireFromString("33.3")) // 333.0 -> 333
	if gotJPY.Amount.String() != "333" {
		t.Fatalf("Percent(33.3) of 1000 JPY = %s, want 333", gotJPY.Amount)
	}
}

func TestMoneyMinorUnits(t *testing.T) {
	tests := []struct {
		amount   string
		currency string
		want     int64
	}{
		{amount: "10.00", currency: "USD", want: 1000},
		{amount: "0.99", currency: "EUR", want: 99},
		{amount: "500", currency: "JPY", want: 500},
	}
	for _, tt := range tests {
		m, err := MoneyFromString(tt.amount, tt.currency)
		if err != nil {
			t.Fatalf("MoneyFromString(%q, %q): %v", tt.amount, tt.currency, err)
		}
		if got := m.MinorUnits(); got != tt.want {
			t.Fatalf("MinorUnits(%s %s) = %d, want %d", tt.amount, tt.currency, got, tt.want)
		}
	}
}

func TestMoneyFromStringInvalid(t *testing.T) {
	if _, err := MoneyFromString("ten dollars", "USD"); err == nil {
		t.Fatalf("expected parse error for non-numeric amount")
	}
}
