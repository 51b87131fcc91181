package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// zeroDecimalCurrencies have no minor unit on the processor side.
var zeroDecimalCurrencies = map[string]bool{
	"JPY": true,
	"HUF": true,
	"TWD": true,
}

// Money is a fixed-point amount in the currency's minor units.
type Money struct {
	Minor    int64  `json:"minor"`
	Currency string `json:"currency"`
}

func exponent(currency string) int32 {
	if zeroDecimalCurrencies[currency] {
		return 0
	}
	return 2
}

// ParseMoney converts a major-unit decimal string such as "9.99" into Money.
// Values with more precision than the currency allows are rejected.
func ParseMoney(value, currency string) (Money, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return Money{}, fmt.Errorf("%w: currency %q", ErrInvalidAmount, currency)
	}

	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	scaled := d.Shift(exponent(currency))
	if !scaled.IsInteger() {
		return Money{}, fmt.Errorf("%w: %s has too many decimal places for %s", ErrInvalidAmount, value, currency)
	}
	if scaled.IsNegative() {
		return Money{}, fmt.Errorf("%w: %s is negative", ErrInvalidAmount, value)
	}

	return Money{Minor: scaled.IntPart(), Currency: currency}, nil
}

// Decimal renders the amount in major units with the currency's fixed
// number of places, the format the payment processor expects.
func (m Money) Decimal() string {
	exp := exponent(m.Currency)
	return decimal.New(m.Minor, -exp).StringFixed(exp)
}

func (m Money) Equal(other Money) bool {
	return m.Minor == other.Minor && strings.EqualFold(m.Currency, other.Currency)
}

func (m Money) IsPositive() bool {
	return m.Minor > 0
}

func (m Money) String() string {
	return m.Decimal() + " " + m.Currency
}
