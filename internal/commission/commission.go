// Package commission splits a sale price between the platform and the creator.
package commission

import (
	"github.com/shopspring/decimal"

	"github.com/markjakearzadon/assetvault-gobackend/internal/apperr"
)

var one = decimal.NewFromInt(1)

// Split returns the platform and creator shares of amount for the given
// commission rate. The platform share is rounded to two places and the
// creator receives the exact remainder, so the shares always sum to amount.
func Split(amount, rate decimal.Decimal) (platform, creator decimal.Decimal, err error) {
	if amount.IsNegative() {
		return decimal.Zero, decimal.Zero, apperr.Validation("amount must not be negative, got %s", amount)
	}
	if err := ValidateRate(rate); err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	platform = amount.Mul(rate).Round(2)
	creator = amount.Sub(platform)
	return platform, creator, nil
}

func ValidateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(one) {
		return apperr.Validation("commission rate must be within [0, 1], got %s", rate)
	}
	return nil
}
