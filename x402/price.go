package x402

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultAssetDecimals is used to convert human prices to atomic units when a
// requirement does not say otherwise (USDC has 6 decimals).
const DefaultAssetDecimals = 6

// Money is a parsed price: an amount and the unit it was quoted in.
type Money struct {
	Amount decimal.Decimal
	Unit   string
}

// ParsePrice accepts "$0.01", "0.01 USDC", "0.01USD" or a bare "1000".
// A leading "$" means USD. The amount must be strictly positive.
func ParsePrice(s string) (Money, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Money{}, errors.New("price is empty")
	}

	unit := ""
	if strings.HasPrefix(raw, "$") {
		unit = "USD"
		raw = strings.TrimSpace(strings.TrimPrefix(raw, "$"))
	}

	num := raw
	if i := strings.IndexFunc(raw, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.' && r != '-' && r != '+'
	}); i >= 0 {
		num = strings.TrimSpace(raw[:i])
		suffix := strings.ToUpper(strings.TrimSpace(raw[i:]))
		if unit != "" && suffix != "" && suffix != unit {
			return Money{}, fmt.Errorf("price %q mixes $ with unit %s", s, suffix)
		}
		if suffix != "" {
			unit = suffix
		}
	}

	amount, err := decimal.NewFromString(num)
	if err != nil {
		return Money{}, fmt.Errorf("price %q: %w", s, err)
	}
	if !amount.IsPositive() {
		return Money{}, fmt.Errorf("price %q must be positive", s)
	}
	return Money{Amount: amount, Unit: unit}, nil
}

// AtomicAmount converts the price into the asset's smallest unit. Prices
// without a unit are taken to be atomic already.
func (m Money) AtomicAmount(decimals int32) decimal.Decimal {
	if m.Unit == "" {
		return m.Amount.Truncate(0)
	}
	return m.Amount.Shift(decimals).Ceil()
}

// RequiredAtomicAmount returns the atomic amount a requirement asks for,
// honoring extra.decimals when present.
func RequiredAtomicAmount(req PaymentRequirement) (decimal.Decimal, error) {
	m, err := ParsePrice(req.Price)
	if err != nil {
		return decimal.Zero, err
	}
	decimals := int32(DefaultAssetDecimals)
	if v, ok := req.Extra["decimals"]; ok {
		switch d := v.(type) {
		case int:
			decimals = int32(d)
		case float64:
			decimals = int32(d)
		}
	}
	return m.AtomicAmount(decimals), nil
}
