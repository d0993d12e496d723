// Package money holds bounty amounts as integer minor units (cents). Decimal
// strings are parsed and formatted at the API edge only; the ledger never sees
// anything but int64 cents.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is a currency amount in minor units.
type Cents int64

var (
	// ErrInvalidAmount is returned for unparseable, negative, or
	// sub-cent-precision amounts.
	ErrInvalidAmount = errors.New("invalid amount")
)

var hundred = decimal.NewFromInt(100)

// Parse converts a decimal string like "100.00" into cents. Amounts with more
// than two fractional digits are rejected rather than rounded.
func Parse(s string) (Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}
	if d.Exponent() < -2 {
		return 0, fmt.Errorf("%w: %q has sub-cent precision", ErrInvalidAmount, s)
	}
	return Cents(d.Mul(hundred).IntPart()), nil
}

// Format renders cents as a two-decimal string ("10000" -> "100.00").
func (c Cents) Format() string {
	return decimal.NewFromInt(int64(c)).Div(hundred).StringFixed(2)
}

// Fee policy kinds.
const (
	FeePercent = "percent"
	FeeFlat    = "flat"
)

// FeePolicy is the platform fee deducted from a bounty at settlement.
type FeePolicy struct {
	Kind      string
	Percent   decimal.Decimal // e.g. 10 for 10%, used when Kind == FeePercent
	FlatCents Cents           // used when Kind == FeeFlat
}

// PercentFee returns a percentage fee policy.
func PercentFee(pct int64) FeePolicy {
	return FeePolicy{Kind: FeePercent, Percent: decimal.NewFromInt(pct)}
}

// FlatFee returns a fixed fee policy.
func FlatFee(c Cents) FeePolicy {
	return FeePolicy{Kind: FeeFlat, FlatCents: c}
}

// Fee computes the platform fee for a gross amount. The fee is clamped to
// [0, gross] so worker net is never negative and net + fee == gross exactly.
func (p FeePolicy) Fee(gross Cents) Cents {
	var fee Cents
	switch p.Kind {
	case FeeFlat:
		fee = p.FlatCents
	case FeePercent:
		f := decimal.NewFromInt(int64(gross)).Mul(p.Percent).Div(hundred)
		fee = Cents(f.Round(0).IntPart())
	default:
		return 0
	}
	if fee < 0 {
		return 0
	}
	if fee > gross {
		return gross
	}
	return fee
}
