package commission

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount signals a negative principal.
	ErrInvalidAmount = errors.New("commission: negative principal")
	// ErrNoMatchingTier signals that no tier of a tiered config covers the
	// principal. This blocks commission computation instead of defaulting to
	// zero: a silent zero would misstate money owed.
	ErrNoMatchingTier = errors.New("commission: no matching tier")
)

// minorUnitPlaces is the currency's minor-unit precision used when rounding
// percentage commissions.
const minorUnitPlaces = 2

// Resolve turns a principal amount into the commission owed under cfg.
// It is pure and side-effect-free.
//
// Tier rates apply to the full principal of the matched tier, not only the
// amount falling within the tier. This matches the commercial convention the
// configuration was written against; do not convert it into a marginal-rate
// scheme.
func Resolve(cfg Config, principal decimal.Decimal) (decimal.Decimal, error) {
	if principal.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, principal)
	}
	if err := cfg.Validate(); err != nil {
		return decimal.Zero, err
	}

	switch cfg.Kind {
	case "", KindNone:
		return decimal.Zero, nil
	case KindFixed:
		return cfg.Amount, nil
	case KindPercentage:
		return applyRate(principal, cfg.Rate), nil
	case KindTiered:
		return resolveTiered(cfg.Tiers, principal)
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown variant %q", ErrInvalidConfiguration, cfg.Kind)
	}
}

// resolveTiered locates the tier t with t.From <= principal < t.To and applies
// its commission rule. Tiers are half-open, so a principal equal to a bound
// belongs to the upper tier.
func resolveTiered(tiers []Tier, principal decimal.Decimal) (decimal.Decimal, error) {
	for _, t := range tiers {
		if principal.LessThan(t.From) {
			continue
		}
		if t.To != nil && !principal.LessThan(*t.To) {
			continue
		}
		if t.Commission.IsRate() {
			return applyRate(principal, t.Commission.Value()), nil
		}
		return t.Commission.Value(), nil
	}
	return decimal.Zero, fmt.Errorf("%w: principal %s", ErrNoMatchingTier, principal)
}

// applyRate computes principal * rate / 100 rounded half-up to the currency's
// minor-unit precision.
func applyRate(principal, rate decimal.Decimal) decimal.Decimal {
	return principal.Mul(rate).Div(decimal.NewFromInt(100)).Round(minorUnitPlaces)
}
