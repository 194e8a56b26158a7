package commission

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidConfiguration signals a commission configuration that must not be
// used to compute money owed. It is returned both by Validate at write time
// and by Resolve when a malformed config slipped into the store.
var ErrInvalidConfiguration = errors.New("commission: invalid configuration")

// Kind discriminates the commission configuration variants.
type Kind string

const (
	KindNone       Kind = "none"
	KindFixed      Kind = "fixed"
	KindPercentage Kind = "percentage"
	KindTiered     Kind = "tiered"
)

// Config is the closed tagged union backing the pricing engine. Exactly the
// fields of the active variant are meaningful; the zero value is KindNone.
//
// Configs arrive from the operation-type registry as JSON blobs; the codec
// below rejects unknown variants so the engine never pattern-matches on
// untyped data.
type Config struct {
	Kind   Kind
	Amount decimal.Decimal // fixed: flat amount per operation
	Rate   decimal.Decimal // percentage: percent points, 1.5 means 1.5%
	Tiers  []Tier          // tiered: ordered half-open ranges [From, To)
}

// Tier is a contiguous principal range with an associated commission rule.
// To == nil means the tier is unbounded above.
type Tier struct {
	From       decimal.Decimal
	To         *decimal.Decimal
	Commission TierCommission
}

// TierCommission is either a flat amount or a percentage rate applied to the
// full principal of the matched tier.
type TierCommission struct {
	rate  bool
	value decimal.Decimal
}

// Flat builds a flat-amount tier commission.
func Flat(v decimal.Decimal) TierCommission {
	return TierCommission{value: v}
}

// Rate builds a percentage tier commission expressed in percent points.
func Rate(r decimal.Decimal) TierCommission {
	return TierCommission{rate: true, value: r}
}

// IsRate reports whether the commission is a percentage of the principal.
func (c TierCommission) IsRate() bool { return c.rate }

// Value returns the flat amount or the percent-point rate.
func (c TierCommission) Value() decimal.Decimal { return c.value }

func (c TierCommission) String() string {
	if c.rate {
		return c.value.String() + "%"
	}
	return c.value.String()
}

// UnmarshalJSON accepts a JSON number (flat amount), a numeric string, or a
// percentage string such as "1.5%".
func (c *TierCommission) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("commission: decode tier commission: %w", err)
	}

	switch v := raw.(type) {
	case float64:
		var d decimal.Decimal
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("commission: decode tier amount: %w", err)
		}
		*c = Flat(d)
		return nil
	case string:
		s := strings.TrimSpace(v)
		if rate, ok := strings.CutSuffix(s, "%"); ok {
			d, err := decimal.NewFromString(strings.TrimSpace(rate))
			if err != nil {
				return fmt.Errorf("commission: parse tier rate %q: %w", v, err)
			}
			*c = Rate(d)
			return nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("commission: parse tier amount %q: %w", v, err)
		}
		*c = Flat(d)
		return nil
	default:
		return fmt.Errorf("commission: tier commission must be a number or string, got %T", raw)
	}
}

// MarshalJSON renders rates as "R%" strings and flat amounts as plain strings.
func (c TierCommission) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

type tierJSON struct {
	From       decimal.Decimal  `json:"from"`
	To         *decimal.Decimal `json:"to"`
	Commission TierCommission   `json:"commission"`
}

type configJSON struct {
	Type   Kind             `json:"type"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Rate   *decimal.Decimal `json:"rate,omitempty"`
	Tiers  []tierJSON       `json:"tiers,omitempty"`
}

// UnmarshalJSON decodes the persisted config blob and rejects unknown
// variants at the boundary.
func (c *Config) UnmarshalJSON(data []byte) error {
	var raw configJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("commission: decode config: %w", err)
	}

	cfg := Config{Kind: raw.Type}
	switch raw.Type {
	case KindNone:
	case KindFixed:
		if raw.Amount == nil {
			return fmt.Errorf("%w: fixed config missing amount", ErrInvalidConfiguration)
		}
		cfg.Amount = *raw.Amount
	case KindPercentage:
		if raw.Rate == nil {
			return fmt.Errorf("%w: percentage config missing rate", ErrInvalidConfiguration)
		}
		cfg.Rate = *raw.Rate
	case KindTiered:
		cfg.Tiers = make([]Tier, 0, len(raw.Tiers))
		for _, t := range raw.Tiers {
			cfg.Tiers = append(cfg.Tiers, Tier{From: t.From, To: t.To, Commission: t.Commission})
		}
	default:
		return fmt.Errorf("%w: unknown variant %q", ErrInvalidConfiguration, raw.Type)
	}

	*c = cfg
	return nil
}

// MarshalJSON renders the active variant only.
func (c Config) MarshalJSON() ([]byte, error) {
	raw := configJSON{Type: c.Kind}
	if raw.Type == "" {
		raw.Type = KindNone
	}
	switch c.Kind {
	case KindFixed:
		amount := c.Amount
		raw.Amount = &amount
	case KindPercentage:
		rate := c.Rate
		raw.Rate = &rate
	case KindTiered:
		raw.Tiers = make([]tierJSON, 0, len(c.Tiers))
		for _, t := range c.Tiers {
			raw.Tiers = append(raw.Tiers, tierJSON{From: t.From, To: t.To, Commission: t.Commission})
		}
	}
	return json.Marshal(raw)
}

// Validate checks the structural invariants of the configuration. Tiered
// configs must be ordered, non-overlapping and contiguous, with at most one
// unbounded tier which must be last. Malformed tier sets are rejected here,
// at configuration write time, rather than when money is first computed.
func (c Config) Validate() error {
	switch c.Kind {
	case "", KindNone:
		return nil
	case KindFixed:
		if c.Amount.IsNegative() {
			return fmt.Errorf("%w: negative fixed amount %s", ErrInvalidConfiguration, c.Amount)
		}
		return nil
	case KindPercentage:
		if c.Rate.IsNegative() {
			return fmt.Errorf("%w: negative rate %s", ErrInvalidConfiguration, c.Rate)
		}
		return nil
	case KindTiered:
		return validateTiers(c.Tiers)
	default:
		return fmt.Errorf("%w: unknown variant %q", ErrInvalidConfiguration, c.Kind)
	}
}

func validateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("%w: tiered config has no tiers", ErrInvalidConfiguration)
	}

	for i, t := range tiers {
		if t.From.IsNegative() {
			return fmt.Errorf("%w: tier %d starts below zero", ErrInvalidConfiguration, i)
		}
		if t.Commission.Value().IsNegative() {
			return fmt.Errorf("%w: tier %d has negative commission", ErrInvalidConfiguration, i)
		}
		if t.To == nil {
			if i != len(tiers)-1 {
				return fmt.Errorf("%w: unbounded tier %d is not last", ErrInvalidConfiguration, i)
			}
			continue
		}
		if !t.To.GreaterThan(t.From) {
			return fmt.Errorf("%w: tier %d is empty or inverted [%s, %s)", ErrInvalidConfiguration, i, t.From, t.To)
		}
		if i < len(tiers)-1 {
			next := tiers[i+1]
			if !next.From.Equal(*t.To) {
				return fmt.Errorf("%w: tiers %d and %d are not contiguous (%s vs %s)", ErrInvalidConfiguration, i, i+1, t.To, next.From)
			}
		}
	}

	return nil
}
