package pricing

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Rate is a linear price: Base + weight in kg × PerKg.
type Rate struct {
	Base  decimal.Decimal
	PerKg decimal.Decimal
}

// Price evaluates the rate for weightKG, rounded to two places.
func (r Rate) Price(weightKG float64) (base, surcharge decimal.Decimal) {
	base = r.Base.Round(2)
	surcharge = r.PerKg.Mul(decimal.NewFromFloat(weightKG)).Round(2)
	return base, surcharge
}

// RateCard holds the fallback rates used when a partner cannot quote.
type RateCard struct {
	Default  Rate
	Partners map[string]Rate
}

// DefaultRateCard charges 50 plus 20 per kg for every partner.
func DefaultRateCard() *RateCard {
	return NewRateCard(decimal.NewFromInt(50), decimal.NewFromInt(20))
}

// NewRateCard creates a card with a single default rate.
func NewRateCard(base, perKg decimal.Decimal) *RateCard {
	return &RateCard{
		Default:  Rate{Base: base, PerKg: perKg},
		Partners: make(map[string]Rate),
	}
}

// For returns the partner's rate, or the default.
func (c *RateCard) For(partner string) Rate {
	if r, ok := c.Partners[strings.ToLower(partner)]; ok {
		return r
	}
	return c.Default
}

type rateFile struct {
	Default  rateEntry            `yaml:"default"`
	Partners map[string]rateEntry `yaml:"partners"`
}

type rateEntry struct {
	Base  string `yaml:"base"`
	PerKg string `yaml:"per_kg"`
}

func (e rateEntry) rate(fallback Rate) (Rate, error) {
	r := fallback
	if e.Base != "" {
		d, err := decimal.NewFromString(e.Base)
		if err != nil {
			return Rate{}, fmt.Errorf("base %q: %w", e.Base, err)
		}
		r.Base = d
	}
	if e.PerKg != "" {
		d, err := decimal.NewFromString(e.PerKg)
		if err != nil {
			return Rate{}, fmt.Errorf("per_kg %q: %w", e.PerKg, err)
		}
		r.PerKg = d
	}
	if r.Base.IsNegative() || r.PerKg.IsNegative() {
		return Rate{}, fmt.Errorf("rates must not be negative")
	}
	return r, nil
}

// ParseRateCard reads a YAML rate card. Missing values inherit from base.
//
//	default:
//	  base: "50"
//	  per_kg: "20"
//	partners:
//	  dhl:
//	    base: "900"
//	    per_kg: "650"
func ParseRateCard(data []byte, base *RateCard) (*RateCard, error) {
	var f rateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rate card: %w", err)
	}

	def, err := f.Default.rate(base.Default)
	if err != nil {
		return nil, fmt.Errorf("rate card default: %w", err)
	}
	card := &RateCard{Default: def, Partners: make(map[string]Rate, len(f.Partners))}
	for name, entry := range f.Partners {
		r, err := entry.rate(def)
		if err != nil {
			return nil, fmt.Errorf("rate card %s: %w", name, err)
		}
		card.Partners[strings.ToLower(name)] = r
	}
	return card, nil
}

// LoadRateCard reads a YAML rate card from path.
func LoadRateCard(path string, base *RateCard) (*RateCard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rate card: %w", err)
	}
	return ParseRateCard(data, base)
}
