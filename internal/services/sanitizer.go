package services

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/codyseavey/tcg-pricesync/internal/config"
)

// Action is what the sanitizer did to a price.
type Action string

const (
	ActionPass     Action = "pass"
	ActionCapped   Action = "capped"
	ActionRejected Action = "rejected"
)

// DefaultTier names the ceiling used when no tier substring matches.
const DefaultTier = "default"

// Tier is a price ceiling for cards whose name contains Name (case-insensitive).
type Tier struct {
	Name    string
	Ceiling decimal.Decimal
}

// Verdict is the sanitizer's decision for one price.
type Verdict struct {
	Original decimal.Decimal
	Price    decimal.Decimal
	Action   Action
	Tier     string
	Ceiling  decimal.Decimal
}

// Sanitizer bounds prices by a name-derived tier. Prices above rejectAbove are zeroed,
// prices above the tier ceiling are capped to it.
type Sanitizer struct {
	tiers          []Tier // longest name first
	defaultCeiling decimal.Decimal
	rejectAbove    decimal.Decimal
}

// NewSanitizer builds a sanitizer from a tier name -> ceiling table.
func NewSanitizer(tiers map[string]float64, defaultCeiling, rejectAbove float64) *Sanitizer {
	s := &Sanitizer{
		defaultCeiling: decimal.NewFromFloat(defaultCeiling),
		rejectAbove:    decimal.NewFromFloat(rejectAbove),
	}
	for name, ceiling := range tiers {
		s.tiers = append(s.tiers, Tier{Name: strings.ToLower(strings.TrimSpace(name)), Ceiling: decimal.NewFromFloat(ceiling)})
	}
	// "gold star" must be tried before "star"
	sort.Slice(s.tiers, func(i, j int) bool {
		if len(s.tiers[i].Name) != len(s.tiers[j].Name) {
			return len(s.tiers[i].Name) > len(s.tiers[j].Name)
		}
		return s.tiers[i].Name < s.tiers[j].Name
	})
	return s
}

// NewSanitizerFromConfig builds the sanitizer from tier_ceilings, default_ceiling and reject_above.
func NewSanitizerFromConfig(cfg *config.Config) *Sanitizer {
	return NewSanitizer(cfg.TierCeilings, cfg.DefaultCeiling, cfg.RejectAbove)
}

// TierFor classifies a card by a substring of its name, not its rarity field,
// so "Umbreon Gold Star" lands in the "gold star" tier.
func (s *Sanitizer) TierFor(cardName string) (string, decimal.Decimal) {
	name := strings.ToLower(cardName)
	for _, t := range s.tiers {
		if strings.Contains(name, t.Name) {
			return t.Name, t.Ceiling
		}
	}
	return DefaultTier, s.defaultCeiling
}

// Check applies the policy to price for the named card.
func (s *Sanitizer) Check(cardName string, price decimal.Decimal) Verdict {
	tier, ceiling := s.TierFor(cardName)
	v := Verdict{Original: price, Price: price, Action: ActionPass, Tier: tier, Ceiling: ceiling}

	switch {
	case price.GreaterThan(s.rejectAbove):
		v.Price = decimal.Zero
		v.Action = ActionRejected
	case price.GreaterThan(ceiling):
		v.Price = ceiling
		v.Action = ActionCapped
	}
	return v
}

// MinCeiling is the smallest ceiling of any tier; prices at or below it always pass.
func (s *Sanitizer) MinCeiling() decimal.Decimal {
	lowest := s.defaultCeiling
	for _, t := range s.tiers {
		if t.Ceiling.LessThan(lowest) {
			lowest = t.Ceiling
		}
	}
	return lowest
}
