package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Variant is the print finish a price observation refers to
type Variant string

const (
	VariantNormal          Variant = "normal"
	VariantHolofoil        Variant = "holofoil"
	VariantReverseHolofoil Variant = "reverseHolofoil"
	Variant1stEdition      Variant = "1stEdition"
	VariantUnlimited       Variant = "unlimited"
)

// AllVariants returns all valid variants
func AllVariants() []Variant {
	return []Variant{
		VariantNormal,
		VariantHolofoil,
		VariantReverseHolofoil,
		Variant1stEdition,
		VariantUnlimited,
	}
}

// NormalizeVariant maps the spellings used by CSV exports and pricing APIs
// ("Reverse Holofoil", "reverse-holofoil", "Holo", "1st Edition Holofoil", ...) onto a Variant.
// 1st Edition is checked first: "1st Edition Holofoil" is priced as a 1st Edition print.
// Returns VariantNormal for unknown/empty values.
func NormalizeVariant(raw string) Variant {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case v == "":
		return VariantNormal
	case strings.Contains(v, "1st") || strings.Contains(v, "first"):
		return Variant1stEdition
	case strings.Contains(v, "reverse") && (strings.Contains(v, "holo") || strings.Contains(v, "foil")):
		return VariantReverseHolofoil
	case strings.Contains(v, "holo") || strings.Contains(v, "foil"):
		return VariantHolofoil
	case strings.Contains(v, "unlimited"):
		return VariantUnlimited
	default:
		return VariantNormal
	}
}

// PriceHistory is one market price observation. The logical key is (product_id, date, variant);
// a later import for the same key overwrites the earlier row.
type PriceHistory struct {
	ID        uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	ProductID string          `json:"product_id" gorm:"column:product_id;not null;uniqueIndex:idx_price_history_key,priority:1"`
	Date      string          `json:"date" gorm:"not null;uniqueIndex:idx_price_history_key,priority:2"` // YYYY-MM-DD
	Variant   Variant         `json:"variant" gorm:"not null;default:'normal';uniqueIndex:idx_price_history_key,priority:3"`
	Price     decimal.Decimal `json:"price" gorm:"type:decimal(12,2);not null"`
	Volume    *int64          `json:"volume,omitempty"`
	Source    string          `json:"source"`
	RunID     string          `json:"run_id" gorm:"index"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TableName keeps the historical singular table name
func (PriceHistory) TableName() string {
	return "price_history"
}
