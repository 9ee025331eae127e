package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Card is one catalog entry. ID is the set-prefixed key (e.g. "base1-4") and never changes once assigned.
type Card struct {
	ID           string              `json:"id" gorm:"primaryKey"`
	Name         string              `json:"name" gorm:"not null;index"`
	SetID        string              `json:"set_id" gorm:"index"`
	Number       string              `json:"number" gorm:"index"` // "004/102" or "025/???"
	Rarity       string              `json:"rarity"`
	CurrentValue decimal.NullDecimal `json:"current_value" gorm:"type:decimal(12,2)"` // latest accepted price_history row
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Set groups the cards of one release.
type Set struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"not null;index"`
	ReleaseDate string    `json:"release_date"` // YYYY-MM-DD, empty when unknown
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CardWithHistory is the API view of a card and its recent observations
type CardWithHistory struct {
	Card    Card           `json:"card"`
	History []PriceHistory `json:"history"`
}
