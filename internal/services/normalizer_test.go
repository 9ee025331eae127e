package services

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/codyseavey/tcg-pricesync/internal/models"
)

func testNow() time.Time {
	return time.Date(2025, 10, 22, 9, 30, 0, 0, time.UTC)
}

var decimalComparer = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func TestNormalize(t *testing.T) {
	n := NewNormalizer(testNow)
	vol := int64(14)

	tests := []struct {
		name   string
		fields map[string]string
		want   []PriceRecord
	}{
		{
			name:   "export headers",
			fields: map[string]string{"Card ID": "base1-4", "Card Name": "Charizard", "Date": "2025-10-16", "Market Price": "$325.00"},
			want: []PriceRecord{{
				Line: 2, CardID: "base1-4", Name: "Charizard", Date: "2025-10-16",
				Variant: models.VariantNormal, Price: price("325"), Source: "prices.csv",
			}},
		},
		{
			name: "snake case headers with variant and volume",
			fields: map[string]string{
				"product_id": "base1-4", "price_date": "2025/10/18", "sub_type_name": "Holofoil",
				"new_price": "1,330.456", "sales_volume": "14",
			},
			want: []PriceRecord{{
				Line: 2, CardID: "base1-4", Date: "2025-10-18",
				Variant: models.VariantHolofoil, Price: price("1330.46"), Volume: &vol, Source: "prices.csv",
			}},
		},
		{
			name:   "timestamp truncated to day",
			fields: map[string]string{"id": "base1-4", "updatedAt": "2025-10-21T23:59:59Z", "price": "328"},
			want: []PriceRecord{{
				Line: 2, CardID: "base1-4", Date: "2025-10-21",
				Variant: models.VariantNormal, Price: price("328"), Source: "prices.csv",
			}},
		},
		{
			name:   "missing date uses run date",
			fields: map[string]string{"Card Name": "Pikachu", "Set Name": "XY", "Number": "42/146", "Market Price": "1.10"},
			want: []PriceRecord{{
				Line: 2, Name: "Pikachu", SetName: "XY", Number: "42/146", Date: "2025-10-22",
				Variant: models.VariantNormal, Price: price("1.10"), Source: "prices.csv",
			}},
		},
		{
			name: "variant columns produce one record each",
			fields: map[string]string{
				"Card ID": "base1-4", "Date": "2025-10-16",
				"TCGPlayer Market (Holofoil)": "325", "TCGPlayer Market (Reverse Holofoil)": "", "TCGPlayer Market (1st Edition)": "5000",
			},
			want: []PriceRecord{
				{Line: 2, CardID: "base1-4", Date: "2025-10-16", Variant: models.VariantHolofoil, Price: price("325"), Source: "prices.csv"},
				{Line: 2, CardID: "base1-4", Date: "2025-10-16", Variant: models.Variant1stEdition, Price: price("5000"), Source: "prices.csv"},
			},
		},
		{
			name:   "preferred price column wins",
			fields: map[string]string{"id": "base1-4", "Date": "2025-10-16", "Mid Price": "300", "Market Price": "325"},
			want: []PriceRecord{{
				Line: 2, CardID: "base1-4", Date: "2025-10-16",
				Variant: models.VariantNormal, Price: price("325"), Source: "prices.csv",
			}},
		},
		{
			name:   "source column overrides source name",
			fields: map[string]string{"id": "base1-4", "date": "2025-10-16", "price": "328", "source": "pokemontcg/tcgplayer"},
			want: []PriceRecord{{
				Line: 2, CardID: "base1-4", Date: "2025-10-16",
				Variant: models.VariantNormal, Price: price("328"), Source: "pokemontcg/tcgplayer",
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Normalize(SourceRow{Line: 2, Fields: tt.fields}, "prices.csv")
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got, decimalComparer); diff != "" {
				t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalizeErrors(t *testing.T) {
	n := NewNormalizer(testNow)

	tests := []struct {
		name   string
		fields map[string]string
		want   error
	}{
		{"no id or name", map[string]string{"Date": "2025-10-16", "Market Price": "10"}, ErrMissingRequiredField},
		{"no price column", map[string]string{"Card ID": "base1-4", "Date": "2025-10-16"}, ErrMissingRequiredField},
		{"empty price", map[string]string{"Card ID": "base1-4", "Market Price": ""}, ErrNoObservation},
		{"zero price", map[string]string{"Card ID": "base1-4", "Market Price": "0.00"}, ErrNoObservation},
		{"negative price", map[string]string{"Card ID": "base1-4", "Market Price": "-4"}, ErrNoObservation},
		{"price rounds to zero", map[string]string{"Card ID": "base1-4", "Market Price": "0.004"}, ErrNoObservation},
		{"non numeric price", map[string]string{"Card ID": "base1-4", "Market Price": "n/a"}, ErrNoObservation},
		{"bad date", map[string]string{"Card ID": "base1-4", "Date": "16.10.2025", "Market Price": "10"}, ErrRecordMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(SourceRow{Line: 5, Fields: tt.fields}, "prices.csv")
			if !errors.Is(err, tt.want) {
				t.Errorf("Normalize() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNormalizerRef(t *testing.T) {
	n := NewNormalizer(testNow)

	tests := []struct {
		fields map[string]string
		want   string
	}{
		{map[string]string{"Card ID": "base1-4", "Card Name": "Charizard"}, "base1-4"},
		{map[string]string{"name": "Charizard"}, "Charizard"},
		{map[string]string{"price": "4"}, ""},
	}
	for _, tt := range tests {
		if got := n.Ref(SourceRow{Fields: tt.fields}); got != tt.want {
			t.Errorf("Ref(%v) = %q, want %q", tt.fields, got, tt.want)
		}
	}
}

func TestNormalizeHeader(t *testing.T) {
	for in, want := range map[string]string{
		"Card ID":                     "cardid",
		"card_id":                     "cardid",
		"cardId":                      "cardid",
		"TCGPlayer Market (Holofoil)": "tcgplayermarketholofoil",
	} {
		if got := normalizeHeader(in); got != want {
			t.Errorf("normalizeHeader(%q) = %q, want %q", in, got, want)
		}
	}
}
