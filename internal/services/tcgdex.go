package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/codyseavey/tcg-pricesync/internal/logging"
	"github.com/codyseavey/tcg-pricesync/internal/models"
)

// TCGdexService reads card prices from the TCGdex API. No key is required.
type TCGdexService struct {
	api     *apiClient
	baseURL string
}

// NewTCGdexService creates a TCGdex client limited to rps requests per second.
func NewTCGdexService(baseURL string, timeout time.Duration, rps float64, log *zap.Logger) *TCGdexService {
	return &TCGdexService{
		api:     newAPIClient("tcgdex", timeout, rps, logging.OrNop(log).Named("tcgdex")),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (s *TCGdexService) Name() string {
	return "tcgdex"
}

type tcgdexCard struct {
	ID      string        `json:"id"`
	LocalID string        `json:"localId"`
	Name    string        `json:"name"`
	Rarity  string        `json:"rarity"`
	Set     tcgdexSet     `json:"set"`
	Pricing *tcgdexPrices `json:"pricing"`
}

type tcgdexSet struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type tcgdexPrices struct {
	TCGPlayer  *tcgdexTCGPlayer  `json:"tcgplayer"`
	Cardmarket *tcgdexCardmarket `json:"cardmarket"`
}

type tcgdexTCGPlayer struct {
	Updated  string              `json:"updated"`
	Unit     string              `json:"unit"`
	Normal   *tcgdexPriceVariant `json:"normal"`
	Holofoil *tcgdexPriceVariant `json:"holofoil"`
	Reverse  *tcgdexPriceVariant `json:"reverse-holofoil"`
}

type tcgdexPriceVariant struct {
	LowPrice    *float64 `json:"lowPrice"`
	MidPrice    *float64 `json:"midPrice"`
	HighPrice   *float64 `json:"highPrice"`
	MarketPrice *float64 `json:"marketPrice"`
}

type tcgdexCardmarket struct {
	Updated string   `json:"updated"`
	Avg     *float64 `json:"avg"`
	Trend   *float64 `json:"trend"`
}

// GetCard fetches a single card with pricing data from TCGdex
func (s *TCGdexService) GetCard(ctx context.Context, id string) (*tcgdexCard, error) {
	reqURL := fmt.Sprintf("%s/cards/%s", s.baseURL, url.PathEscape(id))

	var card tcgdexCard
	if err := s.api.getJSON(ctx, reqURL, &card); err != nil {
		return nil, fmt.Errorf("failed to get card %s from tcgdex: %w", id, err)
	}
	return &card, nil
}

// FetchPrices returns the tcgplayer variant prices, or the cardmarket trend/average when
// tcgplayer has none.
func (s *TCGdexService) FetchPrices(ctx context.Context, id string) ([]FetchedPrice, error) {
	card, err := s.GetCard(ctx, id)
	if err != nil {
		return nil, err
	}
	if card.ID == "" {
		card.ID = id
	}
	return tcgdexPricesFor(card), nil
}

func tcgdexPricesFor(card *tcgdexCard) []FetchedPrice {
	if card.Pricing == nil {
		return nil
	}

	var out []FetchedPrice
	if tp := card.Pricing.TCGPlayer; tp != nil {
		for _, v := range []struct {
			prices  *tcgdexPriceVariant
			variant models.Variant
		}{
			{tp.Normal, models.VariantNormal},
			{tp.Holofoil, models.VariantHolofoil},
			{tp.Reverse, models.VariantReverseHolofoil},
		} {
			if v.prices == nil {
				continue
			}
			price, basis, ok := selectTCGPlayerPrice(pokemonPriceSet{
				Low:    v.prices.LowPrice,
				Mid:    v.prices.MidPrice,
				High:   v.prices.HighPrice,
				Market: v.prices.MarketPrice,
			})
			if !ok {
				continue
			}
			out = append(out, FetchedPrice{
				CardID:  card.ID,
				Variant: v.variant,
				Price:   price,
				Date:    tp.Updated,
				Source:  "tcgplayer",
				Basis:   basis,
			})
		}
	}
	if len(out) > 0 {
		return out
	}

	if cm := card.Pricing.Cardmarket; cm != nil {
		for _, p := range []struct {
			v     *float64
			basis string
		}{{cm.Trend, "trend"}, {cm.Avg, "average_sell"}} {
			if p.v != nil && *p.v > 0 {
				return []FetchedPrice{{
					CardID:  card.ID,
					Variant: models.VariantNormal,
					Price:   *p.v,
					Date:    cm.Updated,
					Source:  "cardmarket",
					Basis:   p.basis,
				}}
			}
		}
	}
	return nil
}
