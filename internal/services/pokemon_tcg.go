package services

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/codyseavey/tcg-pricesync/internal/logging"
	"github.com/codyseavey/tcg-pricesync/internal/models"
)

// PokemonTCGService reads card prices from pokemontcg.io.
type PokemonTCGService struct {
	api     *apiClient
	baseURL string
}

// NewPokemonTCGService creates a client. rps <= 0 derives the rate from the key:
// 10 requests/s with a key, 1/s without.
func NewPokemonTCGService(baseURL, apiKey string, timeout time.Duration, rps float64, log *zap.Logger) *PokemonTCGService {
	if rps <= 0 {
		rps = 1
		if apiKey != "" {
			rps = 10
		}
	}
	api := newAPIClient("pokemontcg", timeout, rps, logging.OrNop(log).Named("pokemontcg"))
	if apiKey != "" {
		api.headers["X-Api-Key"] = apiKey
	}
	return &PokemonTCGService{
		api:     api,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (s *PokemonTCGService) Name() string {
	return "pokemontcg"
}

type pokemonCard struct {
	TCGPlayer  *pokemonTCGPrice `json:"tcgplayer"`
	Cardmarket *pokemonCardmkt  `json:"cardmarket"`
	Set        pokemonSet       `json:"set"`
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Number     string           `json:"number"`
	Rarity     string           `json:"rarity"`
}

type pokemonSet struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ReleaseDate string `json:"releaseDate"`
}

type pokemonTCGPrice struct {
	Prices    map[string]pokemonPriceSet `json:"prices"`
	URL       string                     `json:"url"`
	UpdatedAt string                     `json:"updatedAt"`
}

// Absent fields stay nil: unknown is not zero
type pokemonPriceSet struct {
	Low    *float64 `json:"low"`
	Mid    *float64 `json:"mid"`
	High   *float64 `json:"high"`
	Market *float64 `json:"market"`
}

type pokemonCardmkt struct {
	UpdatedAt string `json:"updatedAt"`
	Prices    struct {
		TrendPrice       *float64 `json:"trendPrice"`
		AverageSellPrice *float64 `json:"averageSellPrice"`
	} `json:"prices"`
}

// GetCard fetches one card. A missing card is ErrNotFound.
func (s *PokemonTCGService) GetCard(ctx context.Context, id string) (*pokemonCard, error) {
	reqURL := fmt.Sprintf("%s/cards/%s", s.baseURL, url.PathEscape(id))

	var response struct {
		Data pokemonCard `json:"data"`
	}
	if err := s.api.getJSON(ctx, reqURL, &response); err != nil {
		return nil, fmt.Errorf("failed to get card %s from pokemon tcg: %w", id, err)
	}
	return &response.Data, nil
}

// FetchPrices returns one observation per priced tcgplayer variant, or a single cardmarket
// observation when tcgplayer has none.
func (s *PokemonTCGService) FetchPrices(ctx context.Context, id string) ([]FetchedPrice, error) {
	card, err := s.GetCard(ctx, id)
	if err != nil {
		return nil, err
	}
	return pokemonPrices(card), nil
}

func pokemonPrices(card *pokemonCard) []FetchedPrice {
	var out []FetchedPrice

	if card.TCGPlayer != nil && len(card.TCGPlayer.Prices) > 0 {
		// "1stEditionHolofoil" and "1stEditionNormal" both map to 1stEdition; first key wins
		keys := make([]string, 0, len(card.TCGPlayer.Prices))
		for k := range card.TCGPlayer.Prices {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		seen := make(map[models.Variant]bool)
		for _, k := range keys {
			variant := models.NormalizeVariant(k)
			if seen[variant] {
				continue
			}
			price, basis, ok := selectTCGPlayerPrice(card.TCGPlayer.Prices[k])
			if !ok {
				continue
			}
			seen[variant] = true
			out = append(out, FetchedPrice{
				CardID:  card.ID,
				Variant: variant,
				Price:   price,
				Date:    card.TCGPlayer.UpdatedAt,
				Source:  "tcgplayer",
				Basis:   basis,
			})
		}
	}
	if len(out) > 0 {
		return out
	}

	if cm := card.Cardmarket; cm != nil {
		for _, p := range []struct {
			v     *float64
			basis string
		}{{cm.Prices.TrendPrice, "trend"}, {cm.Prices.AverageSellPrice, "average_sell"}} {
			if p.v != nil && *p.v > 0 {
				return []FetchedPrice{{
					CardID:  card.ID,
					Variant: models.VariantNormal,
					Price:   *p.v,
					Date:    cm.UpdatedAt,
					Source:  "cardmarket",
					Basis:   p.basis,
				}}
			}
		}
	}
	return nil
}

// selectTCGPlayerPrice prefers market, falls back to mid, then the low/high midpoint.
// A market price under half the low price is treated as bad data and mid is used instead.
func selectTCGPlayerPrice(p pokemonPriceSet) (float64, string, bool) {
	positive := func(v *float64) bool { return v != nil && *v > 0 }

	if positive(p.Market) {
		if positive(p.Low) && positive(p.Mid) && *p.Market < *p.Low*0.5 {
			return *p.Mid, "mid", true
		}
		return *p.Market, "market", true
	}
	if positive(p.Mid) {
		return *p.Mid, "mid", true
	}
	if positive(p.Low) && positive(p.High) {
		return (*p.Low + *p.High) / 2, "low_high_avg", true
	}
	return 0, "", false
}
