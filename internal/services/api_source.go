package services

import (
	"context"
	"errors"
	"io"

	"github.com/codyseavey/tcg-pricesync/internal/models"
)

// FetchedPrice is one price point reported by a pricing API.
type FetchedPrice struct {
	CardID  string
	Variant models.Variant
	Price   float64
	Date    string // as reported; the normalizer truncates it to a day
	Source  string // "tcgplayer" or "cardmarket"
	Basis   string // which field the price came from: market, mid, trend, ...
}

// PriceFetcher is a pricing API client.
type PriceFetcher interface {
	Name() string
	FetchPrices(ctx context.Context, cardID string) ([]FetchedPrice, error)
}

// APISource turns per-card API lookups into source rows, one request at a time.
type APISource struct {
	fetcher PriceFetcher
	cardIDs []string
}

// NewAPISource fetches prices for cardIDs in order.
func NewAPISource(fetcher PriceFetcher, cardIDs []string) *APISource {
	return &APISource{fetcher: fetcher, cardIDs: cardIDs}
}

func (s *APISource) Name() string {
	return s.fetcher.Name()
}

func (s *APISource) Open(_ context.Context) (RowReader, error) {
	return &apiRowReader{src: s}, nil
}

type apiRowReader struct {
	src     *APISource
	next    int // index into cardIDs of the next card to fetch
	pending []SourceRow
}

func (r *apiRowReader) Next(ctx context.Context) (SourceRow, error) {
	for len(r.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return SourceRow{}, err
		}
		if r.next >= len(r.src.cardIDs) {
			return SourceRow{}, io.EOF
		}

		line := r.next + 1
		id := r.src.cardIDs[r.next]
		r.next++

		prices, err := r.src.fetcher.FetchPrices(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return SourceRow{}, ctxErr
			}
			return SourceRow{}, &RowError{Line: line, Ref: id, Err: err}
		}
		if len(prices) == 0 {
			return SourceRow{}, &RowError{Line: line, Ref: id, Err: ErrNoObservation}
		}

		for _, p := range prices {
			cardID := p.CardID
			if cardID == "" {
				cardID = id
			}
			r.pending = append(r.pending, SourceRow{
				Line: line,
				Fields: map[string]string{
					"id":      cardID,
					"variant": string(p.Variant),
					"price":   formatPrice(p.Price),
					"date":    p.Date,
					"source":  r.src.fetcher.Name() + "/" + p.Source,
					"basis":   p.Basis,
				},
			})
		}
	}

	row := r.pending[0]
	r.pending = r.pending[1:]
	return row, nil
}

func (r *apiRowReader) Close() error {
	return nil
}
