package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/codyseavey/tcg-pricesync/internal/logging"
	"github.com/codyseavey/tcg-pricesync/internal/metrics"
	"github.com/codyseavey/tcg-pricesync/internal/models"
)

const sanitizePageSize = 500

// Maintenance runs the one-off repair passes over data already in the database.
type Maintenance struct {
	store      *PriceStore
	sanitizer  *Sanitizer
	rejectsDir string
	now        func() time.Time
	log        *zap.Logger
}

// NewMaintenance creates the repair passes; sanitizer supplies the ceilings for SanitizeStoredPrices.
func NewMaintenance(store *PriceStore, sanitizer *Sanitizer, rejectsDir string, log *zap.Logger) *Maintenance {
	return &Maintenance{
		store:      store,
		sanitizer:  sanitizer,
		rejectsDir: rejectsDir,
		now:        time.Now,
		log:        logging.OrNop(log).Named("maintenance"),
	}
}

type storedPrice struct {
	ID        uint
	ProductID string
	Date      string
	Variant   models.Variant
	Price     decimal.Decimal
	Name      string
}

// SanitizeStoredPrices re-applies the sanitizer to stored history rows and to cards whose
// current value has no history behind it, then recomputes the current value of every
// touched card. Rows at or below the smallest ceiling are never read.
func (m *Maintenance) SanitizeStoredPrices(ctx context.Context) (*Result, error) {
	res := newResult(uuid.NewString(), models.RunKindSanitize, "database", m.now())
	log := m.log.With(zap.String("run_id", res.RunID))
	start := time.Now()
	res.State = models.RunStateProcessing

	floor := m.sanitizer.MinCeiling().InexactFloat64()
	db := m.store.DB().WithContext(ctx)
	touched := make(map[string]bool)

	var lastID uint
	for ctx.Err() == nil {
		var page []storedPrice
		err := db.Table("price_history").
			Select("price_history.id, price_history.product_id, price_history.date, price_history.variant, price_history.price, cards.name").
			Joins("JOIN cards ON cards.id = price_history.product_id").
			Where("price_history.price > ? AND price_history.id > ?", floor, lastID).
			Order("price_history.id ASC").
			Limit(sanitizePageSize).
			Scan(&page).Error
		if err != nil {
			return m.fail(ctx, res, log, start, fmt.Errorf("%w: scan price history: %v", ErrFatalIO, err))
		}
		if len(page) == 0 {
			break
		}
		lastID = page[len(page)-1].ID

		for _, row := range page {
			res.Processed++
			v := m.sanitizer.Check(row.Name, row.Price)
			if v.Action == ActionPass {
				continue
			}
			if err := db.Model(&models.PriceHistory{}).Where("id = ?", row.ID).
				Update("price", v.Price).Error; err != nil {
				res.Errors++
				res.reject(0, row.ProductID, models.RejectWriteFailure, fmt.Errorf("%w: %v", ErrWriteFailure, err), nil)
				continue
			}
			touched[row.ProductID] = true
			m.count(res, log, v, row.ProductID, row.Date, row.Variant)
		}
	}

	// Cards priced by an older pipeline that never wrote history
	var orphans []models.Card
	if ctx.Err() == nil {
		if err := db.Where("current_value > ?", floor).
			Where("NOT EXISTS (SELECT 1 FROM price_history WHERE price_history.product_id = cards.id)").
			Find(&orphans).Error; err != nil {
			return m.fail(ctx, res, log, start, fmt.Errorf("%w: scan cards: %v", ErrFatalIO, err))
		}
	}
	for _, card := range orphans {
		if ctx.Err() != nil {
			break
		}
		res.Processed++
		v := m.sanitizer.Check(card.Name, card.CurrentValue.Decimal)
		if v.Action == ActionPass {
			continue
		}
		if err := db.Model(&models.Card{}).Where("id = ?", card.ID).
			Update("current_value", decimal.NewNullDecimal(v.Price)).Error; err != nil {
			res.Errors++
			res.reject(0, card.ID, models.RejectWriteFailure, fmt.Errorf("%w: %v", ErrWriteFailure, err), nil)
			continue
		}
		m.count(res, log, v, card.ID, "", "")
	}

	for id := range touched {
		if ctx.Err() != nil {
			break
		}
		if _, err := m.store.RecomputeCurrentValue(ctx, id); err != nil {
			res.Errors++
			res.reject(0, id, models.RejectWriteFailure, err, nil)
		}
	}

	if ctx.Err() != nil {
		res.Err = fmt.Sprintf("run canceled: %v", ctx.Err())
	}
	res.State = models.RunStateReporting
	finishRun(ctx, m.store, res, m.rejectsDir, log, start)
	return res, nil
}

func (m *Maintenance) count(res *Result, log *zap.Logger, v Verdict, cardID, date string, variant models.Variant) {
	res.Updated++
	fields := []zap.Field{
		zap.String("card_id", cardID),
		zap.String("tier", v.Tier),
		zap.Stringer("price", v.Original),
		zap.Stringer("stored", v.Price),
	}
	if date != "" {
		fields = append(fields, zap.String("date", date), zap.String("variant", string(variant)))
	}

	switch v.Action {
	case ActionCapped:
		res.Capped++
		metrics.SanitizerActionsTotal.WithLabelValues("capped").Inc()
		log.Info("Capped stored price", fields...)
	case ActionRejected:
		res.Zeroed++
		metrics.SanitizerActionsTotal.WithLabelValues("zeroed").Inc()
		res.reject(0, cardID, models.RejectPriceRejected,
			fmt.Errorf("stored price %s above rejection threshold, set to 0", v.Original.StringFixed(2)), nil)
		log.Warn("Zeroed stored price", fields...)
	}
}

func (m *Maintenance) fail(ctx context.Context, res *Result, log *zap.Logger, start time.Time, err error) (*Result, error) {
	res.Err = err.Error()
	res.State = models.RunStateFatal
	finishRun(ctx, m.store, res, m.rejectsDir, log, start)
	return res, err
}

// RecomputeAll rebuilds current values from history. With no ids every card is recomputed.
// It returns how many cards were updated.
func (m *Maintenance) RecomputeAll(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		if err := m.store.DB().WithContext(ctx).Model(&models.Card{}).Order("id").Pluck("id", &ids).Error; err != nil {
			return 0, err
		}
	}

	updated := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		if _, err := m.store.RecomputeCurrentValue(ctx, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				m.log.Warn("Card not found", zap.String("card_id", id))
				continue
			}
			return updated, err
		}
		updated++
	}
	m.log.Info("Recomputed current values", zap.Int("cards", updated))
	return updated, nil
}

// NumberReport is the outcome of a collector-number pass.
type NumberReport struct {
	Scanned   int               `json:"scanned"`
	Updated   int               `json:"updated"`
	Unchanged int               `json:"unchanged"`
	Invalid   map[string]string `json:"invalid,omitempty"` // card id -> number as stored
}

// StandardizeNumbers rewrites every stored collector number into "NNN/TTT" form. Numbers that
// cannot be standardized are left as they are and reported.
func (m *Maintenance) StandardizeNumbers(ctx context.Context) (*NumberReport, error) {
	var cards []models.Card
	if err := m.store.DB().WithContext(ctx).
		Select("id", "number").
		Where("number IS NOT NULL AND number != ''").
		Order("id").
		Find(&cards).Error; err != nil {
		return nil, err
	}

	report := &NumberReport{Invalid: map[string]string{}}
	for _, card := range cards {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		n, err := models.StandardizeNumber(card.Number)
		if err != nil {
			report.Invalid[card.ID] = card.Number
			continue
		}
		if n == card.Number {
			report.Unchanged++
			continue
		}
		if err := m.setNumber(ctx, card.ID, n); err != nil {
			return report, err
		}
		report.Updated++
	}

	m.log.Info("Standardized card numbers",
		zap.Int("scanned", report.Scanned),
		zap.Int("updated", report.Updated),
		zap.Int("invalid", len(report.Invalid)))
	return report, nil
}

// ExtractNumbers fills in the collector number of cards that have none from a
// "number/total" token in the card name. Names are left untouched.
func (m *Maintenance) ExtractNumbers(ctx context.Context) (*NumberReport, error) {
	var cards []models.Card
	if err := m.store.DB().WithContext(ctx).
		Select("id", "name").
		Where("number IS NULL OR number = ''").
		Order("id").
		Find(&cards).Error; err != nil {
		return nil, err
	}

	report := &NumberReport{Invalid: map[string]string{}}
	for _, card := range cards {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		token, _, ok := models.ExtractNumber(card.Name)
		if !ok {
			report.Unchanged++
			continue
		}
		n, err := models.StandardizeNumber(token)
		if err != nil {
			report.Invalid[card.ID] = token
			continue
		}
		if err := m.setNumber(ctx, card.ID, n); err != nil {
			return report, err
		}
		m.log.Debug("Extracted number", zap.String("card_id", card.ID), zap.String("name", card.Name), zap.String("number", n))
		report.Updated++
	}

	m.log.Info("Extracted card numbers from names",
		zap.Int("scanned", report.Scanned),
		zap.Int("updated", report.Updated))
	return report, nil
}

func (m *Maintenance) setNumber(ctx context.Context, cardID, number string) error {
	return m.store.DB().WithContext(ctx).Model(&models.Card{}).Where("id = ?", cardID).
		Updates(map[string]any{"number": number, "updated_at": time.Now()}).Error
}

// DeleteCard removes a card with its history and orphaned set.
func (m *Maintenance) DeleteCard(ctx context.Context, cardID string) (*DeleteReport, error) {
	return m.store.DeleteCard(ctx, cardID)
}
