package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/codyseavey/tcg-pricesync/internal/logging"
	"github.com/codyseavey/tcg-pricesync/internal/models"
)

// PriceStore persists price observations and keeps each card's current value in sync with them.
type PriceStore struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewPriceStore creates a store on an open database handle.
func NewPriceStore(db *gorm.DB, log *zap.Logger) *PriceStore {
	return &PriceStore{db: db, log: logging.OrNop(log).Named("store")}
}

// DB exposes the handle for read-only callers such as the API.
func (s *PriceStore) DB() *gorm.DB {
	return s.db
}

// Upsert writes the (product_id, date, variant) row, replacing an earlier import of the same key.
func (s *PriceStore) Upsert(ctx context.Context, rec *models.PriceHistory) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return upsertPrice(tx, rec)
	})
}

// upsertPrice replaces the key's row instead of updating it in place, so the latest write
// always holds the highest rowid and wins same-date ties in recomputeCurrentValue.
func upsertPrice(tx *gorm.DB, rec *models.PriceHistory) error {
	if rec.Variant == "" {
		rec.Variant = models.VariantNormal
	}
	err := tx.Where("product_id = ? AND date = ? AND variant = ?", rec.ProductID, rec.Date, rec.Variant).
		Delete(&models.PriceHistory{}).Error
	if err == nil {
		rec.ID = 0
		err = tx.Create(rec).Error
	}
	if err != nil {
		return fmt.Errorf("%w: upsert %s %s %s: %v", ErrWriteFailure, rec.ProductID, rec.Date, rec.Variant, err)
	}
	return nil
}

// RecomputeCurrentValue sets the card's current value to the price of its latest history row
// (latest date, then highest rowid) or NULL when it has none, and refreshes updated_at.
func (s *PriceStore) RecomputeCurrentValue(ctx context.Context, cardID string) (decimal.NullDecimal, error) {
	return recomputeCurrentValue(s.db.WithContext(ctx), cardID)
}

func recomputeCurrentValue(tx *gorm.DB, cardID string) (decimal.NullDecimal, error) {
	var latest []models.PriceHistory
	if err := tx.Where("product_id = ?", cardID).
		Order("date DESC").Order("id DESC").
		Limit(1).
		Find(&latest).Error; err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%w: read latest price for %s: %v", ErrWriteFailure, cardID, err)
	}

	var value decimal.NullDecimal
	if len(latest) == 1 {
		value = decimal.NewNullDecimal(latest[0].Price)
	}

	result := tx.Model(&models.Card{}).Where("id = ?", cardID).Updates(map[string]any{
		"current_value": value,
		"updated_at":    time.Now(),
	})
	if result.Error != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%w: update current value for %s: %v", ErrWriteFailure, cardID, result.Error)
	}
	if result.RowsAffected == 0 {
		return decimal.NullDecimal{}, fmt.Errorf("%w: %s", ErrNotFound, cardID)
	}
	return value, nil
}

// UpsertAndRecompute applies one observation and the derived current value atomically.
func (s *PriceStore) UpsertAndRecompute(ctx context.Context, rec *models.PriceHistory) (decimal.NullDecimal, error) {
	var value decimal.NullDecimal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertPrice(tx, rec); err != nil {
			return err
		}
		v, err := recomputeCurrentValue(tx, rec.ProductID)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err != nil && !errors.Is(err, ErrWriteFailure) && !errors.Is(err, ErrNotFound) {
		err = fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	return value, err
}

// GetCard returns the card or ErrNotFound.
func (s *PriceStore) GetCard(ctx context.Context, id string) (*models.Card, error) {
	var card models.Card
	err := s.db.WithContext(ctx).First(&card, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// History returns the card's observations, newest first. Empty variant means all variants;
// limit <= 0 means no limit.
func (s *PriceStore) History(ctx context.Context, cardID string, variant models.Variant, limit int) ([]models.PriceHistory, error) {
	q := s.db.WithContext(ctx).Where("product_id = ?", cardID)
	if variant != "" {
		q = q.Where("variant = ?", variant)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.PriceHistory
	if err := q.Order("date DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteReport summarizes a cascade delete.
type DeleteReport struct {
	CardID      string   `json:"card_id"`
	PriceRows   int64    `json:"price_rows"`
	SetsRemoved []string `json:"sets_removed,omitempty"`
}

// DeleteCard removes a card, its price history and any set left without cards.
func (s *PriceStore) DeleteCard(ctx context.Context, cardID string) (*DeleteReport, error) {
	report := &DeleteReport{CardID: cardID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var card models.Card
		if err := tx.First(&card, "id = ?", cardID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, cardID)
			}
			return err
		}

		history := tx.Where("product_id = ?", cardID).Delete(&models.PriceHistory{})
		if history.Error != nil {
			return history.Error
		}
		report.PriceRows = history.RowsAffected

		if err := tx.Delete(&card).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Set{}).
			Where("NOT EXISTS (SELECT 1 FROM cards WHERE cards.set_id = sets.id)").
			Pluck("id", &report.SetsRemoved).Error; err != nil {
			return err
		}
		if len(report.SetsRemoved) > 0 {
			return tx.Where("id IN ?", report.SetsRemoved).Delete(&models.Set{}).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Deleted card",
		zap.String("card_id", cardID),
		zap.Int64("price_rows", report.PriceRows),
		zap.Strings("sets_removed", report.SetsRemoved))
	return report, nil
}

// SaveRun stores a run and its rejected records.
func (s *PriceStore) SaveRun(ctx context.Context, run *models.ImportRun, rejected []models.RejectedRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Rejected").Save(run).Error; err != nil {
			return err
		}
		if len(rejected) == 0 {
			return nil
		}
		for i := range rejected {
			rejected[i].RunID = run.ID
		}
		return tx.CreateInBatches(&rejected, 500).Error
	})
}

// GetRun loads a run with its rejected records.
func (s *PriceStore) GetRun(ctx context.Context, id string) (*models.ImportRun, error) {
	var run models.ImportRun
	err := s.db.WithContext(ctx).
		Preload("Rejected", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the most recent runs first, without their rejected records.
func (s *PriceStore) ListRuns(ctx context.Context, limit int) ([]models.ImportRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []models.ImportRun
	if err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// CountRows refreshes catalog size gauges.
func (s *PriceStore) CountRows(ctx context.Context) (cards, history int64, err error) {
	if err = s.db.WithContext(ctx).Model(&models.Card{}).Count(&cards).Error; err != nil {
		return 0, 0, err
	}
	if err = s.db.WithContext(ctx).Model(&models.PriceHistory{}).Count(&history).Error; err != nil {
		return 0, 0, err
	}
	return cards, history, nil
}
