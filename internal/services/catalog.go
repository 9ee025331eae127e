package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/codyseavey/tcg-pricesync/internal/logging"
	"github.com/codyseavey/tcg-pricesync/internal/models"
)

// catalogAliases are the header spellings of catalog exports
var catalogAliases = map[string][]string{
	"id":           {"Card ID", "id", "product_id"},
	"name":         {"Card Name", "name", "product_name"},
	"set_id":       {"Set ID", "set_id", "group_id", "set_code"},
	"set_name":     {"Set Name", "set", "group_name"},
	"number":       {"Number", "card_number", "ext_number"},
	"rarity":       {"Rarity", "ext_rarity"},
	"release_date": {"Release Date", "published_on", "releaseDate"},
}

// CatalogImporter upserts sets and cards from a catalog export. Existing cards keep their
// current value; name and set are overwritten, number and rarity only when the row has them.
type CatalogImporter struct {
	store      *PriceStore
	rejectsDir string
	now        func() time.Time
	log        *zap.Logger
}

// NewCatalogImporter creates a catalog importer writing rejects under rejectsDir ("" disables the file).
func NewCatalogImporter(store *PriceStore, rejectsDir string, log *zap.Logger) *CatalogImporter {
	return &CatalogImporter{
		store:      store,
		rejectsDir: rejectsDir,
		now:        time.Now,
		log:        logging.OrNop(log).Named("catalog"),
	}
}

// Run imports every row of src. Invalid collector numbers are stored empty and counted.
func (c *CatalogImporter) Run(ctx context.Context, src Source) (*Result, error) {
	res := newResult(uuid.NewString(), models.RunKindCatalog, src.Name(), c.now())
	log := c.log.With(zap.String("run_id", res.RunID), zap.String("source", src.Name()))
	start := time.Now()

	reader, err := src.Open(ctx)
	if err != nil {
		if !errors.Is(err, ErrFatalIO) {
			err = fmt.Errorf("%w: %v", ErrFatalIO, err)
		}
		res.Err = err.Error()
		res.State = models.RunStateFatal
		finishRun(ctx, c.store, res, c.rejectsDir, log, start)
		return res, err
	}
	defer reader.Close()
	res.State = models.RunStateProcessing

	for ctx.Err() == nil {
		row, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, ErrFatalIO) {
				res.Err = err.Error()
				res.State = models.RunStateFatal
				finishRun(ctx, c.store, res, c.rejectsDir, log, start)
				return res, err
			}
			res.Processed++
			res.Malformed++
			var rowErr *RowError
			if errors.As(err, &rowErr) {
				res.reject(rowErr.Line, rowErr.Ref, models.RejectMalformed, err, nil)
			}
			continue
		}
		c.importRow(ctx, res, log, row)
	}
	if ctx.Err() != nil {
		res.Err = fmt.Sprintf("run canceled: %v", ctx.Err())
	}

	res.State = models.RunStateReporting
	finishRun(ctx, c.store, res, c.rejectsDir, log, start)
	return res, nil
}

func (c *CatalogImporter) importRow(ctx context.Context, res *Result, log *zap.Logger, row SourceRow) {
	res.Processed++
	f := catalogFields(row)

	if f["id"] == "" || f["name"] == "" {
		res.Malformed++
		res.reject(row.Line, f["id"]+f["name"], models.RejectMissingField,
			fmt.Errorf("%w: catalog rows need a card id and name", ErrMissingRequiredField), row.Fields)
		return
	}

	card := models.Card{
		ID:     f["id"],
		Name:   f["name"],
		SetID:  f["set_id"],
		Rarity: f["rarity"],
	}
	if raw := f["number"]; raw != "" {
		n, err := models.StandardizeNumber(raw)
		if err != nil {
			res.InvalidNumbers++
			res.reject(row.Line, card.ID, models.RejectInvalidNumber,
				fmt.Errorf("%w, stored empty", err), row.Fields)
		} else {
			card.Number = n
		}
	}

	err := c.store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if card.SetID != "" {
			set := models.Set{ID: card.SetID, Name: f["set_name"], ReleaseDate: releaseDate(f["release_date"])}
			if set.Name == "" {
				set.Name = set.ID
			}
			updates := []string{"updated_at"}
			if f["set_name"] != "" {
				updates = append(updates, "name")
			}
			if set.ReleaseDate != "" {
				updates = append(updates, "release_date")
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns(updates),
			}).Create(&set).Error; err != nil {
				return err
			}
		}
		// A row without a usable number or rarity keeps the stored one
		updates := []string{"name", "set_id", "updated_at"}
		if card.Number != "" {
			updates = append(updates, "number")
		}
		if card.Rarity != "" {
			updates = append(updates, "rarity")
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(updates),
		}).Create(&card).Error
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		res.Errors++
		res.reject(row.Line, card.ID, models.RejectWriteFailure, fmt.Errorf("%w: %v", ErrWriteFailure, err), row.Fields)
		log.Warn("Catalog write failed", zap.String("card_id", card.ID), zap.Error(err))
		return
	}
	res.Updated++
}

func catalogFields(row SourceRow) map[string]string {
	columns := make(map[string]string, len(row.Fields))
	for h, v := range row.Fields {
		columns[normalizeHeader(h)] = strings.TrimSpace(v)
	}
	out := make(map[string]string, len(catalogAliases))
	for field, headers := range catalogAliases {
		for _, h := range headers {
			if v := columns[normalizeHeader(h)]; v != "" {
				out[field] = v
				break
			}
		}
	}
	return out
}

// releaseDate truncates a published date to YYYY-MM-DD, or returns "" when unparseable
func releaseDate(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}
