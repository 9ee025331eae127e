package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/codyseavey/tcg-pricesync/internal/logging"
	"github.com/codyseavey/tcg-pricesync/internal/models"
)

const priceHistoryTable = "price_history"

// upgradeLegacyPriceHistory maps the column layouts written by the old import scripts onto
// (product_id, date, variant, price). Safe to run multiple times.
func upgradeLegacyPriceHistory(db *gorm.DB, log *zap.Logger) error {
	m := db.Migrator()
	if !m.HasTable(priceHistoryTable) {
		return nil
	}

	if !m.HasColumn(priceHistoryTable, "product_id") && m.HasColumn(priceHistoryTable, "card_id") {
		log.Info("Migrating price_history: card_id -> product_id")
		if err := m.RenameColumn(priceHistoryTable, "card_id", "product_id"); err != nil {
			return fmt.Errorf("rename price_history.card_id: %w", err)
		}
	}

	if !m.HasColumn(priceHistoryTable, "date") {
		log.Info("Migrating price_history: adding date")
		if err := db.Exec(`ALTER TABLE price_history ADD COLUMN date text NOT NULL DEFAULT ''`).Error; err != nil {
			return fmt.Errorf("add price_history.date: %w", err)
		}
		if m.HasColumn(priceHistoryTable, "updated_at") {
			db.Exec(`UPDATE price_history SET date = substr(updated_at, 1, 10) WHERE date = ''`)
		}
	}

	if !m.HasColumn(priceHistoryTable, "price") {
		log.Info("Migrating price_history: market_price -> price")
		if err := db.Exec(`ALTER TABLE price_history ADD COLUMN price decimal(12,2) NOT NULL DEFAULT 0`).Error; err != nil {
			return fmt.Errorf("add price_history.price: %w", err)
		}
		if m.HasColumn(priceHistoryTable, "market_price") {
			result := db.Exec(`UPDATE price_history SET price = market_price WHERE market_price IS NOT NULL`)
			if result.Error != nil {
				return fmt.Errorf("copy market_price: %w", result.Error)
			}
			log.Info("Migrated price_history rows", zap.Int64("rows", result.RowsAffected))
		}
	}

	if !m.HasColumn(priceHistoryTable, "variant") {
		log.Info("Migrating price_history: adding variant")
		if err := db.Exec(`ALTER TABLE price_history ADD COLUMN variant text NOT NULL DEFAULT 'normal'`).Error; err != nil {
			return fmt.Errorf("add price_history.variant: %w", err)
		}
		if m.HasColumn(priceHistoryTable, "sub_type_name") {
			if err := migrateSubTypeNames(db); err != nil {
				return err
			}
		}
	}

	// Legacy rows use display spellings ("Reverse Holofoil") or NULL
	db.Exec(`UPDATE price_history SET variant = 'normal' WHERE variant IS NULL OR variant = ''`)
	return normalizeStoredVariants(db)
}

// migrateSubTypeNames copies tcgcsv's sub_type_name into variant, normalized
func migrateSubTypeNames(db *gorm.DB) error {
	var names []sql.NullString
	if err := db.Raw(`SELECT DISTINCT sub_type_name FROM price_history`).Scan(&names).Error; err != nil {
		return fmt.Errorf("read sub_type_name: %w", err)
	}
	for _, name := range names {
		if !name.Valid {
			continue
		}
		v := models.NormalizeVariant(name.String)
		if err := db.Exec(`UPDATE price_history SET variant = ? WHERE sub_type_name = ?`, string(v), name.String).Error; err != nil {
			return fmt.Errorf("migrate sub_type_name %q: %w", name.String, err)
		}
	}
	return nil
}

func normalizeStoredVariants(db *gorm.DB) error {
	var stored []string
	if err := db.Raw(`SELECT DISTINCT variant FROM price_history`).Scan(&stored).Error; err != nil {
		return fmt.Errorf("read variants: %w", err)
	}
	for _, s := range stored {
		v := models.NormalizeVariant(s)
		if string(v) == s {
			continue
		}
		if err := db.Exec(`UPDATE price_history SET variant = ? WHERE variant = ?`, string(v), s).Error; err != nil {
			return fmt.Errorf("normalize variant %q: %w", s, err)
		}
	}
	return nil
}

// cleanupDuplicatePriceHistory removes duplicate (product_id, date, variant) rows before the
// unique index is added, keeping the most recently inserted one.
// This runs BEFORE AutoMigrate to prevent constraint violations
func cleanupDuplicatePriceHistory(db *gorm.DB, log *zap.Logger) error {
	if !db.Migrator().HasTable(priceHistoryTable) {
		return nil
	}

	result := db.Exec(`
		DELETE FROM price_history
		WHERE id NOT IN (
			SELECT MAX(id)
			FROM price_history
			GROUP BY product_id, date, variant
		)
	`)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		log.Info("Cleaned up duplicate price_history entries", zap.Int64("rows", result.RowsAffected))
	}
	return nil
}

// LegacyReport summarizes a products/groups -> cards/sets migration.
type LegacyReport struct {
	Sets           int
	Cards          int
	InvalidNumbers int
	TablesDropped  []string
}

type legacyGroup struct {
	GroupID     string
	Name        string
	PublishedOn sql.NullString
}

type legacyProduct struct {
	ProductID   string
	Name        string
	GroupID     sql.NullString
	ExtNumber   sql.NullString
	ExtRarity   sql.NullString
	MarketPrice sql.NullFloat64
}

// MigrateLegacyCatalog copies the tcgcsv-era products/groups tables into cards/sets and drops
// them. Cards that already exist are left as they are. Returns an empty report when there is
// nothing to migrate.
func MigrateLegacyCatalog(ctx context.Context, db *gorm.DB, log *zap.Logger) (*LegacyReport, error) {
	log = logging.OrNop(log).Named("database")
	report := &LegacyReport{}
	m := db.Migrator()

	hasGroups := m.HasTable("groups")
	hasProducts := m.HasTable("products")
	if !hasGroups && !hasProducts {
		log.Info("No legacy catalog tables found")
		return report, nil
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if hasGroups {
			n, err := migrateGroups(tx)
			if err != nil {
				return err
			}
			report.Sets = n
		}
		if hasProducts {
			cards, invalid, err := migrateProducts(tx)
			if err != nil {
				return err
			}
			report.Cards = cards
			report.InvalidNumbers = invalid
		}

		for _, table := range []string{"products", "groups"} {
			if !tx.Migrator().HasTable(table) {
				continue
			}
			if err := tx.Migrator().DropTable(table); err != nil {
				return fmt.Errorf("drop %s: %w", table, err)
			}
			report.TablesDropped = append(report.TablesDropped, table)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("Legacy catalog migrated",
		zap.Int("sets", report.Sets),
		zap.Int("cards", report.Cards),
		zap.Int("invalid_numbers", report.InvalidNumbers),
		zap.Strings("dropped", report.TablesDropped))
	return report, nil
}

func migrateGroups(tx *gorm.DB) (int, error) {
	published := "NULL"
	if tx.Migrator().HasColumn("groups", "published_on") {
		published = "published_on"
	}

	var groups []legacyGroup
	q := `SELECT CAST(group_id AS TEXT) AS group_id, name, ` + published + ` AS published_on FROM "groups"`
	if err := tx.Raw(q).Scan(&groups).Error; err != nil {
		return 0, fmt.Errorf("read groups: %w", err)
	}

	sets := make([]models.Set, 0, len(groups))
	for _, g := range groups {
		set := models.Set{ID: g.GroupID, Name: g.Name}
		if g.PublishedOn.Valid && len(g.PublishedOn.String) >= 10 {
			set.ReleaseDate = g.PublishedOn.String[:10]
		}
		sets = append(sets, set)
	}
	if len(sets) == 0 {
		return 0, nil
	}

	result := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&sets, 500)
	if result.Error != nil {
		return 0, fmt.Errorf("insert sets: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

func migrateProducts(tx *gorm.DB) (migrated, invalid int, err error) {
	cols := []string{"CAST(product_id AS TEXT) AS product_id", "name"}
	for _, c := range []string{"group_id", "ext_number", "ext_rarity", "market_price"} {
		if !tx.Migrator().HasColumn("products", c) {
			cols = append(cols, "NULL AS "+c)
			continue
		}
		if c == "group_id" {
			cols = append(cols, "CAST(group_id AS TEXT) AS group_id")
			continue
		}
		cols = append(cols, c)
	}

	var products []legacyProduct
	if err := tx.Raw(`SELECT ` + strings.Join(cols, ", ") + ` FROM products`).Scan(&products).Error; err != nil {
		return 0, 0, fmt.Errorf("read products: %w", err)
	}

	cards := make([]models.Card, 0, len(products))
	for _, p := range products {
		card := models.Card{
			ID:     p.ProductID,
			Name:   p.Name,
			SetID:  p.GroupID.String,
			Rarity: p.ExtRarity.String,
		}
		if p.ExtNumber.Valid && strings.TrimSpace(p.ExtNumber.String) != "" {
			n, err := models.StandardizeNumber(p.ExtNumber.String)
			if err != nil {
				invalid++
			} else {
				card.Number = n
			}
		}
		cards = append(cards, card)
	}
	if len(cards) == 0 {
		return 0, invalid, nil
	}

	result := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&cards, 500)
	if result.Error != nil {
		return 0, invalid, fmt.Errorf("insert cards: %w", result.Error)
	}

	// Current value comes from the latest history row, falling back to the product's market price
	for _, p := range products {
		if !p.MarketPrice.Valid || p.MarketPrice.Float64 <= 0 {
			continue
		}
		if err := tx.Exec(`UPDATE cards SET current_value = ROUND(?, 2) WHERE id = ? AND current_value IS NULL`,
			p.MarketPrice.Float64, p.ProductID).Error; err != nil {
			return 0, invalid, fmt.Errorf("set current value for %s: %w", p.ProductID, err)
		}
	}
	if err := tx.Exec(`
		UPDATE cards SET current_value = (
			SELECT price FROM price_history ph
			WHERE ph.product_id = cards.id
			ORDER BY ph.date DESC, ph.id DESC
			LIMIT 1
		)
		WHERE EXISTS (SELECT 1 FROM price_history ph WHERE ph.product_id = cards.id)
	`).Error; err != nil {
		return 0, invalid, fmt.Errorf("recompute current values: %w", err)
	}

	return int(result.RowsAffected), invalid, nil
}
