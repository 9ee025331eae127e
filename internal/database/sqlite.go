package database

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/codyseavey/tcg-pricesync/internal/logging"
	"github.com/codyseavey/tcg-pricesync/internal/models"
)

// ErrOpen wraps every failure to open or migrate the database.
var ErrOpen = errors.New("open database")

// Options controls how Open connects.
type Options struct {
	// Path is the SQLite file, or ":memory:".
	Path string
	// Debug turns on gorm's SQL logging.
	Debug bool
	// SkipMigrate leaves the schema untouched.
	SkipMigrate bool
}

// Open connects to the SQLite database at opts.Path and brings the schema up to date.
// The pool is pinned to one connection: the pipeline is a single writer, and ":memory:"
// databases only exist per connection.
func Open(opts Options, log *zap.Logger) (*gorm.DB, error) {
	log = logging.OrNop(log).Named("database")

	level := logger.Silent
	if opts.Debug {
		level = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(opts.Path), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, opts.Path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, opts.Path, err)
	}

	log.Debug("Database connected", zap.String("path", opts.Path))

	if opts.SkipMigrate {
		return db, nil
	}
	if err := Migrate(db, log); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: migrate: %v", ErrOpen, err)
	}
	return db, nil
}

// Migrate upgrades legacy price_history layouts and auto-migrates the schema.
func Migrate(db *gorm.DB, log *zap.Logger) error {
	log = logging.OrNop(log)

	// Must run BEFORE AutoMigrate: the unique key cannot be created while duplicates exist
	if err := upgradeLegacyPriceHistory(db, log); err != nil {
		return err
	}
	if err := cleanupDuplicatePriceHistory(db, log); err != nil {
		return err
	}

	if err := db.AutoMigrate(
		&models.Set{},
		&models.Card{},
		&models.PriceHistory{},
		&models.ImportRun{},
		&models.RejectedRecord{},
	); err != nil {
		return err
	}

	log.Debug("Database migration completed")
	return nil
}

// Close releases the underlying connection.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
