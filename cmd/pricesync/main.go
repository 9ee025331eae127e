// pricesync reconciles Pokémon TCG price history from CSV exports and pricing APIs into a
// SQLite card database.
//
// Usage: pricesync [--config file] [--db path] <command> [args]
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/codyseavey/tcg-pricesync/internal/config"
	"github.com/codyseavey/tcg-pricesync/internal/database"
	"github.com/codyseavey/tcg-pricesync/internal/logging"
	"github.com/codyseavey/tcg-pricesync/internal/services"
)

// app holds what PersistentPreRunE sets up for every subcommand
type app struct {
	configPath string
	dbPath     string
	rejectsDir string
	logFormat  string
	verbose    bool
	jsonOutput bool

	cfg   *config.Config
	log   *zap.Logger
	db    *gorm.DB
	store *services.PriceStore
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "pricesync",
		Short: "Reconcile Pokémon TCG price history into the card database",
		Long: `pricesync imports daily market prices from CSV exports and pricing APIs,
resolves each row to a catalog card, bounds implausible prices, and keeps every
card's current value in step with its latest observation.

Configuration is read from --config (or PRICESYNC_CONFIG) and PRICESYNC_* environment
variables; flags override both.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.teardown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML config file")
	flags.StringVar(&a.dbPath, "db", "", "SQLite database path (overrides db_path)")
	flags.StringVar(&a.rejectsDir, "rejects-dir", "", "directory for rejected-record CSVs (overrides rejects_dir)")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: json or console (overrides log_format)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	flags.BoolVar(&a.jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		newImportCmd(a),
		newImportCardsCmd(a),
		newFetchCmd(a),
		newRecomputeCmd(a),
		newSanitizeCmd(a),
		newStandardizeNumbersCmd(a),
		newExtractNumbersCmd(a),
		newDeleteCardCmd(a),
		newMigrateLegacyCmd(a),
		newServeCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || (cmd.HasParent() && cmd.Parent().Name() == "completion") {
		return nil
	}

	cfg, err := config.Load(cmd.Context(), a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = a.dbPath
	}
	if flags.Changed("rejects-dir") {
		cfg.RejectsDir = a.rejectsDir
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = a.logFormat
	}
	if a.verbose {
		cfg.LogLevel = "debug"
	}
	a.cfg = cfg

	a.log, err = logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	a.db, err = database.Open(database.Options{Path: cfg.DBPath, Debug: a.verbose}, a.log)
	if err != nil {
		return err
	}
	a.store = services.NewPriceStore(a.db, a.log)
	return nil
}

// teardown runs after the command and again from run, so it must be idempotent
func (a *app) teardown() {
	if a.db != nil {
		if err := database.Close(a.db); err != nil && a.log != nil {
			a.log.Warn("Failed to close database", zap.Error(err))
		}
		a.db = nil
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// run executes one command line. PersistentPostRun is skipped when a command fails,
// so the database is also closed here.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	a := &app{}
	defer a.teardown()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	return root.ExecuteContext(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "pricesync:", err)
		os.Exit(1)
	}
}
