package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codyseavey/tcg-pricesync/internal/models"
	"github.com/codyseavey/tcg-pricesync/internal/services"
)

func newImportCmd(a *app) *cobra.Command {
	var progressEvery int

	cmd := &cobra.Command{
		Use:   "import <csv>...",
		Short: "Import daily price history from CSV exports",
		Long: `Reads each CSV (use - for stdin), resolves every row to a catalog card, bounds
the price and upserts it into price_history keyed by (card, date, variant). The card's
current value follows the latest observation.

Rows that cannot be imported are counted, stored with the run and written to
<rejects-dir>/<run-id>.csv. Files are imported in order, one run each.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			importer, err := services.NewImporter(a.store, services.ImporterConfig{
				Sanitizer:        services.NewSanitizerFromConfig(a.cfg),
				MatcherCacheSize: a.cfg.MatcherCacheSize,
				RejectsDir:       a.cfg.RejectsDir,
				ProgressEvery:    progressEvery,
			}, a.log)
			if err != nil {
				return err
			}

			for _, path := range args {
				src := services.Source(services.NewCSVFileSource(path))
				if path == "-" {
					src = services.NewCSVSource("stdin", cmd.InOrStdin())
				}
				res, err := importer.Run(cmd.Context(), src)
				if perr := a.printResult(cmd, res); perr != nil {
					return perr
				}
				if err != nil {
					return err
				}
				if cmd.Context().Err() != nil {
					return cmd.Context().Err()
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&progressEvery, "progress-every", 1000, "log progress every N rows (0 disables)")
	return cmd
}

func newImportCardsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import-cards <csv>",
		Short: "Import the card catalog (sets and cards) from a CSV export",
		Long: `Upserts sets and cards from a CSV with Card ID, Card Name, Set ID, Set Name,
Number, Rarity and Release Date columns. Collector numbers are standardized to NNN/TTT;
numbers that cannot be standardized are stored empty and reported. Existing cards keep
their current value.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := services.Source(services.NewCSVFileSource(args[0]))
			if args[0] == "-" {
				src = services.NewCSVSource("stdin", cmd.InOrStdin())
			}
			res, err := services.NewCatalogImporter(a.store, a.cfg.RejectsDir, a.log).Run(cmd.Context(), src)
			if perr := a.printResult(cmd, res); perr != nil {
				return perr
			}
			return err
		},
	}
}

func newFetchCmd(a *app) *cobra.Command {
	var (
		source string
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "fetch [card-id]...",
		Short: "Fetch current prices from a pricing API",
		Long: `Requests today's prices for the given cards (or every card with --all) from
pokemontcg.io or TCGdex, one request at a time within the configured rate, and imports
them through the same pipeline as CSV rows.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := args
			if all {
				if len(args) > 0 {
					return errors.New("pass card ids or --all, not both")
				}
				if err := a.db.WithContext(cmd.Context()).Model(&models.Card{}).Order("id").Pluck("id", &ids).Error; err != nil {
					return err
				}
			}
			if len(ids) == 0 {
				return errors.New("no cards to fetch: pass card ids or --all")
			}

			fetcher, err := a.fetcher(source)
			if err != nil {
				return err
			}
			a.log.Info("Fetching prices", zap.String("source", fetcher.Name()), zap.Int("cards", len(ids)))

			importer, err := services.NewImporter(a.store, services.ImporterConfig{
				Sanitizer:        services.NewSanitizerFromConfig(a.cfg),
				MatcherCacheSize: a.cfg.MatcherCacheSize,
				RejectsDir:       a.cfg.RejectsDir,
				ProgressEvery:    100,
			}, a.log)
			if err != nil {
				return err
			}

			res, err := importer.Run(cmd.Context(), services.NewAPISource(fetcher, ids))
			if perr := a.printResult(cmd, res); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&source, "source", "pokemontcg", "pricing API: pokemontcg or tcgdex")
	cmd.Flags().BoolVar(&all, "all", false, "fetch every card in the catalog")
	return cmd
}

func (a *app) fetcher(source string) (services.PriceFetcher, error) {
	switch source {
	case "pokemontcg":
		return services.NewPokemonTCGService(a.cfg.PokemonTCGBaseURL, a.cfg.PokemonTCGAPIKey,
			a.cfg.APITimeout, a.cfg.RequestsPerSecond(), a.log), nil
	case "tcgdex":
		return services.NewTCGdexService(a.cfg.TCGdexBaseURL, a.cfg.APITimeout, a.cfg.RequestsPerSecond(), a.log), nil
	default:
		return nil, fmt.Errorf("unknown source %q: want pokemontcg or tcgdex", source)
	}
}
