package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/codyseavey/tcg-pricesync/internal/database"
	"github.com/codyseavey/tcg-pricesync/internal/services"
)

func (a *app) maintenance() *services.Maintenance {
	return services.NewMaintenance(a.store, services.NewSanitizerFromConfig(a.cfg), a.cfg.RejectsDir, a.log)
}

func newRecomputeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recompute [card-id]...",
		Short: "Rebuild current values from price history",
		Long:  "Sets each card's current value to its latest price_history row, or NULL when it has none. Without ids every card is recomputed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.maintenance().RecomputeAll(cmd.Context(), args)
			if err != nil {
				return err
			}
			return a.print(cmd, map[string]int{"recomputed": n}, fmt.Sprintf("Recomputed %d cards\n", n))
		},
	}
}

func newSanitizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sanitize",
		Short: "Re-apply the price ceilings to stored prices",
		Long: `Caps stored prices above their tier ceiling and zeroes prices above reject_above,
both in price_history and on cards whose current value has no history behind it, then
recomputes the current value of every card it touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.maintenance().SanitizeStoredPrices(cmd.Context())
			if perr := a.printResult(cmd, res); perr != nil {
				return perr
			}
			return err
		},
	}
}

func newStandardizeNumbersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "standardize-numbers",
		Short: "Rewrite collector numbers as NNN/TTT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.maintenance().StandardizeNumbers(cmd.Context())
			if err != nil {
				return err
			}
			return a.printNumberReport(cmd, report)
		},
	}
}

func newExtractNumbersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "extract-numbers",
		Short: "Fill missing collector numbers from card names",
		Long:  `For cards without a number, looks for "Name - 4/102", "Name 4/102" or "4/102 Name" and stores the standardized number. Names are not changed.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.maintenance().ExtractNumbers(cmd.Context())
			if err != nil {
				return err
			}
			return a.printNumberReport(cmd, report)
		},
	}
}

func newDeleteCardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-card <card-id>",
		Short: "Delete a card with its price history and orphaned set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.maintenance().DeleteCard(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			text := fmt.Sprintf("Deleted %s (%d price rows", report.CardID, report.PriceRows)
			if len(report.SetsRemoved) > 0 {
				text += fmt.Sprintf(", sets removed: %v", report.SetsRemoved)
			}
			return a.print(cmd, report, text+")\n")
		},
	}
}

func newMigrateLegacyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-legacy",
		Short: "Move the legacy products/groups catalog into cards/sets",
		Long: `Copies groups into sets and products into cards (standardizing collector numbers and
seeding current values from market_price or the latest history row), then drops the legacy
tables. Legacy price_history columns are upgraded whenever the database is opened. Running it
again is a no-op.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := database.MigrateLegacyCatalog(cmd.Context(), a.db, a.log)
			if err != nil {
				return err
			}
			if len(report.TablesDropped) == 0 {
				return a.print(cmd, report, "No legacy tables found\n")
			}
			return a.print(cmd, report, fmt.Sprintf("Migrated %d sets and %d cards (%d invalid numbers), dropped %v\n",
				report.Sets, report.Cards, report.InvalidNumbers, report.TablesDropped))
		},
	}
}

func (a *app) printNumberReport(cmd *cobra.Command, r *services.NumberReport) error {
	text := fmt.Sprintf("Scanned %d cards: %d updated, %d unchanged, %d invalid\n",
		r.Scanned, r.Updated, r.Unchanged, len(r.Invalid))

	ids := make([]string, 0, len(r.Invalid))
	for id := range r.Invalid {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		text += fmt.Sprintf("  %s: %q\n", id, r.Invalid[id])
	}
	return a.print(cmd, r, text)
}
