package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/codyseavey/tcg-pricesync/internal/services"
)

// print writes v as JSON with --json, otherwise text
func (a *app) print(cmd *cobra.Command, v any, text string) error {
	if a.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprint(cmd.OutOrStdout(), text)
	return err
}

// printResult writes a run summary. Rejected records stay in the rejects file and the
// database; only their count is printed.
func (a *app) printResult(cmd *cobra.Command, res *services.Result) error {
	if res == nil {
		return nil
	}
	if a.jsonOutput {
		summary := *res
		summary.Rejected = nil
		return a.print(cmd, summary, "")
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Run %s (%s, %s): %s\n", res.RunID, res.Kind, res.Source, res.State)
	for _, row := range []struct {
		label string
		n     int
	}{
		{"processed", res.Processed},
		{"updated", res.Updated},
		{"capped", res.Capped},
		{"zeroed", res.Zeroed},
		{"not found", res.NotFound},
		{"ambiguous", res.Ambiguous},
		{"skipped", res.Skipped},
		{"malformed", res.Malformed},
		{"invalid numbers", res.InvalidNumbers},
		{"errors", res.Errors},
	} {
		fmt.Fprintf(w, "  %s\t%d\n", row.label, row.n)
	}
	fmt.Fprintf(w, "  rejected\t%d\n", len(res.Rejected))
	if res.RejectsFile != "" {
		fmt.Fprintf(w, "  rejects file\t%s\n", res.RejectsFile)
	}
	if res.Err != "" {
		fmt.Fprintf(w, "  error\t%s\n", res.Err)
	}
	fmt.Fprintf(w, "  duration\t%s\n", res.Duration.Round(time.Millisecond))
	return w.Flush()
}
