package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/deicod/catalog/internal/catalog"
	"github.com/deicod/catalog/observability/metrics"
)

type productsReport struct {
	Strategy catalog.Strategy         `json:"strategy"`
	Queries  int                      `json:"queries"`
	Expected int                      `json:"expected_queries"`
	Products []catalog.ProductSummary `json:"products"`
}

func newProductsCmd(s *session) *cobra.Command {
	var (
		strategyName string
		format       string
		profile      string
	)
	cmd := &cobra.Command{
		Use:   "products",
		Short: "List products with their category and report the round-trips used",
		RunE: func(cmd *cobra.Command, _ []string) error {
			strategy, err := catalog.ParseStrategy(strategyName)
			if err != nil {
				return unknownStrategyError(strategyName, err)
			}
			format = strings.ToLower(strings.TrimSpace(format))
			if format != "table" && format != "json" {
				return CommandError{
					Message:    fmt.Sprintf("products: unsupported format %q", format),
					Suggestion: "Use --format table or --format json.",
					ExitCode:   2,
				}
			}

			counter := metrics.NewQueryCounter()
			db, err := s.connect(cmd, "products", profile, counter)
			if err != nil {
				return err
			}
			defer db.Close()

			list, err := catalog.List(cmd.Context(), db, strategy)
			if err != nil {
				return wrapError("products: list", err, "Run `catalog migrate` and `catalog seed` to prepare the database.", 1)
			}
			report := productsReport{
				Strategy: strategy,
				Queries:  counter.Count(),
				Expected: strategy.ExpectedQueries(len(list)),
				Products: list,
			}
			if report.Queries != report.Expected {
				s.logger.Warn("unexpected round-trip count", "strategy", strategy.String(), "queries", report.Queries, "expected", report.Expected)
			}
			if format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return writeTable(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&strategyName, "strategy", string(catalog.StrategySelectRelated), "Loading strategy: naive, select-related or prefetch-related")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table or json")
	cmd.Flags().StringVar(&profile, "env", "", "Target environment profile (dev, staging, prod)")
	return cmd
}

const maxSuggestionDistance = 4

// strategyAliases maps common names for a loading technique to the strategy
// implementing it. They only drive suggestions.
var strategyAliases = map[string]string{
	"join":    string(catalog.StrategySelectRelated),
	"joined":  string(catalog.StrategySelectRelated),
	"batch":   string(catalog.StrategyPrefetchRelated),
	"batched": string(catalog.StrategyPrefetchRelated),
	"per-row": string(catalog.StrategyNaive),
	"n+1":     string(catalog.StrategyNaive),
}

func unknownStrategyError(name string, cause error) error {
	names := make([]string, 0, len(catalog.Strategies()))
	for _, st := range catalog.Strategies() {
		names = append(names, st.String())
	}
	suggestion := "Use one of " + strings.Join(names, ", ") + "."
	input := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
	near, ok := strategyAliases[input]
	if !ok {
		near = closest(input, names, maxSuggestionDistance)
	}
	if near != "" {
		suggestion = fmt.Sprintf("Did you mean %q? %s", near, suggestion)
	}
	if !errors.Is(cause, catalog.ErrUnknownStrategy) {
		cause = fmt.Errorf("%w: %v", catalog.ErrUnknownStrategy, cause)
	}
	return CommandError{
		Message:    fmt.Sprintf("products: unknown strategy %q", name),
		Cause:      cause,
		Suggestion: suggestion,
		ExitCode:   2,
	}
}

func writeTable(w io.Writer, report productsReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tCATEGORY")
	for _, p := range report.Products {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", p.ID, p.Title, p.Category)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d product(s), %d queries (strategy %s, expected %d)\n",
		len(report.Products), report.Queries, report.Strategy, report.Expected)
	return err
}
