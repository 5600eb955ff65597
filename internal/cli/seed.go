package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deicod/catalog/internal/catalog"
	"github.com/deicod/catalog/observability/metrics"
	"github.com/deicod/catalog/orm/pg"
)

func newSeedCmd(s *session) *cobra.Command {
	var (
		category string
		products int
		profile  string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a category with numbered products",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if products < 0 {
				return CommandError{Message: fmt.Sprintf("seed: --products must not be negative (got %d)", products), ExitCode: 2}
			}
			counter := metrics.NewQueryCounter()
			db, err := s.connect(cmd, "seed", profile, counter)
			if err != nil {
				return err
			}
			defer db.Close()

			var res catalog.SeedResult
			err = db.InTx(cmd.Context(), func(tx *pg.DB) error {
				var err error
				res, err = catalog.Seed(cmd.Context(), tx, catalog.SeedOptions{Category: category, Products: products})
				return err
			})
			if err != nil {
				return wrapError("seed: create fixtures", err, "Run `catalog migrate` first so the catalog tables exist.", 1)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seed: created category %q (id %d) with %d product(s) in %d queries\n",
				res.Category.Name, res.Category.ID, len(res.Products), counter.Count())
			s.logger.Info("seeded catalog", "category_id", res.Category.ID, "products", len(res.Products))
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", catalog.DefaultSeedCategory, "Name of the category to create")
	cmd.Flags().IntVar(&products, "products", catalog.DefaultSeedProducts, "Number of products to create")
	cmd.Flags().StringVar(&profile, "env", "", "Target environment profile (dev, staging, prod)")
	return cmd
}
