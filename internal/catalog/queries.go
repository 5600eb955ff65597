package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deicod/catalog/orm/pg"
	"github.com/deicod/catalog/orm/runtime"
)

// Strategy selects how the category of each product is loaded.
type Strategy string

const (
	// StrategyNaive lists products and then loads each category on its own.
	StrategyNaive Strategy = "naive"
	// StrategySelectRelated joins categories into the product query.
	StrategySelectRelated Strategy = "select-related"
	// StrategyPrefetchRelated loads all referenced categories in one batch.
	StrategyPrefetchRelated Strategy = "prefetch-related"
)

// Strategies lists every supported strategy.
func Strategies() []Strategy {
	return []Strategy{StrategyNaive, StrategySelectRelated, StrategyPrefetchRelated}
}

// ParseStrategy maps a name to a Strategy. Matching ignores case and
// surrounding whitespace; "_" is accepted in place of "-".
func ParseStrategy(name string) (Strategy, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
	for _, s := range Strategies() {
		if string(s) == normalized {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// ExpectedQueries returns how many round-trips listing n products costs.
func (s Strategy) ExpectedQueries(n int) int {
	switch s {
	case StrategyNaive:
		return 1 + n
	case StrategyPrefetchRelated:
		if n == 0 {
			return 1
		}
		return 2
	default:
		return 1
	}
}

func (s Strategy) String() string { return string(s) }

// List dispatches to the list function for strategy.
func List(ctx context.Context, db *pg.DB, strategy Strategy) ([]ProductSummary, error) {
	switch strategy {
	case StrategyNaive:
		return ProductList(ctx, db)
	case StrategySelectRelated:
		return ProductListSelectRelated(ctx, db)
	case StrategyPrefetchRelated:
		return ProductListPrefetchRelated(ctx, db)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, string(strategy))
	}
}

// ProductList lists products, then resolves each product's category with a
// separate query: 1 + N round-trips.
func ProductList(ctx context.Context, db *pg.DB) ([]ProductSummary, error) {
	products, err := listProducts(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("catalog: list products: %w", err)
	}
	out := make([]ProductSummary, 0, len(products))
	for _, p := range products {
		category, err := CategoryByID(ctx, db, p.CategoryID)
		if err != nil {
			return nil, fmt.Errorf("catalog: product %d: %w", p.ID, err)
		}
		out = append(out, ProductSummary{ID: p.ID, Title: p.Title, Category: category.Name})
	}
	return out, nil
}

// ProductListSelectRelated lists products with their category name in one
// joined round-trip.
func ProductListSelectRelated(ctx context.Context, db *pg.DB) ([]ProductSummary, error) {
	rows, err := db.Select(ctx, runtime.SelectSpec{
		Table:   productsTable,
		Columns: []string{"products.id", "products.title", "categories.name"},
		Joins: []runtime.Join{{
			Kind:  runtime.InnerJoin,
			Table: categoriesTable,
			On:    "categories.id = products.category_id",
		}},
		Orders: []runtime.Order{{Column: "products.id", Direction: runtime.SortAsc}},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: list products: %w", err)
	}
	out, err := runtime.NewStream(rows, scanSummary).Collect()
	if err != nil {
		return nil, fmt.Errorf("catalog: list products: %w", err)
	}
	return out, nil
}

// ProductListPrefetchRelated lists products, then loads every referenced
// category in a single batch: 2 round-trips, or 1 when there are no products.
func ProductListPrefetchRelated(ctx context.Context, db *pg.DB) ([]ProductSummary, error) {
	products, err := listProducts(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("catalog: list products: %w", err)
	}
	out := make([]ProductSummary, 0, len(products))
	if len(products) == 0 {
		return out, nil
	}

	ids := make([]int64, 0, len(products))
	seen := make(map[int64]struct{}, len(products))
	for _, p := range products {
		if _, ok := seen[p.CategoryID]; ok {
			continue
		}
		seen[p.CategoryID] = struct{}{}
		ids = append(ids, p.CategoryID)
	}

	start := time.Now()
	categories, err := categoriesByID(ctx, db, ids)
	if err != nil {
		return nil, fmt.Errorf("catalog: prefetch categories: %w", err)
	}
	db.Observer.RecordBatch(categoriesTable, len(ids), time.Since(start))

	for _, p := range products {
		category, ok := categories[p.CategoryID]
		if !ok {
			return nil, fmt.Errorf("catalog: product %d: %w: id %d", p.ID, ErrCategoryNotFound, p.CategoryID)
		}
		out = append(out, ProductSummary{ID: p.ID, Title: p.Title, Category: category.Name})
	}
	return out, nil
}

func listProducts(ctx context.Context, db *pg.DB) ([]Product, error) {
	rows, err := db.Select(ctx, runtime.SelectSpec{
		Table:   productsTable,
		Columns: productColumns,
		Orders:  []runtime.Order{{Column: "id", Direction: runtime.SortAsc}},
	})
	if err != nil {
		return nil, err
	}
	return runtime.NewStream(rows, scanProduct).Collect()
}

func categoriesByID(ctx context.Context, db *pg.DB, ids []int64) (map[int64]Category, error) {
	rows, err := db.Select(ctx, runtime.SelectSpec{
		Table:      categoriesTable,
		Columns:    categoryColumns,
		Predicates: []runtime.Predicate{{Column: "id", Operator: runtime.OpAny, Value: ids}},
	})
	if err != nil {
		return nil, err
	}
	return runtime.CollectMap(runtime.NewStream(rows, scanCategory), func(c Category) int64 { return c.ID })
}
