package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/deicod/catalog/orm/pg"
	"github.com/deicod/catalog/orm/runtime"
	"github.com/deicod/catalog/orm/runtime/validation"
)

const (
	// DefaultSeedCategory names the category created by Seed.
	DefaultSeedCategory = "Test category"
	// DefaultSeedProducts is the number of products Seed creates.
	DefaultSeedProducts = 9
)

var (
	categoryRules = []validation.Rule{validation.String("name").Required().Rule()}
	productRules  = []validation.Rule{validation.String("title").Required().Rule()}
)

// CreateCategory inserts a category and returns it with its generated id.
func CreateCategory(ctx context.Context, db *pg.DB, name string) (Category, error) {
	if err := validation.Check(ctx, "category", validation.Record{"name": name}, categoryRules...); err != nil {
		return Category{}, fmt.Errorf("catalog: create category: %w", err)
	}
	var c Category
	err := db.InsertRow(ctx, categoriesTable,
		"INSERT INTO categories (name) VALUES ($1) RETURNING id, name", name).
		Scan(&c.ID, &c.Name)
	if err != nil {
		return Category{}, fmt.Errorf("catalog: create category: %w", err)
	}
	return c, nil
}

// CreateProduct inserts a single product.
func CreateProduct(ctx context.Context, db *pg.DB, title string, categoryID int64) (Product, error) {
	if err := validation.Check(ctx, "product", validation.Record{"title": title}, productRules...); err != nil {
		return Product{}, fmt.Errorf("catalog: create product: %w", err)
	}
	var p Product
	err := db.InsertRow(ctx, productsTable,
		"INSERT INTO products (title, category_id) VALUES ($1, $2) RETURNING id, title, category_id", title, categoryID).
		Scan(&p.ID, &p.Title, &p.CategoryID)
	if err != nil {
		return Product{}, fmt.Errorf("catalog: create product: %w", err)
	}
	return p, nil
}

// CreateProducts inserts one product per title in a single round-trip.
// Products are returned in insertion order.
func CreateProducts(ctx context.Context, db *pg.DB, categoryID int64, titles ...string) ([]Product, error) {
	if len(titles) == 0 {
		return []Product{}, nil
	}
	spec := runtime.BulkInsertSpec{
		Table:     productsTable,
		Columns:   []string{"title", "category_id"},
		Returning: productColumns,
		Rows:      make([][]any, len(titles)),
	}
	for i, title := range titles {
		if err := validation.Check(ctx, "product", validation.Record{"title": title}, productRules...); err != nil {
			return nil, fmt.Errorf("catalog: create products: row %d: %w", i, err)
		}
		spec.Rows[i] = []any{title, categoryID}
	}
	sql, args, err := runtime.BuildBulkInsertSQL(spec)
	if err != nil {
		return nil, fmt.Errorf("catalog: create products: %w", err)
	}
	rows, err := db.Insert(ctx, productsTable, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: create products: %w", err)
	}
	products, err := runtime.NewStream(rows, scanProduct).Collect()
	if err != nil {
		return nil, fmt.Errorf("catalog: create products: %w", err)
	}
	return products, nil
}

// CountProducts returns the number of stored products.
func CountProducts(ctx context.Context, db *pg.DB) (int, error) {
	var n int64
	err := db.Aggregate(ctx, runtime.AggregateSpec{
		Table:     productsTable,
		Aggregate: runtime.Aggregate{Func: runtime.AggCount},
	}).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("catalog: count products: %w", err)
	}
	return int(n), nil
}

// AllProducts returns every product ordered by id.
func AllProducts(ctx context.Context, db *pg.DB) ([]Product, error) {
	products, err := listProducts(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("catalog: all products: %w", err)
	}
	return products, nil
}

// CategoryByID loads one category. A missing row yields ErrCategoryNotFound.
func CategoryByID(ctx context.Context, db *pg.DB, id int64) (Category, error) {
	var c Category
	err := db.SelectOne(ctx, runtime.SelectSpec{
		Table:      categoriesTable,
		Columns:    categoryColumns,
		Predicates: []runtime.Predicate{{Column: "id", Operator: runtime.OpEqual, Value: id}},
	}).Scan(&c.ID, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Category{}, fmt.Errorf("%w: id %d", ErrCategoryNotFound, id)
	}
	if err != nil {
		return Category{}, fmt.Errorf("catalog: category %d: %w", id, err)
	}
	return c, nil
}

// SeedOptions shapes the fixture created by Seed. Zero fields take the
// defaults.
type SeedOptions struct {
	Category string
	Products int
}

// SeedResult is what Seed created.
type SeedResult struct {
	Category Category
	Products []Product
}

// Seed creates one category and products titled product_1..product_N in two
// round-trips.
func Seed(ctx context.Context, db *pg.DB, opts SeedOptions) (SeedResult, error) {
	if opts.Category == "" {
		opts.Category = DefaultSeedCategory
	}
	if opts.Products < 0 {
		return SeedResult{}, fmt.Errorf("catalog: seed: negative product count %d", opts.Products)
	}
	if opts.Products == 0 {
		opts.Products = DefaultSeedProducts
	}

	category, err := CreateCategory(ctx, db, opts.Category)
	if err != nil {
		return SeedResult{}, err
	}
	products, err := CreateProducts(ctx, db, category.ID, SeedTitles(opts.Products)...)
	if err != nil {
		return SeedResult{}, err
	}
	return SeedResult{Category: category, Products: products}, nil
}

// SeedTitles returns product_1..product_n.
func SeedTitles(n int) []string {
	titles := make([]string, n)
	for i := range titles {
		titles[i] = fmt.Sprintf("product_%d", i+1)
	}
	return titles
}
