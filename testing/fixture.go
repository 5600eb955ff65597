package testkit

import (
	"fmt"

	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/deicod/catalog/orm/runtime"
)

// CategoryRow is a categories row as the mock returns it.
type CategoryRow struct {
	ID   int64
	Name string
}

// ProductRow is a products row as the mock returns it.
type ProductRow struct {
	ID         int64
	Title      string
	CategoryID int64
}

// Fixture is the data a mocked store pretends to hold: one category and the
// products that reference it.
type Fixture struct {
	Category CategoryRow
	Products []ProductRow
}

// NewFixture builds a fixture with category id 1 and n products with ids
// 1..n titled product_1..product_n.
func NewFixture(category string, n int) Fixture {
	f := Fixture{Category: CategoryRow{ID: 1, Name: category}, Products: make([]ProductRow, n)}
	for i := range f.Products {
		f.Products[i] = ProductRow{ID: int64(i + 1), Title: fmt.Sprintf("product_%d", i+1), CategoryID: f.Category.ID}
	}
	return f
}

// DefaultFixture is one "Test category" with nine products.
func DefaultFixture() Fixture {
	return NewFixture("Test category", 9)
}

// SeedRows returns the products of f as rows of (id, title, category_id).
func SeedRows(f Fixture) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{"id", "title", "category_id"})
	for _, p := range f.Products {
		rows.AddRow(p.ID, p.Title, p.CategoryID)
	}
	return rows
}

// ExpectSeed scripts the round-trips that seeding f issues: one category
// insert, then one bulk product insert when f has products.
func ExpectSeed(mock pgxmock.PgxConnIface, f Fixture) {
	mock.ExpectQuery("INSERT INTO categories (name) VALUES ($1) RETURNING id, name").
		WithArgs(f.Category.Name).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).AddRow(f.Category.ID, f.Category.Name))
	if len(f.Products) == 0 {
		return
	}

	spec := runtime.BulkInsertSpec{
		Table:     "products",
		Columns:   []string{"title", "category_id"},
		Returning: []string{"id", "title", "category_id"},
	}
	for _, p := range f.Products {
		spec.Rows = append(spec.Rows, []any{p.Title, p.CategoryID})
	}
	sql, args, err := runtime.BuildBulkInsertSQL(spec)
	if err != nil {
		panic(fmt.Sprintf("testkit: seed expectation: %v", err))
	}
	mock.ExpectQuery(sql).WithArgs(args...).WillReturnRows(SeedRows(f))
}

// ExpectSeed scripts f's seed round-trips on the sandbox mock.
func (s *Sandbox) ExpectSeed(f Fixture) {
	ExpectSeed(s.mock, f)
}
