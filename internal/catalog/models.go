// Package catalog lists products together with the name of their category,
// using one of several loading strategies that differ only in how many round
// trips they make to the store.
package catalog

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

// Category groups products.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Product belongs to exactly one category.
type Product struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	CategoryID int64  `json:"category_id"`
}

// ProductSummary is the record returned by every list strategy.
type ProductSummary struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category"`
}

var (
	// ErrCategoryNotFound is returned when a product references a category
	// that cannot be loaded.
	ErrCategoryNotFound = errors.New("catalog: category not found")
	// ErrUnknownStrategy is returned by ParseStrategy for unsupported names.
	ErrUnknownStrategy = errors.New("catalog: unknown strategy")
)

const (
	productsTable   = "products"
	categoriesTable = "categories"
)

var (
	productColumns  = []string{"id", "title", "category_id"}
	categoryColumns = []string{"id", "name"}
)

func scanProduct(rows pgx.Rows) (Product, error) {
	var p Product
	err := rows.Scan(&p.ID, &p.Title, &p.CategoryID)
	return p, err
}

func scanCategory(rows pgx.Rows) (Category, error) {
	var c Category
	err := rows.Scan(&c.ID, &c.Name)
	return c, err
}

func scanSummary(rows pgx.Rows) (ProductSummary, error) {
	var s ProductSummary
	err := rows.Scan(&s.ID, &s.Title, &s.Category)
	return s, err
}
