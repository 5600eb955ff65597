package runtime

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxBindParameters is the most placeholders PostgreSQL accepts in one
// statement.
const MaxBindParameters = 65535

// ErrTooManyParameters is returned when a bulk statement would exceed
// MaxBindParameters.
var ErrTooManyParameters = errors.New("runtime: too many bind parameters")

// BulkInsertSpec describes a multi-row INSERT issued in a single round-trip.
type BulkInsertSpec struct {
	Table     string
	Columns   []string
	Returning []string
	Rows      [][]any
}

// Validate checks the statement shape without rendering it.
func (spec BulkInsertSpec) Validate() error {
	switch {
	case spec.Table == "":
		return errors.New("runtime: bulk insert: table is required")
	case len(spec.Columns) == 0:
		return fmt.Errorf("runtime: bulk insert into %s: columns are required", spec.Table)
	case len(spec.Rows) == 0:
		return fmt.Errorf("runtime: bulk insert into %s: no rows", spec.Table)
	}
	if n := len(spec.Rows) * len(spec.Columns); n > MaxBindParameters {
		return fmt.Errorf("%w: bulk insert into %s needs %d", ErrTooManyParameters, spec.Table, n)
	}
	for i, row := range spec.Rows {
		if len(row) != len(spec.Columns) {
			return fmt.Errorf("runtime: bulk insert into %s: row %d has %d values, want %d", spec.Table, i, len(row), len(spec.Columns))
		}
	}
	return nil
}

// BuildBulkInsertSQL renders spec as INSERT ... VALUES (...), (...) with
// positional placeholders numbered row by row.
func BuildBulkInsertSQL(spec BulkInsertSpec) (string, []any, error) {
	if err := spec.Validate(); err != nil {
		return "", nil, err
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(spec.Table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(spec.Columns, ", "))
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(spec.Rows)*len(spec.Columns))
	for i, row := range spec.Rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j, value := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			args = append(args, value)
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(len(args)))
		}
		sb.WriteByte(')')
	}
	if len(spec.Returning) > 0 {
		sb.WriteString(" RETURNING ")
		sb.WriteString(strings.Join(spec.Returning, ", "))
	}
	return sb.String(), args, nil
}
