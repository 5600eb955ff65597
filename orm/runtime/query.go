package runtime

import (
	"errors"
	"strconv"
	"strings"
)

// Operator is a SQL comparison operator used in predicates.
type Operator string

const (
	OpEqual       Operator = "="
	OpNotEqual    Operator = "<>"
	OpGreaterThan Operator = ">"
	OpLessThan    Operator = "<"
	OpGTE         Operator = ">="
	OpLTE         Operator = "<="
	OpILike       Operator = "ILIKE"
	// OpAny matches when the column equals any element of an array argument.
	OpAny Operator = "= ANY"
)

type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

// JoinKind selects the SQL join flavour.
type JoinKind string

const (
	InnerJoin JoinKind = "INNER JOIN"
	LeftJoin  JoinKind = "LEFT JOIN"
)

type Predicate struct {
	Column   string
	Operator Operator
	Value    any
}

type Order struct {
	Column    string
	Direction SortDirection
}

// Join fetches a related table in the same statement. On is emitted verbatim.
type Join struct {
	Kind  JoinKind
	Table string
	On    string
}

type SelectSpec struct {
	Table      string
	Columns    []string
	Joins      []Join
	Predicates []Predicate
	Orders     []Order
	Limit      int
	Offset     int
}

// Validate reports specs that cannot produce a valid statement.
func (spec SelectSpec) Validate() error {
	if spec.Table == "" {
		return errors.New("table name is required")
	}
	for _, join := range spec.Joins {
		if join.Table == "" || join.On == "" {
			return errors.New("join requires a table and an ON clause")
		}
	}
	return nil
}

type AggregateFunc string

const (
	AggCount AggregateFunc = "COUNT"
	AggSum   AggregateFunc = "SUM"
	AggAvg   AggregateFunc = "AVG"
	AggMin   AggregateFunc = "MIN"
	AggMax   AggregateFunc = "MAX"
)

type Aggregate struct {
	Func   AggregateFunc
	Column string
}

type AggregateSpec struct {
	Table      string
	Predicates []Predicate
	Aggregate  Aggregate
}

// Validate reports specs that cannot produce a valid statement.
func (spec AggregateSpec) Validate() error {
	if spec.Table == "" {
		return errors.New("table name is required")
	}
	if spec.Aggregate.Func == "" {
		return errors.New("aggregate function is required")
	}
	return nil
}

// BuildSelectSQL renders spec as a positional-parameter SELECT statement.
func BuildSelectSQL(spec SelectSpec) (string, []any) {
	columns := spec.Columns
	if len(columns) == 0 {
		columns = []string{"*"}
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(spec.Table)

	for _, join := range spec.Joins {
		kind := join.Kind
		if kind == "" {
			kind = InnerJoin
		}
		sb.WriteByte(' ')
		sb.WriteString(string(kind))
		sb.WriteByte(' ')
		sb.WriteString(join.Table)
		sb.WriteString(" ON ")
		sb.WriteString(join.On)
	}

	args := make([]any, 0, len(spec.Predicates)+2)
	args = writeWhere(&sb, spec.Predicates, args)

	if len(spec.Orders) > 0 {
		sb.WriteString(" ORDER BY ")
		for i, order := range spec.Orders {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(order.Column)
			sb.WriteByte(' ')
			sb.WriteString(string(order.Direction))
		}
	}

	if spec.Limit > 0 {
		args = append(args, spec.Limit)
		sb.WriteString(" LIMIT $")
		sb.WriteString(strconv.Itoa(len(args)))
	}
	if spec.Offset > 0 {
		args = append(args, spec.Offset)
		sb.WriteString(" OFFSET $")
		sb.WriteString(strconv.Itoa(len(args)))
	}

	return sb.String(), args
}

// BuildAggregateSQL renders spec as a single-value aggregate statement.
func BuildAggregateSQL(spec AggregateSpec) (string, []any) {
	column := spec.Aggregate.Column
	if column == "" {
		column = "*"
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(string(spec.Aggregate.Func))
	sb.WriteByte('(')
	sb.WriteString(column)
	sb.WriteString(") FROM ")
	sb.WriteString(spec.Table)

	args := writeWhere(&sb, spec.Predicates, make([]any, 0, len(spec.Predicates)))
	return sb.String(), args
}

func writeWhere(sb *strings.Builder, predicates []Predicate, args []any) []any {
	for i, pred := range predicates {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		args = append(args, pred.Value)
		placeholder := "$" + strconv.Itoa(len(args))

		sb.WriteString(pred.Column)
		sb.WriteByte(' ')
		if pred.Operator == OpAny {
			sb.WriteString("= ANY(")
			sb.WriteString(placeholder)
			sb.WriteByte(')')
			continue
		}
		sb.WriteString(string(pred.Operator))
		sb.WriteByte(' ')
		sb.WriteString(placeholder)
	}
	return args
}
