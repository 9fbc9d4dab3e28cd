// Package query translates caller supplied filter, sort and pagination
// parameters into owner-scoped query specifications.
package query

import (
	"github.com/google/uuid"

	"github.com/freelance-manager/freelance-api/internal/taxyear"
)

// Kind names a queryable entity collection.
type Kind string

const (
	KindInvoice Kind = "invoices"
	KindExpense Kind = "expenses"
)

// Operator is a comparison understood by the data store.
type Operator string

const (
	OpEq  Operator = "eq"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
	OpIn  Operator = "in"
)

var operators = map[string]Operator{
	"gt":  OpGt,
	"gte": OpGte,
	"lt":  OpLt,
	"lte": OpLte,
	"in":  OpIn,
}

// Condition restricts Field using Op. Values hold typed values (string,
// decimal.Decimal, time.Time, uuid.UUID or bool); only OpIn carries more than
// one value.
type Condition struct {
	Field  string
	Op     Operator
	Values []any
}

// Value returns the single operand of a non-IN condition.
func (c Condition) Value() any {
	if len(c.Values) == 0 {
		return nil
	}
	return c.Values[0]
}

// SortField orders results by Field.
type SortField struct {
	Field string
	Desc  bool
}

// Spec is a fully validated query. OwnerID is always set by the server.
type Spec struct {
	OwnerID       uuid.UUID
	Kind          Kind
	Conditions    []Condition
	Sort          []SortField
	Select        []string
	Page          int
	PageSize      int
	DefaultWindow *taxyear.Window
}

// Offset returns the number of records skipped before the page.
func (s Spec) Offset() int {
	if s.Page <= 1 || s.Page > MaxPage || s.PageSize <= 0 {
		return 0
	}
	return (s.Page - 1) * min(s.PageSize, MaxLimit)
}

// Predicate groups conditions by field.
func (s Spec) Predicate() map[string][]Condition {
	out := make(map[string][]Condition, len(s.Conditions))
	for _, cond := range s.Conditions {
		out[cond.Field] = append(out[cond.Field], cond)
	}
	return out
}
