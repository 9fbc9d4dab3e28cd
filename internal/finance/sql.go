package finance

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/freelance-manager/freelance-api/internal/query"
)

type table struct {
	name    string
	columns map[string]string
}

var tables = map[query.Kind]table{
	query.KindInvoice: {
		name: "invoices",
		columns: map[string]string{
			query.FieldID:           "id",
			query.FieldProjectID:    "project_id",
			query.FieldTitle:        "title",
			query.FieldAmount:       "amount",
			query.FieldOccurredOn:   "occurred_on",
			query.FieldAttachedFile: "attached_file",
			query.FieldCreatedAt:    "created_at",
		},
	},
	query.KindExpense: {
		name: "expenses",
		columns: map[string]string{
			query.FieldID:           "id",
			query.FieldTitle:        "title",
			query.FieldAmount:       "amount",
			query.FieldOccurredOn:   "occurred_on",
			query.FieldAttachedFile: "attached_file",
			query.FieldCreatedAt:    "created_at",
		},
	},
}

const recordColumns = "id, owner_id, %s, title, amount::text, occurred_on, COALESCE(attached_file, ''), created_at"

func selectColumns(kind query.Kind) string {
	project := "NULL::uuid"
	if kind == query.KindInvoice {
		project = "project_id"
	}
	return fmt.Sprintf(recordColumns, project)
}

var sqlOperators = map[query.Operator]string{
	query.OpEq:  "=",
	query.OpGt:  ">",
	query.OpGte: ">=",
	query.OpLt:  "<",
	query.OpLte: "<=",
}

type builtQuery struct {
	sql       string
	countSQL  string
	args      []any
	countArgs []any
}

// buildFind renders a Spec into parameterised SQL. Only whitelisted columns
// reach the statement; values are always bound.
func buildFind(spec query.Spec) (builtQuery, error) {
	tbl, ok := tables[spec.Kind]
	if !ok {
		return builtQuery{}, fmt.Errorf("finance: unknown kind %q", spec.Kind)
	}

	args := []any{spec.OwnerID}
	where := []string{"owner_id = $1"}
	for _, cond := range spec.Conditions {
		col, ok := tbl.columns[cond.Field]
		if !ok {
			return builtQuery{}, fmt.Errorf("finance: unknown field %q", cond.Field)
		}
		if cond.Op == query.OpIn {
			placeholders := make([]string, 0, len(cond.Values))
			for _, v := range cond.Values {
				args = append(args, v)
				placeholders = append(placeholders, "$"+strconv.Itoa(len(args)))
			}
			where = append(where, col+" IN ("+strings.Join(placeholders, ", ")+")")
			continue
		}
		op, ok := sqlOperators[cond.Op]
		if !ok {
			return builtQuery{}, fmt.Errorf("finance: unsupported operator %q", cond.Op)
		}
		args = append(args, cond.Value())
		where = append(where, col+" "+op+" $"+strconv.Itoa(len(args)))
	}
	whereSQL := strings.Join(where, " AND ")

	order := make([]string, 0, len(spec.Sort)+1)
	for _, s := range spec.Sort {
		col, ok := tbl.columns[s.Field]
		if !ok {
			return builtQuery{}, fmt.Errorf("finance: unknown sort field %q", s.Field)
		}
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		order = append(order, col+" "+dir)
	}
	// id keeps page boundaries stable between requests.
	order = append(order, "id ASC")

	countArgs := append([]any(nil), args...)
	pageSize := spec.PageSize
	if pageSize <= 0 {
		pageSize = query.DefaultLimit
	}
	args = append(args, pageSize, spec.Offset())

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d",
		selectColumns(spec.Kind), tbl.name, whereSQL, strings.Join(order, ", "), len(args)-1, len(args))
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", tbl.name, whereSQL)

	return builtQuery{sql: sql, countSQL: countSQL, args: args, countArgs: countArgs}, nil
}
