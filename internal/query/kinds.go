package query

import (
	"time"

	"github.com/freelance-manager/freelance-api/internal/taxyear"
)

// FieldType drives how raw filter values are parsed.
type FieldType int

const (
	FieldString FieldType = iota
	FieldDecimal
	FieldDate
	FieldUUID
	FieldBool
)

// Field describes a filterable attribute of a kind.
type Field struct {
	Name     string
	Type     FieldType
	Sortable bool
}

// WindowConfig enables implicit date windows for a kind.
type WindowConfig struct {
	Field   string
	Default func(now time.Time) taxyear.Window
	ForYear func(year int) taxyear.Window
}

// KindConfig carries all entity specific translation behaviour so the
// translator itself stays kind agnostic.
type KindConfig struct {
	Kind        Kind
	Fields      map[string]Field
	Aliases     map[string]string
	Window      *WindowConfig
	DefaultSort []SortField
}

// Resolve looks up a field by name or alias.
func (c KindConfig) Resolve(name string) (Field, bool) {
	if canonical, ok := c.Aliases[name]; ok {
		name = canonical
	}
	f, ok := c.Fields[name]
	return f, ok
}

// Registry maps kinds to their configuration.
type Registry map[Kind]KindConfig

// Field names shared by the financial record kinds.
const (
	FieldID           = "id"
	FieldTitle        = "title"
	FieldAmount       = "amount"
	FieldOccurredOn   = "occurredOn"
	FieldAttachedFile = "attachedFile"
	FieldProjectID    = "projectId"
	FieldCreatedAt    = "createdAt"
)

func recordFields() map[string]Field {
	return map[string]Field{
		FieldID:           {Name: FieldID, Type: FieldUUID},
		FieldTitle:        {Name: FieldTitle, Type: FieldString, Sortable: true},
		FieldAmount:       {Name: FieldAmount, Type: FieldDecimal, Sortable: true},
		FieldOccurredOn:   {Name: FieldOccurredOn, Type: FieldDate, Sortable: true},
		FieldAttachedFile: {Name: FieldAttachedFile, Type: FieldString},
		FieldCreatedAt:    {Name: FieldCreatedAt, Type: FieldDate, Sortable: true},
	}
}

// FinancialKinds returns the invoice and expense configuration. Both default
// to the current fiscal window on their occurrence date.
func FinancialKinds(calc *taxyear.Calculator) Registry {
	window := &WindowConfig{
		Field:   FieldOccurredOn,
		Default: calc.Current,
		ForYear: calc.Specified,
	}
	defaultSort := []SortField{{Field: FieldCreatedAt, Desc: true}}

	invoiceFields := recordFields()
	invoiceFields[FieldProjectID] = Field{Name: FieldProjectID, Type: FieldUUID}

	return Registry{
		KindInvoice: {
			Kind:   KindInvoice,
			Fields: invoiceFields,
			Aliases: map[string]string{
				"paymentDate":   FieldOccurredOn,
				"paymentAmount": FieldAmount,
				"projectTitle":  FieldTitle,
				"invoiceFile":   FieldAttachedFile,
				"project":       FieldProjectID,
			},
			Window:      window,
			DefaultSort: defaultSort,
		},
		KindExpense: {
			Kind:   KindExpense,
			Fields: recordFields(),
			Aliases: map[string]string{
				"expenseDate":   FieldOccurredOn,
				"expenseAmount": FieldAmount,
				"expenseTitle":  FieldTitle,
				"expenseProof":  FieldAttachedFile,
			},
			Window:      window,
			DefaultSort: defaultSort,
		},
	}
}
