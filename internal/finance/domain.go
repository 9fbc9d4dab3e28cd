package finance

import (
	"errors"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/freelance-manager/freelance-api/internal/query"
)

// Project statuses stored for freelance projects.
const (
	ProjectAgreed    = "agreed"
	ProjectStarted   = "started"
	ProjectDelivered = "delivered"
	ProjectCanceled  = "canceled"
)

// Record is the read-only projection of an invoice or an expense.
type Record struct {
	ID           uuid.UUID       `json:"id"`
	OwnerID      uuid.UUID       `json:"ownerId" validate:"required"`
	Kind         query.Kind      `json:"kind" validate:"oneof=invoices expenses"`
	ProjectID    *uuid.UUID      `json:"projectId,omitempty"`
	Title        string          `json:"title" validate:"required"`
	Amount       decimal.Decimal `json:"amount" validate:"gte=0"`
	OccurredOn   time.Time       `json:"occurredOn" validate:"required"`
	AttachedFile string          `json:"attachedFile,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// HasAttachment reports whether a source document is linked.
func (r Record) HasAttachment() bool {
	return r.AttachedFile != ""
}

// Project returns only the selected fields; an empty selection keeps all.
func (r Record) Project(fields []string) map[string]any {
	all := map[string]any{
		query.FieldID:           r.ID,
		query.FieldTitle:        r.Title,
		query.FieldAmount:       r.Amount,
		query.FieldOccurredOn:   r.OccurredOn,
		query.FieldAttachedFile: r.AttachedFile,
		query.FieldCreatedAt:    r.CreatedAt,
	}
	if r.ProjectID != nil {
		all[query.FieldProjectID] = *r.ProjectID
	}
	if len(fields) == 0 {
		return all
	}
	out := map[string]any{query.FieldID: r.ID}
	for _, f := range fields {
		if v, ok := all[f]; ok {
			out[f] = v
		}
	}
	return out
}

// Page is an ordered page of records plus the total match count.
type Page struct {
	Records []Record
	Total   int
}

// Platform is an income platform clients are acquired through.
type Platform struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// ProjectPayment is one row of the platform → client → project → invoice join.
type ProjectPayment struct {
	PlatformID    uuid.UUID
	ClientID      uuid.UUID
	ProjectID     uuid.UUID
	Status        string
	Payment       decimal.Decimal
	PaymentDate   *time.Time
	InvoiceID     *uuid.UUID
	InvoiceAmount *decimal.Decimal
}

// Delivered reports whether the project reached delivered status.
func (p ProjectPayment) Delivered() bool {
	return p.Status == ProjectDelivered
}

// Totals sums income and expenses for a window.
type Totals struct {
	TotalIncome   decimal.Decimal `json:"totalIncome"`
	TotalExpenses decimal.Decimal `json:"totalExpenses"`
}

// Breakdown is a label/value series; Labels and Values are positionally paired.
type Breakdown struct {
	Labels []string          `json:"labels"`
	Values []decimal.Decimal `json:"values"`
}

func newBreakdown() Breakdown {
	return Breakdown{Labels: []string{}, Values: []decimal.Decimal{}}
}

func (b *Breakdown) add(label string, value decimal.Decimal) {
	b.Labels = append(b.Labels, label)
	b.Values = append(b.Values, value)
}

// Sum totals every bucket.
func (b Breakdown) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, v := range b.Values {
		total = total.Add(v)
	}
	return total
}

var ErrInvalidRecord = errors.New("finance: invalid record")

var recordValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// Validate checks the record invariants.
func (r Record) Validate() error {
	if err := recordValidator.Struct(r); err != nil {
		return errors.Join(ErrInvalidRecord, err)
	}
	return nil
}
