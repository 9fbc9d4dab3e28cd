package finance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/freelance-manager/freelance-api/internal/platform/db"
	"github.com/freelance-manager/freelance-api/internal/query"
	"github.com/freelance-manager/freelance-api/internal/shared"
	"github.com/freelance-manager/freelance-api/internal/taxyear"
)

// ErrStoreUnavailable marks connection level data store failures.
var ErrStoreUnavailable = fmt.Errorf("finance: data store: %w", shared.ErrUnavailable)

// Repository is the PostgreSQL backed data store. It only reads.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository bound to pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Find executes a translated query and returns one ordered page. The count
// and the page read the same snapshot so Total always matches the rows.
func (r *Repository) Find(ctx context.Context, spec query.Spec) (Page, error) {
	built, err := buildFind(spec)
	if err != nil {
		return Page{}, err
	}
	var page Page
	err = db.ReadSnapshot(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, built.countSQL, built.countArgs...).Scan(&page.Total); err != nil {
			return fmt.Errorf("count: %w", err)
		}
		rows, err := tx.Query(ctx, built.sql, built.args...)
		if err != nil {
			return err
		}
		page.Records, err = scanRecords(rows, spec.Kind)
		return err
	})
	if err != nil {
		return Page{}, classify("find", err)
	}
	return page, nil
}

// RecordsInWindow returns every record of kind dated inside w, oldest first.
func (r *Repository) RecordsInWindow(ctx context.Context, kind query.Kind, owner uuid.UUID, w taxyear.Window) ([]Record, error) {
	tbl, ok := tables[kind]
	if !ok {
		return nil, fmt.Errorf("finance: unknown kind %q", kind)
	}
	sql := fmt.Sprintf(`SELECT %s FROM %s
WHERE owner_id = $1 AND occurred_on >= $2 AND occurred_on < $3
ORDER BY occurred_on ASC, created_at ASC, id ASC`, selectColumns(kind), tbl.name)
	rows, err := r.pool.Query(ctx, sql, owner, w.Start, w.End)
	if err != nil {
		return nil, classify("records in window", err)
	}
	records, err := scanRecords(rows, kind)
	if err != nil {
		return nil, classify("scan", err)
	}
	return records, nil
}

// ListPlatforms returns every income platform in creation order.
func (r *Repository) ListPlatforms(ctx context.Context) ([]Platform, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM income_platforms ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, classify("list platforms", err)
	}
	defer rows.Close()
	var out []Platform
	for rows.Next() {
		var p Platform
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, classify("scan platform", err)
		}
		out = append(out, p)
	}
	return out, classify("list platforms", rows.Err())
}

const projectPaymentsSQL = `SELECT c.platform_id, c.id, p.id, p.status, p.payment::text, p.payment_date,
       p.invoice_id, i.amount::text
FROM clients c
JOIN projects p ON p.client_id = c.id AND p.owner_id = c.owner_id
LEFT JOIN invoices i ON i.id = p.invoice_id AND i.owner_id = p.owner_id
WHERE c.owner_id = $1
ORDER BY c.created_at ASC, p.created_at ASC, p.id ASC`

// ProjectPayments runs the platform → client → project → invoice join for one
// owner. Projects without an invoice row come back with a nil InvoiceAmount.
func (r *Repository) ProjectPayments(ctx context.Context, owner uuid.UUID) ([]ProjectPayment, error) {
	rows, err := r.pool.Query(ctx, projectPaymentsSQL, owner)
	if err != nil {
		return nil, classify("project payments", err)
	}
	defer rows.Close()
	var out []ProjectPayment
	for rows.Next() {
		var (
			pp            ProjectPayment
			payment       *string
			paymentDate   *time.Time
			invoiceAmount *string
		)
		if err := rows.Scan(&pp.PlatformID, &pp.ClientID, &pp.ProjectID, &pp.Status, &payment, &paymentDate, &pp.InvoiceID, &invoiceAmount); err != nil {
			return nil, classify("scan project payment", err)
		}
		pp.Payment = decimal.Zero
		if payment != nil {
			if pp.Payment, err = decimal.NewFromString(*payment); err != nil {
				return nil, fmt.Errorf("finance: project payment: %w", err)
			}
		}
		if paymentDate != nil {
			d := paymentDate.UTC()
			pp.PaymentDate = &d
		}
		if invoiceAmount != nil {
			amount, err := decimal.NewFromString(*invoiceAmount)
			if err != nil {
				return nil, fmt.Errorf("finance: invoice amount: %w", err)
			}
			pp.InvoiceAmount = &amount
		}
		out = append(out, pp)
	}
	return out, classify("project payments", rows.Err())
}

func scanRecords(rows pgx.Rows, kind query.Kind) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			rec    Record
			amount string
		)
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.ProjectID, &rec.Title, &amount, &rec.OccurredOn, &rec.AttachedFile, &rec.CreatedAt); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", amount, err)
		}
		rec.Amount = d
		rec.Kind = kind
		rec.OccurredOn = rec.OccurredOn.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// classify wraps connection level failures with ErrStoreUnavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("finance: %s: %s: %w", op, pgErr.Code, err)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("finance: %s: %w: %w", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("finance: %s: %w", op, err)
}
