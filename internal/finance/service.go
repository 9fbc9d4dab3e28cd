package finance

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/freelance-manager/freelance-api/internal/query"
	"github.com/freelance-manager/freelance-api/internal/taxyear"
)

// monthlyLookback is how far back MonthlyIncome seeds empty buckets.
const monthlyLookback = 150 * 24 * time.Hour

// DataStore is the read side the aggregator and archive builder depend on.
type DataStore interface {
	Find(ctx context.Context, spec query.Spec) (Page, error)
	RecordsInWindow(ctx context.Context, kind query.Kind, owner uuid.UUID, w taxyear.Window) ([]Record, error)
	ListPlatforms(ctx context.Context) ([]Platform, error)
	ProjectPayments(ctx context.Context, owner uuid.UUID) ([]ProjectPayment, error)
}

// Service coordinates aggregation queries with the cache layer.
type Service struct {
	store  DataStore
	cache  *Cache
	calc   *taxyear.Calculator
	logger *slog.Logger
	now    func() time.Time
	group  singleflight.Group
}

// NewService wires a DataStore with an optional Cache.
func NewService(store DataStore, cache *Cache, calc *taxyear.Calculator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: cache, calc: calc, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Calculator exposes the fiscal calendar in use.
func (s *Service) Calculator() *taxyear.Calculator {
	return s.calc
}

// Store exposes the underlying data store.
func (s *Service) Store() DataStore {
	return s.store
}

// Records loads the valid records of kind dated inside w. Invalid rows are
// skipped with a warning.
func (s *Service) Records(ctx context.Context, kind query.Kind, owner uuid.UUID, w taxyear.Window) ([]Record, error) {
	records, err := s.store.RecordsInWindow(ctx, kind, owner, w)
	if err != nil {
		return nil, err
	}
	valid := make([]Record, 0, len(records))
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			s.logger.Warn("skip invalid record", slog.String("kind", string(kind)), slog.String("id", rec.ID.String()), slog.Any("error", err))
			continue
		}
		valid = append(valid, rec)
	}
	return valid, nil
}

// Totals sums income and expenses over w.
func (s *Service) Totals(ctx context.Context, owner uuid.UUID, w taxyear.Window) (Totals, error) {
	var out Totals
	err := s.cached(ctx, owner, &out, func(ctx context.Context) (any, error) {
		invoices, err := s.Records(ctx, query.KindInvoice, owner, w)
		if err != nil {
			return nil, err
		}
		expenses, err := s.Records(ctx, query.KindExpense, owner, w)
		if err != nil {
			return nil, err
		}
		return Totals{TotalIncome: sumAmounts(invoices), TotalExpenses: sumAmounts(expenses)}, nil
	}, "totals", windowToken(w))
	return out, err
}

// ExpenseBreakdown groups expenses in w by title in first-seen order.
func (s *Service) ExpenseBreakdown(ctx context.Context, owner uuid.UUID, w taxyear.Window) (Breakdown, error) {
	var out Breakdown
	err := s.cached(ctx, owner, &out, func(ctx context.Context) (any, error) {
		expenses, err := s.Records(ctx, query.KindExpense, owner, w)
		if err != nil {
			return nil, err
		}
		return groupByTitle(expenses), nil
	}, "expenses_summary", windowToken(w))
	return out, err
}

// IncomeByPlatform sums invoice amounts of delivered projects paid inside the
// current window, one bucket per platform.
func (s *Service) IncomeByPlatform(ctx context.Context, owner uuid.UUID) (Breakdown, error) {
	w := s.calc.Current(s.now())
	var out Breakdown
	err := s.cached(ctx, owner, &out, func(ctx context.Context) (any, error) {
		platforms, err := s.store.ListPlatforms(ctx)
		if err != nil {
			return nil, err
		}
		payments, err := s.store.ProjectPayments(ctx, owner)
		if err != nil {
			return nil, err
		}
		return s.platformIncome(platforms, payments, w), nil
	}, "platforms_income", windowToken(w))
	return out, err
}

func (s *Service) platformIncome(platforms []Platform, payments []ProjectPayment, w taxyear.Window) Breakdown {
	out := newBreakdown()
	index := make(map[uuid.UUID]int, len(platforms))
	for i, p := range platforms {
		index[p.ID] = i
		out.add(p.Name, decimal.Zero)
	}
	for _, pp := range payments {
		if !pp.Delivered() || pp.PaymentDate == nil || !w.Contains(*pp.PaymentDate) {
			continue
		}
		i, ok := index[pp.PlatformID]
		if !ok {
			continue
		}
		if pp.InvoiceAmount == nil {
			s.logger.Warn("project invoice missing", slog.String("project_id", pp.ProjectID.String()))
			continue
		}
		out.Values[i] = out.Values[i].Add(*pp.InvoiceAmount)
	}
	return out
}

// MonthlyIncome buckets delivered project payments by calendar month. The
// months between now-150 days and now are always present, oldest first.
func (s *Service) MonthlyIncome(ctx context.Context, owner uuid.UUID) (Breakdown, error) {
	wall := s.calc.Wall(s.now())
	var out Breakdown
	err := s.cached(ctx, owner, &out, func(ctx context.Context) (any, error) {
		payments, err := s.store.ProjectPayments(ctx, owner)
		if err != nil {
			return nil, err
		}
		return monthlyBuckets(wall, payments), nil
	}, "monthly_income", wall.Format("2006-01-02"))
	return out, err
}

type monthKey struct {
	year  int
	month time.Month
}

func monthlyBuckets(wall time.Time, payments []ProjectPayment) Breakdown {
	out := newBreakdown()
	index := map[monthKey]int{}

	from := wall.Add(-monthlyLookback)
	cursor := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(wall.Year(), wall.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cursor.After(last) {
		index[monthKey{cursor.Year(), cursor.Month()}] = len(out.Labels)
		out.add(cursor.Format("Jan"), decimal.Zero)
		cursor = cursor.AddDate(0, 1, 0)
	}

	for _, pp := range payments {
		if !pp.Delivered() || pp.PaymentDate == nil {
			continue
		}
		d := pp.PaymentDate.UTC()
		key := monthKey{d.Year(), d.Month()}
		i, ok := index[key]
		if !ok {
			i = len(out.Labels)
			index[key] = i
			out.add(d.Format("Jan 2006"), decimal.Zero)
		}
		out.Values[i] = out.Values[i].Add(pp.Payment)
	}
	return out
}

func groupByTitle(records []Record) Breakdown {
	out := newBreakdown()
	index := map[string]int{}
	for _, rec := range records {
		i, ok := index[rec.Title]
		if !ok {
			i = len(out.Labels)
			index[rec.Title] = i
			out.add(rec.Title, decimal.Zero)
		}
		out.Values[i] = out.Values[i].Add(rec.Amount)
	}
	return out
}

func sumAmounts(records []Record) decimal.Decimal {
	total := decimal.Zero
	for _, rec := range records {
		total = total.Add(rec.Amount)
	}
	return total
}

func windowToken(w taxyear.Window) string {
	return strconv.FormatInt(w.Start.Unix(), 10) + "-" + strconv.FormatInt(w.End.Unix(), 10)
}

// cached collapses concurrent identical loads and stores the result in Redis
// when a cache is configured. A cache outage falls back to a direct load.
func (s *Service) cached(ctx context.Context, owner uuid.UUID, dest any, loader func(context.Context) (any, error), parts ...string) error {
	key, err := s.cache.BuildKey(ctx, owner, parts...)
	if err != nil {
		s.logger.Warn("finance cache unavailable", slog.Any("error", err))
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		return roundTrip(value, dest)
	}
	raw, err, _ := s.group.Do(key, func() (any, error) {
		var payload any
		if err := s.cache.FetchJSON(ctx, key, &payload, loader); err != nil {
			return nil, err
		}
		return payload, nil
	})
	if err != nil {
		return fmt.Errorf("finance: %s: %w", parts[0], err)
	}
	return roundTrip(raw, dest)
}
