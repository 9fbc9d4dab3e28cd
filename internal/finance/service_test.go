package finance

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/freelance-manager/freelance-api/internal/query"
	"github.com/freelance-manager/freelance-api/internal/taxyear"
)

type fakeStore struct {
	mu        sync.Mutex
	records   []Record
	platforms []Platform
	payments  map[uuid.UUID][]ProjectPayment
	err       error
	calls     map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{payments: map[uuid.UUID][]ProjectPayment{}, calls: map[string]int{}}
}

func (f *fakeStore) hit(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeStore) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeStore) Find(ctx context.Context, spec query.Spec) (Page, error) {
	f.hit("find")
	return Page{}, f.err
}

func (f *fakeStore) RecordsInWindow(ctx context.Context, kind query.Kind, owner uuid.UUID, w taxyear.Window) ([]Record, error) {
	f.hit("records")
	if f.err != nil {
		return nil, f.err
	}
	var out []Record
	for _, rec := range f.records {
		if rec.Kind == kind && rec.OwnerID == owner && w.Contains(rec.OccurredOn) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) ListPlatforms(ctx context.Context) ([]Platform, error) {
	f.hit("platforms")
	return f.platforms, f.err
}

func (f *fakeStore) ProjectPayments(ctx context.Context, owner uuid.UUID) ([]ProjectPayment, error) {
	f.hit("payments")
	return f.payments[owner], f.err
}

func record(owner uuid.UUID, kind query.Kind, title, amount string, on time.Time) Record {
	return Record{
		ID:         uuid.New(),
		OwnerID:    owner,
		Kind:       kind,
		Title:      title,
		Amount:     decimal.RequireFromString(amount),
		OccurredOn: on,
		CreatedAt:  on,
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

var testCalc = taxyear.MustCalculator(taxyear.DefaultRule, time.UTC)

func newTestService(t *testing.T, store DataStore, withCache bool) (*Service, *Cache) {
	t.Helper()
	var cache *Cache
	if withCache {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		cache = NewCache(client, time.Minute)
	}
	svc := NewService(store, cache, testCalc, nil)
	svc.WithNow(func() time.Time { return time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC) })
	return svc, cache
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s got %s", want, got)
}

func TestTotalsSumsWindowOnly(t *testing.T) {
	owner := uuid.New()
	store := newFakeStore()
	store.records = []Record{
		record(owner, query.KindInvoice, "Logo", "100.10", date(2024, time.May, 1)),
		record(owner, query.KindInvoice, "Site", "0.20", date(2024, time.April, 6)),
		record(owner, query.KindInvoice, "Old", "999", date(2024, time.April, 5)),
		record(owner, query.KindExpense, "Laptop", "50.05", date(2024, time.May, 2)),
		record(uuid.New(), query.KindExpense, "Other owner", "75", date(2024, time.May, 2)),
	}
	svc, _ := newTestService(t, store, false)

	totals, err := svc.Totals(context.Background(), owner, testCalc.Specified(2024))
	require.NoError(t, err)
	requireDecimal(t, "100.30", totals.TotalIncome)
	requireDecimal(t, "50.05", totals.TotalExpenses)
}

func TestTotalsIndependentOfOrder(t *testing.T) {
	owner := uuid.New()
	store := newFakeStore()
	for i := 0; i < 40; i++ {
		store.records = append(store.records,
			record(owner, query.KindInvoice, "Inv", "0.10", date(2024, time.May, 1+i%20)),
			record(owner, query.KindExpense, "Exp", "0.07", date(2024, time.July, 1+i%20)),
		)
	}
	svc, _ := newTestService(t, store, false)
	w := testCalc.Specified(2024)

	first, err := svc.Totals(context.Background(), owner, w)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 5; i++ {
		rng.Shuffle(len(store.records), func(a, b int) {
			store.records[a], store.records[b] = store.records[b], store.records[a]
		})
		got, err := svc.Totals(context.Background(), owner, w)
		require.NoError(t, err)
		require.True(t, first.TotalIncome.Equal(got.TotalIncome))
		require.True(t, first.TotalExpenses.Equal(got.TotalExpenses))
	}
	requireDecimal(t, "4", first.TotalIncome)
	requireDecimal(t, "2.8", first.TotalExpenses)
}

func TestTotalsSkipsInvalidRecords(t *testing.T) {
	owner := uuid.New()
	store := newFakeStore()
	store.records = []Record{
		record(owner, query.KindExpense, "Valid", "10", date(2024, time.May, 1)),
		record(owner, query.KindExpense, "Negative", "-5", date(2024, time.May, 1)),
		record(owner, query.KindExpense, "", "3", date(2024, time.May, 1)),
	}
	svc, _ := newTestService(t, store, false)

	totals, err := svc.Totals(context.Background(), owner, testCalc.Specified(2024))
	require.NoError(t, err)
	requireDecimal(t, "10", totals.TotalExpenses)
	requireDecimal(t, "0", totals.TotalIncome)
}

func TestTotalsPropagatesStoreErrors(t *testing.T) {
	store := newFakeStore()
	store.err = ErrStoreUnavailable
	svc, _ := newTestService(t, store, false)

	_, err := svc.Totals(context.Background(), uuid.New(), testCalc.Specified(2024))
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestExpenseBreakdownFirstSeenOrder(t *testing.T) {
	owner := uuid.New()
	store := newFakeStore()
	store.records = []Record{
		record(owner, query.KindExpense, "Software", "10.10", date(2024, time.May, 1)),
		record(owner, query.KindExpense, "Travel", "5", date(2024, time.May, 2)),
		record(owner, query.KindExpense, "Software", "0.20", date(2024, time.May, 3)),
		record(owner, query.KindExpense, "Office", "1", date(2024, time.May, 4)),
	}
	svc, _ := newTestService(t, store, false)

	got, err := svc.ExpenseBreakdown(context.Background(), owner, testCalc.Specified(2024))
	require.NoError(t, err)
	require.Equal(t, []string{"Software", "Travel", "Office"}, got.Labels)
	require.Len(t, got.Values, len(got.Labels))
	requireDecimal(t, "10.30", got.Values[0])
	requireDecimal(t, "5", got.Values[1])
	requireDecimal(t, "1", got.Values[2])

	totals, err := svc.Totals(context.Background(), owner, testCalc.Specified(2024))
	require.NoError(t, err)
	require.True(t, got.Sum().Equal(totals.TotalExpenses))
}

func TestExpenseBreakdownEmpty(t *testing.T) {
	svc, _ := newTestService(t, newFakeStore(), false)
	got, err := svc.ExpenseBreakdown(context.Background(), uuid.New(), testCalc.Specified(2024))
	require.NoError(t, err)
	require.Empty(t, got.Labels)
	require.Empty(t, got.Values)
}

func TestIncomeByPlatform(t *testing.T) {
	owner := uuid.New()
	upwork, fiverr, direct := uuid.New(), uuid.New(), uuid.New()
	store := newFakeStore()
	store.platforms = []Platform{{ID: upwork, Name: "Upwork"}, {ID: fiverr, Name: "Fiverr"}, {ID: direct, Name: "Direct"}}
	store.payments[owner] = []ProjectPayment{
		{PlatformID: upwork, ProjectID: uuid.New(), Status: ProjectDelivered, PaymentDate: ptr(date(2024, time.May, 1)), InvoiceAmount: ptr(decimal.RequireFromString("300.50"))},
		{PlatformID: upwork, ProjectID: uuid.New(), Status: ProjectDelivered, PaymentDate: ptr(date(2024, time.July, 1)), InvoiceAmount: ptr(decimal.RequireFromString("200"))},
		{PlatformID: upwork, ProjectID: uuid.New(), Status: ProjectStarted, PaymentDate: ptr(date(2024, time.May, 1)), InvoiceAmount: ptr(decimal.RequireFromString("999"))},
		{PlatformID: fiverr, ProjectID: uuid.New(), Status: ProjectDelivered, PaymentDate: ptr(date(2024, time.May, 1))},
		{PlatformID: direct, ProjectID: uuid.New(), Status: ProjectDelivered, PaymentDate: ptr(date(2023, time.May, 1)), InvoiceAmount: ptr(decimal.RequireFromString("80"))},
		{PlatformID: uuid.New(), ProjectID: uuid.New(), Status: ProjectDelivered, PaymentDate: ptr(date(2024, time.May, 1)), InvoiceAmount: ptr(decimal.RequireFromString("42"))},
	}
	svc, _ := newTestService(t, store, false)

	got, err := svc.IncomeByPlatform(context.Background(), owner)
	require.NoError(t, err)
	require.Equal(t, []string{"Upwork", "Fiverr", "Direct"}, got.Labels)
	requireDecimal(t, "500.50", got.Values[0])
	requireDecimal(t, "0", got.Values[1])
	requireDecimal(t, "0", got.Values[2])
}

func TestMonthlyIncomeBuckets(t *testing.T) {
	owner := uuid.New()
	store := newFakeStore()
	store.payments[owner] = []ProjectPayment{
		{Status: ProjectDelivered, Payment: decimal.RequireFromString("100"), PaymentDate: ptr(date(2024, time.January, 10))},
		{Status: ProjectDelivered, Payment: decimal.RequireFromString("20"), PaymentDate: ptr(date(2023, time.November, 5))},
		{Status: ProjectDelivered, Payment: decimal.RequireFromString("50"), PaymentDate: ptr(date(2023, time.January, 10))},
		{Status: ProjectDelivered, Payment: decimal.RequireFromString("5"), PaymentDate: ptr(date(2024, time.January, 31))},
		{Status: ProjectStarted, Payment: decimal.RequireFromString("7"), PaymentDate: ptr(date(2024, time.February, 1))},
		{Status: ProjectDelivered, Payment: decimal.RequireFromString("9")},
	}
	svc, _ := newTestService(t, store, false)
	svc.WithNow(func() time.Time { return time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC) })

	got, err := svc.MonthlyIncome(context.Background(), owner)
	require.NoError(t, err)
	require.Equal(t, []string{"Oct", "Nov", "Dec", "Jan", "Feb", "Mar", "Jan 2023"}, got.Labels)
	want := []string{"0", "20", "0", "105", "0", "0", "50"}
	require.Len(t, got.Values, len(want))
	for i, w := range want {
		requireDecimal(t, w, got.Values[i])
	}
}

func TestMonthlyIncomeSeedsAcrossYearBoundary(t *testing.T) {
	svc, _ := newTestService(t, newFakeStore(), false)
	svc.WithNow(func() time.Time { return time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC) })

	got, err := svc.MonthlyIncome(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Equal(t, []string{"Sep", "Oct", "Nov", "Dec", "Jan", "Feb"}, got.Labels)
	require.True(t, got.Sum().IsZero())
}

func TestServiceCachesPerOwner(t *testing.T) {
	owner, other := uuid.New(), uuid.New()
	store := newFakeStore()
	store.records = []Record{record(owner, query.KindExpense, "Rent", "10", date(2024, time.May, 1))}
	svc, cache := newTestService(t, store, true)
	ctx := context.Background()
	w := testCalc.Specified(2024)

	got, err := svc.Totals(ctx, owner, w)
	require.NoError(t, err)
	requireDecimal(t, "10", got.TotalExpenses)
	require.Equal(t, 2, store.count("records"))

	_, err = svc.Totals(ctx, owner, w)
	require.NoError(t, err)
	require.Equal(t, 2, store.count("records"), "second call served from cache")

	_, err = svc.Totals(ctx, other, w)
	require.NoError(t, err)
	require.Equal(t, 4, store.count("records"), "owners never share entries")

	store.records = append(store.records, record(owner, query.KindExpense, "Rent", "5", date(2024, time.May, 2)))
	require.NoError(t, cache.Bump(ctx, owner))
	got, err = svc.Totals(ctx, owner, w)
	require.NoError(t, err)
	requireDecimal(t, "15", got.TotalExpenses)
	require.Equal(t, 6, store.count("records"))
}

func TestServiceCacheDoesNotStoreErrors(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("boom")
	svc, _ := newTestService(t, store, true)
	ctx := context.Background()
	owner := uuid.New()

	_, err := svc.ExpenseBreakdown(ctx, owner, testCalc.Specified(2024))
	require.Error(t, err)

	store.err = nil
	_, err = svc.ExpenseBreakdown(ctx, owner, testCalc.Specified(2024))
	require.NoError(t, err)
}
