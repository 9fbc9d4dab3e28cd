package financehttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/freelance-manager/freelance-api/internal/archive"
	"github.com/freelance-manager/freelance-api/internal/filestore"
	"github.com/freelance-manager/freelance-api/internal/finance"
	"github.com/freelance-manager/freelance-api/internal/query"
	"github.com/freelance-manager/freelance-api/internal/shared"
	"github.com/freelance-manager/freelance-api/internal/taxyear"
	"github.com/freelance-manager/freelance-api/jobs"
)

var (
	testCalc = taxyear.MustCalculator(taxyear.DefaultRule, time.UTC)
	testNow  = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
)

type stubAggregator struct {
	totals   finance.Totals
	err      error
	lastWin  taxyear.Window
	lastUser uuid.UUID
}

func (s *stubAggregator) Totals(ctx context.Context, owner uuid.UUID, w taxyear.Window) (finance.Totals, error) {
	s.lastWin, s.lastUser = w, owner
	return s.totals, s.err
}

func (s *stubAggregator) ExpenseBreakdown(ctx context.Context, owner uuid.UUID, w taxyear.Window) (finance.Breakdown, error) {
	return finance.Breakdown{Labels: []string{"Rent"}, Values: []decimal.Decimal{decimal.NewFromInt(100)}}, s.err
}

func (s *stubAggregator) IncomeByPlatform(ctx context.Context, owner uuid.UUID) (finance.Breakdown, error) {
	return finance.Breakdown{Labels: []string{"Upwork"}, Values: []decimal.Decimal{decimal.NewFromInt(50)}}, s.err
}

func (s *stubAggregator) MonthlyIncome(ctx context.Context, owner uuid.UUID) (finance.Breakdown, error) {
	return finance.Breakdown{Labels: []string{"Jun"}, Values: []decimal.Decimal{decimal.Zero}}, s.err
}

type stubFinder struct {
	page finance.Page
	last query.Spec
}

func (s *stubFinder) Find(ctx context.Context, spec query.Spec) (finance.Page, error) {
	s.last = spec
	return s.page, nil
}

type stubBuilder struct {
	store filestore.Store
	body  string
	err   error
	last  archive.Request
}

func (s *stubBuilder) Build(ctx context.Context, req archive.Request) (*archive.Archive, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	p := archive.StoredPath(req.OwnerID, req.Names.Archive)
	if err := s.store.Write(ctx, p, strings.NewReader(s.body)); err != nil {
		return nil, err
	}
	return archive.Stored(ctx, s.store, req.OwnerID, req.Names.Archive)
}

type stubQueue struct {
	payload jobs.ArchiveBuildPayload
	err     error
}

func (s *stubQueue) EnqueueArchiveBuild(ctx context.Context, payload jobs.ArchiveBuildPayload) (*asynq.TaskInfo, error) {
	s.payload = payload
	if s.err != nil {
		return nil, s.err
	}
	return &asynq.TaskInfo{ID: "task-1", Queue: jobs.QueueDefault}, nil
}

type fixture struct {
	router  http.Handler
	agg     *stubAggregator
	finder  *stubFinder
	builder *stubBuilder
	queue   *stubQueue
	files   *filestore.Local
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	files, err := filestore.NewLocal(t.TempDir())
	require.NoError(t, err)
	f := &fixture{
		agg:     &stubAggregator{totals: finance.Totals{TotalIncome: decimal.NewFromInt(1200), TotalExpenses: decimal.RequireFromString("99.5")}},
		finder:  &stubFinder{},
		builder: &stubBuilder{store: files, body: "PK zip"},
		queue:   &stubQueue{},
		files:   files,
	}
	translator := query.NewTranslator(query.FinancialKinds(testCalc))
	translator.WithNow(func() time.Time { return testNow })
	h := NewHandler(Config{
		Aggregator: f.agg,
		Finder:     f.finder,
		Translator: translator,
		Calculator: testCalc,
		Builder:    f.builder,
		Queue:      f.queue,
		Files:      files,
	})
	h.WithNow(func() time.Time { return testNow })
	r := chi.NewRouter()
	h.MountRoutes(r)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, target string, owner uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if owner != uuid.Nil {
		req = req.WithContext(shared.ContextWithOwner(req.Context(), owner))
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func TestRequiresOwner(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/finance/current-tax-year", uuid.Nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}

func TestCurrentTaxYearTotals(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	rr := f.do(t, http.MethodGet, "/finance/current-tax-year", owner)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			TotalIncome   string `json:"totalIncome"`
			TotalExpenses string `json:"totalExpenses"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Equal(t, "1200", body.Data.TotalIncome)
	require.Equal(t, "99.5", body.Data.TotalExpenses)
	require.Equal(t, owner, f.agg.lastUser)
	require.Equal(t, testCalc.Current(testNow), f.agg.lastWin)
}

func TestSpecifiedTaxYear(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/finance/tax-year/2015", uuid.New())
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, testCalc.Specified(2015), f.agg.lastWin)

	rr = f.do(t, http.MethodGet, "/finance/tax-year/abc", uuid.New())
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAggregatorUnavailable(t *testing.T) {
	f := newFixture(t)
	f.agg.err = finance.ErrStoreUnavailable
	rr := f.do(t, http.MethodGet, "/finance/previous-tax-year/expenses-summary", uuid.New())
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "5", rr.Header().Get("Retry-After"))
}

func TestOverview(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/finance/overview", uuid.New())
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Data struct {
			Window struct {
				Label string `json:"label"`
			} `json:"window"`
			ExpensesSummary struct {
				Labels []string `json:"labels"`
			} `json:"expensesSummary"`
			PlatformsIncome struct {
				Labels []string `json:"labels"`
			} `json:"platformsIncome"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, testCalc.Current(testNow).Label(), body.Data.Window.Label)
	require.Equal(t, []string{"Rent"}, body.Data.ExpensesSummary.Labels)
	require.Equal(t, []string{"Upwork"}, body.Data.PlatformsIncome.Labels)
}

func TestArchiveDownloadStreamsAndDiscards(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	rr := f.do(t, http.MethodGet, "/finance/tax-year/2015/archive", owner)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/zip", rr.Header().Get("Content-Type"))
	require.Equal(t, `attachment; filename="2015-tax-year-finance.zip"`, rr.Header().Get("Content-Disposition"))
	require.Equal(t, "PK zip", rr.Body.String())
	require.True(t, f.builder.last.Transient)
	require.Equal(t, testCalc.Specified(2015), f.builder.last.Window)

	exists, err := f.files.Exists(context.Background(), archive.StoredPath(owner, "2015-tax-year-finance.zip"))
	require.NoError(t, err)
	require.False(t, exists, "streamed archive discarded")
}

func TestArchiveDownloadEmpty(t *testing.T) {
	f := newFixture(t)
	f.builder.err = shared.NotFound("no data found")
	rr := f.do(t, http.MethodGet, "/finance/current-tax-year/archive", uuid.New())
	require.Equal(t, http.StatusNotFound, rr.Code)

	var problem struct {
		Detail  string `json:"detail"`
		Success bool   `json:"success"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Equal(t, "no data found", problem.Detail)
	require.False(t, problem.Success)
	require.Equal(t, "current-tax-year-finance.zip", f.builder.last.Names.Archive)
}

func TestEnqueueArchive(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	rr := f.do(t, http.MethodPost, "/finance/tax-year/2019/archive/jobs", owner)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, jobs.ArchiveBuildPayload{OwnerID: owner, Year: 2019}, f.queue.payload)

	var body struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "task-1", body.Data["taskId"])
	require.Equal(t, "/api/v1/finance/archives/2019", body.Data["download"])

	f.queue.err = errors.New("redis down")
	rr = f.do(t, http.MethodPost, "/finance/tax-year/2019/archive/jobs", owner)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestStoredArchive(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	rr := f.do(t, http.MethodGet, "/finance/archives/2018", owner)
	require.Equal(t, http.StatusNotFound, rr.Code)

	ctx := context.Background()
	require.NoError(t, f.files.Write(ctx, archive.StoredPath(owner, "2018-tax-year-finance.zip"), strings.NewReader("stored")))
	rr = f.do(t, http.MethodGet, "/finance/archives/2018", owner)
	require.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	require.Equal(t, "stored", string(body))

	rr = f.do(t, http.MethodGet, "/finance/archives/2018", uuid.New())
	require.Equal(t, http.StatusNotFound, rr.Code, "other owners cannot read the archive")
}

func TestListExpensesPagination(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	day := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	f.finder.page = finance.Page{
		Records: []finance.Record{
			{ID: uuid.New(), OwnerID: owner, Kind: query.KindExpense, Title: "Rent", Amount: decimal.NewFromInt(800), OccurredOn: day},
			{ID: uuid.New(), OwnerID: owner, Kind: query.KindExpense, Title: "Train", Amount: decimal.NewFromInt(20), OccurredOn: day},
		},
		Total: 5,
	}
	rr := f.do(t, http.MethodGet, "/expenses?page=2&limit=2&select=title", owner)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, owner, f.finder.last.OwnerID)
	require.Equal(t, query.KindExpense, f.finder.last.Kind)

	var body struct {
		Success    bool             `json:"success"`
		Count      int              `json:"count"`
		Pagination query.Pagination `json:"pagination"`
		Data       []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Equal(t, 2, body.Count)
	require.Equal(t, 3, body.Pagination.TotalPages)
	require.NotNil(t, body.Pagination.Next)
	require.Equal(t, 3, body.Pagination.Next.Page)
	require.NotNil(t, body.Pagination.Prev)
	require.Equal(t, 1, body.Pagination.Prev.Page)
	require.Equal(t, "Rent", body.Data[0]["title"])
	require.NotContains(t, body.Data[0], "amount")
}

func TestListRejectsUnknownFilter(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/invoices?password=x", uuid.New())
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
