package financehttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/freelance-manager/freelance-api/internal/archive"
	"github.com/freelance-manager/freelance-api/internal/filestore"
	"github.com/freelance-manager/freelance-api/internal/finance"
	"github.com/freelance-manager/freelance-api/internal/platform/httpx"
	"github.com/freelance-manager/freelance-api/internal/query"
	"github.com/freelance-manager/freelance-api/internal/shared"
	"github.com/freelance-manager/freelance-api/internal/taxyear"
	"github.com/freelance-manager/freelance-api/jobs"
)

const (
	requestTimeout = 10 * time.Second
	archiveTimeout = 2 * time.Minute
)

// Aggregator defines the summaries served by the handler.
type Aggregator interface {
	Totals(ctx context.Context, owner uuid.UUID, w taxyear.Window) (finance.Totals, error)
	ExpenseBreakdown(ctx context.Context, owner uuid.UUID, w taxyear.Window) (finance.Breakdown, error)
	IncomeByPlatform(ctx context.Context, owner uuid.UUID) (finance.Breakdown, error)
	MonthlyIncome(ctx context.Context, owner uuid.UUID) (finance.Breakdown, error)
}

// Finder executes translated listing queries.
type Finder interface {
	Find(ctx context.Context, spec query.Spec) (finance.Page, error)
}

// ArchiveBuilder produces stored archives.
type ArchiveBuilder interface {
	Build(ctx context.Context, req archive.Request) (*archive.Archive, error)
}

// Enqueuer schedules asynchronous archive builds.
type Enqueuer interface {
	EnqueueArchiveBuild(ctx context.Context, payload jobs.ArchiveBuildPayload) (*asynq.TaskInfo, error)
}

// Config wires the handler dependencies. Queue and Files are optional.
type Config struct {
	Logger     *slog.Logger
	Aggregator Aggregator
	Finder     Finder
	Translator *query.Translator
	Calculator *taxyear.Calculator
	Builder    ArchiveBuilder
	Queue      Enqueuer
	Files      filestore.Store
}

// Handler serves the finance reporting endpoints.
type Handler struct {
	logger     *slog.Logger
	aggregator Aggregator
	finder     Finder
	translator *query.Translator
	calc       *taxyear.Calculator
	builder    ArchiveBuilder
	queue      Enqueuer
	files      filestore.Store
	now        func() time.Time
}

// NewHandler constructs the finance HTTP handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:     logger,
		aggregator: cfg.Aggregator,
		finder:     cfg.Finder,
		translator: cfg.Translator,
		calc:       cfg.Calculator,
		builder:    cfg.Builder,
		queue:      cfg.Queue,
		files:      cfg.Files,
		now:        time.Now,
	}
}

// WithNow overrides the handler clock for testing.
func (h *Handler) WithNow(fn func() time.Time) {
	if fn != nil {
		h.now = fn
	}
}

type scope int

const (
	scopeCurrent scope = iota
	scopePrevious
	scopeYear
)

// window resolves the fiscal window and archive scope name for a route.
func (h *Handler) window(r *http.Request, s scope) (taxyear.Window, string, error) {
	switch s {
	case scopeCurrent:
		return h.calc.Current(h.now()), "current-tax-year", nil
	case scopePrevious:
		return h.calc.Previous(h.now()), "previous-tax-year", nil
	default:
		year, err := taxyear.ParseYear(chi.URLParam(r, "year"))
		if err != nil {
			return taxyear.Window{}, "", err
		}
		return h.calc.Specified(year), archive.YearScope(year), nil
	}
}

func owner(r *http.Request) (uuid.UUID, error) {
	id, ok := shared.OwnerFromContext(r.Context())
	if !ok {
		return uuid.Nil, shared.ErrUnauthorized
	}
	return id, nil
}

func (h *Handler) totals(s scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := owner(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		win, _, err := h.window(r, s)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		totals, err := h.aggregator.Totals(ctx, id, win)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.OK(w, http.StatusOK, totals)
	}
}

func (h *Handler) expensesSummary(s scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := owner(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		win, _, err := h.window(r, s)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		breakdown, err := h.aggregator.ExpenseBreakdown(ctx, id, win)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.OK(w, http.StatusOK, breakdown)
	}
}

func (h *Handler) handlePlatformsIncome(w http.ResponseWriter, r *http.Request) {
	id, err := owner(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	breakdown, err := h.aggregator.IncomeByPlatform(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, breakdown)
}

func (h *Handler) handleMonthlyIncome(w http.ResponseWriter, r *http.Request) {
	id, err := owner(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	breakdown, err := h.aggregator.MonthlyIncome(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, breakdown)
}

// overview is the dashboard payload for the current tax year.
type overview struct {
	Window          windowView        `json:"window"`
	Totals          finance.Totals    `json:"totals"`
	ExpensesSummary finance.Breakdown `json:"expensesSummary"`
	PlatformsIncome finance.Breakdown `json:"platformsIncome"`
	MonthlyIncome   finance.Breakdown `json:"monthlyIncome"`
}

type windowView struct {
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// handleOverview loads every current tax year summary concurrently.
func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	id, err := owner(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	win := h.calc.Current(h.now())
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	out := overview{Window: windowView{Label: win.Label(), Start: win.Start, End: win.End}}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Totals, err = h.aggregator.Totals(gctx, id, win)
		return err
	})
	g.Go(func() (err error) {
		out.ExpensesSummary, err = h.aggregator.ExpenseBreakdown(gctx, id, win)
		return err
	})
	g.Go(func() (err error) {
		out.PlatformsIncome, err = h.aggregator.IncomeByPlatform(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		out.MonthlyIncome, err = h.aggregator.MonthlyIncome(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, out)
}

// download builds the bundle synchronously, streams it and then discards the
// stored copy.
func (h *Handler) download(s scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := owner(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		win, name, err := h.window(r, s)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), archiveTimeout)
		defer cancel()

		built, err := h.builder.Build(ctx, archive.Request{OwnerID: id, Window: win, Names: archive.NamesFor(name), Transient: true})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		defer func() {
			if err := built.Discard(context.Background()); err != nil {
				h.logger.Warn("discard archive", slog.String("path", built.Path), slog.Any("error", err))
			}
		}()
		h.stream(ctx, w, r, built)
	}
}

func (h *Handler) handleEnqueueArchive(w http.ResponseWriter, r *http.Request) {
	id, err := owner(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if h.queue == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "background jobs disabled")
		return
	}
	year, err := taxyear.ParseYear(chi.URLParam(r, "year"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	info, err := h.queue.EnqueueArchiveBuild(r.Context(), jobs.ArchiveBuildPayload{OwnerID: id, Year: year})
	if err != nil {
		h.fail(w, r, fmt.Errorf("enqueue archive: %w: %w", shared.ErrUnavailable, err))
		return
	}
	httpx.OK(w, http.StatusAccepted, map[string]any{
		"taskId":   info.ID,
		"queue":    info.Queue,
		"download": "/api/v1/finance/archives/" + chi.URLParam(r, "year"),
	})
}

func (h *Handler) handleStoredArchive(w http.ResponseWriter, r *http.Request) {
	id, err := owner(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if h.files == nil {
		h.fail(w, r, shared.NotFound("archive storage disabled"))
		return
	}
	year, err := taxyear.ParseYear(chi.URLParam(r, "year"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	stored, err := archive.Stored(r.Context(), h.files, id, archive.NamesFor(archive.YearScope(year)).Archive)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.stream(r.Context(), w, r, stored)
}

func (h *Handler) stream(ctx context.Context, w http.ResponseWriter, r *http.Request, a *archive.Archive) {
	rc, err := a.Open(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, a.Name))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("stream archive", slog.String("path", a.Path), slog.Any("error", err))
	}
}

type listing struct {
	Success    bool             `json:"success"`
	Count      int              `json:"count"`
	Pagination query.Pagination `json:"pagination"`
	Data       []map[string]any `json:"data"`
}

func (h *Handler) list(kind query.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := owner(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		spec, err := h.translator.Translate(id, kind, r.URL.Query())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		page, err := h.finder.Find(ctx, spec)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		data := make([]map[string]any, 0, len(page.Records))
		for _, rec := range page.Records {
			data = append(data, rec.Project(spec.Select))
		}
		httpx.JSON(w, http.StatusOK, listing{
			Success:    true,
			Count:      len(data),
			Pagination: query.Paginate(spec.Page, spec.PageSize, page.Total),
			Data:       data,
		})
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrNotFound), errors.Is(err, shared.ErrUnauthorized):
	default:
		h.logger.Error("finance request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
