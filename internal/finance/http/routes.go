package financehttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/freelance-manager/freelance-api/internal/platform/httpx"
	"github.com/freelance-manager/freelance-api/internal/query"
	"github.com/freelance-manager/freelance-api/internal/shared"
)

// MountRoutes registers finance reporting and listing endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	archiveLimiter := httprate.Limit(10, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "archive rate limit exceeded")
		}),
	)

	r.Route("/finance", func(r chi.Router) {
		r.Get("/overview", h.handleOverview)
		r.Get("/current-tax-year", h.totals(scopeCurrent))
		r.Get("/current-tax-year/expenses-summary", h.expensesSummary(scopeCurrent))
		r.Get("/previous-tax-year", h.totals(scopePrevious))
		r.Get("/previous-tax-year/expenses-summary", h.expensesSummary(scopePrevious))
		r.Get("/tax-year/{year}", h.totals(scopeYear))
		r.Get("/tax-year/{year}/expenses-summary", h.expensesSummary(scopeYear))
		r.Get("/platforms-income", h.handlePlatformsIncome)
		r.Get("/monthly-income", h.handleMonthlyIncome)
		r.Get("/archives/{year}", h.handleStoredArchive)

		r.Group(func(gr chi.Router) {
			gr.Use(archiveLimiter)
			gr.Get("/current-tax-year/archive", h.download(scopeCurrent))
			gr.Get("/previous-tax-year/archive", h.download(scopePrevious))
			gr.Get("/tax-year/{year}/archive", h.download(scopeYear))
			gr.Post("/tax-year/{year}/archive/jobs", h.handleEnqueueArchive)
		})
	})
	r.Get("/invoices", h.list(query.KindInvoice))
	r.Get("/expenses", h.list(query.KindExpense))
}

func rateLimitKey(r *http.Request) (string, error) {
	if id, ok := shared.OwnerFromContext(r.Context()); ok {
		return "owner:" + id.String(), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
