package query

import (
	"strconv"
	"strings"
)

const (
	DefaultPage  = 1
	DefaultLimit = 25
	MaxLimit     = 100
	// MaxPage keeps (page-1)*limit well inside the offset range the store accepts.
	MaxPage = 1_000_000
)

// PageRef points at a neighbouring page.
type PageRef struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int      `json:"page"`
	Limit      int      `json:"limit"`
	Total      int      `json:"total"`
	TotalPages int      `json:"totalPages"`
	Next       *PageRef `json:"next,omitempty"`
	Prev       *PageRef `json:"prev,omitempty"`
}

// Paginate computes pagination metadata. Next is present only when records
// exist after the page and it is below MaxPage, Prev only when the page is
// not the first.
func Paginate(page, limit, total int) Pagination {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if page <= 0 || page > MaxPage {
		page = DefaultPage
	}
	if total < 0 {
		total = 0
	}
	p := Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}
	if page < MaxPage && page*limit < total {
		p.Next = &PageRef{Page: page + 1, Limit: limit}
	}
	if page > 1 {
		p.Prev = &PageRef{Page: page - 1, Limit: limit}
	}
	return p
}

// positiveOr parses raw as an integer in [1, max], returning def otherwise.
func positiveOr(raw string, def, max int) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v <= 0 || v > max {
		return def
	}
	return v
}
