// Package pagination turns page/per_page query parameters into offsets and
// wraps a page of results with its navigation metadata.
package pagination

import (
	"net/http"
	"net/url"
	"strconv"
)

// Page size bounds. Out-of-range sizes fall back to DefaultPerPage.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Params is a normalized page request.
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Offset  int `json:"-"`
}

// DefaultParams is the first page at the default size.
func DefaultParams() Params {
	return NewParams(1, DefaultPerPage)
}

// NewParams clamps page to at least 1, resets an invalid perPage to the
// default and derives the row offset.
func NewParams(page, perPage int) Params {
	page = max(page, 1)
	if perPage < 1 || perPage > MaxPerPage {
		perPage = DefaultPerPage
	}
	return Params{Page: page, PerPage: perPage, Offset: (page - 1) * perPage}
}

// FromRequest reads page and per_page from the query string. Missing or
// malformed values use the defaults.
func FromRequest(r *http.Request) Params {
	q := r.URL.Query()
	return NewParams(queryInt(q, "page"), queryInt(q, "per_page"))
}

func queryInt(q url.Values, key string) int {
	n, err := strconv.Atoi(q.Get(key))
	if err != nil {
		return 0
	}
	return n
}

// Result is one page of T. Data is never nil so it encodes as [].
type Result[T any] struct {
	Data       []T  `json:"data"`
	TotalCount int  `json:"total_count"`
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// NewResult wraps data, one page out of totalCount rows.
func NewResult[T any](data []T, totalCount int, p Params) Result[T] {
	if data == nil {
		data = []T{}
	}
	pages := 0
	if p.PerPage > 0 {
		pages = (totalCount + p.PerPage - 1) / p.PerPage
	}
	return Result[T]{
		Data:       data,
		TotalCount: totalCount,
		Page:       p.Page,
		PerPage:    p.PerPage,
		TotalPages: pages,
		HasNext:    p.Page < pages,
		HasPrev:    p.Page > 1,
	}
}
