package shared

import (
	"math"
	"net/http"
	"strconv"
	"strings"
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// ListParams is the explicit search/sort/paging state a list or report
// request carries.
type ListParams struct {
	Page          int
	PerPage       int
	Search        string
	SortField     string
	SortDirection string
}

// ParseListParams reads page, per_page, search, sort_field and sort_direction.
func ParseListParams(r *http.Request) ListParams {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	p := ListParams{
		Page:          page,
		PerPage:       perPage,
		Search:        strings.TrimSpace(q.Get("search")),
		SortField:     q.Get("sort_field"),
		SortDirection: q.Get("sort_direction"),
	}
	return p.Normalize()
}

// Normalize applies defaults and bounds.
func (p ListParams) Normalize() ListParams {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PerPage <= 0 {
		p.PerPage = 20
	}
	if p.PerPage > 200 {
		p.PerPage = 200
	}
	if p.SortDirection != "desc" {
		p.SortDirection = "asc"
	}
	return p
}

// Offset returns the row offset for the current page.
func (p ListParams) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.PerPage
}

// Desc reports whether descending order was requested.
func (p ListParams) Desc() bool {
	return p.SortDirection == "desc"
}
