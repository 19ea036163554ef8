package shared

import "math"

const (
	// DefaultLimit is applied when the caller does not pick a page size.
	DefaultLimit = 10
	// AllRows requests every row in a single page.
	AllRows = -1
)

// PageRequest is a stateless 1-based page selector.
type PageRequest struct {
	Page  int
	Limit int
}

// Normalize applies defaults: page < 1 becomes 1, limit 0 becomes DefaultLimit and
// any negative limit becomes AllRows.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	switch {
	case p.Limit == 0:
		p.Limit = DefaultLimit
	case p.Limit < 0:
		p.Limit = AllRows
	}
	return p
}

// All reports whether the request asks for every row.
func (p PageRequest) All() bool {
	return p.Limit < 0
}

// Offset returns the number of rows to skip. It is zero for AllRows.
func (p PageRequest) Offset() int {
	if p.All() || p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// Page is a page of rows plus the total row count for pagination controls.
type Page[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"total_count"`
}

// EmptyPage returns a page with no rows and a zero total.
func EmptyPage[T any]() Page[T] {
	return Page[T]{Items: []T{}}
}

// Slice cuts a fully materialised, already ordered result set into the requested page.
func Slice[T any](rows []T, req PageRequest) Page[T] {
	req = req.Normalize()
	total := len(rows)
	if req.All() {
		out := make([]T, total)
		copy(out, rows)
		return Page[T]{Items: out, TotalCount: total}
	}
	start := req.Offset()
	if start >= total {
		return Page[T]{Items: []T{}, TotalCount: total}
	}
	end := start + req.Limit
	if end > total {
		end = total
	}
	out := make([]T, end-start)
	copy(out, rows[start:end])
	return Page[T]{Items: out, TotalCount: total}
}

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	if page <= 0 {
		page = 1
	}
	if perPage < 0 {
		return Pagination{Page: 1, PerPage: total, Total: total, TotalPages: 1}
	}
	if perPage == 0 {
		perPage = DefaultLimit
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}
