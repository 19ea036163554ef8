// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// ProblemDetail represents RFC7807 problem details.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ProblemDetail{
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// DecodeJSON decodes JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", shared.ErrValidation, err)
	}
	return nil
}

// PathID parses a positive int64 URL parameter.
func PathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", shared.ErrValidation, name)
	}
	return id, nil
}

// QueryInt64 parses an optional int64 query parameter. Empty values yield nil.
func QueryInt64(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s", shared.ErrValidation, name)
	}
	return &v, nil
}

// PageFromQuery reads page and limit query parameters into a normalised request.
func PageFromQuery(r *http.Request) shared.PageRequest {
	q := r.URL.Query()
	req := shared.PageRequest{}
	if v, err := strconv.Atoi(q.Get("page")); err == nil {
		req.Page = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		req.Limit = v
	}
	return req.Normalize()
}

// PageResponse is a page of rows with its pagination metadata.
type PageResponse[T any] struct {
	Items      []T               `json:"items"`
	TotalCount int               `json:"total_count"`
	Pagination shared.Pagination `json:"pagination"`
}

// JSONPage sends page with pagination metadata computed for req.
func JSONPage[T any](w http.ResponseWriter, page shared.Page[T], req shared.PageRequest) {
	req = req.Normalize()
	items := page.Items
	if items == nil {
		items = []T{}
	}
	JSON(w, http.StatusOK, PageResponse[T]{
		Items:      items,
		TotalCount: page.TotalCount,
		Pagination: shared.NewPagination(req.Page, req.Limit, page.TotalCount),
	})
}
