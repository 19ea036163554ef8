package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

func TestJSONPageAddsPagination(t *testing.T) {
	rec := httptest.NewRecorder()
	JSONPage(rec, shared.Page[string]{Items: []string{"c", "d"}, TotalCount: 5}, shared.PageRequest{Page: 2, Limit: 2})
	require.Equal(t, http.StatusOK, rec.Code)

	var body PageResponse[string]
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, []string{"c", "d"}, body.Items)
	require.Equal(t, 5, body.TotalCount)
	require.Equal(t, shared.Pagination{Page: 2, PerPage: 2, Total: 5, TotalPages: 3}, body.Pagination)
}

func TestJSONPageAllRowsAndEmpty(t *testing.T) {
	rec := httptest.NewRecorder()
	JSONPage(rec, shared.Page[int]{Items: []int{1, 2, 3}, TotalCount: 3}, shared.PageRequest{Limit: shared.AllRows})
	var all PageResponse[int]
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&all))
	require.Equal(t, shared.Pagination{Page: 1, PerPage: 3, Total: 3, TotalPages: 1}, all.Pagination)

	rec = httptest.NewRecorder()
	JSONPage(rec, shared.Page[int]{}, shared.PageRequest{})
	require.JSONEq(t, `{"items":[],"total_count":0,"pagination":{"page":1,"per_page":10,"total":0,"total_pages":0}}`, rec.Body.String())
}
