package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/balance"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/ledger/ledgertest"
	"github.com/odyssey-erp/stockledger/internal/license"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/sites"
)

type memoryMetadata struct {
	mu   sync.Mutex
	rows map[string]string
}

func (m *memoryMetadata) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.rows[key]
	return v, ok, nil
}

func (m *memoryMetadata) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[key] = value
	return nil
}

func (m *memoryMetadata) PutIfAbsent(_ context.Context, key, value string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.rows[key]; ok {
		return v, nil
	}
	m.rows[key] = value
	return value, nil
}

type server struct {
	handler http.Handler
	now     time.Time
	godown  sites.Site
	siteA   sites.Site
	cement  int64
}

func newServer(t *testing.T) *server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := ledgertest.New()
	srv := &server{
		now:    time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		godown: store.AddSite("GD", "Main Godown", sites.KindWarehouse),
		siteA:  store.AddSite("SA", "Site A", sites.KindSite),
		cement: store.AddItem("CEM", "Cement").ID,
	}
	metrics := observability.NewMetrics()
	gate, err := license.NewGate(&memoryMetadata{rows: map[string]string{}}, license.Config{
		Secret:   []byte("test-secret"),
		SystemID: "box-1",
		Now:      func() time.Time { return srv.now },
	})
	require.NoError(t, err)

	ledgerSvc := ledger.NewService(store, store, store, ledger.ServiceConfig{Recorder: metrics, Logger: logger})
	balanceSvc := balance.NewService(store, balance.ServiceConfig{Logger: logger})
	srv.handler = NewRouter(RouterParams{
		Logger:         logger,
		Config:         &Config{AppEnv: "test", RateLimitPerMin: 1000},
		Metrics:        metrics,
		LedgerHandler:  ledger.NewHandler(logger, ledgerSvc, gate.Middleware(logger)),
		BalanceHandler: balance.NewHandler(logger, balanceSvc),
		LicenseHandler: license.NewHandler(logger, gate),
	})
	return srv
}

func (s *server) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *server) purchase(qty string) map[string]any {
	return map[string]any{
		"voucher_date":        "2024-03-01",
		"type_id":             1,
		"destination_site_id": s.godown.ID,
		"lines":               []map[string]any{{"item_id": s.cement, "quantity": qty}},
	}
}

func TestHealthzAndSecurityHeaders(t *testing.T) {
	srv := newServer(t)
	rec := srv.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestHealthzReportsUnavailableStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewRouter(RouterParams{Logger: logger, Ready: func(*http.Request) error { return errors.New("pg down") }})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTransactionTypesAreServed(t *testing.T) {
	srv := newServer(t)
	rec := srv.do(t, http.MethodGet, "/api/transaction-types", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Purchase Inward")

	rec = srv.do(t, http.MethodGet, "/api/transaction-types/99", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVoucherPostingUpdatesBalance(t *testing.T) {
	srv := newServer(t)

	rec := srv.do(t, http.MethodPost, "/api/vouchers", srv.purchase("100"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID     int64  `json:"id"`
		Number string `json:"number"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "TXN-000001", created.Number)

	rec = srv.do(t, http.MethodGet, "/api/stock/balance?item_id="+itoa(srv.cement)+"&site_id="+itoa(srv.godown.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bal struct {
		Quantity string `json:"quantity"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bal))
	require.Equal(t, "100", bal.Quantity)

	rec = srv.do(t, http.MethodGet, "/metrics", nil)
	require.Contains(t, rec.Body.String(), `stockledger_voucher_writes_total{op="create",outcome="ok"} 1`)
}

func TestVoucherRejectsMissingDestination(t *testing.T) {
	srv := newServer(t)
	body := srv.purchase("5")
	delete(body, "destination_site_id")

	rec := srv.do(t, http.MethodPost, "/api/vouchers", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.True(t, strings.Contains(rec.Header().Get("Content-Type"), "json"))
}

func TestWritesRequireLicenseAfterTrial(t *testing.T) {
	srv := newServer(t)
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/api/license", nil).Code)

	srv.now = srv.now.Add(25 * time.Hour)
	rec := srv.do(t, http.MethodPost, "/api/vouchers", srv.purchase("1"))
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/vouchers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestVoucherListFiltersByNumber(t *testing.T) {
	srv := newServer(t)
	for _, qty := range []string{"10", "20"} {
		require.Equal(t, http.StatusCreated, srv.do(t, http.MethodPost, "/api/vouchers", srv.purchase(qty)).Code)
	}

	rec := srv.do(t, http.MethodGet, "/api/vouchers?number=TXN-000002", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page struct {
		Items []struct {
			Number string `json:"number"`
		} `json:"items"`
		TotalCount int `json:"total_count"`
		Pagination struct {
			Page       int `json:"page"`
			TotalPages int `json:"total_pages"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 1, page.TotalCount)
	require.Len(t, page.Items, 1)
	require.Equal(t, "TXN-000002", page.Items[0].Number)
	require.Equal(t, 1, page.Pagination.Page)
	require.Equal(t, 1, page.Pagination.TotalPages)

	rec = srv.do(t, http.MethodGet, "/api/vouchers?number=bogus", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
