package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, `stockledger_http_requests_total{code="418",route="/test"} 1`) {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	if !strings.Contains(body, `stockledger_http_request_duration_seconds_bucket{route="/test"`) {
		t.Fatalf("expected duration histogram to be present, got: %s", body)
	}
}

func TestObserveWriteClassifiesOutcome(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveWrite("create", nil)
	metrics.ObserveWrite("create", nil)
	metrics.ObserveWrite("update", fmt.Errorf("%w: busy", shared.ErrConflict))
	metrics.ObserveWrite("create", fmt.Errorf("%w: bad", shared.ErrValidation))
	metrics.ObserveWrite("delete", errors.New("boom"))

	body := scrape(t, metrics)
	for _, want := range []string{
		`stockledger_voucher_writes_total{op="create",outcome="ok"} 2`,
		`stockledger_voucher_writes_total{op="update",outcome="conflict"} 1`,
		`stockledger_voucher_writes_total{op="create",outcome="rejected"} 1`,
		`stockledger_voucher_writes_total{op="delete",outcome="error"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s in: %s", want, body)
		}
	}
}

func TestNilMetricsAreInert(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveWrite("create", nil)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

type flakyCache struct{ err error }

func (f flakyCache) Invalidate(context.Context) error { return f.err }

func TestCountInvalidationsRecordsFailures(t *testing.T) {
	metrics := NewMetrics()
	ctx := context.Background()

	broken := metrics.CountInvalidations("ledger", flakyCache{err: errors.New("redis down")})
	if err := broken.Invalidate(ctx); err == nil {
		t.Fatal("expected the inner error to be returned")
	}
	_ = broken.Invalidate(ctx)
	healthy := metrics.CountInvalidations("catalog", flakyCache{})
	if err := healthy.Invalidate(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, `stockledger_cache_invalidation_failures_total{source="ledger"} 2`) {
		t.Fatalf("expected two ledger failures, got: %s", body)
	}
	if strings.Contains(body, `source="catalog"`) {
		t.Fatalf("successful invalidations must not be counted: %s", body)
	}
}
