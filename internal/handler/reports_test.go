package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/minewatch/profit-bot/internal/store"
)

type fakeReportStore struct {
	rows   []store.ReportRow
	prices []store.PriceRow
	err    error
}

func (f *fakeReportStore) RecentReports(ctx context.Context, n int) ([]store.ReportRow, error) {
	if f.err != nil {
		return nil, f.err
	}
	if n < len(f.rows) {
		return f.rows[:n], nil
	}
	return f.rows, nil
}

func (f *fakeReportStore) ProfitTrend(ctx context.Context, coin string, n int) ([]store.ReportRow, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []store.ReportRow
	for _, r := range f.rows {
		if r.Coin == coin {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReportStore) PriceHistory(ctx context.Context, coin string, n int) ([]store.PriceRow, error) {
	return f.prices, f.err
}

type fakeTrigger struct {
	mu    sync.Mutex
	calls int
	done  chan struct{}
}

func (f *fakeTrigger) GenerateAndSend(ctx context.Context, force bool) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return nil
}

func sampleRows() []store.ReportRow {
	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	return []store.ReportRow{
		{ReportDate: day, Coin: "BTC", NetProfitUSDT: 19.51},
		{ReportDate: day, Coin: "LTC", NetProfitUSDT: 9.58},
	}
}

func TestListReports(t *testing.T) {
	h := ListReports(&fakeReportStore{rows: sampleRows()})
	req := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Reports []store.ReportRow `json:"reports"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Reports) != 2 {
		t.Errorf("reports = %d, want 2", len(body.Reports))
	}
}

func TestListReportsCoinFilter(t *testing.T) {
	h := ListReports(&fakeReportStore{rows: sampleRows()})
	req := httptest.NewRequest(http.MethodGet, "/api/reports?coin=LTC", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body struct {
		Reports []store.ReportRow `json:"reports"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Reports) != 1 || body.Reports[0].Coin != "LTC" {
		t.Errorf("reports = %+v", body.Reports)
	}
}

func TestListReportsEmptyIsArray(t *testing.T) {
	h := ListReports(&fakeReportStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Body.String(); got != "{\"reports\":[]}\n" {
		t.Errorf("body = %q, want empty array", got)
	}
}

func TestListReportsStoreError(t *testing.T) {
	h := ListReports(&fakeReportStore{err: errors.New("db down")})
	req := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestLatestReportEmpty(t *testing.T) {
	h := LatestReport(&fakeReportStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/reports/latest", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestPriceHistory(t *testing.T) {
	s := &fakeReportStore{prices: []store.PriceRow{
		{Coin: "BTC", PriceUSD: 97250},
	}}
	r := chi.NewRouter()
	r.Get("/api/prices/{coin}", PriceHistory(s))

	req := httptest.NewRequest(http.MethodGet, "/api/prices/BTC", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Coin   string           `json:"coin"`
		Prices []store.PriceRow `json:"prices"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Coin != "BTC" || len(body.Prices) != 1 {
		t.Errorf("body = %+v", body)
	}
}

func TestTriggerReport(t *testing.T) {
	trigger := &fakeTrigger{done: make(chan struct{})}
	h := TriggerReport(trigger, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest(http.MethodPost, "/api/report", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	select {
	case <-trigger.done:
	case <-time.After(2 * time.Second):
		t.Fatal("report generation was not started")
	}
}

func TestQueryIntBounds(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?days=500", nil)
	if got := queryInt(req, "days", 7, 90); got != 90 {
		t.Errorf("queryInt capped = %d, want 90", got)
	}
	req = httptest.NewRequest(http.MethodGet, "/?days=abc", nil)
	if got := queryInt(req, "days", 7, 90); got != 7 {
		t.Errorf("queryInt default = %d, want 7", got)
	}
}
