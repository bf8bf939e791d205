package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/minewatch/profit-bot/internal/store"
)

// ReportStore reads persisted report history.
type ReportStore interface {
	RecentReports(ctx context.Context, n int) ([]store.ReportRow, error)
	ProfitTrend(ctx context.Context, coin string, n int) ([]store.ReportRow, error)
	PriceHistory(ctx context.Context, coin string, n int) ([]store.PriceRow, error)
}

// Trigger starts a manual report run.
type Trigger interface {
	GenerateAndSend(ctx context.Context, force bool) error
}

// ListReports returns recent report rows, optionally filtered by coin.
// GET /api/reports?days=7&coin=BTC
func ListReports(s ReportStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := queryInt(r, "days", 7, 90)

		var rows []store.ReportRow
		var err error
		if coin := r.URL.Query().Get("coin"); coin != "" {
			rows, err = s.ProfitTrend(r.Context(), coin, days)
		} else {
			rows, err = s.RecentReports(r.Context(), days)
		}
		if err != nil {
			http.Error(w, `{"error":"failed to load reports"}`, http.StatusInternalServerError)
			return
		}
		if rows == nil {
			rows = []store.ReportRow{}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"reports": rows})
	}
}

// LatestReport returns the rows of the most recent report day.
// GET /api/reports/latest
func LatestReport(s ReportStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := s.RecentReports(r.Context(), 1)
		if err != nil {
			http.Error(w, `{"error":"failed to load reports"}`, http.StatusInternalServerError)
			return
		}
		if len(rows) == 0 {
			http.Error(w, `{"error":"no reports yet"}`, http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"date":    rows[0].ReportDate.Format("2006-01-02"),
			"reports": rows,
		})
	}
}

// PriceHistory returns stored daily prices for one coin.
// GET /api/prices/{coin}?days=30
func PriceHistory(s ReportStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		coin := chi.URLParam(r, "coin")
		days := queryInt(r, "days", 30, 365)

		rows, err := s.PriceHistory(r.Context(), coin, days)
		if err != nil {
			http.Error(w, `{"error":"failed to load prices"}`, http.StatusInternalServerError)
			return
		}
		if rows == nil {
			rows = []store.PriceRow{}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"coin": coin, "prices": rows})
	}
}

// TriggerReport starts a manual report run in the background. Returns
// 202 immediately; generation can take tens of seconds with the AI step.
// POST /api/report
func TriggerReport(t Trigger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
			defer cancel()
			if err := t.GenerateAndSend(ctx, true); err != nil {
				logger.Error("manual report via API failed", "error", err)
			}
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"report generation started"}`))
	}
}

func queryInt(r *http.Request, key string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 1 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
