package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minewatch/profit-bot/internal/config"
	"github.com/minewatch/profit-bot/internal/pool"
	"github.com/minewatch/profit-bot/internal/pricing"
	"github.com/minewatch/profit-bot/internal/profit"
	"github.com/minewatch/profit-bot/internal/store"
)

type fakeHistory struct {
	rows       []store.ReportRow
	commentary *store.Commentary
}

func (f *fakeHistory) RecentReports(ctx context.Context, n int) ([]store.ReportRow, error) {
	return f.rows, nil
}

func (f *fakeHistory) LatestCommentary(ctx context.Context) (*store.Commentary, error) {
	if f.commentary == nil {
		return nil, errors.New("no rows")
	}
	return f.commentary, nil
}

type fakePrices struct {
	err   error
	stats *pricing.NetworkStats
}

func (f *fakePrices) FetchPrices(ctx context.Context, coins []string) (profit.PriceSnapshot, error) {
	if f.err != nil {
		return profit.PriceSnapshot{}, f.err
	}
	return profit.PriceSnapshot{
		Prices:      map[string]float64{"BTC": 97250},
		Change24h:   map[string]float64{"BTC": 1.8},
		UsdtRubRate: 92.5,
	}, nil
}

func (f *fakePrices) FetchNetworkStats(ctx context.Context) (*pricing.NetworkStats, error) {
	if f.stats == nil {
		return nil, errors.New("not available")
	}
	return f.stats, nil
}

type fakeYield struct {
	err     error
	miners  []pool.MinerStatus
	records []pool.ProfitRecord
}

func (f *fakeYield) FetchYield(ctx context.Context, coins []string) (profit.YieldSnapshot, error) {
	if f.err != nil {
		return profit.YieldSnapshot{}, f.err
	}
	return profit.YieldSnapshot{
		Hashrate: map[string]profit.HashrateInfo{
			"BTC": {Hashrate10Min: "110 TH/s", Hashrate1Hour: "108 TH/s", Hashrate1Day: "109 TH/s"},
		},
	}, nil
}

func (f *fakeYield) FetchMiners(ctx context.Context, coin string) ([]pool.MinerStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.miners, nil
}

func (f *fakeYield) FetchProfitHistory(ctx context.Context, coin string, limit int) ([]pool.ProfitRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type fakeReporter struct {
	mu    sync.Mutex
	calls int
	force []bool
}

func (f *fakeReporter) GenerateAndSend(ctx context.Context, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.force = append(f.force, force)
	return nil
}

func (f *fakeReporter) LastYield() *profit.YieldSnapshot { return nil }

// apiRecorder fakes the Telegram sendMessage endpoint and records texts.
type apiRecorder struct {
	mu    sync.Mutex
	texts []string
	fails int
}

func (a *apiRecorder) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			fmt.Fprint(w, `{"ok": true, "result": []}`)
			return
		}
		var payload struct {
			ChatID int64  `json:"chat_id"`
			Text   string `json:"text"`
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)

		a.mu.Lock()
		defer a.mu.Unlock()
		if a.fails > 0 {
			a.fails--
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"ok": false, "description": "bad gateway"}`)
			return
		}
		a.texts = append(a.texts, payload.Text)
		fmt.Fprint(w, `{"ok": true}`)
	})
}

func (a *apiRecorder) sent() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.texts...)
}

func testBot(t *testing.T, api *apiRecorder) (*Bot, *fakeReporter) {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Telegram: config.TelegramConfig{Token: "test-token", ChatID: 42},
		Report:   config.ReportConfig{Hour: 8, Timezone: "UTC"},
		Miners: []config.Miner{
			{Name: "S19 Pro", Coin: "BTC", PowerW: 3250, Count: 1},
		},
		ElectricityPriceRubKwh: 5.7,
	}
	b := NewBot(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		&fakeHistory{}, &fakePrices{}, &fakeYield{})
	b.SetAPIBase(srv.URL)

	r := &fakeReporter{}
	b.SetReporter(r)
	return b, r
}

func TestSendMessageRetriesOnce(t *testing.T) {
	api := &apiRecorder{fails: 1}
	b, _ := testBot(t, api)

	if err := b.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("SendMessage should succeed on retry: %v", err)
	}
	if got := api.sent(); len(got) != 1 || got[0] != "hello" {
		t.Errorf("sent = %v", got)
	}
}

func TestSendMessageFailsAfterRetry(t *testing.T) {
	api := &apiRecorder{fails: 2}
	b, _ := testBot(t, api)

	if err := b.SendMessage(context.Background(), "hello"); err == nil {
		t.Fatal("expected failure after the single retry is spent")
	}
}

func TestHandleReportTriggersManualRun(t *testing.T) {
	api := &apiRecorder{}
	b, r := testBot(t, api)

	b.handleCommand(context.Background(), "/report")

	if r.calls != 1 {
		t.Fatalf("reporter calls = %d, want 1", r.calls)
	}
	if !r.force[0] {
		t.Error("manual /report must bypass the daily gate")
	}
}

func TestHandlePrices(t *testing.T) {
	api := &apiRecorder{}
	b, _ := testBot(t, api)

	b.handleCommand(context.Background(), "/prices")

	sent := api.sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if !strings.Contains(sent[0], "97,250.00") {
		t.Errorf("price missing: %q", sent[0])
	}
}

func TestHandlePricesIncludesNetworkStats(t *testing.T) {
	api := &apiRecorder{}
	b, _ := testBot(t, api)
	b.prices = &fakePrices{stats: &pricing.NetworkStats{
		BTCDifficulty:        121.5e12,
		BTCNetworkHashrateGH: 880e9,
	}}

	b.handleCommand(context.Background(), "/prices")

	sent := api.sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if !strings.Contains(sent[0], "Difficulty: 121.50T") || !strings.Contains(sent[0], "880 EH/s") {
		t.Errorf("network section missing:\n%s", sent[0])
	}
}

func TestHandleHashrate(t *testing.T) {
	api := &apiRecorder{}
	b, _ := testBot(t, api)

	b.handleCommand(context.Background(), "/hashrate")

	sent := api.sent()
	if len(sent) != 1 || !strings.Contains(sent[0], "110 TH/s") {
		t.Errorf("sent = %v", sent)
	}
}

func TestHandleHashrateListsWorkers(t *testing.T) {
	api := &apiRecorder{}
	b, _ := testBot(t, api)
	b.yield = &fakeYield{miners: []pool.MinerStatus{
		{Miner: "s19-01", Status: "active", Hashrate10Min: "110 TH/s"},
		{Miner: "s19-02", Status: "unactive", Hashrate10Min: "0 H/s"},
	}}

	b.handleCommand(context.Background(), "/hashrate")

	sent := api.sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if !strings.Contains(sent[0], "BTC WORKERS") {
		t.Errorf("worker section missing:\n%s", sent[0])
	}
	if !strings.Contains(sent[0], "🟢 s19-01") || !strings.Contains(sent[0], "🔴 s19-02") {
		t.Errorf("worker lines wrong:\n%s", sent[0])
	}
}

func TestHandleHistoryFallsBackToPool(t *testing.T) {
	api := &apiRecorder{}
	b, _ := testBot(t, api)
	b.yield = &fakeYield{records: []pool.ProfitRecord{
		{Date: "2025-03-14", Coin: "BTC", Profit: "0.00025"},
	}}

	b.handleCommand(context.Background(), "/history")

	sent := api.sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if !strings.Contains(sent[0], "POOL PAYOUT HISTORY") || !strings.Contains(sent[0], "0.00025 BTC") {
		t.Errorf("pool fallback missing:\n%s", sent[0])
	}
}

func TestHandleHistoryGroupsByDay(t *testing.T) {
	api := &apiRecorder{}
	b, _ := testBot(t, api)
	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	b.history = &fakeHistory{rows: []store.ReportRow{
		{ReportDate: day, Coin: "BTC", NetProfitUSDT: 19.51},
		{ReportDate: day, Coin: "LTC", NetProfitUSDT: 9.58},
		{ReportDate: day.AddDate(0, 0, -1), Coin: "BTC", NetProfitUSDT: 18.2},
	}}

	b.handleCommand(context.Background(), "/history")

	sent := api.sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	msg := sent[0]
	if !strings.Contains(msg, "14.03.2025") || !strings.Contains(msg, "13.03.2025") {
		t.Errorf("days missing:\n%s", msg)
	}
	if !strings.Contains(msg, "Net: +29.09 USDT") {
		t.Errorf("daily total missing:\n%s", msg)
	}
}

func TestHandleAIWithoutCommentary(t *testing.T) {
	api := &apiRecorder{}
	b, _ := testBot(t, api)

	b.handleCommand(context.Background(), "/ai")

	sent := api.sent()
	if len(sent) != 1 || !strings.Contains(sent[0], "No AI commentary") {
		t.Errorf("sent = %v", sent)
	}
}

func TestHandleSettings(t *testing.T) {
	api := &apiRecorder{}
	b, _ := testBot(t, api)

	b.handleCommand(context.Background(), "/settings")

	sent := api.sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if !strings.Contains(sent[0], "S19 Pro") || !strings.Contains(sent[0], "5.70 RUB/kWh") {
		t.Errorf("settings message = %q", sent[0])
	}
}

func TestHandleUnknownCommand(t *testing.T) {
	api := &apiRecorder{}
	b, _ := testBot(t, api)

	b.handleCommand(context.Background(), "/frobnicate")

	sent := api.sent()
	if len(sent) != 1 || !strings.Contains(sent[0], "Unknown command") {
		t.Errorf("sent = %v", sent)
	}
}

func TestHandleCommandStripsBotSuffix(t *testing.T) {
	api := &apiRecorder{}
	b, r := testBot(t, api)

	b.handleCommand(context.Background(), "/report@minewatch_bot")

	if r.calls != 1 {
		t.Errorf("reporter calls = %d, want 1", r.calls)
	}
}
