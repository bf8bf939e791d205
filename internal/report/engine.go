// Package report generates, formats and schedules the daily
// profitability report.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/minewatch/profit-bot/internal/analyst"
	"github.com/minewatch/profit-bot/internal/config"
	"github.com/minewatch/profit-bot/internal/metrics"
	"github.com/minewatch/profit-bot/internal/pricing"
	"github.com/minewatch/profit-bot/internal/profit"
	"github.com/minewatch/profit-bot/internal/store"
)

// SendFunc delivers a message to the configured Telegram chat.
type SendFunc func(ctx context.Context, text string) error

// YieldSource provides pool yield data.
type YieldSource interface {
	FetchYield(ctx context.Context, coins []string) (profit.YieldSnapshot, error)
}

// PriceSource provides market prices and context.
type PriceSource interface {
	FetchPrices(ctx context.Context, coins []string) (profit.PriceSnapshot, error)
	FetchMarketOverview(ctx context.Context) (*pricing.MarketOverview, error)
	FetchNetworkStats(ctx context.Context) (*pricing.NetworkStats, error)
}

// Commentator produces optional AI commentary for a report.
type Commentator interface {
	Enabled() bool
	Generate(ctx context.Context, rep *profit.Report, prices profit.PriceSnapshot,
		overview *pricing.MarketOverview, stats *pricing.NetworkStats) (*analyst.Analysis, error)
}

// History persists generated reports.
type History interface {
	UpsertReport(ctx context.Context, date time.Time, rep *profit.Report) error
	HasReport(ctx context.Context, date time.Time) (bool, error)
	SavePrice(ctx context.Context, date time.Time, coin string, priceUSD, change24h, marketCapUSD float64) error
	SaveCommentary(ctx context.Context, c *store.Commentary) error
}

// Gate guards once-per-day scheduling across restarts.
type Gate interface {
	TryAcquireReport(ctx context.Context, date time.Time) (bool, error)
	ReleaseReport(ctx context.Context, date time.Time)
	ReportSent(ctx context.Context, date time.Time) bool
	AlertFired(ctx context.Context, key string) bool
	RecordAlert(ctx context.Context, key string, ttl time.Duration)
	ClearAlert(ctx context.Context, key string)
}

// Engine runs the daily schedule, generates reports and pushes them out.
type Engine struct {
	cfg     *config.Config
	logger  *slog.Logger
	yield   YieldSource
	prices  PriceSource
	comment Commentator
	history History
	gate    Gate
	send    SendFunc

	now func() time.Time

	mu        sync.RWMutex
	lastHr    map[string]float64
	lastYield *profit.YieldSnapshot
}

func NewEngine(cfg *config.Config, logger *slog.Logger, yield YieldSource,
	prices PriceSource, comment Commentator, history History, gate Gate, send SendFunc) *Engine {
	return &Engine{
		cfg:     cfg,
		logger:  logger,
		yield:   yield,
		prices:  prices,
		comment: comment,
		history: history,
		gate:    gate,
		send:    send,
		now:     time.Now,
		lastHr:  make(map[string]float64),
	}
}

// Run starts the daily schedule and the hashrate alert poller. On
// startup it catches up a missed report for today when the scheduled
// time has already passed.
func (e *Engine) Run(ctx context.Context) {
	loc := e.cfg.ReportLocation()

	if e.cfg.Report.CatchUp && e.missedToday(ctx, loc) {
		e.logger.Info("scheduled report time already passed, catching up")
		if err := e.GenerateAndSend(ctx, false); err != nil {
			e.logger.Error("catch-up report failed", "error", err)
		}
	}

	reportTimer := e.nextReportTimer(loc)
	defer reportTimer.Stop()

	var alertCh <-chan time.Time
	if e.cfg.Alerts.Enabled {
		alertTicker := time.NewTicker(e.cfg.Alerts.PollInterval)
		defer alertTicker.Stop()
		alertCh = alertTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-reportTimer.C:
			if err := e.GenerateAndSend(ctx, false); err != nil {
				e.logger.Error("scheduled report failed", "error", err)
			}
			reportTimer = e.nextReportTimer(loc)
		case <-alertCh:
			e.checkHashrate(ctx)
		}
	}
}

// missedToday reports whether today's scheduled time has passed with
// no report on record. The gate is checked first, then stored history,
// so a wiped Redis does not re-send a day Postgres already has.
func (e *Engine) missedToday(ctx context.Context, loc *time.Location) bool {
	now := e.now().In(loc)
	scheduled := time.Date(now.Year(), now.Month(), now.Day(),
		e.cfg.Report.Hour, e.cfg.Report.Minute, 0, 0, loc)
	if !now.After(scheduled) {
		return false
	}
	date := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if e.gate.ReportSent(ctx, date) {
		return false
	}
	if sent, err := e.history.HasReport(ctx, date); err == nil && sent {
		return false
	}
	return true
}

func (e *Engine) nextReportTimer(loc *time.Location) *time.Timer {
	now := e.now().In(loc)
	next := time.Date(now.Year(), now.Month(), now.Day(),
		e.cfg.Report.Hour, e.cfg.Report.Minute, 0, 0, loc)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	duration := next.Sub(now)
	e.logger.Info("next daily report", "at", next.Format(time.RFC3339), "in", duration.Round(time.Minute))
	return time.NewTimer(duration)
}

// GenerateAndSend builds today's report and delivers it. A scheduled
// run (force=false) claims the per-day gate first and is a no-op when
// the day is already covered. A manual run (force=true) bypasses the
// gate and overwrites history.
func (e *Engine) GenerateAndSend(ctx context.Context, force bool) error {
	loc := e.cfg.ReportLocation()
	today := e.now().In(loc)
	date := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	trigger := "scheduled"
	if force {
		trigger = "manual"
	}

	if !force {
		won, err := e.gate.TryAcquireReport(ctx, date)
		if err != nil {
			e.logger.Error("report gate unavailable, skipping to avoid duplicates", "error", err)
			metrics.ReportsSkippedTotal.Inc()
			return nil
		}
		if !won {
			e.logger.Info("report already sent today, skipping", "date", date.Format("2006-01-02"))
			metrics.ReportsSkippedTotal.Inc()
			return nil
		}
	}

	text, rep, err := e.buildReport(ctx, today)
	if err != nil {
		if !force {
			e.gate.ReleaseReport(ctx, date)
		}
		metrics.ReportsFailedTotal.WithLabelValues("generate").Inc()
		return err
	}

	if err := e.deliver(ctx, text, "report"); err != nil {
		if !force {
			e.gate.ReleaseReport(ctx, date)
		}
		metrics.ReportsFailedTotal.WithLabelValues("deliver").Inc()
		return err
	}

	metrics.ReportsGeneratedTotal.WithLabelValues(trigger).Inc()
	metrics.NetProfitUSDT.Set(rep.NetProfitUSDT)
	for _, line := range rep.Lines {
		metrics.CoinNetProfitUSDT.WithLabelValues(line.Coin).Set(line.NetProfitUSDT)
	}
	e.logger.Info("daily report delivered",
		"date", date.Format("2006-01-02"),
		"net_profit_usdt", rep.NetProfitUSDT,
		"trigger", trigger)
	return nil
}

// buildReport assembles the full report text for a moment in time.
// Pool and price failures abort the report; AI, market context and
// storage failures degrade to a report without those parts.
func (e *Engine) buildReport(ctx context.Context, at time.Time) (string, *profit.Report, error) {
	coins := e.cfg.Coins()
	date := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)

	yield, err := e.fetchYield(ctx, coins)
	if err != nil {
		return "", nil, fmt.Errorf("fetch pool yield: %w", err)
	}
	prices, err := e.fetchPrices(ctx, e.cfg.PriceCoins())
	if err != nil {
		return "", nil, fmt.Errorf("fetch prices: %w", err)
	}

	rep, err := profit.Calculate(e.cfg.Miners, yield, prices, e.cfg.ElectricityPriceRubKwh)
	if err != nil {
		return "", nil, fmt.Errorf("calculate profitability: %w", err)
	}
	rep.Date = at

	metrics.UsdtRubRate.Set(prices.UsdtRubRate)
	for coin, p := range prices.Prices {
		metrics.CoinPriceUSD.WithLabelValues(coin).Set(p)
	}

	overview, err := e.prices.FetchMarketOverview(ctx)
	if err != nil {
		e.logger.Warn("market overview unavailable", "error", err)
		overview = nil
	}
	stats, err := e.prices.FetchNetworkStats(ctx)
	if err != nil {
		e.logger.Warn("network stats unavailable", "error", err)
		stats = nil
	}

	var analysisText string
	var fng *analyst.FearGreed
	if e.comment != nil && e.comment.Enabled() {
		analysis, err := e.comment.Generate(ctx, rep, prices, overview, stats)
		if err != nil {
			e.logger.Warn("AI commentary unavailable, sending report without it", "error", err)
		} else {
			analysisText = analysis.Text
			fng = analysis.FearGreed
			if err := e.history.SaveCommentary(ctx, &store.Commentary{
				ReportDate: date,
				Text:       analysis.Text,
				NewsTitles: analysis.NewsTitles,
				Model:      analysis.Model,
			}); err != nil {
				e.logger.Error("save commentary failed", "error", err)
			}
		}
	}

	if err := e.history.UpsertReport(ctx, date, rep); err != nil {
		e.logger.Error("save report failed, delivering anyway", "error", err)
	}
	for coin, price := range prices.Prices {
		if err := e.history.SavePrice(ctx, date, coin, price,
			prices.Change24h[coin], prices.MarketCap[coin]); err != nil {
			e.logger.Error("save price failed", "coin", coin, "error", err)
		}
	}

	text := FormatReport(rep, prices, overview, fng, analysisText, e.cfg.ReportLocation())
	return text, rep, nil
}

// deliver sends all chunks of a message, retrying each failed send once.
func (e *Engine) deliver(ctx context.Context, text, kind string) error {
	for _, part := range SplitMessage(text, maxMessageLen) {
		if err := e.send(ctx, part); err != nil {
			metrics.MessagesFailedTotal.WithLabelValues(kind).Inc()
			return fmt.Errorf("deliver %s: %w", kind, err)
		}
		metrics.MessagesSentTotal.WithLabelValues(kind).Inc()
	}
	return nil
}

func (e *Engine) fetchYield(ctx context.Context, coins []string) (profit.YieldSnapshot, error) {
	start := e.now()
	snap, err := e.yield.FetchYield(ctx, coins)
	metrics.FetchDuration.WithLabelValues("pool").Observe(e.now().Sub(start).Seconds())
	if err != nil {
		metrics.FetchTotal.WithLabelValues("pool", "error").Inc()
		return profit.YieldSnapshot{}, err
	}
	metrics.FetchTotal.WithLabelValues("pool", "ok").Inc()
	metrics.FetchLastSuccess.WithLabelValues("pool").Set(float64(e.now().Unix()))

	e.mu.Lock()
	e.lastYield = &snap
	e.mu.Unlock()
	return snap, nil
}

func (e *Engine) fetchPrices(ctx context.Context, coins []string) (profit.PriceSnapshot, error) {
	start := e.now()
	snap, err := e.prices.FetchPrices(ctx, coins)
	metrics.FetchDuration.WithLabelValues("prices").Observe(e.now().Sub(start).Seconds())
	if err != nil {
		metrics.FetchTotal.WithLabelValues("prices", "error").Inc()
		return profit.PriceSnapshot{}, err
	}
	metrics.FetchTotal.WithLabelValues("prices", "ok").Inc()
	metrics.FetchLastSuccess.WithLabelValues("prices").Set(float64(e.now().Unix()))
	return snap, nil
}

// LastYield returns the most recent pool snapshot, nil before the
// first successful fetch.
func (e *Engine) LastYield() *profit.YieldSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastYield
}

// checkHashrate polls the pool between reports and alerts when a
// coin's 10-minute hashrate drops by the configured percentage.
func (e *Engine) checkHashrate(ctx context.Context) {
	coins := e.cfg.Coins()
	snap, err := e.yield.FetchYield(ctx, coins)
	if err != nil {
		e.logger.Warn("hashrate poll failed", "error", err)
		return
	}

	e.mu.Lock()
	e.lastYield = &snap
	e.mu.Unlock()

	for _, coin := range coins {
		hr, ok := snap.Hashrate[coin]
		if !ok {
			continue
		}
		curr, ok := parseHashrate(hr.Hashrate10Min)
		if !ok {
			continue
		}

		e.mu.Lock()
		prev, had := e.lastHr[coin]
		e.lastHr[coin] = curr
		e.mu.Unlock()

		if !had || prev <= 0 {
			continue
		}

		// drop_pct is configured in percent, the ratio here is a fraction.
		drop := (prev - curr) / prev
		alertKey := "alert:hashrate:" + coin
		if drop*100 >= e.cfg.Alerts.DropPct {
			if e.gate.AlertFired(ctx, alertKey) {
				continue
			}
			msg := fmt.Sprintf("🚨 <b>%s HASHRATE DROP</b>\n\n"+
				"10-minute hashrate dropped by %.1f%%.\n"+
				"Previous: %s\nCurrent: %s",
				coin, drop*100, formatHashrateValue(prev), formatHashrateValue(curr))
			if err := e.deliver(ctx, msg, "alert"); err != nil {
				e.logger.Error("hashrate alert delivery failed", "coin", coin, "error", err)
				continue
			}
			e.gate.RecordAlert(ctx, alertKey, 6*time.Hour)
			e.logger.Warn("hashrate drop alert sent", "coin", coin, "drop_pct", drop*100)
		} else if drop <= 0 {
			// Recovered, allow the next drop to alert again.
			e.gate.ClearAlert(ctx, alertKey)
		}
	}
}

// parseHashrate reads values like "110.5 TH/s" into H/s.
func parseHashrate(s string) (float64, bool) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	if len(fields) < 2 {
		return v, true
	}
	unit := strings.TrimSuffix(strings.ToUpper(fields[1]), "/S")
	switch {
	case strings.HasPrefix(unit, "K"):
		v *= 1e3
	case strings.HasPrefix(unit, "M"):
		v *= 1e6
	case strings.HasPrefix(unit, "G"):
		v *= 1e9
	case strings.HasPrefix(unit, "T"):
		v *= 1e12
	case strings.HasPrefix(unit, "P"):
		v *= 1e15
	case strings.HasPrefix(unit, "E"):
		v *= 1e18
	}
	return v, true
}

func formatHashrateValue(v float64) string {
	units := []struct {
		factor float64
		name   string
	}{
		{1e18, "EH/s"}, {1e15, "PH/s"}, {1e12, "TH/s"},
		{1e9, "GH/s"}, {1e6, "MH/s"}, {1e3, "KH/s"},
	}
	for _, u := range units {
		if v >= u.factor {
			return fmt.Sprintf("%.2f %s", v/u.factor, u.name)
		}
	}
	return fmt.Sprintf("%.0f H/s", v)
}
