// Package telegram runs the bot: outbound report delivery and the
// inbound command loop for the configured chat.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/minewatch/profit-bot/internal/config"
	"github.com/minewatch/profit-bot/internal/metrics"
	"github.com/minewatch/profit-bot/internal/pool"
	"github.com/minewatch/profit-bot/internal/pricing"
	"github.com/minewatch/profit-bot/internal/profit"
	"github.com/minewatch/profit-bot/internal/report"
	"github.com/minewatch/profit-bot/internal/store"
)

const defaultAPIBase = "https://api.telegram.org"

// Reporter triggers report generation on demand.
type Reporter interface {
	GenerateAndSend(ctx context.Context, force bool) error
	LastYield() *profit.YieldSnapshot
}

// History reads stored reports for the /history and /ai commands.
type History interface {
	RecentReports(ctx context.Context, n int) ([]store.ReportRow, error)
	LatestCommentary(ctx context.Context) (*store.Commentary, error)
}

// Prices serves the /prices command.
type Prices interface {
	FetchPrices(ctx context.Context, coins []string) (profit.PriceSnapshot, error)
	FetchNetworkStats(ctx context.Context) (*pricing.NetworkStats, error)
}

// Yield serves the /hashrate and /history commands from the pool.
type Yield interface {
	FetchYield(ctx context.Context, coins []string) (profit.YieldSnapshot, error)
	FetchMiners(ctx context.Context, coin string) ([]pool.MinerStatus, error)
	FetchProfitHistory(ctx context.Context, coin string, limit int) ([]pool.ProfitRecord, error)
}

type Bot struct {
	cfg      *config.Config
	logger   *slog.Logger
	client   *http.Client
	apiBase  string
	offset   int64
	history  History
	prices   Prices
	yield    Yield
	reporter Reporter
}

func NewBot(cfg *config.Config, logger *slog.Logger, history History, prices Prices, yield Yield) *Bot {
	return &Bot{
		cfg:     cfg,
		logger:  logger,
		client:  &http.Client{Timeout: 40 * time.Second},
		apiBase: defaultAPIBase,
		history: history,
		prices:  prices,
		yield:   yield,
	}
}

// SetReporter wires the report engine in after construction. The
// engine needs the bot's send function first, so this cannot happen in
// NewBot.
func (b *Bot) SetReporter(r Reporter) { b.reporter = r }

// SetAPIBase overrides the Telegram endpoint, used in tests.
func (b *Bot) SetAPIBase(u string) { b.apiBase = strings.TrimRight(u, "/") }

func (b *Bot) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", b.apiBase, b.cfg.Telegram.Token, method)
}

// SendMessage delivers text to the configured chat, retrying a failed
// send exactly once.
func (b *Bot) SendMessage(ctx context.Context, text string) error {
	return b.sendTo(ctx, b.cfg.Telegram.ChatID, text)
}

func (b *Bot) sendTo(ctx context.Context, chatID int64, text string) error {
	err := b.sendOnce(ctx, chatID, text)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	metrics.SendRetriesTotal.Inc()
	b.logger.Warn("send failed, retrying once", "error", err)
	return b.sendOnce(ctx, chatID, text)
}

func (b *Bot) sendOnce(ctx context.Context, chatID int64, text string) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.methodURL("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("telegram API error %d: %s", resp.StatusCode, errResp.Description)
	}
	return nil
}

// Run starts the long-polling loop for incoming commands.
func (b *Bot) Run(ctx context.Context) {
	b.logger.Info("telegram bot started", "chat_id", b.cfg.Telegram.ChatID)
	for {
		select {
		case <-ctx.Done():
			return
		default:
			b.poll(ctx)
		}
	}
}

func (b *Bot) poll(ctx context.Context) {
	url := fmt.Sprintf("%s?offset=%d&timeout=30", b.methodURL("getUpdates"), b.offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		b.logger.Error("create poll request", "error", err)
		return
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		b.logger.Error("poll updates", "error", err)
		time.Sleep(5 * time.Second)
		return
	}
	defer resp.Body.Close()

	var result struct {
		OK     bool `json:"ok"`
		Result []struct {
			UpdateID int64 `json:"update_id"`
			Message  *struct {
				Chat struct {
					ID int64 `json:"id"`
				} `json:"chat"`
				From struct {
					Username string `json:"username"`
				} `json:"from"`
				Text string `json:"text"`
			} `json:"message"`
		} `json:"result"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		b.logger.Error("decode updates", "error", err)
		return
	}

	for _, u := range result.Result {
		b.offset = u.UpdateID + 1
		if u.Message == nil {
			continue
		}

		chatID := u.Message.Chat.ID
		if chatID != b.cfg.Telegram.ChatID {
			b.logger.Warn("ignoring message from unauthorized chat",
				"chat_id", chatID, "username", u.Message.From.Username)
			continue
		}

		b.handleCommand(ctx, strings.TrimSpace(u.Message.Text))
	}
}

func (b *Bot) handleCommand(ctx context.Context, text string) {
	cmd := text
	if i := strings.IndexByte(cmd, ' '); i > 0 {
		cmd = cmd[:i]
	}
	// Tolerate the /command@botname form used in groups.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "/start":
		b.handleStart(ctx)
	case "/help":
		b.handleHelp(ctx)
	case "/report":
		b.handleReport(ctx)
	case "/prices":
		b.handlePrices(ctx)
	case "/hashrate":
		b.handleHashrate(ctx)
	case "/ai":
		b.handleAI(ctx)
	case "/history":
		b.handleHistory(ctx)
	case "/settings":
		b.handleSettings(ctx)
	default:
		b.reply(ctx, "Unknown command. Send /help for available commands.")
	}
}

func (b *Bot) reply(ctx context.Context, text string) {
	for _, part := range report.SplitMessage(text, 4096) {
		if err := b.SendMessage(ctx, part); err != nil {
			b.logger.Error("reply failed", "error", err)
			return
		}
	}
}

func (b *Bot) handleStart(ctx context.Context) {
	b.reply(ctx, "👋 <b>Mining Profit Bot</b>\n\n"+
		"I send a daily profitability report for your miners and answer\n"+
		"on-demand questions about prices, hashrate and history.\n\n"+
		"Send /help for the full command list.")
}

func (b *Bot) handleHelp(ctx context.Context) {
	b.reply(ctx, "🤖 <b>Commands</b>\n\n"+
		"/report - Generate the full report now\n"+
		"/prices - Current coin prices\n"+
		"/hashrate - Pool hashrate status\n"+
		"/ai - Latest AI market commentary\n"+
		"/history - Recent profit history\n"+
		"/settings - Current bot configuration\n"+
		"/help - Show this message")
}

func (b *Bot) handleReport(ctx context.Context) {
	if b.reporter == nil {
		b.reply(ctx, "⏳ Report engine is still starting, try again shortly.")
		return
	}
	b.reply(ctx, "⏳ Generating report...")
	if err := b.reporter.GenerateAndSend(ctx, true); err != nil {
		b.logger.Error("manual report failed", "error", err)
		b.reply(ctx, fmt.Sprintf("❌ Report generation failed: %v", err))
	}
}

func (b *Bot) handlePrices(ctx context.Context) {
	coins := b.cfg.PriceCoins()
	snap, err := b.prices.FetchPrices(ctx, coins)
	if err != nil {
		b.logger.Error("fetch prices failed", "error", err)
		b.reply(ctx, "❌ Price data is unavailable right now.")
		return
	}
	text := report.FormatPrices(coins, snap)
	if stats, err := b.prices.FetchNetworkStats(ctx); err == nil {
		text += fmt.Sprintf("\n\n⛓️ <b>BTC NETWORK</b>\n  ├ Difficulty: %.2fT\n  └ Hashrate: %.0f EH/s",
			stats.BTCDifficulty/1e12, stats.BTCNetworkHashrateGH/1e9)
	}
	b.reply(ctx, text)
}

func (b *Bot) handleHashrate(ctx context.Context) {
	coins := b.cfg.Coins()
	snap, err := b.yield.FetchYield(ctx, coins)
	if err != nil {
		// Fall back to the engine's last snapshot if the pool is down.
		if b.reporter != nil {
			if last := b.reporter.LastYield(); last != nil {
				b.reply(ctx, report.FormatHashrate(*last, coins)+
					"\n\n⚠️ Pool unreachable, showing the last known values.")
				return
			}
		}
		b.logger.Error("fetch hashrate failed", "error", err)
		b.reply(ctx, "❌ Pool data is unavailable right now.")
		return
	}

	var sb strings.Builder
	sb.WriteString(report.FormatHashrate(snap, coins))
	for _, coin := range coins {
		miners, err := b.yield.FetchMiners(ctx, coin)
		if err != nil || len(miners) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n\n👷 <b>%s WORKERS</b>\n", coin)
		for _, m := range miners {
			emoji := "🟢"
			if m.Status != "active" {
				emoji = "🔴"
			}
			fmt.Fprintf(&sb, "  %s %s: %s\n", emoji, m.Miner, m.Hashrate10Min)
		}
	}
	b.reply(ctx, sb.String())
}

func (b *Bot) handleAI(ctx context.Context) {
	c, err := b.history.LatestCommentary(ctx)
	if err != nil {
		b.reply(ctx, "No AI commentary stored yet. Send /report to generate one.")
		return
	}
	b.reply(ctx, fmt.Sprintf("🤖 <b>AI ANALYSIS</b> (%s)\n\n%s",
		c.ReportDate.Format("02.01.2006"), c.Text))
}

func (b *Bot) handleHistory(ctx context.Context) {
	rows, err := b.history.RecentReports(ctx, 7)
	if err != nil {
		b.logger.Error("fetch history failed", "error", err)
		b.reply(ctx, "❌ History is unavailable right now.")
		return
	}
	if len(rows) == 0 {
		// Before the first stored report the pool's own payout records
		// are the only history available.
		if text, ok := b.poolHistory(ctx); ok {
			b.reply(ctx, text)
			return
		}
		b.reply(ctx, "No reports stored yet. The first one arrives at the next scheduled run, or send /report.")
		return
	}

	var sb strings.Builder
	sb.WriteString("📈 <b>PROFIT HISTORY</b>\n")
	var day string
	var dayTotal float64
	flush := func() {
		if day != "" {
			fmt.Fprintf(&sb, "  └ Net: %+.2f USDT\n", dayTotal)
		}
	}
	for _, r := range rows {
		d := r.ReportDate.Format("02.01.2006")
		if d != day {
			flush()
			fmt.Fprintf(&sb, "\n<b>%s</b>\n", d)
			day = d
			dayTotal = 0
		}
		fmt.Fprintf(&sb, "  ├ %s: %+.2f USDT\n", r.Coin, r.NetProfitUSDT)
		dayTotal += r.NetProfitUSDT
	}
	flush()
	b.reply(ctx, sb.String())
}

func (b *Bot) poolHistory(ctx context.Context) (string, bool) {
	var sb strings.Builder
	sb.WriteString("📈 <b>POOL PAYOUT HISTORY</b>\n")
	found := false
	for _, coin := range b.cfg.Coins() {
		recs, err := b.yield.FetchProfitHistory(ctx, coin, 7)
		if err != nil || len(recs) == 0 {
			continue
		}
		found = true
		fmt.Fprintf(&sb, "\n<b>%s</b>\n", coin)
		for _, rec := range recs {
			fmt.Fprintf(&sb, "  ├ %s: %s %s\n", rec.Date, rec.Profit, coin)
		}
	}
	return sb.String(), found
}

func (b *Bot) handleSettings(ctx context.Context) {
	var sb strings.Builder
	sb.WriteString("⚙️ <b>SETTINGS</b>\n\n")
	fmt.Fprintf(&sb, "Electricity: %.2f RUB/kWh\n", b.cfg.ElectricityPriceRubKwh)
	fmt.Fprintf(&sb, "Report time: %02d:%02d %s\n\n",
		b.cfg.Report.Hour, b.cfg.Report.Minute, b.cfg.Report.Timezone)
	sb.WriteString("<b>Miners</b>\n")
	for _, m := range b.cfg.Miners {
		fmt.Fprintf(&sb, "  • %s ×%d (%s, %.0f W)\n", m.Name, m.Count, m.Coin, m.PowerW)
	}
	b.reply(ctx, sb.String())
}
