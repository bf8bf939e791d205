package report

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/minewatch/profit-bot/internal/analyst"
	"github.com/minewatch/profit-bot/internal/pricing"
	"github.com/minewatch/profit-bot/internal/profit"
)

// maxMessageLen is Telegram's hard limit for one message.
const maxMessageLen = 4096

const divider = "━━━━━━━━━━━━━━━━━━━━━━━━"

// FormatReport renders a daily report as a Telegram HTML message. The
// AI section is appended only when commentary is present; nothing in
// the output hints at a missing section.
func FormatReport(rep *profit.Report, prices profit.PriceSnapshot,
	overview *pricing.MarketOverview, fng *analyst.FearGreed,
	analysis string, loc *time.Location) string {

	var sb strings.Builder

	now := rep.Date
	if loc != nil {
		now = now.In(loc)
	}
	sb.WriteString("📋 <b>DAILY MINING REPORT</b>\n")
	fmt.Fprintf(&sb, "📅 %s\n%s\n\n", now.Format("02.01.2006 15:04"), divider)

	sb.WriteString("💰 <b>PRICES</b>\n")
	for _, coin := range priceOrder(rep, prices) {
		price, ok := prices.Prices[coin]
		if !ok {
			continue
		}
		emoji := "🟢"
		if prices.Change24h[coin] < 0 {
			emoji = "🔴"
		}
		fmt.Fprintf(&sb, "  %s %s: $%s (%+.1f%%)\n",
			emoji, coin, formatNum(price), prices.Change24h[coin])
	}
	fmt.Fprintf(&sb, "  💵 USDT/RUB: %.2f\n\n", rep.UsdtRubRate)

	sb.WriteString("⛏️ <b>MINING PROFITABILITY</b>\n")
	for _, line := range rep.Lines {
		status := "✅"
		if !line.Profitable {
			status = "❌"
		}
		fmt.Fprintf(&sb, "\n  <b>%s</b> %s\n", line.Coin, status)
		fmt.Fprintf(&sb, "  ├ Revenue: %.8f %s\n", line.RevenueCoin, line.Coin)
		fmt.Fprintf(&sb, "  ├ Revenue: %.2f USDT\n", line.RevenueUSDT)
		fmt.Fprintf(&sb, "  ├ Electricity: %.2f USDT (%.0f ₽)\n",
			line.ElectricityCostUSD, line.ElectricityCostRub)
		fmt.Fprintf(&sb, "  └ Net profit: <b>%.2f USDT</b>\n", line.NetProfitUSDT)
	}

	totalStatus := "✅ PROFITABLE"
	if !rep.Profitable {
		totalStatus = "❌ UNPROFITABLE"
	}
	fmt.Fprintf(&sb, "\n%s\n", divider)
	fmt.Fprintf(&sb, "📊 <b>TOTAL: %s</b>\n", totalStatus)
	fmt.Fprintf(&sb, "  ├ Revenue: %.2f USDT\n", rep.TotalRevenueUSDT)
	fmt.Fprintf(&sb, "  ├ Costs: %.2f USDT (%.0f ₽)\n", rep.TotalCostUSDT, rep.TotalCostRub)
	fmt.Fprintf(&sb, "  └ <b>Net profit: %+.2f USDT</b>\n\n", rep.NetProfitUSDT)

	if overview != nil {
		sb.WriteString("🌍 <b>MARKET</b>\n")
		fmt.Fprintf(&sb, "  ├ Market cap: $%.2fT (%+.1f%%)\n",
			overview.TotalMarketCapUSD/1e12, overview.MarketCapChange24h)
		fmt.Fprintf(&sb, "  ├ BTC dominance: %.1f%%\n", overview.BTCDominance)
		if fng != nil {
			fmt.Fprintf(&sb, "  └ Fear/Greed: %s %d (%s)\n",
				fngEmoji(fng.Value), fng.Value, fng.Classification)
		} else {
			sb.WriteString("  └ Fear/Greed: n/a\n")
		}
		sb.WriteByte('\n')
	}

	if analysis != "" {
		fmt.Fprintf(&sb, "🤖 <b>AI ANALYSIS</b>\n%s\n%s\n", divider, analysis)
	}

	return strings.TrimRight(sb.String(), "\n")
}

// priceOrder lists mined coins in report order followed by any extra
// priced coins, e.g. merge-mined DOGE, sorted for stable output.
func priceOrder(rep *profit.Report, prices profit.PriceSnapshot) []string {
	seen := make(map[string]bool, len(rep.Lines))
	coins := make([]string, 0, len(prices.Prices))
	for _, line := range rep.Lines {
		seen[line.Coin] = true
		coins = append(coins, line.Coin)
	}
	var extra []string
	for coin := range prices.Prices {
		if !seen[coin] {
			extra = append(extra, coin)
		}
	}
	sort.Strings(extra)
	return append(coins, extra...)
}

// FormatPrices renders the standalone price overview message.
func FormatPrices(coins []string, prices profit.PriceSnapshot) string {
	var sb strings.Builder
	sb.WriteString("💰 <b>CURRENT PRICES</b>\n\n")
	for _, coin := range coins {
		price, ok := prices.Prices[coin]
		if !ok {
			continue
		}
		emoji := "🟢"
		if prices.Change24h[coin] < 0 {
			emoji = "🔴"
		}
		fmt.Fprintf(&sb, "%s <b>%s</b>: $%s (24h: %+.2f%%)\n",
			emoji, coin, formatNum(price), prices.Change24h[coin])
		if mcap, ok := prices.MarketCap[coin]; ok && mcap > 0 {
			fmt.Fprintf(&sb, "   Market cap: $%s\n", formatNum(mcap))
		}
	}
	fmt.Fprintf(&sb, "\n💵 USDT/RUB: %.2f", prices.UsdtRubRate)
	return sb.String()
}

// FormatHashrate renders the pool hashrate status message.
func FormatHashrate(yield profit.YieldSnapshot, coins []string) string {
	var sb strings.Builder
	sb.WriteString("⛏️ <b>POOL HASHRATE</b>\n")
	for _, coin := range coins {
		hr, ok := yield.Hashrate[coin]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "\n<b>%s</b>\n", coin)
		fmt.Fprintf(&sb, "  ├ 10 min: %s\n", orDash(hr.Hashrate10Min))
		fmt.Fprintf(&sb, "  ├ 1 hour: %s\n", orDash(hr.Hashrate1Hour))
		fmt.Fprintf(&sb, "  └ 24 hours: %s\n", orDash(hr.Hashrate1Day))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func fngEmoji(v int) string {
	switch {
	case v < 25:
		return "😱"
	case v < 45:
		return "😰"
	case v < 55:
		return "😐"
	case v < 75:
		return "😊"
	default:
		return "🤑"
	}
}

// SplitMessage cuts a message into chunks of at most limit runes,
// preferring newline boundaries so sections stay intact.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = maxMessageLen
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
		for len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}
	if rest := strings.TrimRight(string(runes), "\n"); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

func formatNum(v float64) string {
	if v >= 1_000_000_000_000 {
		return fmt.Sprintf("%.2fT", v/1_000_000_000_000)
	}
	if v >= 1_000_000_000 {
		return fmt.Sprintf("%.2fB", v/1_000_000_000)
	}
	if v >= 1_000_000 {
		return fmt.Sprintf("%.2fM", v/1_000_000)
	}
	if v >= 1_000 {
		return addCommas(fmt.Sprintf("%.2f", math.Round(v*100)/100))
	}
	return fmt.Sprintf("%.4f", v)
}

func addCommas(s string) string {
	parts := strings.SplitN(s, ".", 2)
	intPart := parts[0]
	n := len(intPart)
	if n <= 3 {
		if len(parts) == 2 {
			return intPart + "." + parts[1]
		}
		return intPart
	}
	var result []byte
	for i, c := range intPart {
		if i > 0 && (n-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	if len(parts) == 2 {
		return string(result) + "." + parts[1]
	}
	return string(result)
}
