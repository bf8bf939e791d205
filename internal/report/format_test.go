package report

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/minewatch/profit-bot/internal/analyst"
	"github.com/minewatch/profit-bot/internal/pricing"
	"github.com/minewatch/profit-bot/internal/profit"
)

func sampleReport() *profit.Report {
	return &profit.Report{
		Date: time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC),
		Lines: []profit.Line{
			{
				Coin: "BTC", RevenueCoin: 0.00025, RevenueUSDT: 24.3125,
				PriceUSD: 97250, ElectricityCostRub: 444.6,
				ElectricityCostUSD: 4.81, NetProfitUSDT: 19.51,
				Profitable: true, TotalPowerW: 3250, MinerCount: 1,
			},
			{
				Coin: "LTC", RevenueCoin: 0.15, RevenueUSDT: 19.71,
				PriceUSD: 131.4, ElectricityCostRub: 937.1,
				ElectricityCostUSD: 10.13, NetProfitUSDT: 9.58,
				Profitable: true, TotalPowerW: 6850, MinerCount: 2,
			},
		},
		TotalRevenueUSDT:       44.02,
		TotalCostUSDT:          14.94,
		TotalCostRub:           1381.7,
		NetProfitUSDT:          29.08,
		Profitable:             true,
		UsdtRubRate:            92.5,
		ElectricityPriceRubKwh: 5.7,
	}
}

func samplePrices() profit.PriceSnapshot {
	return profit.PriceSnapshot{
		Prices:      map[string]float64{"BTC": 97250, "LTC": 131.4},
		Change24h:   map[string]float64{"BTC": 1.8, "LTC": -0.6},
		MarketCap:   map[string]float64{"BTC": 1.92e12, "LTC": 9.8e9},
		UsdtRubRate: 92.5,
	}
}

// Formatting must not distort the numbers: re-parsing the displayed
// figures has to recover the source values within display precision,
// 2 decimals for USDT and 8 for coin amounts.
func TestFormatReportRoundTripsNumbers(t *testing.T) {
	rep := sampleReport()
	text := FormatReport(rep, samplePrices(), nil, nil, "", time.UTC)

	parse := func(s string) float64 {
		t.Helper()
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		return v
	}

	for _, line := range rep.Lines {
		re := regexp.MustCompile(`(?s)<b>` + line.Coin + `</b>.*?` +
			`Revenue: (-?[0-9.]+) ` + line.Coin + `\n` +
			`  ├ Revenue: (-?[0-9.]+) USDT\n` +
			`  ├ Electricity: (-?[0-9.]+) USDT.*?` +
			`Net profit: <b>(-?[0-9.]+) USDT`)
		m := re.FindStringSubmatch(text)
		if m == nil {
			t.Fatalf("%s section not found in:\n%s", line.Coin, text)
		}

		if got := parse(m[1]); math.Abs(got-line.RevenueCoin) > 5e-9 {
			t.Errorf("%s RevenueCoin round-trip: %v, want %v", line.Coin, got, line.RevenueCoin)
		}
		if got := parse(m[2]); math.Abs(got-line.RevenueUSDT) > 0.005 {
			t.Errorf("%s RevenueUSDT round-trip: %v, want %v", line.Coin, got, line.RevenueUSDT)
		}
		if got := parse(m[3]); math.Abs(got-line.ElectricityCostUSD) > 0.005 {
			t.Errorf("%s ElectricityCostUSD round-trip: %v, want %v", line.Coin, got, line.ElectricityCostUSD)
		}
		if got := parse(m[4]); math.Abs(got-line.NetProfitUSDT) > 0.005 {
			t.Errorf("%s NetProfitUSDT round-trip: %v, want %v", line.Coin, got, line.NetProfitUSDT)
		}
	}

	total := regexp.MustCompile(`Net profit: ([+-][0-9.]+) USDT`).FindStringSubmatch(text)
	if total == nil {
		t.Fatalf("total net profit not found in:\n%s", text)
	}
	if got := parse(total[1]); math.Abs(got-rep.NetProfitUSDT) > 0.005 {
		t.Errorf("total NetProfitUSDT round-trip: %v, want %v", got, rep.NetProfitUSDT)
	}
}

func TestFormatReportIncludesMergeMinedPrice(t *testing.T) {
	prices := samplePrices()
	prices.Prices["DOGE"] = 0.31
	prices.Change24h["DOGE"] = 2.4

	text := FormatReport(sampleReport(), prices, nil, nil, "", time.UTC)

	if !strings.Contains(text, "DOGE: $0.3100") {
		t.Errorf("DOGE price missing from report:\n%s", text)
	}
	// No miner mines DOGE, so it must not get a profitability line.
	if strings.Contains(text, "<b>DOGE</b>") {
		t.Errorf("DOGE should not have a profitability section:\n%s", text)
	}
}

func TestFormatReportSections(t *testing.T) {
	text := FormatReport(sampleReport(), samplePrices(), &pricing.MarketOverview{
		TotalMarketCapUSD:  3.4e12,
		BTCDominance:       56.2,
		MarketCapChange24h: 1.1,
	}, &analyst.FearGreed{Value: 23, Classification: "Extreme Fear"}, "Hold BTC.", time.UTC)

	for _, want := range []string{
		"DAILY MINING REPORT",
		"14.03.2025",
		"<b>BTC</b> ✅",
		"0.00025000 BTC",
		"Net profit: <b>19.51 USDT</b>",
		"TOTAL: ✅ PROFITABLE",
		"Net profit: +29.08 USDT",
		"USDT/RUB: 92.50",
		"BTC dominance: 56.2%",
		"😱 23 (Extreme Fear)",
		"AI ANALYSIS",
		"Hold BTC.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q\n%s", want, text)
		}
	}
}

func TestFormatReportOmitsAISection(t *testing.T) {
	text := FormatReport(sampleReport(), samplePrices(), nil, nil, "", time.UTC)

	if strings.Contains(text, "AI ANALYSIS") {
		t.Error("AI section should be absent when there is no commentary")
	}
	if strings.Contains(text, "MARKET\n") {
		t.Error("market section should be absent without an overview")
	}
	if !strings.Contains(text, "MINING PROFITABILITY") {
		t.Error("core sections should survive missing optional context")
	}
}

func TestFormatReportUnprofitable(t *testing.T) {
	rep := sampleReport()
	rep.Profitable = false
	rep.NetProfitUSDT = -3.2
	rep.Lines[0].Profitable = false

	text := FormatReport(rep, samplePrices(), nil, nil, "", time.UTC)
	if !strings.Contains(text, "TOTAL: ❌ UNPROFITABLE") {
		t.Error("unprofitable total should be flagged")
	}
	if !strings.Contains(text, "<b>BTC</b> ❌") {
		t.Error("unprofitable coin should be flagged")
	}
	if !strings.Contains(text, "-3.20 USDT") {
		t.Error("negative net profit should carry its sign")
	}
}

func TestFormatPrices(t *testing.T) {
	text := FormatPrices([]string{"BTC", "LTC"}, samplePrices())
	if !strings.Contains(text, "🟢 <b>BTC</b>: $97,250.00") {
		t.Errorf("BTC line missing:\n%s", text)
	}
	if !strings.Contains(text, "🔴 <b>LTC</b>") {
		t.Error("negative change should use the red marker")
	}
	if !strings.Contains(text, "1.92T") {
		t.Error("market cap should be abbreviated")
	}
}

func TestFormatHashrate(t *testing.T) {
	text := FormatHashrate(profit.YieldSnapshot{
		Hashrate: map[string]profit.HashrateInfo{
			"BTC": {Hashrate10Min: "110 TH/s", Hashrate1Hour: "108 TH/s", Hashrate1Day: "109 TH/s"},
		},
	}, []string{"BTC", "LTC"})
	if !strings.Contains(text, "110 TH/s") {
		t.Errorf("hashrate missing:\n%s", text)
	}
	if strings.Contains(text, "LTC") {
		t.Error("coins without data should be skipped")
	}
}

func TestSplitMessageShort(t *testing.T) {
	parts := SplitMessage("hello", 4096)
	if len(parts) != 1 || parts[0] != "hello" {
		t.Errorf("parts = %v", parts)
	}
}

func TestSplitMessagePrefersNewlines(t *testing.T) {
	text := strings.Repeat("line one of the report\n", 100)
	parts := SplitMessage(text, 300)

	if len(parts) < 2 {
		t.Fatalf("expected multiple parts, got %d", len(parts))
	}
	for i, p := range parts {
		if len([]rune(p)) > 300 {
			t.Errorf("part %d exceeds limit: %d runes", i, len([]rune(p)))
		}
		if i < len(parts)-1 && !strings.HasSuffix(p, "line one of the report") {
			t.Errorf("part %d should break at a line boundary, ends %q", i, p[len(p)-10:])
		}
	}

	joined := strings.Join(parts, "\n") + "\n"
	if joined != text {
		t.Error("split should preserve content")
	}
}

func TestSplitMessageNoNewlines(t *testing.T) {
	text := strings.Repeat("x", 1000)
	parts := SplitMessage(text, 400)
	var total int
	for _, p := range parts {
		if len(p) > 400 {
			t.Errorf("part exceeds limit: %d", len(p))
		}
		total += len(p)
	}
	if total != 1000 {
		t.Errorf("total = %d, want 1000", total)
	}
}

func TestFormatNum(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0.1234, "0.1234"},
		{97250, "97,250.00"},
		{1_500_000, "1.50M"},
		{2_300_000_000, "2.30B"},
		{1.92e12, "1.92T"},
	}
	for _, tc := range cases {
		if got := formatNum(tc.in); got != tc.want {
			t.Errorf("formatNum(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseHashrate(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"110 TH/s", 110e12, true},
		{"500.5 GH/s", 500.5e9, true},
		{"9.3 PH/s", 9.3e15, true},
		{"1234", 1234, true},
		{"", 0, false},
		{"n/a", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseHashrate(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("parseHashrate(%q) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
