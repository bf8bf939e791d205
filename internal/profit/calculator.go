// Package profit implements the profitability calculation: pure
// functions mapping miner configuration, pool yield and market prices
// to per-coin and aggregate profit figures.
package profit

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/minewatch/profit-bot/internal/config"
)

// ErrPriceUnavailable signals that a coin reported by the pool has no
// price in the snapshot. The caller must treat the whole report as
// degraded rather than book a zero-revenue line: "no money" and
// "unknown price" are different things.
var ErrPriceUnavailable = errors.New("price unavailable")

// PriceSnapshot is one cycle's view of the market. Never persisted
// beyond the cycle that used it, except inside a stored report.
type PriceSnapshot struct {
	// Prices holds USD spot prices keyed by coin symbol.
	Prices map[string]float64
	// Change24h holds the 24h percent change per coin, when known.
	Change24h map[string]float64
	// MarketCap holds the USD market cap per coin, when known.
	MarketCap map[string]float64
	// UsdtRubRate is the price of 1 USDT in RUB.
	UsdtRubRate float64
	FetchedAt   time.Time
}

// HashrateInfo is the pool's view of account hashrate for one coin.
type HashrateInfo struct {
	Hashrate10Min string
	Hashrate1Hour string
	Hashrate1Day  string
}

// YieldSnapshot is the pool's estimate of coins earned in the period.
type YieldSnapshot struct {
	// Amounts is the estimated coin amount earned per coin, already
	// scoped to the whole account (not per device).
	Amounts map[string]float64
	// PPSProfit and PPLNSProfit break the yield down by payout scheme.
	PPSProfit   map[string]float64
	PPLNSProfit map[string]float64
	Hashrate    map[string]HashrateInfo
	FetchedAt   time.Time
}

// Line is the derived per-coin result. Never mutated after creation.
type Line struct {
	Coin               string  `json:"coin"`
	RevenueCoin        float64 `json:"revenue_coin"`
	RevenueUSDT        float64 `json:"revenue_usdt"`
	PriceUSD           float64 `json:"price_usd"`
	ElectricityCostRub float64 `json:"electricity_cost_rub"`
	ElectricityCostUSD float64 `json:"electricity_cost_usdt"`
	NetProfitUSDT      float64 `json:"net_profit_usdt"`
	Profitable         bool    `json:"profitable"`
	TotalPowerW        float64 `json:"total_power_w"`
	MinerCount         int     `json:"miner_count"`
}

// Report aggregates one day's lines. Totals are plain sums of the
// already-converted per-line values, so no conversion compounding can
// creep in.
type Report struct {
	Date                   time.Time `json:"date"`
	Lines                  []Line    `json:"lines"`
	TotalRevenueUSDT       float64   `json:"total_revenue_usdt"`
	TotalCostUSDT          float64   `json:"total_cost_usdt"`
	TotalCostRub           float64   `json:"total_cost_rub"`
	NetProfitUSDT          float64   `json:"net_profit_usdt"`
	Profitable             bool      `json:"profitable"`
	UsdtRubRate            float64   `json:"usdt_rub_rate"`
	ElectricityPriceRubKwh float64   `json:"electricity_price_rub_kwh"`
}

// DailyCostRub returns the daily electricity cost in RUB for each coin
// across the miner list.
func DailyCostRub(miners []config.Miner, priceRubKwh float64) map[string]float64 {
	costs := make(map[string]float64)
	for _, m := range miners {
		dailyKwh := m.PowerW * float64(m.Count) * 24 / 1000
		costs[m.Coin] += dailyKwh * priceRubKwh
	}
	return costs
}

// Calculate produces one Line per coin in the union of configured-miner
// coins and yielded coins, plus aggregate totals.
//
// A coin with yield but no configured miners gets a line with exactly
// zero cost. A coin present in the yield snapshot with no price fails
// with ErrPriceUnavailable.
func Calculate(miners []config.Miner, yield YieldSnapshot, prices PriceSnapshot, priceRubKwh float64) (*Report, error) {
	if prices.UsdtRubRate <= 0 {
		return nil, fmt.Errorf("usdt/rub rate %.2f: %w", prices.UsdtRubRate, ErrPriceUnavailable)
	}

	costsRub := DailyCostRub(miners, priceRubKwh)

	coins := make(map[string]bool)
	for _, m := range miners {
		coins[m.Coin] = true
	}
	for coin := range yield.Amounts {
		coins[coin] = true
	}

	ordered := make([]string, 0, len(coins))
	for coin := range coins {
		ordered = append(ordered, coin)
	}
	sort.Strings(ordered)

	rep := &Report{
		UsdtRubRate:            prices.UsdtRubRate,
		ElectricityPriceRubKwh: priceRubKwh,
	}

	for _, coin := range ordered {
		amount, yielded := yield.Amounts[coin]
		price, priced := prices.Prices[coin]
		if yielded && !priced {
			return nil, fmt.Errorf("coin %s yielded %.8f: %w", coin, amount, ErrPriceUnavailable)
		}

		costRub := costsRub[coin] // zero when no miners mine this coin
		costUSDT := costRub / prices.UsdtRubRate
		revenueUSDT := amount * price
		net := revenueUSDT - costUSDT

		var powerW float64
		var count int
		for _, m := range miners {
			if m.Coin == coin {
				powerW += m.PowerW * float64(m.Count)
				count += m.Count
			}
		}

		rep.Lines = append(rep.Lines, Line{
			Coin:               coin,
			RevenueCoin:        amount,
			RevenueUSDT:        revenueUSDT,
			PriceUSD:           price,
			ElectricityCostRub: costRub,
			ElectricityCostUSD: costUSDT,
			NetProfitUSDT:      net,
			Profitable:         net > 0,
			TotalPowerW:        powerW,
			MinerCount:         count,
		})

		rep.TotalRevenueUSDT += revenueUSDT
		rep.TotalCostUSDT += costUSDT
		rep.TotalCostRub += costRub
	}

	rep.NetProfitUSDT = rep.TotalRevenueUSDT - rep.TotalCostUSDT
	rep.Profitable = rep.NetProfitUSDT > 0
	return rep, nil
}
