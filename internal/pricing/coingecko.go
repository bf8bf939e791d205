// Package pricing fetches market prices and network stats from public APIs.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/minewatch/profit-bot/internal/profit"
)

const (
	defaultCoinGeckoBase  = "https://api.coingecko.com/api/v3"
	defaultBlockchainBase = "https://blockchain.info"
)

// ErrUnavailable means a price source could not serve usable data.
var ErrUnavailable = errors.New("pricing: data unavailable")

// coinIDs maps coin tickers to CoinGecko IDs.
var coinIDs = map[string]string{
	"BTC":  "bitcoin",
	"LTC":  "litecoin",
	"DOGE": "dogecoin",
	"USDT": "tether",
}

// Client fetches prices from CoinGecko and network stats from blockchain.info.
type Client struct {
	geckoBase      string
	blockchainBase string
	client         *http.Client
	now            func() time.Time
}

func NewClient() *Client {
	return &Client{
		geckoBase:      defaultCoinGeckoBase,
		blockchainBase: defaultBlockchainBase,
		client:         &http.Client{Timeout: 15 * time.Second},
		now:            time.Now,
	}
}

// SetBaseURLs overrides both API endpoints, used in tests.
func (c *Client) SetBaseURLs(gecko, blockchain string) {
	c.geckoBase = strings.TrimRight(gecko, "/")
	c.blockchainBase = strings.TrimRight(blockchain, "/")
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}

// FetchPrices returns a price snapshot for the given tickers, USD
// prices with 24h change and market cap, plus the USDT/RUB rate.
func (c *Client) FetchPrices(ctx context.Context, coins []string) (profit.PriceSnapshot, error) {
	ids := make([]string, 0, len(coins))
	idToTicker := make(map[string]string, len(coins))
	for _, coin := range coins {
		ticker := strings.ToUpper(coin)
		id, ok := coinIDs[ticker]
		if !ok {
			return profit.PriceSnapshot{}, fmt.Errorf("%w: unknown coin %s", ErrUnavailable, ticker)
		}
		ids = append(ids, id)
		idToTicker[id] = ticker
	}

	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd&include_24hr_change=true&include_market_cap=true",
		c.geckoBase, strings.Join(ids, ","))

	var raw map[string]map[string]float64
	if err := c.getJSON(ctx, url, &raw); err != nil {
		return profit.PriceSnapshot{}, err
	}

	snap := profit.PriceSnapshot{
		Prices:    make(map[string]float64, len(coins)),
		Change24h: make(map[string]float64, len(coins)),
		MarketCap: make(map[string]float64, len(coins)),
		FetchedAt: c.now(),
	}
	for id, fields := range raw {
		ticker, ok := idToTicker[id]
		if !ok {
			continue
		}
		snap.Prices[ticker] = fields["usd"]
		snap.Change24h[ticker] = fields["usd_24h_change"]
		snap.MarketCap[ticker] = fields["usd_market_cap"]
	}

	rate, err := c.FetchUsdtRubRate(ctx)
	if err != nil {
		return profit.PriceSnapshot{}, err
	}
	snap.UsdtRubRate = rate
	return snap, nil
}

// FetchUsdtRubRate returns the price of one USDT in RUB.
func (c *Client) FetchUsdtRubRate(ctx context.Context) (float64, error) {
	var raw map[string]map[string]float64
	if err := c.getJSON(ctx, c.geckoBase+"/simple/price?ids=tether&vs_currencies=rub", &raw); err != nil {
		return 0, err
	}
	rate := raw["tether"]["rub"]
	if rate <= 0 {
		return 0, fmt.Errorf("%w: empty tether/rub rate", ErrUnavailable)
	}
	return rate, nil
}

// MarketOverview is the global market summary from CoinGecko.
type MarketOverview struct {
	TotalMarketCapUSD      float64 `json:"total_market_cap_usd"`
	BTCDominance           float64 `json:"btc_dominance"`
	MarketCapChange24h     float64 `json:"market_cap_change_24h"`
	ActiveCryptocurrencies int     `json:"active_cryptocurrencies"`
}

type globalResp struct {
	Data struct {
		TotalMarketCap         map[string]float64 `json:"total_market_cap"`
		MarketCapPercentage    map[string]float64 `json:"market_cap_percentage"`
		MarketCapChange24hUSD  float64            `json:"market_cap_change_percentage_24h_usd"`
		ActiveCryptocurrencies int                `json:"active_cryptocurrencies"`
	} `json:"data"`
}

// FetchMarketOverview returns total market cap, BTC dominance and the
// 24h market cap change.
func (c *Client) FetchMarketOverview(ctx context.Context) (*MarketOverview, error) {
	var raw globalResp
	if err := c.getJSON(ctx, c.geckoBase+"/global", &raw); err != nil {
		return nil, err
	}
	return &MarketOverview{
		TotalMarketCapUSD:      raw.Data.TotalMarketCap["usd"],
		BTCDominance:           raw.Data.MarketCapPercentage["btc"],
		MarketCapChange24h:     raw.Data.MarketCapChange24hUSD,
		ActiveCryptocurrencies: raw.Data.ActiveCryptocurrencies,
	}, nil
}

// NetworkStats holds Bitcoin network difficulty and hashrate.
type NetworkStats struct {
	BTCDifficulty        float64 `json:"btc_difficulty"`
	BTCNetworkHashrateGH float64 `json:"btc_network_hashrate_gh"`
}

// FetchNetworkStats returns BTC difficulty and network hashrate from
// blockchain.info's plain-text query endpoints.
func (c *Client) FetchNetworkStats(ctx context.Context) (*NetworkStats, error) {
	difficulty, err := c.getNumber(ctx, c.blockchainBase+"/q/getdifficulty")
	if err != nil {
		return nil, err
	}
	hashrate, err := c.getNumber(ctx, c.blockchainBase+"/q/hashrate")
	if err != nil {
		return nil, err
	}
	return &NetworkStats{BTCDifficulty: difficulty, BTCNetworkHashrateGH: hashrate}, nil
}

func (c *Client) getNumber(ctx context.Context, url string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return 0, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(body)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse number: %v", ErrUnavailable, err)
	}
	return v, nil
}
