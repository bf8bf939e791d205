// Package pool talks to the ViaBTC mining pool OpenAPI.
// Documentation: https://github.com/viabtc/viapool_api/wiki
package pool

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/minewatch/profit-bot/internal/profit"
)

const defaultBaseURL = "https://www.viabtc.net"

var (
	// ErrAuth means the pool rejected our credentials.
	ErrAuth = errors.New("pool: authentication rejected")
	// ErrUnavailable means the pool could not serve usable data.
	ErrUnavailable = errors.New("pool: data unavailable")
)

// Client is a signed HTTP client for the ViaBTC pool API.
type Client struct {
	baseURL   string
	apiKey    string
	secretKey string
	client    *http.Client
	now       func() time.Time
}

func NewClient(apiKey, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   defaultBaseURL,
		apiKey:    apiKey,
		secretKey: secretKey,
		client:    &http.Client{Timeout: timeout},
		now:       time.Now,
	}
}

// SetBaseURL overrides the API endpoint, used in tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = strings.TrimRight(u, "/") }

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// sign produces the HMAC-SHA256 hex signature over the sorted query
// string, tonce included.
func (c *Client) sign(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params.Get(k))
	}

	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(sb.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	tonce := strconv.FormatInt(c.now().UnixMilli(), 10)
	params.Set("tonce", tonce)
	signature := c.sign(params)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("X-SIGNATURE", signature)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case http.StatusOK:
	default:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if env.Code != 0 {
		return fmt.Errorf("%w: %s (code %d)", ErrUnavailable, env.Message, env.Code)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: decode data: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// ProfitSummary is the pending profit breakdown for one coin.
type ProfitSummary struct {
	TotalProfit string `json:"total_profit"`
	PPSProfit   string `json:"pps_profit"`
	PPLNSProfit string `json:"pplns_profit"`
	SoloProfit  string `json:"solo_profit"`
}

type hashrateData struct {
	Hashrate10Min string `json:"hashrate_10min"`
	Hashrate1Hour string `json:"hashrate_1hour"`
	Hashrate1Day  string `json:"hashrate_24hour"`
}

// MinerStatus is one worker's state as reported by the pool.
type MinerStatus struct {
	Miner         string `json:"miner"`
	Status        string `json:"status"`
	Hashrate10Min string `json:"hashrate_10min"`
	Hashrate1Day  string `json:"hashrate_24hour"`
}

type minerList struct {
	Data []MinerStatus `json:"data"`
}

// ProfitRecord is one day's payout line from the profit history.
type ProfitRecord struct {
	Date   string `json:"date"`
	Coin   string `json:"coin"`
	Profit string `json:"profit"`
}

type profitHistory struct {
	Data []ProfitRecord `json:"data"`
}

// FetchProfitSummary returns the pending profit figures for one coin.
func (c *Client) FetchProfitSummary(ctx context.Context, coin string) (*ProfitSummary, error) {
	params := url.Values{}
	params.Set("coin", strings.ToUpper(coin))
	var sum ProfitSummary
	if err := c.get(ctx, "/res/openapi/v1/profit", params, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// FetchHashrate returns the account hashrate figures for one coin.
func (c *Client) FetchHashrate(ctx context.Context, coin string) (profit.HashrateInfo, error) {
	params := url.Values{}
	params.Set("coin", strings.ToUpper(coin))
	var hr hashrateData
	if err := c.get(ctx, "/res/openapi/v1/hashrate", params, &hr); err != nil {
		return profit.HashrateInfo{}, err
	}
	return profit.HashrateInfo{
		Hashrate10Min: hr.Hashrate10Min,
		Hashrate1Hour: hr.Hashrate1Hour,
		Hashrate1Day:  hr.Hashrate1Day,
	}, nil
}

// FetchMiners lists the account's workers for one coin.
func (c *Client) FetchMiners(ctx context.Context, coin string) ([]MinerStatus, error) {
	params := url.Values{}
	params.Set("coin", strings.ToUpper(coin))
	var list minerList
	if err := c.get(ctx, "/res/openapi/v1/miner/hashrate", params, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

// FetchProfitHistory returns recent daily payout records for one coin.
func (c *Client) FetchProfitHistory(ctx context.Context, coin string, limit int) ([]ProfitRecord, error) {
	params := url.Values{}
	params.Set("coin", strings.ToUpper(coin))
	params.Set("page", "1")
	params.Set("limit", strconv.Itoa(limit))
	var hist profitHistory
	if err := c.get(ctx, "/res/openapi/v1/profit/history", params, &hist); err != nil {
		return nil, err
	}
	return hist.Data, nil
}

// FetchYield aggregates profit and hashrate across coins into one
// snapshot. Profit is required per coin; a hashrate failure only
// leaves that coin's hashrate empty.
func (c *Client) FetchYield(ctx context.Context, coins []string) (profit.YieldSnapshot, error) {
	snap := profit.YieldSnapshot{
		Amounts:     make(map[string]float64),
		PPSProfit:   make(map[string]float64),
		PPLNSProfit: make(map[string]float64),
		Hashrate:    make(map[string]profit.HashrateInfo),
		FetchedAt:   c.now(),
	}

	for _, coin := range coins {
		coin = strings.ToUpper(coin)

		sum, err := c.FetchProfitSummary(ctx, coin)
		if err != nil {
			return profit.YieldSnapshot{}, fmt.Errorf("profit summary for %s: %w", coin, err)
		}
		total, err := parseAmount(sum.TotalProfit)
		if err != nil {
			return profit.YieldSnapshot{}, fmt.Errorf("%w: bad total_profit for %s: %v", ErrUnavailable, coin, err)
		}
		snap.Amounts[coin] = total
		snap.PPSProfit[coin], _ = parseAmount(sum.PPSProfit)
		snap.PPLNSProfit[coin], _ = parseAmount(sum.PPLNSProfit)

		if hr, err := c.FetchHashrate(ctx, coin); err == nil {
			snap.Hashrate[coin] = hr
		}
	}
	return snap, nil
}

// parseAmount tolerates the API's habit of sending numbers as strings,
// empty strings included.
func parseAmount(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
