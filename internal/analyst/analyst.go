package analyst

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/minewatch/profit-bot/internal/pricing"
	"github.com/minewatch/profit-bot/internal/profit"
)

const defaultOpenAIBase = "https://api.openai.com"

const systemPrompt = `You are a professional cryptocurrency market and mining analyst.
Your job is to analyze mining profitability data, current market conditions and
news, and give the miner concrete, actionable recommendations.

Answer format:

MARKET SUMMARY
[Short overview of the current market state and key trends]

PROFITABILITY ANALYSIS
[Analysis of current mining profitability versus costs]

KEY NEWS
[Top 3 news items affecting BTC/LTC/DOGE mining]

RECOMMENDATIONS
[Concrete recommendations: sell, hold or accumulate per coin, timing,
whether to convert into other assets, outlook for the coming week]

RISKS
[Main risks and what to watch]

Be specific. Quote numbers, percentages and price levels. Avoid generic
statements like "the market is volatile".`

// Analysis is an AI commentary with the context that produced it.
type Analysis struct {
	Text             string     `json:"text"`
	NewsTitles       []string   `json:"news_titles"`
	FearGreed        *FearGreed `json:"fear_greed,omitempty"`
	Model            string     `json:"model"`
	PromptTokens     int        `json:"prompt_tokens"`
	CompletionTokens int        `json:"completion_tokens"`
	GeneratedAt      time.Time  `json:"generated_at"`
}

// Analyst generates AI market commentary via the OpenAI chat API.
type Analyst struct {
	baseURL   string
	apiKey    string
	model     string
	client    *http.Client
	sentiment *SentimentClient
	now       func() time.Time
}

func New(apiKey, model string, sentiment *SentimentClient) *Analyst {
	return &Analyst{
		baseURL:   defaultOpenAIBase,
		apiKey:    apiKey,
		model:     model,
		client:    &http.Client{Timeout: 90 * time.Second},
		sentiment: sentiment,
		now:       time.Now,
	}
}

// SetBaseURL overrides the API endpoint, used in tests.
func (a *Analyst) SetBaseURL(u string) { a.baseURL = strings.TrimRight(u, "/") }

// Enabled reports whether an API key is configured.
func (a *Analyst) Enabled() bool { return a.apiKey != "" }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate produces commentary for a day's report. News and sentiment
// failures only thin out the prompt; an OpenAI failure is an error and
// the caller ships the report without commentary.
func (a *Analyst) Generate(ctx context.Context, rep *profit.Report, prices profit.PriceSnapshot,
	overview *pricing.MarketOverview, stats *pricing.NetworkStats) (*Analysis, error) {

	var news []NewsItem
	var fng *FearGreed
	if a.sentiment != nil {
		news, _ = a.sentiment.FetchNews(ctx, 10)
		fng, _ = a.sentiment.FetchFearGreed(ctx)
	}

	prompt := buildPrompt(rep, prices, overview, stats, news, fng)

	body, err := json.Marshal(chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   2000,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai API: %w", err)
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode openai response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("openai API: %s", out.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai API status: %d", resp.StatusCode)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openai API: empty choices")
	}

	titles := make([]string, 0, 5)
	for _, n := range news {
		if len(titles) >= 5 {
			break
		}
		titles = append(titles, n.Title)
	}

	return &Analysis{
		Text:             out.Choices[0].Message.Content,
		NewsTitles:       titles,
		FearGreed:        fng,
		Model:            a.model,
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
		GeneratedAt:      a.now().UTC(),
	}, nil
}

func buildPrompt(rep *profit.Report, prices profit.PriceSnapshot,
	overview *pricing.MarketOverview, stats *pricing.NetworkStats,
	news []NewsItem, fng *FearGreed) string {

	var sb strings.Builder
	sb.WriteString("Analyze the current mining situation and give recommendations.\n\n")

	sb.WriteString("=== MINING PROFITABILITY ===\n")
	fmt.Fprintf(&sb, "Electricity price: %.2f RUB/kWh\n", rep.ElectricityPriceRubKwh)
	fmt.Fprintf(&sb, "USDT/RUB rate: %.2f\n\n", rep.UsdtRubRate)

	for _, line := range rep.Lines {
		fmt.Fprintf(&sb, "--- %s ---\n", line.Coin)
		fmt.Fprintf(&sb, "Daily revenue: %.8f %s (~%.2f USDT)\n", line.RevenueCoin, line.Coin, line.RevenueUSDT)
		fmt.Fprintf(&sb, "Price: $%.2f\n", line.PriceUSD)
		fmt.Fprintf(&sb, "Electricity cost: %.2f USDT (%.2f RUB)\n", line.ElectricityCostUSD, line.ElectricityCostRub)
		fmt.Fprintf(&sb, "Net profit: %.2f USDT\n", line.NetProfitUSDT)
		fmt.Fprintf(&sb, "Profitable: %v\n", line.Profitable)
		fmt.Fprintf(&sb, "Hardware power: %.0f W across %d miners\n\n", line.TotalPowerW, line.MinerCount)
	}

	sb.WriteString("=== TOTALS ===\n")
	fmt.Fprintf(&sb, "Total revenue: %.2f USDT\n", rep.TotalRevenueUSDT)
	fmt.Fprintf(&sb, "Total electricity: %.2f USDT (%.2f RUB)\n", rep.TotalCostUSDT, rep.TotalCostRub)
	fmt.Fprintf(&sb, "Net profit: %.2f USDT\n", rep.NetProfitUSDT)
	fmt.Fprintf(&sb, "Profitable overall: %v\n\n", rep.Profitable)

	sb.WriteString("=== CURRENT PRICES ===\n")
	for _, line := range rep.Lines {
		if p, ok := prices.Prices[line.Coin]; ok {
			fmt.Fprintf(&sb, "  %s: $%.2f (24h: %+.2f%%)\n", line.Coin, p, prices.Change24h[line.Coin])
		}
	}
	sb.WriteByte('\n')

	if overview != nil {
		sb.WriteString("=== MARKET ===\n")
		fmt.Fprintf(&sb, "Total market cap: $%.0f\n", overview.TotalMarketCapUSD)
		fmt.Fprintf(&sb, "BTC dominance: %.1f%%\n", overview.BTCDominance)
		fmt.Fprintf(&sb, "Market cap 24h change: %+.2f%%\n\n", overview.MarketCapChange24h)
	}
	if fng != nil {
		fmt.Fprintf(&sb, "Fear & Greed index: %d (%s)\n\n", fng.Value, fng.Classification)
	}
	if stats != nil {
		sb.WriteString("=== NETWORK ===\n")
		fmt.Fprintf(&sb, "BTC difficulty: %.0f\n", stats.BTCDifficulty)
		fmt.Fprintf(&sb, "BTC network hashrate: %.0f GH/s\n\n", stats.BTCNetworkHashrateGH)
	}

	if len(news) > 0 {
		sb.WriteString("=== LATEST NEWS ===\n")
		for i, n := range news {
			fmt.Fprintf(&sb, "  %d. [%s] %s\n", i+1, strings.Join(n.Currencies, ", "), n.Title)
		}
		sb.WriteByte('\n')
	}

	sb.WriteString("Give a detailed analysis and concrete per-coin recommendations:\n")
	sb.WriteString("- Sell now or hold?\n")
	sb.WriteString("- If holding, up to what price level?\n")
	sb.WriteString("- Worth converting into other assets?\n")
	sb.WriteString("- Mining profitability outlook for the coming week\n")
	sb.WriteString("- Does mining still make sense at current conditions?\n")
	return sb.String()
}
