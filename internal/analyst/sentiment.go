// Package analyst gathers market sentiment, news and AI commentary for
// daily reports. Everything here is optional context: callers degrade
// gracefully when a source fails.
package analyst

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultFngBase      = "https://api.alternative.me"
	defaultPanicBase    = "https://cryptopanic.com"
	defaultTrendingBase = "https://api.coingecko.com/api/v3"
)

// FearGreed is one reading of the crypto Fear & Greed index.
type FearGreed struct {
	Value          int    `json:"value"`
	Classification string `json:"classification"`
}

// NewsItem is one headline with the currencies it mentions.
type NewsItem struct {
	Title       string   `json:"title"`
	Source      string   `json:"source"`
	URL         string   `json:"url"`
	PublishedAt string   `json:"published_at"`
	Currencies  []string `json:"currencies"`
}

// SentimentClient fetches the Fear & Greed index and crypto headlines.
type SentimentClient struct {
	fngBase      string
	panicBase    string
	trendingBase string
	client       *http.Client
	now          func() time.Time
}

func NewSentimentClient() *SentimentClient {
	return &SentimentClient{
		fngBase:      defaultFngBase,
		panicBase:    defaultPanicBase,
		trendingBase: defaultTrendingBase,
		client:       &http.Client{Timeout: 15 * time.Second},
		now:          time.Now,
	}
}

// SetBaseURLs overrides the API endpoints, used in tests.
func (s *SentimentClient) SetBaseURLs(fng, cryptopanic, trending string) {
	s.fngBase = strings.TrimRight(fng, "/")
	s.panicBase = strings.TrimRight(cryptopanic, "/")
	s.trendingBase = strings.TrimRight(trending, "/")
}

type fngResponse struct {
	Data []struct {
		Value               string `json:"value"`
		ValueClassification string `json:"value_classification"`
	} `json:"data"`
}

// FetchFearGreed returns the latest Fear & Greed index reading.
func (s *SentimentClient) FetchFearGreed(ctx context.Context) (*FearGreed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.fngBase+"/fng/?limit=1&format=json", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fear & greed API: %w", err)
	}
	defer resp.Body.Close()

	var fng fngResponse
	if err := json.NewDecoder(resp.Body).Decode(&fng); err != nil {
		return nil, fmt.Errorf("decode fear & greed: %w", err)
	}
	if len(fng.Data) == 0 {
		return nil, fmt.Errorf("no fear & greed data")
	}

	val, err := strconv.Atoi(fng.Data[0].Value)
	if err != nil {
		return nil, fmt.Errorf("parse fear & greed value: %w", err)
	}
	cls := fng.Data[0].ValueClassification
	if cls == "" {
		cls = ClassifyFearGreed(val)
	}
	return &FearGreed{Value: val, Classification: cls}, nil
}

// ClassifyFearGreed maps an index value onto its sentiment bucket.
func ClassifyFearGreed(v int) string {
	switch {
	case v <= 25:
		return "Extreme Fear"
	case v <= 45:
		return "Fear"
	case v <= 55:
		return "Neutral"
	case v <= 75:
		return "Greed"
	default:
		return "Extreme Greed"
	}
}

type panicResponse struct {
	Results []struct {
		Title  string `json:"title"`
		URL    string `json:"url"`
		Source struct {
			Title string `json:"title"`
		} `json:"source"`
		PublishedAt string `json:"published_at"`
		Currencies  []struct {
			Code string `json:"code"`
		} `json:"currencies"`
	} `json:"results"`
}

type trendingResponse struct {
	Coins []struct {
		Item struct {
			Name          string `json:"name"`
			Symbol        string `json:"symbol"`
			MarketCapRank int    `json:"market_cap_rank"`
		} `json:"item"`
	} `json:"coins"`
}

// FetchNews returns up to limit headlines from CryptoPanic, falling
// back to CoinGecko trending coins when the feed is down.
func (s *SentimentClient) FetchNews(ctx context.Context, limit int) ([]NewsItem, error) {
	news, err := s.fetchCryptoPanic(ctx, limit)
	if err == nil && len(news) > 0 {
		return news, nil
	}
	return s.fetchTrending(ctx, limit)
}

func (s *SentimentClient) fetchCryptoPanic(ctx context.Context, limit int) ([]NewsItem, error) {
	url := s.panicBase + "/api/free/v1/posts/?auth_token=free&public=true&filter=important"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cryptopanic: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cryptopanic status: %d", resp.StatusCode)
	}

	var raw panicResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode cryptopanic: %w", err)
	}

	news := make([]NewsItem, 0, limit)
	for _, item := range raw.Results {
		if len(news) >= limit {
			break
		}
		currencies := make([]string, 0, len(item.Currencies))
		for _, c := range item.Currencies {
			currencies = append(currencies, c.Code)
		}
		news = append(news, NewsItem{
			Title:       item.Title,
			Source:      item.Source.Title,
			URL:         item.URL,
			PublishedAt: item.PublishedAt,
			Currencies:  currencies,
		})
	}
	return news, nil
}

func (s *SentimentClient) fetchTrending(ctx context.Context, limit int) ([]NewsItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.trendingBase+"/search/trending", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coingecko trending: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko trending status: %d", resp.StatusCode)
	}

	var raw trendingResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode trending: %w", err)
	}

	news := make([]NewsItem, 0, limit)
	for _, c := range raw.Coins {
		if len(news) >= limit {
			break
		}
		news = append(news, NewsItem{
			Title: fmt.Sprintf("Trending: %s (%s), market cap rank #%d",
				c.Item.Name, c.Item.Symbol, c.Item.MarketCapRank),
			Source:      "CoinGecko Trending",
			PublishedAt: s.now().UTC().Format(time.RFC3339),
			Currencies:  []string{c.Item.Symbol},
		})
	}
	return news, nil
}
