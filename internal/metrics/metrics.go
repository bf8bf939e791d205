package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ── HTTP request metrics (RED method) ──────────────────────────────────

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "profit_bot",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "profit_bot",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "profit_bot",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being processed.",
	})
)

// ── Source fetch metrics ───────────────────────────────────────────────

var (
	FetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "profit_bot",
		Subsystem: "fetch",
		Name:      "total",
		Help:      "Total number of fetch attempts per data source.",
	}, []string{"source", "status"})

	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "profit_bot",
		Subsystem: "fetch",
		Name:      "duration_seconds",
		Help:      "Duration of fetch per data source in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"source"})

	FetchLastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "profit_bot",
		Subsystem: "fetch",
		Name:      "last_success_timestamp",
		Help:      "Unix timestamp of the last successful fetch per source.",
	}, []string{"source"})
)

// ── Report metrics ─────────────────────────────────────────────────────

var (
	ReportsGeneratedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "profit_bot",
		Subsystem: "reports",
		Name:      "generated_total",
		Help:      "Total daily reports generated.",
	}, []string{"trigger"})

	ReportsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "profit_bot",
		Subsystem: "reports",
		Name:      "failed_total",
		Help:      "Total report generation failures.",
	}, []string{"stage"})

	ReportsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "profit_bot",
		Subsystem: "reports",
		Name:      "skipped_total",
		Help:      "Total scheduled reports skipped because the day was already covered.",
	})
)

// ── Delivery metrics ───────────────────────────────────────────────────

var (
	MessagesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "profit_bot",
		Subsystem: "telegram",
		Name:      "messages_sent_total",
		Help:      "Total Telegram messages successfully delivered.",
	}, []string{"kind"})

	MessagesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "profit_bot",
		Subsystem: "telegram",
		Name:      "messages_failed_total",
		Help:      "Total Telegram delivery failures after retry.",
	}, []string{"kind"})

	SendRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "profit_bot",
		Subsystem: "telegram",
		Name:      "send_retries_total",
		Help:      "Total Telegram send attempts that needed a retry.",
	})
)

// ── Business metrics ───────────────────────────────────────────────────

var (
	NetProfitUSDT = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "profit_bot",
		Subsystem: "business",
		Name:      "net_profit_usdt",
		Help:      "Net profit in USDT from the latest report.",
	})

	CoinNetProfitUSDT = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "profit_bot",
		Subsystem: "business",
		Name:      "coin_net_profit_usdt",
		Help:      "Per-coin net profit in USDT from the latest report.",
	}, []string{"coin"})

	CoinPriceUSD = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "profit_bot",
		Subsystem: "business",
		Name:      "coin_price_usd",
		Help:      "Latest observed coin price in USD.",
	}, []string{"coin"})

	UsdtRubRate = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "profit_bot",
		Subsystem: "business",
		Name:      "usdt_rub_rate",
		Help:      "Latest observed USDT/RUB rate.",
	})
)
