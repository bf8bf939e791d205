// Package store persists daily report history in Postgres.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minewatch/profit-bot/internal/profit"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// --- Daily reports ---

// ReportRow is one persisted per-coin profit line for a calendar day.
type ReportRow struct {
	ID                 int64     `json:"id"`
	ReportDate         time.Time `json:"report_date"`
	Coin               string    `json:"coin"`
	RevenueCoin        float64   `json:"revenue_coin"`
	RevenueUSDT        float64   `json:"revenue_usdt"`
	PriceUSD           float64   `json:"price_usd"`
	ElectricityCostRub float64   `json:"electricity_cost_rub"`
	ElectricityCostUSD float64   `json:"electricity_cost_usdt"`
	NetProfitUSDT      float64   `json:"net_profit_usdt"`
	UsdtRubRate        float64   `json:"usdt_rub_rate"`
	CreatedAt          time.Time `json:"created_at"`
}

// UpsertReport writes all lines of a day's report, overwriting any
// existing rows for that date. Re-runs within one day are deliberate
// overwrites, matching manual report regeneration.
func (s *Store) UpsertReport(ctx context.Context, date time.Time, rep *profit.Report) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, line := range rep.Lines {
		_, err := tx.Exec(ctx, `
			INSERT INTO daily_reports
				(report_date, coin, revenue_coin, revenue_usdt, price_usd,
				 electricity_cost_rub, electricity_cost_usdt, net_profit_usdt, usdt_rub_rate)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (report_date, coin) DO UPDATE SET
				revenue_coin = $3, revenue_usdt = $4, price_usd = $5,
				electricity_cost_rub = $6, electricity_cost_usdt = $7,
				net_profit_usdt = $8, usdt_rub_rate = $9`,
			date, line.Coin, line.RevenueCoin, line.RevenueUSDT, line.PriceUSD,
			line.ElectricityCostRub, line.ElectricityCostUSD, line.NetProfitUSDT,
			rep.UsdtRubRate)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// HasReport reports whether any lines exist for the given calendar day.
func (s *Store) HasReport(ctx context.Context, date time.Time) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM daily_reports WHERE report_date = $1`, date).Scan(&count)
	return count > 0, err
}

// RecentReports returns the report rows for the most recent n distinct
// dates, newest first. Returns fewer when history is shorter; never an
// error for an empty store.
func (s *Store) RecentReports(ctx context.Context, n int) ([]ReportRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, report_date, coin, revenue_coin, revenue_usdt, price_usd,
		       electricity_cost_rub, electricity_cost_usdt, net_profit_usdt,
		       usdt_rub_rate, created_at
		FROM daily_reports
		WHERE report_date IN (
			SELECT DISTINCT report_date FROM daily_reports
			ORDER BY report_date DESC LIMIT $1
		)
		ORDER BY report_date DESC, coin`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReportRows(rows)
}

// ProfitTrend returns the last n rows for one coin, newest first.
func (s *Store) ProfitTrend(ctx context.Context, coin string, n int) ([]ReportRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, report_date, coin, revenue_coin, revenue_usdt, price_usd,
		       electricity_cost_rub, electricity_cost_usdt, net_profit_usdt,
		       usdt_rub_rate, created_at
		FROM daily_reports
		WHERE coin = $1
		ORDER BY report_date DESC LIMIT $2`, coin, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReportRows(rows)
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanReportRows(rows pgxRows) ([]ReportRow, error) {
	var out []ReportRow
	for rows.Next() {
		var r ReportRow
		if err := rows.Scan(&r.ID, &r.ReportDate, &r.Coin, &r.RevenueCoin,
			&r.RevenueUSDT, &r.PriceUSD, &r.ElectricityCostRub,
			&r.ElectricityCostUSD, &r.NetProfitUSDT, &r.UsdtRubRate,
			&r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- AI commentary ---

// Commentary is a stored AI market analysis for one report day.
type Commentary struct {
	ID         int64     `json:"id"`
	ReportDate time.Time `json:"report_date"`
	Text       string    `json:"text"`
	NewsTitles []string  `json:"news_titles"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Store) SaveCommentary(ctx context.Context, c *Commentary) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ai_commentary (report_date, commentary, news_titles, model)
		VALUES ($1, $2, $3, $4)`,
		c.ReportDate, c.Text, c.NewsTitles, c.Model)
	return err
}

func (s *Store) LatestCommentary(ctx context.Context) (*Commentary, error) {
	var c Commentary
	err := s.pool.QueryRow(ctx, `
		SELECT id, report_date, commentary, news_titles, model, created_at
		FROM ai_commentary ORDER BY created_at DESC LIMIT 1`).
		Scan(&c.ID, &c.ReportDate, &c.Text, &c.NewsTitles, &c.Model, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// --- Price history ---

// SavePrice upserts one coin's daily price snapshot.
func (s *Store) SavePrice(ctx context.Context, date time.Time, coin string, priceUSD, change24h, marketCapUSD float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO price_history (record_date, coin, price_usd, price_change_24h, market_cap_usd)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (record_date, coin) DO UPDATE SET
			price_usd = $3, price_change_24h = $4, market_cap_usd = $5`,
		date, coin, priceUSD, change24h, marketCapUSD)
	return err
}

// PriceHistory returns the last n price rows for a coin, newest first.
func (s *Store) PriceHistory(ctx context.Context, coin string, n int) ([]PriceRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT record_date, coin, price_usd, price_change_24h, market_cap_usd
		FROM price_history
		WHERE coin = $1
		ORDER BY record_date DESC LIMIT $2`, coin, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PriceRow
	for rows.Next() {
		var p PriceRow
		if err := rows.Scan(&p.RecordDate, &p.Coin, &p.PriceUSD, &p.Change24h, &p.MarketCapUSD); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PriceRow is one persisted daily price observation.
type PriceRow struct {
	RecordDate   time.Time `json:"record_date"`
	Coin         string    `json:"coin"`
	PriceUSD     float64   `json:"price_usd"`
	Change24h    float64   `json:"price_change_24h"`
	MarketCapUSD float64   `json:"market_cap_usd"`
}
