package store

import (
	"context"
	"fmt"
)

const migrationSQL = `
CREATE TABLE IF NOT EXISTS daily_reports (
	id BIGSERIAL PRIMARY KEY,
	report_date DATE NOT NULL,
	coin TEXT NOT NULL,
	revenue_coin DOUBLE PRECISION NOT NULL DEFAULT 0,
	revenue_usdt DOUBLE PRECISION NOT NULL DEFAULT 0,
	price_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
	electricity_cost_rub DOUBLE PRECISION NOT NULL DEFAULT 0,
	electricity_cost_usdt DOUBLE PRECISION NOT NULL DEFAULT 0,
	net_profit_usdt DOUBLE PRECISION NOT NULL DEFAULT 0,
	usdt_rub_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (report_date, coin)
);

CREATE INDEX IF NOT EXISTS idx_daily_reports_date ON daily_reports (report_date DESC);
CREATE INDEX IF NOT EXISTS idx_daily_reports_coin ON daily_reports (coin, report_date DESC);

CREATE TABLE IF NOT EXISTS ai_commentary (
	id BIGSERIAL PRIMARY KEY,
	report_date DATE NOT NULL,
	commentary TEXT NOT NULL,
	news_titles TEXT[] NOT NULL DEFAULT '{}',
	model TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_ai_commentary_date ON ai_commentary (report_date DESC);

CREATE TABLE IF NOT EXISTS price_history (
	id BIGSERIAL PRIMARY KEY,
	record_date DATE NOT NULL,
	coin TEXT NOT NULL,
	price_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
	price_change_24h DOUBLE PRECISION NOT NULL DEFAULT 0,
	market_cap_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (record_date, coin)
);

CREATE INDEX IF NOT EXISTS idx_price_history_coin ON price_history (coin, record_date DESC);
`

// Migrate creates the schema if it does not exist. Safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, migrationSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
