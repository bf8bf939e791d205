// Package config handles configuration loading and validation for the
// profit bot.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	infisical "github.com/infisical/go-sdk"
	"github.com/spf13/viper"
)

// Miner describes one class of physical mining devices. Immutable once
// loaded.
type Miner struct {
	Name   string  `mapstructure:"name"`
	Coin   string  `mapstructure:"coin"`
	PowerW float64 `mapstructure:"power_w"`
	Count  int     `mapstructure:"count"`
}

// ReportConfig defines when the daily report fires.
type ReportConfig struct {
	Hour     int    `mapstructure:"hour"`
	Minute   int    `mapstructure:"minute"`
	Timezone string `mapstructure:"timezone"`
	// CatchUp fires a report on startup when the scheduled time has
	// already passed today and no record exists yet.
	CatchUp bool `mapstructure:"catch_up"`
}

// TelegramConfig holds bot credentials and the fixed report recipient.
type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

// ViaBTCConfig holds pool API credentials.
type ViaBTCConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	SecretKey string        `mapstructure:"secret_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// OpenAIConfig holds the optional commentary model settings.
type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// AlertsConfig defines hashrate drop alerting between polls. DropPct
// is a percentage: 20 alerts on a 20% drop.
type AlertsConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	DropPct      float64       `mapstructure:"drop_pct"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Config is the process-wide configuration, loaded once at startup and
// read-only thereafter.
type Config struct {
	Port           string         `mapstructure:"port"`
	FrontendOrigin string         `mapstructure:"frontend_origin"`
	DatabaseURL    string         `mapstructure:"database_url"`
	RedisURL       string         `mapstructure:"redis_url"`
	RedisPassword  string         `mapstructure:"redis_password"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
	ViaBTC         ViaBTCConfig   `mapstructure:"viabtc"`
	OpenAI         OpenAIConfig   `mapstructure:"openai"`
	Report         ReportConfig   `mapstructure:"report"`
	Alerts         AlertsConfig   `mapstructure:"alerts"`

	ElectricityPriceRubKwh float64 `mapstructure:"electricity_price_rub_kwh"`
	Miners                 []Miner `mapstructure:"miners"`
}

// Load reads configuration from file and environment, then pulls
// missing secrets from Infisical when credentials are available.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/profit-bot")
	}

	v.SetEnvPrefix("PROFITBOT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	clientID := os.Getenv("INFISICAL_CLIENT_ID")
	clientSecret := os.Getenv("INFISICAL_CLIENT_SECRET")
	if clientID != "" && clientSecret != "" {
		loadFromInfisical(&cfg, clientID, clientSecret)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("frontend_origin", "*")
	v.SetDefault("redis_url", "redis://127.0.0.1:6379/0")

	v.SetDefault("viabtc.timeout", "30s")

	v.SetDefault("openai.model", "gpt-4.1-mini")

	v.SetDefault("report.hour", 8)
	v.SetDefault("report.minute", 0)
	v.SetDefault("report.timezone", "Europe/Moscow")
	v.SetDefault("report.catch_up", true)

	v.SetDefault("alerts.enabled", true)
	v.SetDefault("alerts.drop_pct", 20.0)
	v.SetDefault("alerts.poll_interval", "10m")

	v.SetDefault("electricity_price_rub_kwh", 5.7)
}

// Validate checks configuration for startup errors. A malformed miner
// list or missing secret must fail here, never be silently treated as
// zero-cost operation.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id is required")
	}
	if c.ViaBTC.APIKey == "" || c.ViaBTC.SecretKey == "" {
		return fmt.Errorf("viabtc.api_key and viabtc.secret_key are required")
	}

	if c.Report.Hour < 0 || c.Report.Hour > 23 {
		return fmt.Errorf("report.hour must be in [0,23]")
	}
	if c.Report.Minute < 0 || c.Report.Minute > 59 {
		return fmt.Errorf("report.minute must be in [0,59]")
	}
	if _, err := time.LoadLocation(c.Report.Timezone); err != nil {
		return fmt.Errorf("report.timezone: %w", err)
	}

	if c.ElectricityPriceRubKwh <= 0 {
		return fmt.Errorf("electricity_price_rub_kwh must be positive")
	}

	if len(c.Miners) == 0 {
		return fmt.Errorf("at least one miner must be configured")
	}
	for i, m := range c.Miners {
		if m.Coin == "" {
			return fmt.Errorf("miners[%d]: coin is required", i)
		}
		if m.PowerW <= 0 {
			return fmt.Errorf("miners[%d] (%s): power_w must be positive", i, m.Name)
		}
		if m.Count < 1 {
			return fmt.Errorf("miners[%d] (%s): count must be >= 1", i, m.Name)
		}
	}

	if c.Alerts.Enabled && (c.Alerts.DropPct <= 0 || c.Alerts.DropPct > 100) {
		return fmt.Errorf("alerts.drop_pct must be a percentage in (0,100]")
	}

	return nil
}

// ReportLocation returns the reporting timezone. Validate guarantees it
// loads.
func (c *Config) ReportLocation() *time.Location {
	loc, _ := time.LoadLocation(c.Report.Timezone)
	return loc
}

// Coins returns the distinct coins across the miner list, in first-seen
// order.
func (c *Config) Coins() []string {
	seen := make(map[string]bool)
	var coins []string
	for _, m := range c.Miners {
		if !seen[m.Coin] {
			seen[m.Coin] = true
			coins = append(coins, m.Coin)
		}
	}
	return coins
}

// PriceCoins is Coins plus DOGE when LTC is mined. ViaBTC merge-mines
// DOGE with LTC, so its price belongs in the report even though no
// miner is configured for it.
func (c *Config) PriceCoins() []string {
	coins := c.Coins()
	hasLTC, hasDOGE := false, false
	for _, coin := range coins {
		switch coin {
		case "LTC":
			hasLTC = true
		case "DOGE":
			hasDOGE = true
		}
	}
	if hasLTC && !hasDOGE {
		coins = append(coins, "DOGE")
	}
	return coins
}

func loadFromInfisical(cfg *Config, clientID, clientSecret string) {
	siteURL := os.Getenv("INFISICAL_SITE_URL")
	if siteURL == "" {
		siteURL = "https://app.infisical.com"
	}
	projectID := os.Getenv("INFISICAL_PROJECT_ID")
	envSlug := os.Getenv("INFISICAL_ENV")
	if envSlug == "" {
		envSlug = "prod"
	}

	if projectID == "" {
		slog.Warn("INFISICAL_PROJECT_ID not set, skipping Infisical")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          siteURL,
		AutoTokenRefresh: false,
	})

	_, err := client.Auth().UniversalAuthLogin(clientID, clientSecret)
	if err != nil {
		slog.Error("infisical auth failed", "error", err)
		return
	}

	secrets := map[string]*string{
		"TELEGRAM_BOT_TOKEN": &cfg.Telegram.Token,
		"VIABTC_API_KEY":     &cfg.ViaBTC.APIKey,
		"VIABTC_SECRET_KEY":  &cfg.ViaBTC.SecretKey,
		"OPENAI_API_KEY":     &cfg.OpenAI.APIKey,
		"REDIS_PASSWORD":     &cfg.RedisPassword,
	}

	for key, target := range secrets {
		if *target != "" {
			continue // already set via file or env
		}
		secret, err := client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
			SecretKey:   key,
			Environment: envSlug,
			ProjectID:   projectID,
			SecretPath:  "/",
		})
		if err != nil {
			slog.Warn("failed to retrieve secret from infisical", "key", key, "error", err)
			continue
		}
		*target = secret.SecretValue
		slog.Info("loaded secret from infisical", "key", key)
	}
}
