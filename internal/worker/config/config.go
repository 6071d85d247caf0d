package config

import (
	"time"

	"golang-trade-dispatcher/pkg/config"
)

// Worker holds the schedules and claim tuning shared by all entry points.
// Schedules are cron expressions understood by robfig/cron ("@every 30s").
type Worker struct {
	IngestSchedule     string        `mapstructure:"ingest_schedule"`
	ClassifySchedule   string        `mapstructure:"classify_schedule"`
	DispatchSchedule   string        `mapstructure:"dispatch_schedule"`
	MonitorSchedule    string        `mapstructure:"monitor_schedule"`
	ReconcileSchedule  string        `mapstructure:"reconcile_schedule"`
	ClassifyBatchSize  int           `mapstructure:"classify_batch_size"`
	DispatchBatchSize  int           `mapstructure:"dispatch_batch_size"`
	MonitorBatchSize   int           `mapstructure:"monitor_batch_size"`
	ClaimStaleAfter    time.Duration `mapstructure:"claim_stale_after"`
	MonitorClaimWindow time.Duration `mapstructure:"monitor_claim_window"`
	TickTimeout        time.Duration `mapstructure:"tick_timeout"`
}

// Dispatch holds the dispatcher's trade parameters.
type Dispatch struct {
	ConfidenceFloor       float64 `mapstructure:"confidence_floor"`
	ExecutionMode         string  `mapstructure:"execution_mode"`
	AccountName           string  `mapstructure:"account_name"`
	OrderNotional         float64 `mapstructure:"order_notional"`
	StopLossPct           float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct         float64 `mapstructure:"take_profit_pct"`
	TrailingStopPct       float64 `mapstructure:"trailing_stop_pct"`
	TrailingActivationPct float64 `mapstructure:"trailing_activation_pct"`
	MaxHoldMinutes        int     `mapstructure:"max_hold_minutes"`
	StrategyType          string  `mapstructure:"strategy_type"`
}

// Monitor holds the position lifecycle tuning.
type Monitor struct {
	MinHoldMinutes          int     `mapstructure:"min_hold_minutes"`
	TakeProfitExitFraction  float64 `mapstructure:"take_profit_exit_fraction"`
	MaxExitAttempts         int     `mapstructure:"max_exit_attempts"`
	OptionExpiryWindowHours int     `mapstructure:"option_expiry_window_hours"`
	EndOfDayCloseTime       string  `mapstructure:"end_of_day_close_time"`
	MarketTimeZone          string  `mapstructure:"market_time_zone"`
}

// Broker holds the brokerage adapter settings.
type Broker struct {
	BaseURL             string `mapstructure:"base_url"`
	APIKey              string `mapstructure:"api_key"`
	APISecret           string `mapstructure:"api_secret"`
	MaxRequestPerMinute int    `mapstructure:"max_request_per_minute"`
}

// MarketData holds the price feed settings.
type MarketData struct {
	BaseURL             string        `mapstructure:"base_url"`
	MaxRequestPerMinute int           `mapstructure:"max_request_per_minute"`
	QuoteCacheTTL       time.Duration `mapstructure:"quote_cache_ttl"`
}

// Sentiment holds the sentiment collaborator settings.
type Sentiment struct {
	BaseURL  string  `mapstructure:"base_url"`
	MinScore float64 `mapstructure:"min_score"`
}

// Feeds holds the RSS ingestion settings.
type Feeds struct {
	Sources        []string `mapstructure:"sources"`
	MaxNewsAgeDays int      `mapstructure:"max_news_age_days"`
}

// Config holds the full configuration for the worker service.
type Config struct {
	App        config.App      `mapstructure:"app"`
	Logger     config.Logger   `mapstructure:"logger"`
	Database   config.Database `mapstructure:"database"`
	Redis      config.Redis    `mapstructure:"redis"`
	API        config.API      `mapstructure:"api"`
	Telegram   config.Telegram `mapstructure:"telegram"`
	Worker     Worker          `mapstructure:"worker"`
	Dispatch   Dispatch        `mapstructure:"dispatch"`
	Monitor    Monitor         `mapstructure:"monitor"`
	Broker     Broker          `mapstructure:"broker"`
	MarketData MarketData      `mapstructure:"market_data"`
	Sentiment  Sentiment       `mapstructure:"sentiment"`
	Feeds      Feeds           `mapstructure:"feeds"`
}

// Load loads the worker configuration from the given path.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := config.Load(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
