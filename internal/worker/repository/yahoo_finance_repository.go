package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang-trade-dispatcher/internal/worker/config"
	"golang-trade-dispatcher/internal/worker/dto"
	"golang-trade-dispatcher/pkg/logger"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MarketDataRepository supplies the current price per ticker within a bounded
// timeout.
type MarketDataRepository interface {
	GetPrice(ctx context.Context, ticker string) (*dto.Quote, error)
}

type yahooFinanceRepository struct {
	cfg            *config.Config
	log            *logger.Logger
	httpClient     *http.Client
	requestLimiter *rate.Limiter
	quoteCache     *cache.Cache
}

// NewYahooFinanceRepository creates a market data repository backed by the
// Yahoo Finance chart API with a short-lived in-process quote cache.
func NewYahooFinanceRepository(cfg *config.Config, log *logger.Logger) (MarketDataRepository, error) {
	if cfg.MarketData.MaxRequestPerMinute <= 0 {
		return nil, fmt.Errorf("market_data.max_request_per_minute must be positive")
	}
	secondsPerRequest := time.Minute / time.Duration(cfg.MarketData.MaxRequestPerMinute)
	return &yahooFinanceRepository{
		cfg: cfg,
		log: log,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		requestLimiter: requestLimiterFor(secondsPerRequest),
		quoteCache:     cache.New(cfg.MarketData.QuoteCacheTTL, 2*cfg.MarketData.QuoteCacheTTL),
	}, nil
}

func requestLimiterFor(interval time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Every(interval), 1)
}

// GetPrice returns the latest market price for the ticker, serving repeated
// lookups within a tick from the cache.
func (r *yahooFinanceRepository) GetPrice(ctx context.Context, ticker string) (*dto.Quote, error) {
	if cached, found := r.quoteCache.Get(ticker); found {
		return cached.(*dto.Quote), nil
	}

	if err := r.requestLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1m&range=1d", r.cfg.MarketData.BaseURL, ticker)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.log.ErrorContext(ctx, "Market data request failed", zap.String("ticker", ticker), zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("market data feed returned status %d for %s", resp.StatusCode, ticker)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var chart struct {
		Chart struct {
			Result []struct {
				Meta struct {
					RegularMarketPrice float64 `json:"regularMarketPrice"`
					RegularMarketTime  int64   `json:"regularMarketTime"`
				} `json:"meta"`
			} `json:"result"`
		} `json:"chart"`
	}
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("failed to decode chart response: %w", err)
	}
	if len(chart.Chart.Result) == 0 || chart.Chart.Result[0].Meta.RegularMarketPrice == 0 {
		return nil, fmt.Errorf("no price available for %s", ticker)
	}

	meta := chart.Chart.Result[0].Meta
	quote := &dto.Quote{
		Ticker:    ticker,
		Price:     meta.RegularMarketPrice,
		Timestamp: time.Unix(meta.RegularMarketTime, 0),
	}
	r.quoteCache.Set(ticker, quote, cache.DefaultExpiration)

	return quote, nil
}
