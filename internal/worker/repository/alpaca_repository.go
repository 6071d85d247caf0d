package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang-trade-dispatcher/internal/worker/config"
	"golang-trade-dispatcher/internal/worker/dto"
	"golang-trade-dispatcher/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BrokerRepository is the brokerage adapter. It is the authoritative source
// of truth for reconciliation.
type BrokerRepository interface {
	PlaceOrder(ctx context.Context, spec dto.OrderSpec) (*dto.OrderResult, error)
	GetOrderByClientID(ctx context.Context, clientOrderID string) (*dto.OrderResult, error)
	ListPositions(ctx context.Context) ([]dto.BrokerPosition, error)
	CancelOrder(ctx context.Context, orderID string) error
}

type alpacaRepository struct {
	cfg            *config.Config
	log            *logger.Logger
	httpClient     *http.Client
	requestLimiter *rate.Limiter
}

// NewAlpacaRepository creates a broker repository backed by an Alpaca-style
// trading API.
func NewAlpacaRepository(cfg *config.Config, log *logger.Logger) BrokerRepository {
	secondsPerRequest := time.Minute / time.Duration(cfg.Broker.MaxRequestPerMinute)
	requestLimiter := rate.NewLimiter(rate.Every(secondsPerRequest), 1)
	return &alpacaRepository{
		cfg: cfg,
		log: log,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		requestLimiter: requestLimiter,
	}
}

// PlaceOrder submits a market order. A 4xx response is a business rejection
// and comes back as *dto.OrderRejectedError; everything else is transient.
func (r *alpacaRepository) PlaceOrder(ctx context.Context, spec dto.OrderSpec) (*dto.OrderResult, error) {
	payload, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}

	body, err := r.sendRequest(ctx, http.MethodPost, "/v2/orders", payload)
	if err != nil {
		return nil, err
	}

	var result dto.OrderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}
	return &result, nil
}

// GetOrderByClientID looks up an order by the client order id it was placed
// with. Returns (nil, nil) when no such order exists, so callers can tell
// "never accepted" apart from a lookup failure.
func (r *alpacaRepository) GetOrderByClientID(ctx context.Context, clientOrderID string) (*dto.OrderResult, error) {
	path := "/v2/orders:by_client_order_id?client_order_id=" + url.QueryEscape(clientOrderID)
	body, err := r.sendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		if rejected, ok := dto.AsOrderRejected(err); ok && rejected.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	var result dto.OrderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}
	return &result, nil
}

// ListPositions returns the broker's full position list.
func (r *alpacaRepository) ListPositions(ctx context.Context) ([]dto.BrokerPosition, error) {
	body, err := r.sendRequest(ctx, http.MethodGet, "/v2/positions", nil)
	if err != nil {
		return nil, err
	}

	var positions []dto.BrokerPosition
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, fmt.Errorf("failed to decode positions response: %w", err)
	}
	return positions, nil
}

// CancelOrder cancels an order that has not filled yet.
func (r *alpacaRepository) CancelOrder(ctx context.Context, orderID string) error {
	_, err := r.sendRequest(ctx, http.MethodDelete, "/v2/orders/"+orderID, nil)
	return err
}

func (r *alpacaRepository) sendRequest(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	url := r.cfg.Broker.BaseURL + path
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("url", url),
	}

	if err := r.requestLimiter.Wait(ctx); err != nil {
		r.log.ErrorContext(ctx, "Failed to wait for broker request limit", append(fields, zap.Error(err))...)
		return nil, err
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("APCA-API-KEY-ID", r.cfg.Broker.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", r.cfg.Broker.APISecret)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.log.ErrorContext(ctx, "Broker request failed", append(fields, zap.Error(err))...)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	fields = append(fields, zap.Int("status_code", resp.StatusCode))

	// 429 and 408 are throttling/timeout, not a decision about the order.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout {
		var rejection struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &rejection)
		if rejection.Message == "" {
			rejection.Message = string(body)
		}
		r.log.WarnContext(ctx, "Broker rejected request", append(fields, zap.String("reason", rejection.Message))...)
		return nil, &dto.OrderRejectedError{StatusCode: resp.StatusCode, Reason: rejection.Message}
	}

	r.log.ErrorContext(ctx, "Broker request failed", fields...)
	return nil, fmt.Errorf("broker returned status %d", resp.StatusCode)
}
