package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang-trade-dispatcher/internal/worker/config"
	"golang-trade-dispatcher/internal/worker/dto"
	"golang-trade-dispatcher/pkg/logger"

	"go.uber.org/zap"
)

// SentimentRepository is the sentiment/ticker-extraction collaborator.
// Classification is delegated to an external service; ticker extraction is a
// whitelist scan over the text.
type SentimentRepository interface {
	Classify(ctx context.Context, text string) (*dto.SentimentResult, error)
	ExtractTickers(text string, whitelist []string) []string
}

type sentimentRepository struct {
	cfg        *config.Config
	log        *logger.Logger
	httpClient *http.Client
}

var tickerTokenPattern = regexp.MustCompile(`\$?[A-Z]{1,5}\b`)

// NewSentimentRepository creates a sentiment repository backed by an external
// classification service.
func NewSentimentRepository(cfg *config.Config, log *logger.Logger) SentimentRepository {
	return &sentimentRepository{
		cfg: cfg,
		log: log,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Classify sends the text to the classification service and returns the
// label/score pair.
func (r *sentimentRepository) Classify(ctx context.Context, text string) (*dto.SentimentResult, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}

	url := r.cfg.Sentiment.BaseURL + "/classify"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.log.ErrorContext(ctx, "Sentiment request failed", zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sentiment service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result dto.SentimentResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode sentiment response: %w", err)
	}
	return &result, nil
}

// ExtractTickers returns the whitelist tickers mentioned in the text, either
// as bare uppercase symbols or as cashtags.
func (r *sentimentRepository) ExtractTickers(text string, whitelist []string) []string {
	allowed := make(map[string]bool, len(whitelist))
	for _, ticker := range whitelist {
		allowed[strings.ToUpper(ticker)] = true
	}

	seen := make(map[string]bool)
	var tickers []string
	for _, token := range tickerTokenPattern.FindAllString(text, -1) {
		symbol := strings.TrimPrefix(token, "$")
		if !allowed[symbol] || seen[symbol] {
			continue
		}
		seen[symbol] = true
		tickers = append(tickers, symbol)
	}
	return tickers
}
