package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"golang-trade-dispatcher/internal/entity"
	"golang-trade-dispatcher/internal/worker/config"
	"golang-trade-dispatcher/internal/worker/dto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classifierTestConfig() *config.Config {
	return &config.Config{
		Worker: config.Worker{
			ClassifyBatchSize: 10,
			ClaimStaleAfter:   10 * time.Minute,
		},
		Sentiment: config.Sentiment{MinScore: 0.5},
	}
}

func newClassifierFixture(cfg *config.Config) (*classifierService, *fakeNewsEventRepo, *fakeWatchlistRepo, *fakeSentimentRepo, *fakeRecommendationRepo) {
	newsRepo := &fakeNewsEventRepo{}
	watchlist := &fakeWatchlistRepo{stocks: []entity.WatchlistStock{
		{Ticker: "AAPL", Rank: 1, IsActive: true},
		{Ticker: "TSLA", Rank: 2, IsActive: true},
	}}
	sentiment := &fakeSentimentRepo{}
	recRepo := newFakeRecommendationRepo()
	svc := NewClassifierService(cfg, testLogger(), newsRepo, watchlist, sentiment, recRepo).(*classifierService)
	return svc, newsRepo, watchlist, sentiment, recRepo
}

func newsEvent(id uint, headline string) entity.NewsEvent {
	return entity.NewsEvent{
		ID:          id,
		ExternalID:  fmt.Sprintf("ext-%d", id),
		Source:      "Test Feed",
		Headline:    headline,
		PublishedAt: time.Now(),
	}
}

func TestClassifierCreatesRecommendations(t *testing.T) {
	svc, newsRepo, _, sentiment, recRepo := newClassifierFixture(classifierTestConfig())
	newsRepo.events = []entity.NewsEvent{newsEvent(1, "AAPL beats earnings expectations")}
	sentiment.result = &dto.SentimentResult{Label: dto.SentimentLabelPositive, Score: 0.9}

	svc.Run(context.Background())

	require.Len(t, recRepo.created, 1)
	rec := recRepo.created[0]
	assert.Equal(t, "AAPL", rec.Ticker)
	assert.Equal(t, entity.ActionBuy, rec.Action)
	assert.Equal(t, 0.9, rec.Confidence)
	assert.Equal(t, entity.RecommendationStatusPending, rec.Status)
	require.NotNil(t, rec.NewsEventID)
	assert.Equal(t, uint(1), *rec.NewsEventID)
	assert.NotEmpty(t, rec.SentimentSnapshot)
	assert.NotEmpty(t, rec.FeaturesSnapshot)

	assert.Equal(t, []uint{1}, newsRepo.completed)
	assert.Empty(t, newsRepo.released)
}

func TestClassifierNegativeSentimentBecomesSell(t *testing.T) {
	svc, newsRepo, _, sentiment, recRepo := newClassifierFixture(classifierTestConfig())
	newsRepo.events = []entity.NewsEvent{newsEvent(1, "TSLA recalls vehicles")}
	sentiment.result = &dto.SentimentResult{Label: dto.SentimentLabelNegative, Score: 0.8}

	svc.Run(context.Background())

	require.Len(t, recRepo.created, 1)
	assert.Equal(t, "TSLA", recRepo.created[0].Ticker)
	assert.Equal(t, entity.ActionSell, recRepo.created[0].Action)
}

func TestClassifierSkipsNeutralAndLowScore(t *testing.T) {
	svc, newsRepo, _, sentiment, recRepo := newClassifierFixture(classifierTestConfig())
	newsRepo.events = []entity.NewsEvent{newsEvent(1, "AAPL holds annual meeting")}
	sentiment.result = &dto.SentimentResult{Label: dto.SentimentLabelNeutral, Score: 0.9}

	svc.Run(context.Background())
	assert.Empty(t, recRepo.created)
	assert.Equal(t, []uint{1}, newsRepo.completed)

	newsRepo.completed = nil
	sentiment.result = &dto.SentimentResult{Label: dto.SentimentLabelPositive, Score: 0.2}
	svc.Run(context.Background())
	assert.Empty(t, recRepo.created)
	assert.Equal(t, []uint{1}, newsRepo.completed)
}

func TestClassifierSkipsOffWatchlistTickers(t *testing.T) {
	svc, newsRepo, _, sentiment, recRepo := newClassifierFixture(classifierTestConfig())
	newsRepo.events = []entity.NewsEvent{newsEvent(1, "OBSCURE company announces merger")}
	sentiment.result = &dto.SentimentResult{Label: dto.SentimentLabelPositive, Score: 0.9}

	svc.Run(context.Background())

	assert.Empty(t, recRepo.created)
	assert.Equal(t, []uint{1}, newsRepo.completed)
}

func TestClassifierReleasesFailedEventAndContinues(t *testing.T) {
	svc, newsRepo, _, sentiment, recRepo := newClassifierFixture(classifierTestConfig())
	newsRepo.events = []entity.NewsEvent{
		newsEvent(1, "AAPL beats earnings expectations"),
		newsEvent(2, "TSLA announces new factory"),
	}
	calls := 0
	sentiment.result = &dto.SentimentResult{Label: dto.SentimentLabelPositive, Score: 0.9}
	sentiment.classify = func() (*dto.SentimentResult, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("collaborator unavailable")
		}
		return sentiment.result, nil
	}

	svc.Run(context.Background())

	assert.Equal(t, []uint{1}, newsRepo.released)
	assert.Equal(t, []uint{2}, newsRepo.completed)
	require.Len(t, recRepo.created, 1)
	assert.Equal(t, "TSLA", recRepo.created[0].Ticker)
}

func TestClassifierRecommendationsAreIdempotent(t *testing.T) {
	svc, newsRepo, _, sentiment, recRepo := newClassifierFixture(classifierTestConfig())
	newsRepo.events = []entity.NewsEvent{newsEvent(1, "AAPL beats earnings expectations")}
	sentiment.result = &dto.SentimentResult{Label: dto.SentimentLabelPositive, Score: 0.9}

	svc.Run(context.Background())
	svc.Run(context.Background())

	assert.Len(t, recRepo.created, 1, "re-claiming the same event must not duplicate the recommendation")
}
