package service

import (
	"context"
	"encoding/json"
	"fmt"

	"golang-trade-dispatcher/internal/entity"
	"golang-trade-dispatcher/internal/worker/config"
	"golang-trade-dispatcher/internal/worker/dto"
	"golang-trade-dispatcher/internal/worker/repository"
	"golang-trade-dispatcher/pkg/logger"
)

// ClassifierService turns claimed raw news events into recommendations.
type ClassifierService interface {
	Run(ctx context.Context)
}

type classifierService struct {
	cfg                *config.Config
	log                *logger.Logger
	newsEventRepo      repository.NewsEventRepository
	watchlistRepo      repository.WatchlistRepository
	sentimentRepo      repository.SentimentRepository
	recommendationRepo repository.RecommendationRepository
}

// NewClassifierService creates a new ClassifierService.
func NewClassifierService(
	cfg *config.Config,
	log *logger.Logger,
	newsEventRepo repository.NewsEventRepository,
	watchlistRepo repository.WatchlistRepository,
	sentimentRepo repository.SentimentRepository,
	recommendationRepo repository.RecommendationRepository,
) ClassifierService {
	return &classifierService{
		cfg:                cfg,
		log:                log,
		newsEventRepo:      newsEventRepo,
		watchlistRepo:      watchlistRepo,
		sentimentRepo:      sentimentRepo,
		recommendationRepo: recommendationRepo,
	}
}

// Run claims a batch of unprocessed events and classifies each one. A failing
// event is released back to the pool; its siblings keep going.
func (s *classifierService) Run(ctx context.Context) {
	events, err := s.newsEventRepo.Claim(ctx, s.cfg.Worker.ClassifyBatchSize, s.cfg.Worker.ClaimStaleAfter)
	if err != nil {
		s.log.Error("Failed to claim news events", logger.ErrorField(err))
		return
	}
	if len(events) == 0 {
		return
	}

	watchlist, err := s.watchlistRepo.GetActive(ctx)
	if err != nil {
		s.log.Error("Failed to load watchlist", logger.ErrorField(err))
		s.releaseAll(ctx, events)
		return
	}

	var created, skipped, failed int
	for i := range events {
		n, err := s.processEvent(ctx, &events[i], watchlist)
		if err != nil {
			s.log.Error("Failed to classify news event",
				logger.Field("event_id", events[i].ID),
				logger.StringField("headline", events[i].Headline),
				logger.ErrorField(err))
			if err := s.newsEventRepo.Release(ctx, events[i].ID); err != nil {
				s.log.Error("Failed to release news event", logger.Field("event_id", events[i].ID), logger.ErrorField(err))
			}
			failed++
			continue
		}
		if err := s.newsEventRepo.Complete(ctx, events[i].ID); err != nil {
			s.log.Error("Failed to complete news event", logger.Field("event_id", events[i].ID), logger.ErrorField(err))
			failed++
			continue
		}
		if n > 0 {
			created += n
		} else {
			skipped++
		}
	}

	s.log.Info("Classification finished",
		logger.IntField("claimed", len(events)),
		logger.IntField("recommendations", created),
		logger.IntField("skipped", skipped),
		logger.IntField("failed", failed))
}

// processEvent classifies one event and returns the number of
// recommendations created.
func (s *classifierService) processEvent(ctx context.Context, event *entity.NewsEvent, watchlist []entity.WatchlistStock) (int, error) {
	text := event.Headline
	if event.Body != "" {
		text += "\n" + event.Body
	}

	sentiment, err := s.sentimentRepo.Classify(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("classification failed: %w", err)
	}

	if sentiment.Label == dto.SentimentLabelNeutral || sentiment.Score < s.cfg.Sentiment.MinScore {
		return 0, nil
	}

	whitelist := make([]string, 0, len(watchlist))
	rankByTicker := make(map[string]int, len(watchlist))
	for _, stock := range watchlist {
		whitelist = append(whitelist, stock.Ticker)
		rankByTicker[stock.Ticker] = stock.Rank
	}

	tickers := s.sentimentRepo.ExtractTickers(text, whitelist)
	if len(tickers) == 0 {
		return 0, nil
	}

	action := entity.ActionBuy
	if sentiment.Label == dto.SentimentLabelNegative {
		action = entity.ActionSell
	}

	sentimentSnapshot, err := json.Marshal(sentiment)
	if err != nil {
		return 0, err
	}

	var created int
	for _, ticker := range tickers {
		featuresSnapshot, err := json.Marshal(map[string]interface{}{
			"source":         event.Source,
			"headline":       event.Headline,
			"published_at":   event.PublishedAt,
			"watchlist_rank": rankByTicker[ticker],
		})
		if err != nil {
			return created, err
		}

		rec := entity.Recommendation{
			NewsEventID:       &event.ID,
			Ticker:            ticker,
			Action:            action,
			InstrumentType:    entity.InstrumentTypeStock,
			Confidence:        sentiment.Score,
			Status:            entity.RecommendationStatusPending,
			FeaturesSnapshot:  featuresSnapshot,
			SentimentSnapshot: sentimentSnapshot,
		}
		wasCreated, err := s.recommendationRepo.CreateIfAbsent(ctx, &rec)
		if err != nil {
			return created, fmt.Errorf("failed to create recommendation for %s: %w", ticker, err)
		}
		if wasCreated {
			created++
		}
	}

	return created, nil
}

func (s *classifierService) releaseAll(ctx context.Context, events []entity.NewsEvent) {
	for i := range events {
		if err := s.newsEventRepo.Release(ctx, events[i].ID); err != nil {
			s.log.Error("Failed to release news event", logger.Field("event_id", events[i].ID), logger.ErrorField(err))
		}
	}
}
