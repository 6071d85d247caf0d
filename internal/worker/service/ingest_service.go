package service

import (
	"context"
	"time"

	"golang-trade-dispatcher/internal/worker/config"
	"golang-trade-dispatcher/internal/worker/repository"
	"golang-trade-dispatcher/pkg/logger"
)

// IngestService pulls configured news feeds and enqueues raw events for the
// classifier.
type IngestService interface {
	Run(ctx context.Context)
}

type ingestService struct {
	cfg           *config.Config
	log           *logger.Logger
	newsFeedRepo  repository.NewsFeedRepository
	newsEventRepo repository.NewsEventRepository
}

// NewIngestService creates a new IngestService.
func NewIngestService(
	cfg *config.Config,
	log *logger.Logger,
	newsFeedRepo repository.NewsFeedRepository,
	newsEventRepo repository.NewsEventRepository,
) IngestService {
	return &ingestService{
		cfg:           cfg,
		log:           log,
		newsFeedRepo:  newsFeedRepo,
		newsEventRepo: newsEventRepo,
	}
}

// Run fetches every configured source once. A failing source is logged and
// skipped; the remaining sources are still processed.
func (s *ingestService) Run(ctx context.Context) {
	maxAge := time.Duration(s.cfg.Feeds.MaxNewsAgeDays) * 24 * time.Hour

	var inserted, duplicates, failed int
	for _, source := range s.cfg.Feeds.Sources {
		events, err := s.newsFeedRepo.Fetch(ctx, source, maxAge)
		if err != nil {
			s.log.Error("Failed to fetch news feed", logger.StringField("source", source), logger.ErrorField(err))
			failed++
			continue
		}

		for i := range events {
			created, err := s.newsEventRepo.CreateIfAbsent(ctx, &events[i])
			if err != nil {
				s.log.Error("Failed to store news event",
					logger.StringField("external_id", events[i].ExternalID), logger.ErrorField(err))
				failed++
				continue
			}
			if created {
				inserted++
			} else {
				duplicates++
			}
		}
	}

	s.log.Info("News ingest finished",
		logger.IntField("sources", len(s.cfg.Feeds.Sources)),
		logger.IntField("inserted", inserted),
		logger.IntField("duplicates", duplicates),
		logger.IntField("failed", failed))
}
