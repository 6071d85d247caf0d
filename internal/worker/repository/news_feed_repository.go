package repository

import (
	"context"
	"strings"
	"time"

	"golang-trade-dispatcher/internal/entity"
	"golang-trade-dispatcher/pkg/logger"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// NewsFeedRepository pulls headline items from RSS sources. It is the
// producer side of the classifier's claim queue.
type NewsFeedRepository interface {
	Fetch(ctx context.Context, sourceURL string, maxAge time.Duration) ([]entity.NewsEvent, error)
}

type newsFeedRepository struct {
	log    *logger.Logger
	parser *gofeed.Parser
}

// NewNewsFeedRepository creates a gofeed-based news feed repository.
func NewNewsFeedRepository(log *logger.Logger) NewsFeedRepository {
	return &newsFeedRepository{
		log:    log,
		parser: gofeed.NewParser(),
	}
}

// Fetch parses one feed and converts recent items to news events. Item GUIDs
// become external ids so repeated fetches insert each item once.
func (r *newsFeedRepository) Fetch(ctx context.Context, sourceURL string, maxAge time.Duration) ([]entity.NewsEvent, error) {
	feed, err := r.parser.ParseURLWithContext(sourceURL, ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-maxAge)
	var events []entity.NewsEvent
	for _, item := range feed.Items {
		publishedAt := time.Now()
		if item.PublishedParsed != nil {
			publishedAt = *item.PublishedParsed
		}
		if publishedAt.Before(cutoff) {
			continue
		}

		externalID := item.GUID
		if externalID == "" {
			externalID = item.Link
		}
		if externalID == "" {
			continue
		}

		events = append(events, entity.NewsEvent{
			ExternalID:  externalID,
			Source:      feed.Title,
			Headline:    strings.TrimSpace(item.Title),
			Body:        stripHTML(item.Description),
			PublishedAt: publishedAt,
		})
	}

	return events, nil
}

// stripHTML reduces a feed item's markup to plain text.
func stripHTML(content string) string {
	if content == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return content
	}
	return strings.TrimSpace(doc.Text())
}
