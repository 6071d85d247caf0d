package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"golang-trade-dispatcher/internal/entity"
	"golang-trade-dispatcher/internal/worker/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNewsFeedRepo struct {
	bySource map[string][]entity.NewsEvent
	errs     map[string]error
}

func (f *fakeNewsFeedRepo) Fetch(_ context.Context, sourceURL string, _ time.Duration) ([]entity.NewsEvent, error) {
	if err := f.errs[sourceURL]; err != nil {
		return nil, err
	}
	return f.bySource[sourceURL], nil
}

func ingestTestConfig(sources ...string) *config.Config {
	return &config.Config{
		Feeds: config.Feeds{Sources: sources, MaxNewsAgeDays: 2},
	}
}

func TestIngestStoresNewEventsOnce(t *testing.T) {
	feed := &fakeNewsFeedRepo{bySource: map[string][]entity.NewsEvent{
		"feed-a": {
			{ExternalID: "a-1", Source: "Feed A", Headline: "AAPL beats earnings"},
			{ExternalID: "a-2", Source: "Feed A", Headline: "TSLA opens factory"},
		},
	}}
	newsRepo := &fakeNewsEventRepo{}
	svc := NewIngestService(ingestTestConfig("feed-a"), testLogger(), feed, newsRepo)

	svc.Run(context.Background())
	require.Len(t, newsRepo.stored, 2)

	// A second fetch of the same items inserts nothing new.
	svc.Run(context.Background())
	assert.Len(t, newsRepo.stored, 2)
}

func TestIngestFailingSourceDoesNotBlockOthers(t *testing.T) {
	feed := &fakeNewsFeedRepo{
		bySource: map[string][]entity.NewsEvent{
			"feed-b": {{ExternalID: "b-1", Source: "Feed B", Headline: "AAPL raises guidance"}},
		},
		errs: map[string]error{"feed-a": fmt.Errorf("connection refused")},
	}
	newsRepo := &fakeNewsEventRepo{}
	svc := NewIngestService(ingestTestConfig("feed-a", "feed-b"), testLogger(), feed, newsRepo)

	svc.Run(context.Background())

	require.Len(t, newsRepo.stored, 1)
	assert.Equal(t, "b-1", newsRepo.stored[0].ExternalID)
}
