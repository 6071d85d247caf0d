package entity

import "time"

// NewsEvent is a raw ingested news item awaiting classification. It is the
// unit of work for the classifier's claim queue: claimed_at marks an in-flight
// claim, processed_at marks completion.
type NewsEvent struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	ExternalID  string     `gorm:"uniqueIndex;not null" json:"external_id"`
	Source      string     `gorm:"not null" json:"source"`
	Headline    string     `gorm:"not null" json:"headline"`
	Body        string     `json:"body"`
	PublishedAt time.Time  `json:"published_at"`
	EnqueuedAt  time.Time  `gorm:"autoCreateTime" json:"enqueued_at"`
	ClaimedAt   *time.Time `json:"claimed_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

func (NewsEvent) TableName() string {
	return "news_events"
}
