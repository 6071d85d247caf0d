package entity

import "time"

// WatchlistStock is one entry of the ranked ticker set produced by the
// upstream selection scoring. The worker consumes it read-only.
type WatchlistStock struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Ticker    string    `gorm:"uniqueIndex;not null" json:"ticker"`
	Rank      int       `gorm:"not null" json:"rank"`
	Score     float64   `json:"score"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WatchlistStock) TableName() string {
	return "watchlist_stocks"
}
