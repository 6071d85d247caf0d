package entity

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
)

type RecommendationStatus string

const (
	RecommendationStatusPending    RecommendationStatus = "PENDING"
	RecommendationStatusProcessing RecommendationStatus = "PROCESSING"
	RecommendationStatusExecuted   RecommendationStatus = "EXECUTED"
	RecommendationStatusSimulated  RecommendationStatus = "SIMULATED"
	RecommendationStatusSkipped    RecommendationStatus = "SKIPPED"
	RecommendationStatusFailed     RecommendationStatus = "FAILED"
	RecommendationStatusCancelled  RecommendationStatus = "CANCELLED"
)

const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
)

const (
	InstrumentTypeStock  = "stock"
	InstrumentTypeOption = "option"
)

// Recommendation is a scored trade idea awaiting action. Only the dispatcher
// mutates it, and only through conditional status transitions.
type Recommendation struct {
	ID                uint                 `gorm:"primaryKey" json:"id"`
	NewsEventID       *uint                `gorm:"uniqueIndex:idx_recommendations_event_ticker" json:"news_event_id"`
	Ticker            string               `gorm:"uniqueIndex:idx_recommendations_event_ticker;not null" json:"ticker"`
	Action            string               `gorm:"not null" json:"action"`
	InstrumentType    string               `gorm:"not null;default:'stock'" json:"instrument_type"`
	Confidence        float64              `gorm:"not null" json:"confidence"`
	Status            RecommendationStatus `gorm:"not null;default:'PENDING';index" json:"status"`
	FailureReason     sql.NullString       `json:"failure_reason"`
	FeaturesSnapshot  datatypes.JSON       `gorm:"type:jsonb" json:"features_snapshot"`
	SentimentSnapshot datatypes.JSON       `gorm:"type:jsonb" json:"sentiment_snapshot"`
	ClaimedAt         *time.Time           `json:"claimed_at"`
	CreatedAt         time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Recommendation) TableName() string {
	return "recommendations"
}
