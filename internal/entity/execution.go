package entity

import "time"

const (
	ExecutionModePaper     = "paper"
	ExecutionModeLive      = "live"
	ExecutionModeSimulated = "simulated"
)

const (
	StrategyTypeDay   = "day"
	StrategyTypeSwing = "swing"
)

// Execution is a brokerage order actually (or simulated) placed. ExecutionID
// is the idempotency key: it is derived deterministically from the
// recommendation id, and the unique index makes duplicate dispatch
// structurally impossible. Rows are immutable once created.
type Execution struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	ExecutionID      string     `gorm:"uniqueIndex;not null" json:"execution_id"`
	RecommendationID uint       `gorm:"index;not null" json:"recommendation_id"`
	Ticker           string     `gorm:"not null" json:"ticker"`
	InstrumentType   string     `gorm:"not null;default:'stock'" json:"instrument_type"`
	Side             string     `gorm:"not null" json:"side"`
	Quantity         float64    `gorm:"not null" json:"quantity"`
	EntryPrice       float64    `gorm:"not null" json:"entry_price"`
	Strike           *float64   `json:"strike"`
	Expiration       *time.Time `json:"expiration"`
	StopLossPrice    float64    `json:"stop_loss_price"`
	TakeProfitPrice  float64    `json:"take_profit_price"`
	TrailingStopPct  float64    `json:"trailing_stop_pct"`
	MaxHoldMinutes   int        `json:"max_hold_minutes"`
	StrategyType     string     `gorm:"not null;default:'swing'" json:"strategy_type"`
	ExecutionMode    string     `gorm:"not null" json:"execution_mode"`
	AccountName      string     `json:"account_name"`
	BrokerOrderID    string     `json:"broker_order_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (Execution) TableName() string {
	return "executions"
}
