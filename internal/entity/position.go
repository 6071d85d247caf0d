package entity

import "time"

type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosing PositionStatus = "closing"
	PositionStatusClosed  PositionStatus = "closed"
)

const (
	SideLong  = "long"
	SideShort = "short"
)

// Close reasons, in exit trigger priority order. First match wins when a tick
// satisfies several triggers at once.
const (
	CloseReasonStopLoss       = "stop_loss"
	CloseReasonTrailingStop   = "trailing_stop"
	CloseReasonTakeProfit     = "take_profit"
	CloseReasonOptionExpiry   = "option_expiry"
	CloseReasonMaxHold        = "max_hold"
	CloseReasonEndOfDay       = "end_of_day"
	CloseReasonReconciliation = "reconciliation"
)

// Position is a currently or formerly open holding. Status only moves forward
// (open -> closing -> closed), except that a partial exit returns the
// remainder from closing to open at the reduced quantity.
type Position struct {
	ID                    uint           `gorm:"primaryKey" json:"id"`
	ExecutionID           uint           `gorm:"uniqueIndex;not null" json:"execution_id"`
	Ticker                string         `gorm:"not null;index" json:"ticker"`
	InstrumentType        string         `gorm:"not null;default:'stock'" json:"instrument_type"`
	Side                  string         `gorm:"not null" json:"side"`
	Quantity              float64        `gorm:"not null" json:"quantity"`
	OriginalQuantity      float64        `gorm:"not null" json:"original_quantity"`
	EntryPrice            float64        `gorm:"not null" json:"entry_price"`
	EntryTime             time.Time      `gorm:"not null" json:"entry_time"`
	CurrentPrice          float64        `json:"current_price"`
	PeakPrice             float64        `json:"peak_price"`
	TrailingStopPrice     float64        `json:"trailing_stop_price"`
	TrailingStopPct       float64        `json:"trailing_stop_pct"`
	TrailingActivationPct float64        `json:"trailing_activation_pct"`
	StopLossPrice         float64        `json:"stop_loss_price"`
	TakeProfitPrice       float64        `json:"take_profit_price"`
	MaxHoldMinutes        int            `json:"max_hold_minutes"`
	StrategyType          string         `gorm:"not null;default:'swing'" json:"strategy_type"`
	Expiration            *time.Time     `json:"expiration"`
	ExecutionMode         string         `gorm:"not null" json:"execution_mode"`
	Status                PositionStatus `gorm:"not null;default:'open';index" json:"status"`
	CloseReason           string         `json:"close_reason"`
	ExitPrice             float64        `json:"exit_price"`
	ClosedAt              *time.Time     `json:"closed_at"`
	PnlDollars            float64        `json:"pnl_dollars"`
	PnlPercent            float64        `json:"pnl_percent"`
	ExitAttempts          int            `json:"exit_attempts"`
	LastExitAttemptAt     *time.Time     `json:"last_exit_attempt_at"`
	LastMonitoredAt       *time.Time     `json:"last_monitored_at"`
	CreatedAt             time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Position) TableName() string {
	return "active_positions"
}

// IsOpen reports whether the position still has market exposure.
func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusOpen || p.Status == PositionStatusClosing
}
