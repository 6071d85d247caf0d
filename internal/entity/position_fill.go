package entity

import "time"

const (
	FillTypePartial = "partial"
	FillTypeFinal   = "final"
)

// PositionFill is one exit fill against a position. Keeping fills as an
// append-only log preserves history across repeated partial exits: at all
// times remaining quantity + sum(fill quantities) equals the original
// quantity.
type PositionFill struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PositionID uint      `gorm:"index;not null" json:"position_id"`
	FillType   string    `gorm:"not null" json:"fill_type"`
	Quantity   float64   `gorm:"not null" json:"quantity"`
	Price      float64   `gorm:"not null" json:"price"`
	Reason     string    `gorm:"not null" json:"reason"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (PositionFill) TableName() string {
	return "position_fills"
}
