package dto

import "golang-trade-dispatcher/internal/entity"

// GetPositionsParam filters position lookups.
type GetPositionsParam struct {
	IDs      []uint
	Tickers  []string
	Statuses []entity.PositionStatus
	Limit    int
}

// GetRecommendationsParam filters recommendation lookups.
type GetRecommendationsParam struct {
	IDs      []uint
	Statuses []entity.RecommendationStatus
	Limit    int
}
