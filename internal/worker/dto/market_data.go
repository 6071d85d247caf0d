package dto

import "time"

// Quote is the current price for one ticker as reported by the market data
// feed.
type Quote struct {
	Ticker    string    `json:"ticker"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}
