package dto

const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"
)

// OrderSpec describes one order sent to the brokerage adapter. ClientOrderID
// carries the execution idempotency key so a blind re-submission after a
// timeout is deduplicated broker-side.
type OrderSpec struct {
	ClientOrderID string  `json:"client_order_id"`
	Ticker        string  `json:"symbol"`
	Side          string  `json:"side"`
	Quantity      float64 `json:"qty,string"`
	Type          string  `json:"type"`
	TimeInForce   string  `json:"time_in_force"`
}

// OrderResult is the broker's acknowledgement of a placed order.
type OrderResult struct {
	OrderID   string  `json:"id"`
	FillPrice float64 `json:"filled_avg_price,string"`
	FilledQty float64 `json:"filled_qty,string"`
	Status    string  `json:"status"`
}

// BrokerPosition is one entry of the broker's authoritative position list.
type BrokerPosition struct {
	Ticker        string  `json:"symbol"`
	Side          string  `json:"side"`
	Quantity      float64 `json:"qty,string"`
	AvgEntryPrice float64 `json:"avg_entry_price,string"`
}
