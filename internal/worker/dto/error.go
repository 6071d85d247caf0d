package dto

import (
	"errors"
	"fmt"
)

// ErrorResponse represents a generic error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// OrderRejectedError is a business rejection from the broker (risk limits,
// market closed, unknown symbol). It is terminal for the recommendation that
// triggered it: the dispatcher records the reason and does not retry.
// Everything else coming back from the broker is treated as transient
// infrastructure failure and retried on a later tick.
type OrderRejectedError struct {
	StatusCode int
	Reason     string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order rejected (%d): %s", e.StatusCode, e.Reason)
}

// AsOrderRejected extracts an OrderRejectedError from err, if present.
func AsOrderRejected(err error) (*OrderRejectedError, bool) {
	var rejected *OrderRejectedError
	if errors.As(err, &rejected) {
		return rejected, true
	}
	return nil, false
}
