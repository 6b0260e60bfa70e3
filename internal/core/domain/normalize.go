package domain

import (
	"fmt"
	"math"
)

// Normalize converts a venue price and (possibly signed) size into an
// absolute notional value. Adapters resolve side conventions before calling;
// the sign of either input is discarded here. Non-finite input fails with
// ErrInvalidTradeData so a poisoned record can never reach the store.
func Normalize(price, size float64) (float64, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("%w: non-finite price %v", ErrInvalidTradeData, price)
	}
	if math.IsNaN(size) || math.IsInf(size, 0) {
		return 0, fmt.Errorf("%w: non-finite size %v", ErrInvalidTradeData, size)
	}
	return math.Abs(price * size), nil
}
