package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared across adapters and services.
//
// DuplicateIgnored deliberately has no error value: re-ingesting a known
// trade is the expected outcome of a re-run, reported through insert counts.
var (
	// ErrInvalidTradeData marks a malformed record; the record is skipped
	// and counted, never fatal.
	ErrInvalidTradeData = errors.New("invalid trade data")

	// ErrUpstreamUnavailable marks an unreachable or timed-out venue/RPC
	// endpoint; the aggregator degrades rather than aborts.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrPriceUnavailable means every oracle provider failed for a lookup;
	// the affected leg is flagged unvalued and excluded from totals.
	ErrPriceUnavailable = errors.New("price unavailable")
)

// ScanIncompleteError reports a log scan that stopped before reaching the
// chain head. LastBlock is the last durably committed cursor position; a
// resumed scan starts at LastBlock+1.
type ScanIncompleteError struct {
	LastBlock uint64
	Err       error
}

func (e *ScanIncompleteError) Error() string {
	return fmt.Sprintf("scan incomplete at block %d: %v", e.LastBlock, e.Err)
}

func (e *ScanIncompleteError) Unwrap() error { return e.Err }
