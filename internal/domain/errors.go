package domain

import "errors"

var (
	// ErrAdapterUnavailable marks transport or auth failures talking to a
	// venue. Safe to retry.
	ErrAdapterUnavailable = errors.New("adapter unavailable")
	// ErrOrderRejected marks exchange-side validation failures. Not safe to
	// retry as-is.
	ErrOrderRejected = errors.New("order rejected")
	// ErrPositionNotFound means the venue's live position list no longer
	// contains the target; the caller held a stale handle.
	ErrPositionNotFound = errors.New("position not found")
	// ErrInsufficientData marks an aggregation cycle where fewer venues
	// responded than the configured minimum. Downstream treats the empty
	// snapshot as valid "no data", not a failure.
	ErrInsufficientData = errors.New("insufficient exchange data")
	// ErrCriticalUnwind means a compensating action itself failed and a
	// position may be carrying unhedged exposure. Requires manual
	// intervention; auto-trading must halt until an operator acknowledges.
	ErrCriticalUnwind = errors.New("critical: unwind failed, manual intervention required")
	// ErrDuplicateHedge means a hedge for the instrument is already open or
	// in flight on the target venues.
	ErrDuplicateHedge = errors.New("hedge already open for instrument")
	// ErrNotFound is the generic missing-record sentinel for stores/caches.
	ErrNotFound = errors.New("not found")
)
