package app

import "errors"

// ErrNotFound and related errors describe validation and runtime failures.
var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicateEntry     = errors.New("duplicate queue entry")
	ErrAppendOnly         = errors.New("ledger is append-only")
	ErrMissingPath        = errors.New("path is required")
	ErrMalformedRegistry  = errors.New("malformed artifact registry")
	ErrMalformedQueue     = errors.New("malformed queue state")
	ErrLedgerUnavailable  = errors.New("ledger unavailable")
	ErrInvalidMeasurement = errors.New("invalid operator measurement")
)
