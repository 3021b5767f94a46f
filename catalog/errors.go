package catalog

import "errors"

// Catalog precondition failures, surfaced to RPC callers verbatim.
var (
	ErrUIDConflict    = errors.New("catalog: uid already exists")
	ErrNoSuchUID      = errors.New("catalog: no such uid")
	ErrInvalidKeyword = errors.New("catalog: keyword does not match the configured pattern")
	ErrUnknownField   = errors.New("catalog: unknown field name")
)
