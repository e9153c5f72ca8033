package models

import "errors"

// Stable error slugs (spec.md §7). Services map these to transport-level
// status codes; the core itself never imports an HTTP or RPC package.
var (
	ErrInvalidSplit       = errors.New("invalid_split")
	ErrNotMember          = errors.New("not_member")
	ErrInvalidSettlement  = errors.New("invalid_settlement")
	ErrLockTimeout        = errors.New("lock_timeout")
	ErrStoreUnavailable   = errors.New("store_unavailable")
	ErrCacheUnavailable   = errors.New("cache_unavailable") // never surfaced to callers
	ErrJobFailed          = errors.New("job_failed")        // logged, never surfaced
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrFenced             = errors.New("fenced") // lease lost to a newer holder mid-operation
)
