package domain

import "errors"

var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrParseFailure     = errors.New("parse failure")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrFormatOverflow   = errors.New("format overflow")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrStateConflict    = errors.New("state conflict")
	ErrLockContention   = errors.New("lock contention")
)
