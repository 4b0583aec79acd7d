package rate

import "errors"

var (
	// ErrRateLimited reports that a fixed window is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable reports a failed counter round-trip.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
