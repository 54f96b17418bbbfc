package ratelimit

import "context"

// RateLimiter controls notification throughput per bucket, one bucket per
// guild so a chatty guild cannot starve the rest.
type RateLimiter interface {
	Allow(ctx context.Context, bucket string) (bool, error)
	Wait(ctx context.Context, bucket string) error
}
